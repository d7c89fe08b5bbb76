package e2e

import (
	"github.com/cucumber/godog"

	"hycredit/e2e/steps/common"
	"hycredit/e2e/steps/ledger"
	"hycredit/e2e/steps/workflow"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Actors, tokens, metering and generic response assertions
	common.RegisterSteps(ctx, tc)

	// Request submission and auditor decisions
	workflow.RegisterSteps(ctx, tc)

	// Ledger reads
	ledger.RegisterSteps(ctx, tc)
}
