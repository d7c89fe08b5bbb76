package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GETAs(ctx context.Context, alias, path string) error
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	ActorID(alias string) string
	Saved(key string) string
}

// RegisterSteps registers ledger read steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ledgerSteps{tc: tc}

	ctx.Step(`^"([^"]*)" sees the credit held by "([^"]*)"$`, steps.creditHeldBy)
	ctx.Step(`^"([^"]*)" sees the credit retired$`, steps.creditRetired)
	ctx.Step(`^"([^"]*)" sees (\d+) events in the credit history$`, steps.historyLength)
	ctx.Step(`^"([^"]*)" finds no credit$`, steps.noCredit)
}

type ledgerSteps struct {
	tc TestContext
}

type creditView struct {
	ID      string `json:"id"`
	Holder  string `json:"holder"`
	Retired bool   `json:"retired"`
}

func (s *ledgerSteps) creditHeldBy(ctx context.Context, viewer, holder string) error {
	credit, err := s.fetch(ctx, viewer)
	if err != nil {
		return err
	}
	if want := s.tc.ActorID(holder); credit.Holder != want {
		return fmt.Errorf("expected holder %s, got %s", want, credit.Holder)
	}
	return nil
}

func (s *ledgerSteps) creditRetired(ctx context.Context, viewer string) error {
	credit, err := s.fetch(ctx, viewer)
	if err != nil {
		return err
	}
	if !credit.Retired {
		return fmt.Errorf("credit %s is not retired", credit.ID)
	}
	return nil
}

func (s *ledgerSteps) historyLength(ctx context.Context, viewer string, n int) error {
	if err := s.tc.GETAs(ctx, viewer, "/credits/"+s.tc.Saved("credit_id")+"/history"); err != nil {
		return err
	}
	if status := s.tc.GetLastResponseStatus(); status != http.StatusOK {
		return fmt.Errorf("history: status %d: %s", status, s.tc.GetLastResponseBody())
	}
	var body struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &body); err != nil {
		return err
	}
	if len(body.Events) != n {
		return fmt.Errorf("expected %d history events, got %d", n, len(body.Events))
	}
	return nil
}

func (s *ledgerSteps) noCredit(ctx context.Context, viewer string) error {
	if err := s.tc.GETAs(ctx, viewer, "/credits/"+s.tc.Saved("credit_id")); err != nil {
		return err
	}
	if status := s.tc.GetLastResponseStatus(); status != http.StatusNotFound {
		return fmt.Errorf("expected 404, got %d", status)
	}
	return nil
}

func (s *ledgerSteps) fetch(ctx context.Context, viewer string) (*creditView, error) {
	if err := s.tc.GETAs(ctx, viewer, "/credits/"+s.tc.Saved("credit_id")); err != nil {
		return nil, err
	}
	if status := s.tc.GetLastResponseStatus(); status != http.StatusOK {
		return nil, fmt.Errorf("get credit: status %d: %s", status, s.tc.GetLastResponseBody())
	}
	var credit creditView
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &credit); err != nil {
		return nil, err
	}
	return &credit, nil
}
