package common

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	AdminPOST(ctx context.Context, path string, body any) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	ActorID(alias string) string
	SetToken(alias, token string)
}

// RegisterSteps registers actor setup, metering and assertion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	// Setup
	ctx.Step(`^an auditor "([^"]*)"$`, steps.registerAuditor)
	ctx.Step(`^an? (plant|industry) "([^"]*)" assigned to auditor "([^"]*)"$`, steps.registerParticipant)
	ctx.Step(`^"([^"]*)" metered (\d+(?:\.\d+)?) kg of (production|delivery|consumption) in the last hour$`, steps.recordMeasurement)

	// Assertions
	ctx.Step(`^the response status should be (\d+)$`, steps.responseStatusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.responseFieldShouldBe)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) registerAuditor(ctx context.Context, alias string) error {
	return s.register(ctx, alias, "auditor", "")
}

func (s *commonSteps) registerParticipant(ctx context.Context, role, alias, auditor string) error {
	return s.register(ctx, alias, role, s.tc.ActorID(auditor))
}

// register creates the actor and mints a token for it under alias.
func (s *commonSteps) register(ctx context.Context, alias, role, auditorID string) error {
	body := map[string]any{
		"id":           s.tc.ActorID(alias),
		"role":         role,
		"display_name": alias,
	}
	if auditorID != "" {
		body["auditor_id"] = auditorID
	}
	if err := s.tc.AdminPOST(ctx, "/admin/actors", body); err != nil {
		return err
	}
	if err := s.expectStatus(http.StatusCreated); err != nil {
		return fmt.Errorf("register %s: %w", alias, err)
	}

	if err := s.tc.AdminPOST(ctx, "/admin/tokens", map[string]any{"actor_id": s.tc.ActorID(alias)}); err != nil {
		return err
	}
	if err := s.expectStatus(http.StatusCreated); err != nil {
		return fmt.Errorf("token for %s: %w", alias, err)
	}
	token, err := s.tc.GetResponseField("access_token")
	if err != nil {
		return err
	}
	s.tc.SetToken(alias, token.(string))
	return nil
}

func (s *commonSteps) recordMeasurement(ctx context.Context, alias, amount, kind string) error {
	body := map[string]any{
		"actor_id":    s.tc.ActorID(alias),
		"kind":        kind,
		"amount":      amount,
		"measured_at": time.Now().Add(-30 * time.Minute).UTC().Format(time.RFC3339),
		"ref":         "e2e-meter",
	}
	if err := s.tc.AdminPOST(ctx, "/admin/measurements", body); err != nil {
		return err
	}
	return s.expectStatus(http.StatusNoContent)
}

func (s *commonSteps) responseStatusShouldBe(ctx context.Context, status int) error {
	return s.expectStatus(status)
}

func (s *commonSteps) responseFieldShouldBe(ctx context.Context, field, expected string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	var got string
	switch t := v.(type) {
	case string:
		got = t
	case bool:
		got = strconv.FormatBool(t)
	case float64:
		got = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		got = fmt.Sprint(t)
	}
	if got != expected {
		return fmt.Errorf("expected %s=%q, got %q", field, expected, got)
	}
	return nil
}

func (s *commonSteps) expectStatus(expected int) error {
	if got := s.tc.GetLastResponseStatus(); got != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, got, s.tc.GetLastResponseBody())
	}
	return nil
}
