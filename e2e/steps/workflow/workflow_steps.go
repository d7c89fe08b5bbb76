package workflow

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POSTAs(ctx context.Context, alias, path string, body any) error
	GETAs(ctx context.Context, alias, path string) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	ActorID(alias string) string
	Save(key, value string)
	Saved(key string) string
}

const (
	keyRequestID = "request_id"
	keyRequester = "requester"
	keyCreditID  = "credit_id"
	pollInterval = 200 * time.Millisecond
)

// RegisterSteps registers request submission and decision steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &workflowSteps{tc: tc}

	// Submission
	ctx.Step(`^"([^"]*)" requests issuance of (\d+(?:\.\d+)?) kg$`, steps.submitIssue)
	ctx.Step(`^"([^"]*)" requests transfer of the credit to "([^"]*)"$`, steps.submitTransfer)
	ctx.Step(`^"([^"]*)" requests retirement of the credit$`, steps.submitRetire)

	// Decisions
	ctx.Step(`^"([^"]*)" approves the request$`, steps.approve)
	ctx.Step(`^"([^"]*)" rejects the request because "([^"]*)"$`, steps.reject)

	// Assertions
	ctx.Step(`^the request should be "([^"]*)"$`, steps.requestShouldBe)
	ctx.Step(`^the request should become "([^"]*)" within (\d+) seconds$`, steps.requestShouldBecome)
	ctx.Step(`^"([^"]*)" cannot see the request$`, steps.cannotSeeRequest)
}

type workflowSteps struct {
	tc TestContext
}

func lastHour() map[string]string {
	now := time.Now().UTC()
	return map[string]string{
		"start": now.Add(-time.Hour).Format(time.RFC3339),
		"end":   now.Add(time.Minute).Format(time.RFC3339),
	}
}

func (s *workflowSteps) submitIssue(ctx context.Context, alias, amount string) error {
	return s.submit(ctx, alias, map[string]any{
		"kind":   "issue",
		"amount": amount,
		"window": lastHour(),
	})
}

func (s *workflowSteps) submitTransfer(ctx context.Context, alias, counterparty string) error {
	return s.submit(ctx, alias, map[string]any{
		"kind":         "transfer",
		"credit_id":    s.tc.Saved(keyCreditID),
		"counterparty": s.tc.ActorID(counterparty),
		"window":       lastHour(),
	})
}

func (s *workflowSteps) submitRetire(ctx context.Context, alias string) error {
	return s.submit(ctx, alias, map[string]any{
		"kind":      "retire",
		"credit_id": s.tc.Saved(keyCreditID),
		"window":    lastHour(),
	})
}

func (s *workflowSteps) submit(ctx context.Context, alias string, body map[string]any) error {
	if err := s.tc.POSTAs(ctx, alias, "/requests", body); err != nil {
		return err
	}
	if status := s.tc.GetLastResponseStatus(); status != http.StatusCreated {
		return fmt.Errorf("submit: expected 201, got %d: %s", status, s.tc.GetLastResponseBody())
	}
	if err := s.saveField("id", keyRequestID); err != nil {
		return err
	}
	s.tc.Save(keyRequester, alias)
	return s.saveField("credit_id", keyCreditID)
}

func (s *workflowSteps) approve(ctx context.Context, auditor string) error {
	return s.decide(ctx, auditor, true, "")
}

func (s *workflowSteps) reject(ctx context.Context, auditor, rationale string) error {
	return s.decide(ctx, auditor, false, rationale)
}

func (s *workflowSteps) decide(ctx context.Context, auditor string, approve bool, rationale string) error {
	path := "/requests/" + s.tc.Saved(keyRequestID) + "/decision"
	return s.tc.POSTAs(ctx, auditor, path, map[string]any{
		"approve":   approve,
		"rationale": rationale,
	})
}

func (s *workflowSteps) requestShouldBe(ctx context.Context, status string) error {
	got, err := s.currentStatus(ctx)
	if err != nil {
		return err
	}
	if got != status {
		return fmt.Errorf("expected request %s, got %s", status, got)
	}
	return nil
}

// requestShouldBecome polls until the background commit settles.
func (s *workflowSteps) requestShouldBecome(ctx context.Context, status string, seconds int) error {
	deadline := time.Now().Add(time.Duration(seconds) * time.Second)
	var last string
	for time.Now().Before(deadline) {
		got, err := s.currentStatus(ctx)
		if err != nil {
			return err
		}
		if got == status {
			return nil
		}
		last = got
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return fmt.Errorf("request still %s after %ds, wanted %s", last, seconds, status)
}

func (s *workflowSteps) cannotSeeRequest(ctx context.Context, alias string) error {
	if err := s.tc.GETAs(ctx, alias, "/requests/"+s.tc.Saved(keyRequestID)); err != nil {
		return err
	}
	if status := s.tc.GetLastResponseStatus(); status != http.StatusNotFound {
		return fmt.Errorf("expected 404 for %s, got %d", alias, status)
	}
	return nil
}

func (s *workflowSteps) currentStatus(ctx context.Context) (string, error) {
	path := "/requests/" + s.tc.Saved(keyRequestID)
	if err := s.tc.GETAs(ctx, s.tc.Saved(keyRequester), path); err != nil {
		return "", err
	}
	if status := s.tc.GetLastResponseStatus(); status != http.StatusOK {
		return "", fmt.Errorf("get request: status %d: %s", status, s.tc.GetLastResponseBody())
	}
	v, err := s.tc.GetResponseField("status")
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *workflowSteps) saveField(field, key string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	str, ok := v.(string)
	if !ok {
		return fmt.Errorf("field %s is not a string", field)
	}
	s.tc.Save(key, str)
	return nil
}
