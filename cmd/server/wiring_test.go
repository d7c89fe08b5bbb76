package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"hycredit/internal/platform/config"
	"hycredit/pkg/testutil"
)

// =============================================================================
// In-process wiring
// =============================================================================
// buildApp with no external services configured runs the whole stack on the
// in-memory adapters, so one credit can travel from submission to the ledger
// through the public routes. Metrics register globally, so the app is built
// once for the whole test.

const testAdminToken = "admin-secret"

func testConfig() config.Server {
	return config.Server{
		Addr:                  ":0",
		Environment:           "test",
		JWTSigningKey:         "wiring-test-key",
		JWTIssuer:             "hycredit",
		JWTAudience:           "hycredit-api",
		AdminToken:            testAdminToken,
		VerificationTolerance: decimal.RequireFromString("0.05"),
		AnomalyPolicy:         "escalate",
		Ledger: config.LedgerConfig{
			ConfirmationDeadline: 5 * time.Second,
			PollInterval:         10 * time.Millisecond,
			SubmitMaxAttempts:    2,
			BlockInterval:        10 * time.Millisecond,
		},
		HolderCacheTTL: time.Minute,
	}
}

func adminRequest(t *testing.T, method, path string, body any) *http.Request {
	req := testutil.NewJSONRequest(t, method, path, body)
	req.Header.Set("X-Admin-Token", testAdminToken)
	return req
}

func TestServerWiring(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := buildApp(context.Background(), testConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.close(ctx)
	})
	router := a.router

	testutil.Given(t, "a server without external services", func(t *testing.T) {
		testutil.Then(t, "health reports ok", func(t *testing.T) {
			rr := testutil.DoRequest(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			testutil.AssertStatus(t, rr, http.StatusOK)
			body := testutil.UnmarshalResponse[map[string]string](t, rr)
			require.Equal(t, "ok", (*body)["status"])
		})

		testutil.Then(t, "metrics are exposed", func(t *testing.T) {
			rr := testutil.DoRequest(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			testutil.AssertStatus(t, rr, http.StatusOK)
		})

		testutil.Then(t, "workflow routes require a bearer token", func(t *testing.T) {
			rr := testutil.DoRequest(router, httptest.NewRequest(http.MethodGet, "/requests", nil))
			testutil.AssertStatus(t, rr, http.StatusUnauthorized)
			testutil.AssertErrorCode(t, rr, "unauthorized")
		})

		testutil.Then(t, "admin routes require the admin token", func(t *testing.T) {
			req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/actors", map[string]string{"id": "x", "role": "plant"})
			rr := testutil.DoRequest(router, req)
			testutil.AssertStatus(t, rr, http.StatusUnauthorized)
		})
	})

	testutil.Given(t, "a registered plant and auditor", func(t *testing.T) {
		for _, body := range []map[string]string{
			{"id": "auditor-1", "role": "auditor", "display_name": "Auditor"},
			{"id": "plant-1", "role": "plant", "display_name": "Electrolyser", "auditor_id": "auditor-1"},
		} {
			rr := testutil.DoRequest(router, adminRequest(t, http.MethodPost, "/admin/actors", body))
			testutil.AssertStatus(t, rr, http.StatusCreated)
		}
		plantToken := mintToken(t, router, "plant-1")
		auditorToken := mintToken(t, router, "auditor-1")

		now := time.Now().UTC()
		rr := testutil.DoRequest(router, adminRequest(t, http.MethodPost, "/admin/measurements", map[string]any{
			"actor_id":    "plant-1",
			"kind":        "production",
			"amount":      "40",
			"measured_at": now.Add(-30 * time.Minute),
		}))
		testutil.AssertStatus(t, rr, http.StatusNoContent)

		var requestID, creditID string
		testutil.When(t, "the plant requests issuance within its metered production", func(t *testing.T) {
			req := testutil.NewJSONRequest(t, http.MethodPost, "/requests", map[string]any{
				"kind":   "issue",
				"amount": "40",
				"window": map[string]time.Time{"start": now.Add(-time.Hour), "end": now.Add(time.Minute)},
			})
			rr := testutil.DoRequest(router, testutil.WithBearer(req, plantToken))
			testutil.AssertStatus(t, rr, http.StatusCreated)
			created := testutil.UnmarshalResponse[map[string]any](t, rr)
			require.Equal(t, "pending_review", (*created)["status"])
			requestID, _ = (*created)["id"].(string)
			creditID, _ = (*created)["credit_id"].(string)
			require.NotEmpty(t, requestID)
			require.NotEmpty(t, creditID)
		})

		testutil.When(t, "the auditor approves", func(t *testing.T) {
			req := testutil.NewJSONRequest(t, http.MethodPost, "/requests/"+requestID+"/decision", map[string]any{
				"approve": true,
			})
			rr := testutil.DoRequest(router, testutil.WithBearer(req, auditorToken))
			testutil.AssertStatus(t, rr, http.StatusAccepted)
		})

		testutil.Then(t, "the request finalizes and the plant holds the credit", func(t *testing.T) {
			require.Eventually(t, func() bool {
				req := testutil.WithBearer(httptest.NewRequest(http.MethodGet, "/requests/"+requestID, nil), plantToken)
				rr := testutil.DoRequest(router, req)
				if rr.Code != http.StatusOK {
					return false
				}
				var got struct {
					Status string `json:"status"`
				}
				return json.Unmarshal(rr.Body.Bytes(), &got) == nil && got.Status == "finalized"
			}, 5*time.Second, 20*time.Millisecond)

			req := testutil.WithBearer(httptest.NewRequest(http.MethodGet, "/credits/"+creditID, nil), plantToken)
			rr := testutil.DoRequest(router, req)
			testutil.AssertStatus(t, rr, http.StatusOK)
			credit := testutil.UnmarshalResponse[map[string]any](t, rr)
			require.Equal(t, "plant-1", (*credit)["holder"])
		})

		testutil.Then(t, "the decision is in the audit trail", func(t *testing.T) {
			require.Eventually(t, func() bool {
				req := adminRequest(t, http.MethodGet, "/admin/audit?request_id="+requestID, nil)
				rr := testutil.DoRequest(router, req)
				if rr.Code != http.StatusOK {
					return false
				}
				var got struct {
					Count int `json:"count"`
				}
				return json.Unmarshal(rr.Body.Bytes(), &got) == nil && got.Count > 0
			}, 2*time.Second, 20*time.Millisecond)
		})
	})
}

func mintToken(t *testing.T, router http.Handler, actorID string) string {
	t.Helper()
	rr := testutil.DoRequest(router, adminRequest(t, http.MethodPost, "/admin/tokens", map[string]string{"actor_id": actorID}))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	body := testutil.UnmarshalResponse[map[string]any](t, rr)
	token, _ := (*body)["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}
