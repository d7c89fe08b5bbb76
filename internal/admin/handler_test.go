package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"hycredit/internal/actor"
	jwttoken "hycredit/internal/jwt_token"
	"hycredit/internal/measurement"
	id "hycredit/pkg/domain"
	audit "hycredit/pkg/platform/audit"
	auditmemory "hycredit/pkg/platform/audit/store/memory"
)

const testAdminToken = "operator-secret"

type AdminHandlerSuite struct {
	suite.Suite
	directory    *actor.MemoryDirectory
	jwt          *jwttoken.JWTService
	measurements *measurement.MemorySource
	audit        *auditmemory.InMemoryStore
	router       http.Handler
}

func TestAdminHandlerSuite(t *testing.T) {
	suite.Run(t, new(AdminHandlerSuite))
}

func (s *AdminHandlerSuite) SetupTest() {
	s.directory = actor.NewMemoryDirectory(actor.Profile{ID: "auditor-1", Role: id.RoleAuditor})
	s.jwt = jwttoken.NewJWTService("test-signing-key", "hycredit", "hycredit-api")
	s.measurements = measurement.NewMemorySource()
	s.audit = auditmemory.NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := chi.NewRouter()
	New(testAdminToken, s.directory, s.jwt, s.measurements, s.audit, logger).Register(r)
	s.router = r
}

func (s *AdminHandlerSuite) do(method, target, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Admin-Token", token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Access control
// =============================================================================

func (s *AdminHandlerSuite) TestRequiresAdminToken() {
	w := s.do(http.MethodGet, "/admin/actors/auditor-1", "", nil)
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/admin/actors/auditor-1", "wrong", nil)
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/admin/actors/auditor-1", testAdminToken, nil)
	s.Equal(http.StatusOK, w.Code)
}

func (s *AdminHandlerSuite) TestDisabledWithoutConfiguredToken() {
	r := chi.NewRouter()
	New("", s.directory, s.jwt, s.measurements, s.audit, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	req := httptest.NewRequest(http.MethodGet, "/admin/actors/auditor-1", nil)
	req.Header.Set("X-Admin-Token", "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	s.Equal(http.StatusNotFound, w.Code)
}

// =============================================================================
// Actors and tokens
// =============================================================================
// Registered actors can be issued bearer tokens whose claims carry the
// directory role.

func (s *AdminHandlerSuite) TestRegisterActorAndIssueToken() {
	w := s.do(http.MethodPost, "/admin/actors", testAdminToken, map[string]any{
		"id": "plant-a", "role": "plant", "display_name": "Plant A", "auditor_id": "auditor-1",
	})
	s.Require().Equal(http.StatusCreated, w.Code)

	auditorID, err := s.directory.AssignedAuditor(context.Background(), "plant-a")
	s.Require().NoError(err)
	s.Equal(id.ActorID("auditor-1"), auditorID)

	w = s.do(http.MethodPost, "/admin/tokens", testAdminToken, map[string]any{"actor_id": "plant-a", "ttl": "10m"})
	s.Require().Equal(http.StatusCreated, w.Code)
	var resp tokenResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal("Bearer", resp.TokenType)

	claims, err := s.jwt.ValidateToken(resp.AccessToken)
	s.Require().NoError(err)
	s.Equal("plant-a", claims.Subject)
	s.Equal("plant", claims.Role)
}

func (s *AdminHandlerSuite) TestRegisterActorValidation() {
	cases := []struct {
		name string
		body map[string]any
	}{
		{name: "unknown role", body: map[string]any{"id": "x", "role": "bank"}},
		{name: "auditor not registered", body: map[string]any{"id": "x", "role": "plant", "auditor_id": "auditor-9"}},
		{name: "auditor with auditor", body: map[string]any{"id": "x", "role": "auditor", "auditor_id": "auditor-1"}},
		{name: "empty id", body: map[string]any{"id": "", "role": "plant"}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			w := s.do(http.MethodPost, "/admin/actors", testAdminToken, tc.body)
			s.Equal(http.StatusBadRequest, w.Code)
		})
	}
}

func (s *AdminHandlerSuite) TestIssueTokenRules() {
	w := s.do(http.MethodPost, "/admin/tokens", testAdminToken, map[string]any{"actor_id": "ghost"})
	s.Equal(http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/admin/tokens", testAdminToken, map[string]any{"actor_id": "auditor-1", "ttl": "72h"})
	s.Equal(http.StatusBadRequest, w.Code)
}

// =============================================================================
// Measurements and audit
// =============================================================================

func (s *AdminHandlerSuite) TestRecordMeasurement() {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	w := s.do(http.MethodPost, "/admin/measurements", testAdminToken, map[string]any{
		"actor_id": "plant-a", "kind": "production", "amount": "250.5", "measured_at": at,
	})
	s.Require().Equal(http.StatusNoContent, w.Code)

	snap, err := s.measurements.Aggregate(context.Background(), "plant-a", measurement.KindProduction,
		measurement.Window{Start: at.Add(-time.Hour), End: at.Add(time.Hour)})
	s.Require().NoError(err)
	s.True(snap.Amount.Equal(decimal.RequireFromString("250.5")))

	w = s.do(http.MethodPost, "/admin/measurements", testAdminToken, map[string]any{
		"actor_id": "plant-a", "kind": "wind", "amount": "1", "measured_at": at,
	})
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *AdminHandlerSuite) TestListAudit() {
	ctx := context.Background()
	now := time.Now()
	s.Require().NoError(s.audit.Append(ctx, audit.Event{ActorID: "plant-a", Action: "request_submitted", RequestID: "r-1", Timestamp: now}))
	s.Require().NoError(s.audit.Append(ctx, audit.Event{ActorID: "auditor-1", Action: "request_approved", RequestID: "r-1", Timestamp: now.Add(time.Second)}))
	s.Require().NoError(s.audit.Append(ctx, audit.Event{ActorID: "plant-b", Action: "request_submitted", RequestID: "r-2", Timestamp: now.Add(2 * time.Second)}))

	var resp auditResponse
	w := s.do(http.MethodGet, "/admin/audit?request_id=r-1", testAdminToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(2, resp.Count)

	w = s.do(http.MethodGet, "/admin/audit?limit=1", testAdminToken, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	resp = auditResponse{}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Require().Len(resp.Events, 1)
	s.Equal(id.ActorID("plant-b"), resp.Events[0].ActorID)
}
