package handler

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"hycredit/internal/actor"
	jwttoken "hycredit/internal/jwt_token"
	"hycredit/internal/workflow/handler/mocks"
	"hycredit/internal/workflow/models"
	"hycredit/internal/workflow/service"
	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
	"hycredit/pkg/requestcontext"
)

var (
	plant   = id.Actor{ID: "plant-a", Role: id.RolePlant}
	auditor = id.Actor{ID: "auditor-1", Role: id.RoleAuditor}
)

type WorkflowHandlerSuite struct {
	suite.Suite
	ctx      context.Context
	workflow *mocks.MockService
	stats    *mocks.MockStatsReader
	handler  *Handler
	jwt      *jwttoken.JWTService
}

func TestWorkflowHandlerSuite(t *testing.T) {
	suite.Run(t, new(WorkflowHandlerSuite))
}

func (s *WorkflowHandlerSuite) SetupTest() {
	s.ctx = context.Background()
	ctrl := gomock.NewController(s.T())
	s.T().Cleanup(ctrl.Finish)
	s.workflow = mocks.NewMockService(ctrl)
	s.stats = mocks.NewMockStatsReader(ctrl)
	s.jwt = jwttoken.NewJWTService("test-signing-key", "hycredit", "hycredit-api")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.handler = New(s.workflow, s.stats, logger, nil, jwttoken.NewJWTServiceAdapter(s.jwt))
}

func (s *WorkflowHandlerSuite) newRequest(method, target string, body any, as id.Actor) *http.Request {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(requestcontext.WithActor(req.Context(), as))
}

// withURLParam attaches a chi route parameter so handlers can be called directly.
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func sampleRequest(status models.Status) *models.Request {
	return &models.Request{
		ID:        id.NewRequestID(),
		Kind:      models.KindIssue,
		Requester: plant.ID,
		CreditID:  "HC-0001",
		Amount:    decimal.NewFromInt(1000),
		Status:    status,
		AuditorID: auditor.ID,
	}
}

// =============================================================================
// Submit
// =============================================================================
// The handler parses identifiers before the service sees them and passes the
// authenticated actor through unchanged.

func (s *WorkflowHandlerSuite) TestSubmitCreatesRequest() {
	window := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	created := sampleRequest(models.StatusPendingReview)
	s.workflow.EXPECT().Submit(gomock.Any(), plant, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ id.Actor, in service.SubmitInput) (*models.Request, error) {
			s.Equal(models.KindIssue, in.Kind)
			s.Equal(id.CreditID("HC-0001"), in.CreditID)
			s.True(in.Amount.Equal(decimal.NewFromInt(1000)))
			s.Equal(window, in.Window.Start)
			return created, nil
		})

	req := s.newRequest(http.MethodPost, "/requests", map[string]any{
		"kind":      "issue",
		"credit_id": "HC-0001",
		"amount":    "1000",
		"window":    map[string]any{"start": window, "end": window.Add(24 * time.Hour)},
	}, plant)
	w := httptest.NewRecorder()
	s.handler.handleSubmit(w, req)

	s.Equal(http.StatusCreated, w.Code)
	var resp map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(created.ID.String(), resp["id"])
	s.Equal("pending_review", resp["status"])
}

func (s *WorkflowHandlerSuite) TestSubmitRejectsMalformedInput() {
	cases := []struct {
		name string
		body any
	}{
		{name: "unknown kind", body: map[string]any{"kind": "mint", "amount": "1"}},
		{name: "bad credit id", body: map[string]any{"kind": "issue", "credit_id": "has space", "amount": "1"}},
		{name: "unknown field", body: map[string]any{"kind": "issue", "amount": "1", "extra": true}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			w := httptest.NewRecorder()
			s.handler.handleSubmit(w, s.newRequest(http.MethodPost, "/requests", tc.body, plant))
			s.Equal(http.StatusBadRequest, w.Code)
		})
	}
}

func (s *WorkflowHandlerSuite) TestSubmitMapsServiceErrors() {
	cases := []struct {
		code   dErrors.Code
		status int
	}{
		{dErrors.CodeForbidden, http.StatusForbidden},
		{dErrors.CodeDuplicateIdentifier, http.StatusConflict},
		{dErrors.CodeAlreadyRetired, http.StatusConflict},
		{dErrors.CodeValidation, http.StatusBadRequest},
		{dErrors.CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		s.Run(string(tc.code), func() {
			s.workflow.EXPECT().Submit(gomock.Any(), gomock.Any(), gomock.Any()).
				Return(nil, dErrors.New(tc.code, "boom"))
			w := httptest.NewRecorder()
			s.handler.handleSubmit(w, s.newRequest(http.MethodPost, "/requests",
				map[string]any{"kind": "issue", "amount": "1"}, plant))

			s.Equal(tc.status, w.Code)
			var resp map[string]string
			s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
			s.Equal(string(tc.code), resp["error"])
			if tc.code == dErrors.CodeInternal {
				s.Empty(resp["error_description"])
			}
		})
	}
}

// =============================================================================
// Decisions
// =============================================================================
// An approval returns 202 while the ledger commit is in flight; a rejection
// is final and returns 200.

func (s *WorkflowHandlerSuite) TestDecisionStatusCodes() {
	pending := sampleRequest(models.StatusCommitting)
	s.workflow.EXPECT().Decide(gomock.Any(), auditor, pending.ID, service.DecisionInput{Approve: true}).
		Return(pending, nil)

	req := s.newRequest(http.MethodPost, "/requests/"+pending.ID.String()+"/decision",
		map[string]any{"approve": true}, auditor)
	w := httptest.NewRecorder()
	s.handler.handleDecide(w, withURLParam(req, "requestID", pending.ID.String()))
	s.Equal(http.StatusAccepted, w.Code)

	rejected := sampleRequest(models.StatusRejected)
	s.workflow.EXPECT().Decide(gomock.Any(), auditor, rejected.ID,
		service.DecisionInput{Approve: false, Rationale: "meter mismatch"}).
		Return(rejected, nil)

	req = s.newRequest(http.MethodPost, "/requests/"+rejected.ID.String()+"/decision",
		map[string]any{"approve": false, "rationale": "meter mismatch"}, auditor)
	w = httptest.NewRecorder()
	s.handler.handleDecide(w, withURLParam(req, "requestID", rejected.ID.String()))
	s.Equal(http.StatusOK, w.Code)
}

func (s *WorkflowHandlerSuite) TestDecisionRequiresApproveField() {
	requestID := id.NewRequestID()
	req := s.newRequest(http.MethodPost, "/requests/x/decision", map[string]any{"rationale": "ok"}, auditor)
	w := httptest.NewRecorder()
	s.handler.handleDecide(w, withURLParam(req, "requestID", requestID.String()))
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *WorkflowHandlerSuite) TestDecisionRejectsBadRequestID() {
	req := s.newRequest(http.MethodPost, "/requests/nope/decision", map[string]any{"approve": true}, auditor)
	w := httptest.NewRecorder()
	s.handler.handleDecide(w, withURLParam(req, "requestID", "nope"))
	s.Equal(http.StatusBadRequest, w.Code)
}

// =============================================================================
// Queries
// =============================================================================

func (s *WorkflowHandlerSuite) TestListPassesFilter() {
	reqs := []*models.Request{sampleRequest(models.StatusPendingReview)}
	s.workflow.EXPECT().List(gomock.Any(), auditor,
		models.ListFilter{Status: models.StatusPendingReview, Kind: models.KindIssue}).
		Return(reqs, nil)

	req := s.newRequest(http.MethodGet, "/requests?status=pending_review&kind=issue", nil, auditor)
	w := httptest.NewRecorder()
	s.handler.handleList(w, req)

	s.Equal(http.StatusOK, w.Code)
	var resp struct {
		Count int `json:"count"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(1, resp.Count)
}

func (s *WorkflowHandlerSuite) TestGetNotVisible() {
	requestID := id.NewRequestID()
	s.workflow.EXPECT().Get(gomock.Any(), plant, requestID).
		Return(nil, dErrors.New(dErrors.CodeNotFound, "request not found"))

	req := s.newRequest(http.MethodGet, "/requests/"+requestID.String(), nil, plant)
	w := httptest.NewRecorder()
	s.handler.handleGet(w, withURLParam(req, "requestID", requestID.String()))
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *WorkflowHandlerSuite) TestReconcile() {
	r := sampleRequest(models.StatusFailed)
	r.Reconciliation = "reconciled_absent"
	s.workflow.EXPECT().Reconcile(gomock.Any(), auditor, r.ID).Return(r, nil)

	req := s.newRequest(http.MethodPost, "/requests/"+r.ID.String()+"/reconcile", nil, auditor)
	w := httptest.NewRecorder()
	s.handler.handleReconcile(w, withURLParam(req, "requestID", r.ID.String()))

	s.Equal(http.StatusOK, w.Code)
	var resp map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal("reconciled_absent", resp["reconciliation"])
}

func (s *WorkflowHandlerSuite) TestStats() {
	st := actor.NewStats(plant.ID)
	st.Generated = decimal.NewFromInt(1500)
	s.stats.EXPECT().Get(gomock.Any(), plant.ID).Return(st, nil)

	w := httptest.NewRecorder()
	s.handler.handleStats(w, s.newRequest(http.MethodGet, "/actors/me/stats", nil, plant))

	s.Equal(http.StatusOK, w.Code)
	var resp actor.Stats
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.True(resp.Generated.Equal(decimal.NewFromInt(1500)))
}

// =============================================================================
// Router
// =============================================================================
// Requests travel the full middleware chain: bearer tokens are resolved into
// the actor the service receives.

func (s *WorkflowHandlerSuite) router() http.Handler {
	r := chi.NewRouter()
	s.handler.Register(r)
	return r
}

func (s *WorkflowHandlerSuite) TestRouterRequiresBearerToken() {
	req := httptest.NewRequest(http.MethodGet, "/requests", nil)
	w := httptest.NewRecorder()
	s.router().ServeHTTP(w, req)

	s.Equal(http.StatusUnauthorized, w.Code)
	s.NotEmpty(w.Header().Get("X-Request-ID"))
}

func (s *WorkflowHandlerSuite) TestRouterResolvesActorFromToken() {
	token, err := s.jwt.GenerateAccessToken(auditor, time.Hour)
	require.NoError(s.T(), err)
	s.workflow.EXPECT().List(gomock.Any(), auditor, models.ListFilter{}).Return(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/requests", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", "corr-1")
	w := httptest.NewRecorder()
	s.router().ServeHTTP(w, req)

	assert.Equal(s.T(), http.StatusOK, w.Code)
	assert.Equal(s.T(), "corr-1", w.Header().Get("X-Request-ID"))
}

func (s *WorkflowHandlerSuite) TestRouterRejectsNonJSONBody() {
	token, err := s.jwt.GenerateAccessToken(plant, time.Hour)
	require.NoError(s.T(), err)

	req := httptest.NewRequest(http.MethodPost, "/requests", bytes.NewBufferString("kind=issue"))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.router().ServeHTTP(w, req)

	s.Equal(http.StatusUnsupportedMediaType, w.Code)
}
