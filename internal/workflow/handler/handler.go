package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"hycredit/internal/actor"
	"hycredit/internal/measurement"
	"hycredit/internal/platform/metrics"
	"hycredit/internal/workflow/models"
	"hycredit/internal/workflow/service"
	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
	"hycredit/pkg/platform/httputil"
	"hycredit/pkg/platform/middleware/auth"
	"hycredit/pkg/platform/middleware/request"
	"hycredit/pkg/platform/middleware/requesttime"
	"hycredit/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service StatsReader

// Service is the workflow engine as seen by the HTTP layer.
type Service interface {
	Submit(ctx context.Context, actor id.Actor, in service.SubmitInput) (*models.Request, error)
	Decide(ctx context.Context, auditor id.Actor, requestID id.RequestID, in service.DecisionInput) (*models.Request, error)
	Get(ctx context.Context, actor id.Actor, requestID id.RequestID) (*models.Request, error)
	List(ctx context.Context, actor id.Actor, filter models.ListFilter) ([]*models.Request, error)
	Reconcile(ctx context.Context, auditor id.Actor, requestID id.RequestID) (*models.Request, error)
}

// StatsReader serves lifetime actor statistics.
type StatsReader interface {
	Get(ctx context.Context, actorID id.ActorID) (*actor.Stats, error)
}

// requestTimeout bounds synchronous handler work; commits continue in the
// background after the response.
const requestTimeout = 30 * time.Second

// Handler exposes request submission, listing and auditor decisions.
type Handler struct {
	logger       *slog.Logger
	workflow     Service
	stats        StatsReader
	metrics      *metrics.Metrics
	jwtValidator auth.JWTValidator
}

func New(workflow Service, stats StatsReader, logger *slog.Logger, m *metrics.Metrics, jwtValidator auth.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		workflow:     workflow,
		stats:        stats,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register adds the authenticated workflow routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(router chi.Router) {
		router.Use(request.Recovery(h.logger))
		router.Use(request.RequestID)
		router.Use(request.ClientMetadata)
		router.Use(requesttime.Middleware)
		router.Use(request.Logger(h.logger))
		router.Use(chimw.Timeout(requestTimeout))
		router.Use(request.ContentTypeJSON)
		router.Use(metrics.LatencyMiddleware(h.metrics))
		router.Use(auth.RequireAuth(h.jwtValidator, h.logger))

		router.Post("/requests", h.handleSubmit)
		router.Get("/requests", h.handleList)
		router.Get("/requests/{requestID}", h.handleGet)
		router.Post("/requests/{requestID}/decision", h.handleDecide)
		router.Post("/requests/{requestID}/reconcile", h.handleReconcile)
		router.Get("/actors/me/stats", h.handleStats)
	})
}

type submitRequest struct {
	Kind           string             `json:"kind"`
	CreditID       string             `json:"credit_id,omitempty"`
	Counterparty   string             `json:"counterparty,omitempty"`
	Amount         decimal.Decimal    `json:"amount"`
	Window         measurement.Window `json:"window"`
	MeasurementRef string             `json:"measurement_ref,omitempty"`
}

func (req submitRequest) toInput() (service.SubmitInput, error) {
	kind, ok := models.ParseKind(req.Kind)
	if !ok {
		return service.SubmitInput{}, dErrors.New(dErrors.CodeValidation, "kind must be one of issue, transfer, retire")
	}
	in := service.SubmitInput{
		Kind:           kind,
		Amount:         req.Amount,
		Window:         req.Window,
		MeasurementRef: req.MeasurementRef,
	}
	if req.CreditID != "" {
		creditID, err := id.ParseCreditID(req.CreditID)
		if err != nil {
			return service.SubmitInput{}, err
		}
		in.CreditID = creditID
	}
	if req.Counterparty != "" {
		counterparty, err := id.ParseActorID(req.Counterparty)
		if err != nil {
			return service.SubmitInput{}, err
		}
		in.Counterparty = counterparty
	}
	return in, nil
}

type decisionRequest struct {
	Approve   *bool  `json:"approve"`
	Rationale string `json:"rationale"`
}

type listResponse struct {
	Requests []*models.Request `json:"requests"`
	Count    int               `json:"count"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body submitRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	in, err := body.toInput()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.workflow.Submit(ctx, requestcontext.Actor(ctx), in)
	if err != nil {
		h.writeServiceError(ctx, w, "submit request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, req)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := models.ListFilter{
		Status: models.Status(r.URL.Query().Get("status")),
		Kind:   models.Kind(r.URL.Query().Get("kind")),
	}
	reqs, err := h.workflow.List(ctx, requestcontext.Actor(ctx), filter)
	if err != nil {
		h.writeServiceError(ctx, w, "list requests", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Requests: reqs, Count: len(reqs)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.workflow.Get(ctx, requestcontext.Actor(ctx), requestID)
	if err != nil {
		h.writeServiceError(ctx, w, "get request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) handleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var body decisionRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if body.Approve == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "approve is required"))
		return
	}
	req, err := h.workflow.Decide(ctx, requestcontext.Actor(ctx), requestID, service.DecisionInput{
		Approve:   *body.Approve,
		Rationale: body.Rationale,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "decide request", err)
		return
	}
	status := http.StatusOK
	if req.Status == models.StatusCommitting {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, req)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.workflow.Reconcile(ctx, requestcontext.Actor(ctx), requestID)
	if err != nil {
		h.writeServiceError(ctx, w, "reconcile request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := h.stats.Get(ctx, requestcontext.Actor(ctx).ID)
	if err != nil {
		h.writeServiceError(ctx, w, "load stats", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

// writeServiceError logs at a level matching the failure and writes the
// mapped response. Internal details never reach the client.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	code := dErrors.GetCode(err)
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"actor_id", requestcontext.Actor(ctx).ID,
		"code", code,
		"error", err,
	}
	if httputil.StatusFor(code) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "failed to "+op, attrs...)
	} else {
		h.logger.WarnContext(ctx, "rejected "+op, attrs...)
	}
	httputil.WriteError(w, err)
}
