// Package admin exposes operator routes: actor registration, token minting,
// measurement ingestion and audit queries. All routes sit behind the shared
// admin token.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"hycredit/internal/actor"
	"hycredit/internal/measurement"
	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
	audit "hycredit/pkg/platform/audit"
	"hycredit/pkg/platform/httputil"
	adminmw "hycredit/pkg/platform/middleware/admin"
	"hycredit/pkg/platform/middleware/request"
	"hycredit/pkg/requestcontext"
)

const (
	defaultTokenTTL = time.Hour
	maxTokenTTL     = 24 * time.Hour
	defaultAuditMax = 100
)

type ActorRegistry interface {
	Register(p actor.Profile) error
	Lookup(ctx context.Context, actorID id.ActorID) (*actor.Profile, error)
}

type TokenIssuer interface {
	GenerateAccessToken(a id.Actor, expiresIn time.Duration) (string, error)
}

type MeasurementRecorder interface {
	Insert(ctx context.Context, r measurement.Reading) error
}

type AuditReader interface {
	ListByActor(ctx context.Context, actorID id.ActorID) ([]audit.Event, error)
	ListByRequest(ctx context.Context, requestID string) ([]audit.Event, error)
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

type Handler struct {
	logger       *slog.Logger
	adminToken   string
	actors       ActorRegistry
	tokens       TokenIssuer
	measurements MeasurementRecorder
	audit        AuditReader
}

func New(adminToken string, actors ActorRegistry, tokens TokenIssuer, measurements MeasurementRecorder, auditReader AuditReader, logger *slog.Logger) *Handler {
	return &Handler{
		logger:       logger,
		adminToken:   adminToken,
		actors:       actors,
		tokens:       tokens,
		measurements: measurements,
		audit:        auditReader,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/admin", func(router chi.Router) {
		router.Use(request.Recovery(h.logger))
		router.Use(request.RequestID)
		router.Use(request.ClientMetadata)
		router.Use(request.Logger(h.logger))
		router.Use(request.ContentTypeJSON)
		router.Use(adminmw.RequireAdminToken(h.adminToken, h.logger))

		router.Post("/actors", h.handleRegisterActor)
		router.Get("/actors/{actorID}", h.handleGetActor)
		router.Post("/tokens", h.handleIssueToken)
		router.Post("/measurements", h.handleRecordMeasurement)
		router.Get("/audit", h.handleListAudit)
	})
}

type registerActorRequest struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	AuditorID   string `json:"auditor_id"`
}

func (req registerActorRequest) toProfile() (actor.Profile, error) {
	actorID, err := id.ParseActorID(req.ID)
	if err != nil {
		return actor.Profile{}, err
	}
	role, err := id.ParseRole(req.Role)
	if err != nil {
		return actor.Profile{}, err
	}
	p := actor.Profile{ID: actorID, Role: role, DisplayName: req.DisplayName}
	if req.AuditorID != "" {
		if role == id.RoleAuditor {
			return actor.Profile{}, dErrors.New(dErrors.CodeValidation, "auditors cannot have an assigned auditor")
		}
		if p.AuditorID, err = id.ParseActorID(req.AuditorID); err != nil {
			return actor.Profile{}, err
		}
	}
	return p, nil
}

type issueTokenRequest struct {
	ActorID string `json:"actor_id"`
	// TTL is a Go duration string; defaults to one hour.
	TTL string `json:"ttl,omitempty"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type measurementRequest struct {
	ActorID    string          `json:"actor_id"`
	Kind       string          `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	MeasuredAt time.Time       `json:"measured_at"`
	Ref        string          `json:"ref,omitempty"`
}

type auditResponse struct {
	Events []audit.Event `json:"events"`
	Count  int           `json:"count"`
}

func (h *Handler) handleRegisterActor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body registerActorRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	profile, err := body.toProfile()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !profile.AuditorID.IsZero() {
		auditor, err := h.actors.Lookup(ctx, profile.AuditorID)
		if err != nil || auditor.Role != id.RoleAuditor {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "auditor_id must name a registered auditor"))
			return
		}
	}
	if err := h.actors.Register(profile); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "actor registered",
		"request_id", requestcontext.RequestID(ctx),
		"actor_id", profile.ID,
		"role", profile.Role,
	)
	httputil.WriteJSON(w, http.StatusCreated, profile)
}

func (h *Handler) handleGetActor(w http.ResponseWriter, r *http.Request) {
	actorID, err := id.ParseActorID(chi.URLParam(r, "actorID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	profile, err := h.actors.Lookup(r.Context(), actorID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

func (h *Handler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body issueTokenRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	actorID, err := id.ParseActorID(body.ActorID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ttl := defaultTokenTTL
	if body.TTL != "" {
		ttl, err = time.ParseDuration(body.TTL)
		if err != nil || ttl <= 0 || ttl > maxTokenTTL {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "ttl must be a positive duration of at most 24h"))
			return
		}
	}
	profile, err := h.actors.Lookup(ctx, actorID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	token, err := h.tokens.GenerateAccessToken(id.Actor{ID: profile.ID, Role: profile.Role}, ttl)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to mint token", "actor_id", actorID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint token"))
		return
	}
	h.logger.InfoContext(ctx, "token issued",
		"request_id", requestcontext.RequestID(ctx),
		"actor_id", actorID,
		"ttl", ttl,
	)
	httputil.WriteJSON(w, http.StatusCreated, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(ttl),
	})
}

func (h *Handler) handleRecordMeasurement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body measurementRequest
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	actorID, err := id.ParseActorID(body.ActorID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	kind := measurement.Kind(body.Kind)
	switch kind {
	case measurement.KindProduction, measurement.KindDelivery, measurement.KindConsumption:
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "kind must be one of production, delivery, consumption"))
		return
	}
	if body.Amount.IsNegative() || body.MeasuredAt.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "amount must be non-negative and measured_at is required"))
		return
	}
	reading := measurement.Reading{
		ActorID:    actorID,
		Kind:       kind,
		Amount:     body.Amount,
		MeasuredAt: body.MeasuredAt,
		Ref:        body.Ref,
	}
	if err := h.measurements.Insert(ctx, reading); err != nil {
		h.logger.ErrorContext(ctx, "failed to record measurement", "actor_id", actorID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record measurement"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListAudit filters by request_id, then actor_id, else returns the
// most recent events.
func (h *Handler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	var (
		events []audit.Event
		err    error
	)
	switch {
	case q.Get("request_id") != "":
		events, err = h.audit.ListByRequest(ctx, q.Get("request_id"))
	case q.Get("actor_id") != "":
		events, err = h.audit.ListByActor(ctx, id.ActorID(q.Get("actor_id")))
	default:
		limit := defaultAuditMax
		if n, convErr := strconv.Atoi(q.Get("limit")); convErr == nil && n > 0 && n <= 1000 {
			limit = n
		}
		events, err = h.audit.ListRecent(ctx, limit)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list audit events", "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, auditResponse{Events: events, Count: len(events)})
}
