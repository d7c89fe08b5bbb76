package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hycredit/internal/ledger/models"
	"hycredit/internal/platform/metrics"
	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
	"hycredit/pkg/platform/httputil"
	"hycredit/pkg/platform/middleware/auth"
	"hycredit/pkg/platform/middleware/request"
	"hycredit/pkg/platform/middleware/requesttime"
	"hycredit/pkg/requestcontext"
)

// Service is the read side of the credit ledger. Mutations only reach the
// ledger through approved workflow requests.
type Service interface {
	Get(ctx context.Context, creditID id.CreditID) (*models.CreditRecord, error)
	ListAll(ctx context.Context) ([]*models.CreditRecord, error)
	History(ctx context.Context, creditID id.CreditID) ([]*models.Event, error)
}

type Handler struct {
	logger       *slog.Logger
	ledger       Service
	metrics      *metrics.Metrics
	jwtValidator auth.JWTValidator
}

func New(ledger Service, logger *slog.Logger, m *metrics.Metrics, jwtValidator auth.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		ledger:       ledger,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register adds the authenticated ledger query routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(router chi.Router) {
		router.Use(request.Recovery(h.logger))
		router.Use(request.RequestID)
		router.Use(request.ClientMetadata)
		router.Use(requesttime.Middleware)
		router.Use(request.Logger(h.logger))
		router.Use(metrics.LatencyMiddleware(h.metrics))
		router.Use(auth.RequireAuth(h.jwtValidator, h.logger))

		router.Get("/credits", h.handleList)
		router.Get("/credits/{creditID}", h.handleGet)
		router.Get("/credits/{creditID}/history", h.handleHistory)
	})
}

type creditsResponse struct {
	Credits []*models.CreditRecord `json:"credits"`
	Count   int                    `json:"count"`
}

type historyResponse struct {
	CreditID id.CreditID     `json:"credit_id"`
	Events   []*models.Event `json:"events"`
}

// handleList returns every credit. With ?holder=me only the caller's
// holdings are returned.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recs, err := h.ledger.ListAll(ctx)
	if err != nil {
		h.writeServiceError(ctx, w, "list credits", err)
		return
	}
	if r.URL.Query().Get("holder") == "me" {
		caller := requestcontext.Actor(ctx).ID
		held := make([]*models.CreditRecord, 0, len(recs))
		for _, rec := range recs {
			if rec.Holder == caller {
				held = append(held, rec)
			}
		}
		recs = held
	}
	httputil.WriteJSON(w, http.StatusOK, creditsResponse{Credits: recs, Count: len(recs)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	creditID, err := id.ParseCreditID(chi.URLParam(r, "creditID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.ledger.Get(ctx, creditID)
	if err != nil {
		h.writeServiceError(ctx, w, "get credit", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	creditID, err := id.ParseCreditID(chi.URLParam(r, "creditID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.ledger.History(ctx, creditID)
	if err != nil {
		h.writeServiceError(ctx, w, "load credit history", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, historyResponse{CreditID: creditID, Events: events})
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if dErrors.GetCode(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "failed to "+op,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
