package handler

import (
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

	jwttoken "hycredit/internal/jwt_token"
	"hycredit/internal/ledger/models"
	ledgerservice "hycredit/internal/ledger/service"
	"hycredit/internal/ledger/store"
	id "hycredit/pkg/domain"
)

type LedgerHandlerSuite struct {
	suite.Suite
	ctx    context.Context
	ledger *ledgerservice.Service
	jwt    *jwttoken.JWTService
	router http.Handler
}

func TestLedgerHandlerSuite(t *testing.T) {
	suite.Run(t, new(LedgerHandlerSuite))
}

func (s *LedgerHandlerSuite) SetupTest() {
	s.ctx = context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.ledger = ledgerservice.New(store.NewInMemoryStore(), ledgerservice.WithLogger(logger))
	s.jwt = jwttoken.NewJWTService("test-signing-key", "hycredit", "hycredit-api")

	r := chi.NewRouter()
	New(s.ledger, logger, nil, jwttoken.NewJWTServiceAdapter(s.jwt)).Register(r)
	s.router = r

	for _, c := range []struct {
		credit id.CreditID
		holder id.ActorID
	}{
		{"HC-A", "plant-a"},
		{"HC-B", "plant-b"},
	} {
		_, err := s.ledger.Issue(s.ctx, models.IssueCommand{
			ID:     c.credit,
			Issuer: c.holder,
			Holder: c.holder,
			Amount: decimal.NewFromInt(100),
		})
		s.Require().NoError(err)
	}
	_, err := s.ledger.Transfer(s.ctx, models.TransferCommand{ID: "HC-A", Requester: "plant-a", NewHolder: "industry-c"})
	s.Require().NoError(err)
}

func (s *LedgerHandlerSuite) get(target string, as id.Actor) *httptest.ResponseRecorder {
	token, err := s.jwt.GenerateAccessToken(as, time.Hour)
	s.Require().NoError(err)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Ledger queries
// =============================================================================
// Any authenticated actor can read the ledger; holder=me narrows the list to
// the caller's current holdings.

func (s *LedgerHandlerSuite) TestListCredits() {
	w := s.get("/credits", id.Actor{ID: "auditor-1", Role: id.RoleAuditor})
	s.Require().Equal(http.StatusOK, w.Code)

	var resp creditsResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Equal(2, resp.Count)

	w = s.get("/credits?holder=me", id.Actor{ID: "industry-c", Role: id.RoleIndustry})
	s.Require().Equal(http.StatusOK, w.Code)
	resp = creditsResponse{}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Require().Len(resp.Credits, 1)
	s.Equal(id.CreditID("HC-A"), resp.Credits[0].ID)
}

func (s *LedgerHandlerSuite) TestGetCredit() {
	w := s.get("/credits/HC-A", id.Actor{ID: "plant-b", Role: id.RolePlant})
	s.Require().Equal(http.StatusOK, w.Code)

	var rec models.CreditRecord
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &rec))
	s.Equal(id.ActorID("industry-c"), rec.Holder)
	s.Equal(id.ActorID("plant-a"), rec.Issuer)
	s.False(rec.Retired)

	w = s.get("/credits/HC-MISSING", id.Actor{ID: "plant-b", Role: id.RolePlant})
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *LedgerHandlerSuite) TestHistory() {
	w := s.get("/credits/HC-A/history", id.Actor{ID: "auditor-1", Role: id.RoleAuditor})
	s.Require().Equal(http.StatusOK, w.Code)

	var resp historyResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Require().Len(resp.Events, 2)
	s.Equal(models.EventIssued, resp.Events[0].Kind)
	s.Equal(models.EventTransferred, resp.Events[1].Kind)
	s.Equal(id.ActorID("industry-c"), resp.Events[1].To)
}

func (s *LedgerHandlerSuite) TestRequiresToken() {
	req := httptest.NewRequest(http.MethodGet, "/credits", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	s.Equal(http.StatusUnauthorized, w.Code)
}
