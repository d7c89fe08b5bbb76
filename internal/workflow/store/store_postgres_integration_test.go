//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"hycredit/internal/workflow/models"
	"hycredit/internal/workflow/store"
	id "hycredit/pkg/domain"
	dErrors "hycredit/pkg/domain-errors"
	"hycredit/pkg/platform/sentinel"
	"hycredit/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.ctx = context.Background()
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "workflow_requests"))
}

func (s *PostgresStoreSuite) newRequest(kind models.Kind, creditID id.CreditID, requester id.ActorID, created time.Time) *models.Request {
	req, err := models.NewRequest(models.NewRequestParams{
		ID: id.NewRequestID(), Kind: kind, Requester: id.Actor{ID: requester, Role: id.RolePlant},
		CreditID: creditID, Counterparty: "industry-b", Amount: decimal.RequireFromString("12.5"),
		AuditorID: "auditor-1", Now: created,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, req))
	return req
}

// =============================================================================
// Compare-and-set transitions
// =============================================================================
// Row locks serialize concurrent transitions; every loser observes the new
// status and fails validation.

func (s *PostgresStoreSuite) TestConcurrentTransitionsOneWins() {
	req := s.newRequest(models.KindIssue, "CR-1", "plant-a", time.Now())

	toVerifying := func(r *models.Request) error { return r.CanTransition(models.StatusAutoVerifying) }
	apply := func(r *models.Request) { r.ApplyAutoVerifying(time.Now()) }

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(s.ctx, req.ID, toVerifying, apply)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var won int
	for err := range errs {
		if err == nil {
			won++
			continue
		}
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState), "unexpected error: %v", err)
	}
	s.Equal(1, won)

	stored, err := s.store.FindByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusAutoVerifying, stored.Status)
	s.Equal(int64(2), stored.Version)
	s.True(stored.Amount.Equal(decimal.RequireFromString("12.5")))
}

func (s *PostgresStoreSuite) TestDuplicateAndMissing() {
	req := s.newRequest(models.KindIssue, "CR-1", "plant-a", time.Now())
	s.ErrorIs(s.store.Create(s.ctx, req), sentinel.ErrAlreadyUsed)

	_, err := s.store.FindByID(s.ctx, id.NewRequestID())
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestListingAndBurnedIdentifiers() {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	second := s.newRequest(models.KindTransfer, "CR-2", "plant-a", base.Add(time.Minute))
	first := s.newRequest(models.KindIssue, "CR-1", "plant-a", base)
	s.newRequest(models.KindIssue, "CR-3", "plant-z", base)

	all, err := s.store.ListByRequester(s.ctx, "plant-a", models.ListFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(first.ID, all[0].ID)
	s.Equal(second.ID, all[1].ID)

	issues, err := s.store.ListByAuditor(s.ctx, "auditor-1", models.ListFilter{Kind: models.KindIssue})
	s.Require().NoError(err)
	s.Len(issues, 2)

	_, err = s.store.Execute(s.ctx, first.ID, func(*models.Request) error { return nil }, func(r *models.Request) {
		r.Status = models.StatusRejected
	})
	s.Require().NoError(err)

	burned, err := s.store.HasBurnedIdentifier(s.ctx, "CR-1")
	s.Require().NoError(err)
	s.True(burned)

	rejected, err := s.store.ListByStatus(s.ctx, models.StatusRejected)
	s.Require().NoError(err)
	s.Len(rejected, 1)
}
