//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	audit "hycredit/pkg/platform/audit"
	"hycredit/pkg/platform/audit/store/postgres"
	"hycredit/pkg/testutil/containers"
)

type AuditStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	ctx      context.Context
}

func TestAuditStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(AuditStoreSuite))
}

func (s *AuditStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
}

func (s *AuditStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "audit_events"))
}

func (s *AuditStoreSuite) TestAppendAndQuery() {
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	events := []audit.Event{
		{Category: audit.CategoryOperations, Timestamp: base, ActorID: "plant-a", Action: string(audit.EventRequestSubmitted), RequestID: "r-1", CreditID: "HC-1"},
		{Category: audit.CategoryCompliance, Timestamp: base.Add(time.Minute), ActorID: "auditor-1", Action: string(audit.EventRequestApproved), RequestID: "r-1", Decision: "approved", Reason: "meter data matches"},
		{Category: audit.CategoryOperations, Timestamp: base.Add(2 * time.Minute), ActorID: "plant-b", Action: string(audit.EventRequestSubmitted), RequestID: "r-2"},
	}
	for _, e := range events {
		s.Require().NoError(s.store.Append(s.ctx, e))
	}

	byRequest, err := s.store.ListByRequest(s.ctx, "r-1")
	s.Require().NoError(err)
	s.Require().Len(byRequest, 2)
	s.Equal("approved", byRequest[1].Decision)
	s.Equal(audit.CategoryCompliance, byRequest[1].Category)

	byActor, err := s.store.ListByActor(s.ctx, "plant-a")
	s.Require().NoError(err)
	s.Require().Len(byActor, 1)
	s.Equal("HC-1", byActor[0].CreditID)

	recent, err := s.store.ListRecent(s.ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(recent, 1)
	s.Equal("r-2", recent[0].RequestID)
}

func (s *AuditStoreSuite) TestAppendWithIDIsIdempotent() {
	eventID := uuid.New()
	event := audit.Event{Category: audit.CategorySecurity, Timestamp: time.Now(), ActorID: "plant-a", Action: string(audit.EventDecisionDenied)}
	s.Require().NoError(s.store.AppendWithID(s.ctx, eventID, event))
	s.Require().NoError(s.store.AppendWithID(s.ctx, eventID, event))

	got, err := s.store.ListByActor(s.ctx, "plant-a")
	s.Require().NoError(err)
	s.Len(got, 1)
}
