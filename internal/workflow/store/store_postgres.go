package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"hycredit/internal/workflow/models"
	id "hycredit/pkg/domain"
	"hycredit/pkg/platform/sentinel"
)

// PostgresStore persists each request as a JSON document next to the columns
// used for filtering. Transitions are compare-and-set on status and version.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, req *models.Request) error {
	req.Version = 1
	doc, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_requests (id, kind, requester, auditor_id, credit_id, status, version, created_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.UUID(req.ID), req.Kind, req.Requester, req.AuditorID, req.CreditID, req.Status, req.Version, req.CreatedAt, string(doc))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *PostgresStore) Execute(
	ctx context.Context,
	requestID id.RequestID,
	validate func(*models.Request) error,
	mutate func(*models.Request),
) (*models.Request, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin request tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	req, err := scanDoc(tx.QueryRowContext(ctx, `SELECT doc FROM workflow_requests WHERE id = $1 FOR UPDATE`, uuid.UUID(requestID)))
	if err != nil {
		return nil, err
	}
	if err := validate(req); err != nil {
		return nil, err
	}
	prevStatus, prevVersion := req.Status, req.Version
	mutate(req)
	req.Version = prevVersion + 1
	doc, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE workflow_requests SET status = $1, version = $2, doc = $3
		WHERE id = $4 AND status = $5 AND version = $6
	`, req.Status, req.Version, string(doc), uuid.UUID(requestID), prevStatus, prevVersion)
	if err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return nil, sentinel.ErrConflict
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit request tx: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, requestID id.RequestID) (*models.Request, error) {
	return scanDoc(s.db.QueryRowContext(ctx, `SELECT doc FROM workflow_requests WHERE id = $1`, uuid.UUID(requestID)))
}

func (s *PostgresStore) ListByRequester(ctx context.Context, requester id.ActorID, filter models.ListFilter) ([]*models.Request, error) {
	return s.query(ctx, "requester", requester.String(), filter)
}

func (s *PostgresStore) ListByAuditor(ctx context.Context, auditorID id.ActorID, filter models.ListFilter) ([]*models.Request, error) {
	return s.query(ctx, "auditor_id", auditorID.String(), filter)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status models.Status) ([]*models.Request, error) {
	return s.query(ctx, "status", string(status), models.ListFilter{})
}

func (s *PostgresStore) HasBurnedIdentifier(ctx context.Context, creditID id.CreditID) (bool, error) {
	var burned bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM workflow_requests
			WHERE kind = $1 AND credit_id = $2 AND status IN ($3, $4)
		)
	`, models.KindIssue, creditID, models.StatusRejected, models.StatusFailed).Scan(&burned)
	if err != nil {
		return false, fmt.Errorf("check burned identifier: %w", err)
	}
	return burned, nil
}

// query filters on one owner column; column is never user input.
func (s *PostgresStore) query(ctx context.Context, column, value string, filter models.ListFilter) ([]*models.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM workflow_requests
		WHERE `+column+` = $1
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR kind = $3)
		ORDER BY created_at, id
	`, value, string(filter.Status), string(filter.Kind))
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Request, 0)
	for rows.Next() {
		req, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDoc(row rowScanner) (*models.Request, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan request: %w", err)
	}
	var req models.Request
	if err := json.Unmarshal(doc, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &req, nil
}
