package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"hycredit/internal/ledger/models"
	id "hycredit/pkg/domain"
	"hycredit/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

// PostgresStore persists the ledger in PostgreSQL. Execute takes a row lock
// (SELECT ... FOR UPDATE) so check and write happen in one transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, record *models.CreditRecord, event *models.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create credit: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credits (id, issuer, holder, amount, issued_at, retired, retired_at, updated_at, last_tx_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, record.ID, record.Issuer, record.Holder, record.Amount, record.IssuedAt,
		record.Retired, record.RetiredAt, record.UpdatedAt, record.LastTxRef)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert credit: %w", err)
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create credit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Execute(
	ctx context.Context,
	creditID id.CreditID,
	validate func(*models.CreditRecord) error,
	mutate func(*models.CreditRecord) *models.Event,
) (*models.CreditRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin credit mutation: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	record, err := scanRecord(tx.QueryRowContext(ctx, selectRecord+` WHERE id = $1 FOR UPDATE`, creditID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock credit: %w", err)
	}
	if err := validate(record); err != nil {
		return nil, err
	}
	event := mutate(record)

	_, err = tx.ExecContext(ctx, `
		UPDATE credits
		SET holder = $2, retired = $3, retired_at = $4, updated_at = $5, last_tx_ref = $6
		WHERE id = $1
	`, record.ID, record.Holder, record.Retired, record.RetiredAt, record.UpdatedAt, record.LastTxRef)
	if err != nil {
		return nil, fmt.Errorf("update credit: %w", err)
	}
	if err := insertEvent(ctx, tx, event); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit credit mutation: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, creditID id.CreditID) (*models.CreditRecord, error) {
	record, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord+` WHERE id = $1`, creditID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find credit: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.CreditRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+` ORDER BY issued_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list credits: %w", err)
	}
	defer rows.Close()

	var out []*models.CreditRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credit: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListEvents(ctx context.Context, creditID id.CreditID) ([]*models.Event, error) {
	return s.queryEvents(ctx, selectEvent+` WHERE credit_id = $1 ORDER BY seq`, creditID)
}

func (s *PostgresStore) ListEventsByRequest(ctx context.Context, requestRef string) ([]*models.Event, error) {
	return s.queryEvents(ctx, selectEvent+` WHERE request_ref = $1 ORDER BY seq`, requestRef)
}

func (s *PostgresStore) queryEvents(ctx context.Context, query string, arg any) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list credit events: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		var (
			e          models.Event
			from, to   sql.NullString
			requestRef sql.NullString
		)
		if err := rows.Scan(&e.Sequence, &e.TxRef, &e.Kind, &e.CreditID, &from, &to, &e.Amount, &requestRef, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan credit event: %w", err)
		}
		e.From = id.ActorID(from.String)
		e.To = id.ActorID(to.String)
		e.RequestRef = requestRef.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

const selectRecord = `
	SELECT id, issuer, holder, amount, issued_at, retired, retired_at, updated_at, last_tx_ref
	FROM credits`

const selectEvent = `
	SELECT seq, tx_ref, kind, credit_id, from_actor, to_actor, amount, request_ref, recorded_at
	FROM credit_events`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.CreditRecord, error) {
	var (
		r         models.CreditRecord
		retiredAt sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.Issuer, &r.Holder, &r.Amount, &r.IssuedAt, &r.Retired, &retiredAt, &r.UpdatedAt, &r.LastTxRef); err != nil {
		return nil, err
	}
	if retiredAt.Valid {
		t := retiredAt.Time
		r.RetiredAt = &t
	}
	return &r, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, event *models.Event) error {
	if event == nil {
		return nil
	}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO credit_events (tx_ref, kind, credit_id, from_actor, to_actor, amount, request_ref, recorded_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, ''), $8)
		RETURNING seq
	`, event.TxRef, event.Kind, event.CreditID, event.From, event.To, event.Amount, event.RequestRef, event.RecordedAt).Scan(&event.Sequence)
	if err != nil {
		return fmt.Errorf("append credit event: %w", err)
	}
	return nil
}
