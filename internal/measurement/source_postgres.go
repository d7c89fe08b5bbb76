package measurement

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	id "hycredit/pkg/domain"
)

// PostgresSource reads aggregates from the metering database maintained by
// the ingestion pipeline.
type PostgresSource struct {
	pool *pgxpool.Pool
}

func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// NewPool opens a pgx pool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse measurement dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open measurement pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping measurement database: %w", err)
	}
	return pool, nil
}

func (p *PostgresSource) Aggregate(ctx context.Context, actorID id.ActorID, kind Kind, window Window) (Snapshot, error) {
	var (
		total   string
		samples int
		ref     *string
	)
	err := p.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text, COUNT(*), MIN(reading_ref)
		FROM measurements
		WHERE actor_id = $1 AND kind = $2 AND measured_at >= $3 AND measured_at < $4
	`, actorID.String(), string(kind), window.Start, window.End).Scan(&total, &samples, &ref)
	if err != nil {
		return Snapshot{}, fmt.Errorf("aggregate measurements: %w", err)
	}
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse measurement total: %w", err)
	}
	snap := Snapshot{
		ActorID:  actorID,
		Kind:     kind,
		Window:   window,
		Amount:   amount,
		Samples:  samples,
		Found:    samples > 0,
		LoadedAt: time.Now(),
	}
	if ref != nil {
		snap.Ref = *ref
	}
	return snap, nil
}

// Insert records a reading. Used by seeding and integration tests.
func (p *PostgresSource) Insert(ctx context.Context, r Reading) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO measurements (actor_id, kind, amount, measured_at, reading_ref)
		VALUES ($1, $2, $3::numeric, $4, NULLIF($5, ''))
	`, r.ActorID.String(), string(r.Kind), r.Amount.String(), r.MeasuredAt, r.Ref)
	if err != nil {
		return fmt.Errorf("insert measurement: %w", err)
	}
	return nil
}
