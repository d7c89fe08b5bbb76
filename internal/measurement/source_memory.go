package measurement

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	id "hycredit/pkg/domain"
)

// MemorySource aggregates readings recorded in process.
type MemorySource struct {
	mu       sync.RWMutex
	readings []Reading
}

func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

func (m *MemorySource) Record(r Reading) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, r)
}

// Insert records r. It matches PostgresSource.Insert so ingestion can target
// either source.
func (m *MemorySource) Insert(ctx context.Context, r Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Record(r)
	return nil
}

func (m *MemorySource) Aggregate(ctx context.Context, actorID id.ActorID, kind Kind, window Window) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := Snapshot{ActorID: actorID, Kind: kind, Window: window, Amount: decimal.Zero, LoadedAt: time.Now()}
	for _, r := range m.readings {
		if r.ActorID != actorID || r.Kind != kind || !window.Contains(r.MeasuredAt) {
			continue
		}
		snap.Amount = snap.Amount.Add(r.Amount)
		snap.Samples++
		snap.Found = true
		if snap.Ref == "" {
			snap.Ref = r.Ref
		}
	}
	return snap, nil
}
