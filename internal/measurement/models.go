// Package measurement provides metered hydrogen aggregates per actor and
// window. Raw IoT ingestion happens upstream; this package only reads sums.
package measurement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	id "hycredit/pkg/domain"
)

// Kind is the metering channel relevant to a claim.
type Kind string

const (
	KindProduction  Kind = "production"
	KindDelivery    Kind = "delivery"
	KindConsumption Kind = "consumption"
)

// Window is a half-open measurement interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) IsZero() bool {
	return w.Start.IsZero() || w.End.IsZero()
}

func (w Window) Valid() bool {
	return !w.IsZero() && w.End.After(w.Start)
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Snapshot is the aggregate seen by the oracle. Found is false when no
// reading falls into the window.
type Snapshot struct {
	ActorID  id.ActorID      `json:"actor_id"`
	Kind     Kind            `json:"kind"`
	Window   Window          `json:"window"`
	Amount   decimal.Decimal `json:"amount"`
	Samples  int             `json:"samples"`
	Found    bool            `json:"found"`
	Ref      string          `json:"ref,omitempty"`
	LoadedAt time.Time       `json:"loaded_at"`
}

// Merge sums two snapshots of the same actor, kind and window.
func (s Snapshot) Merge(other Snapshot) Snapshot {
	out := s
	out.Amount = s.Amount.Add(other.Amount)
	out.Samples = s.Samples + other.Samples
	out.Found = s.Found || other.Found
	if out.Ref == "" {
		out.Ref = other.Ref
	}
	return out
}

// Reading is one metered quantity.
type Reading struct {
	ActorID    id.ActorID
	Kind       Kind
	Amount     decimal.Decimal
	MeasuredAt time.Time
	Ref        string
}

// Source returns the aggregate for one actor, kind and window.
type Source interface {
	Aggregate(ctx context.Context, actorID id.ActorID, kind Kind, window Window) (Snapshot, error)
}
