// Package actor holds the off-chain actor directory and lifetime statistics.
package actor

import (
	"github.com/shopspring/decimal"

	id "hycredit/pkg/domain"
)

// Profile is a directory entry. AuditorID names the auditor assigned to the
// actor's requests; auditors themselves have none.
type Profile struct {
	ID          id.ActorID `json:"id"`
	Role        id.Role    `json:"role"`
	DisplayName string     `json:"display_name"`
	AuditorID   id.ActorID `json:"auditor_id,omitempty"`
}

// Stats are lifetime totals per actor. They only ever grow.
type Stats struct {
	ActorID     id.ActorID      `json:"actor_id"`
	Generated   decimal.Decimal `json:"generated"`
	Transferred decimal.Decimal `json:"transferred"`
	Bought      decimal.Decimal `json:"bought"`
	Retired     decimal.Decimal `json:"retired"`
}

func NewStats(actorID id.ActorID) *Stats {
	return &Stats{
		ActorID:     actorID,
		Generated:   decimal.Zero,
		Transferred: decimal.Zero,
		Bought:      decimal.Zero,
		Retired:     decimal.Zero,
	}
}

// StatField names one counter in Stats.
type StatField string

const (
	StatGenerated   StatField = "generated"
	StatTransferred StatField = "transferred"
	StatBought      StatField = "bought"
	StatRetired     StatField = "retired"
)

// Delta increments one counter of one actor.
type Delta struct {
	ActorID id.ActorID
	Field   StatField
	Amount  decimal.Decimal
}

// Add applies d to s. Deltas for other actors are ignored.
func (s *Stats) Add(d Delta) {
	if d.ActorID != s.ActorID {
		return
	}
	switch d.Field {
	case StatGenerated:
		s.Generated = s.Generated.Add(d.Amount)
	case StatTransferred:
		s.Transferred = s.Transferred.Add(d.Amount)
	case StatBought:
		s.Bought = s.Bought.Add(d.Amount)
	case StatRetired:
		s.Retired = s.Retired.Add(d.Amount)
	}
}

// Field returns the named counter.
func (s *Stats) Field(f StatField) decimal.Decimal {
	switch f {
	case StatGenerated:
		return s.Generated
	case StatTransferred:
		return s.Transferred
	case StatBought:
		return s.Bought
	case StatRetired:
		return s.Retired
	}
	return decimal.Zero
}
