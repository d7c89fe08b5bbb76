package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(clock *fakeClock, opts ...Option) *Breaker {
	return New("ledger-chain", append([]Option{WithClock(clock.Now)}, opts...)...)
}

// =============================================================================
// Opening
// =============================================================================
// Only consecutive failures count; a success in between starts over.

func TestBreakerOpening(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	t.Run("starts closed with defaults", func(t *testing.T) {
		b := newTestBreaker(clock)
		assert.Equal(t, "ledger-chain", b.Name())
		assert.Equal(t, StateClosed, b.State())
		assert.Equal(t, "closed", b.State().String())
		assert.True(t, b.Allow())
	})

	t.Run("opens on the threshold failure only", func(t *testing.T) {
		b := newTestBreaker(clock, WithFailureThreshold(3))
		for i := 0; i < 2; i++ {
			fallback, change := b.RecordFailure()
			require.False(t, fallback)
			require.False(t, change.Opened)
		}
		fallback, change := b.RecordFailure()
		assert.True(t, fallback)
		assert.True(t, change.Opened)
		assert.Equal(t, "open", b.State().String())

		fallback, change = b.RecordFailure()
		assert.True(t, fallback)
		assert.False(t, change.Opened, "already open")
	})

	t.Run("success resets the failure streak", func(t *testing.T) {
		b := newTestBreaker(clock, WithFailureThreshold(2))
		b.RecordFailure()
		b.RecordSuccess()
		b.RecordFailure()
		assert.False(t, b.IsOpen())
		b.RecordFailure()
		assert.True(t, b.IsOpen())
	})

	t.Run("non-positive thresholds keep defaults", func(t *testing.T) {
		b := newTestBreaker(clock, WithFailureThreshold(0), WithSuccessThreshold(-1))
		for i := 0; i < 4; i++ {
			b.RecordFailure()
		}
		assert.False(t, b.IsOpen())
		b.RecordFailure()
		assert.True(t, b.IsOpen())
	})
}

// =============================================================================
// Probing and recovery
// =============================================================================
// An open breaker admits one trial call per cooldown and closes after enough
// consecutive trial successes.

func TestBreakerRecovery(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	t.Run("one trial call per cooldown window", func(t *testing.T) {
		b := newTestBreaker(clock, WithFailureThreshold(1), WithCooldown(time.Second))
		b.RecordFailure()
		assert.False(t, b.Allow(), "rejects during cooldown")

		clock.Advance(time.Second)
		assert.True(t, b.Allow())
		assert.False(t, b.Allow(), "second trial call waits for the next window")

		clock.Advance(time.Second)
		assert.True(t, b.Allow())
	})

	t.Run("closes after the success threshold", func(t *testing.T) {
		b := newTestBreaker(clock, WithFailureThreshold(1), WithSuccessThreshold(2))
		b.RecordFailure()

		primary, change := b.RecordSuccess()
		assert.False(t, primary)
		assert.False(t, change.Closed)

		primary, change = b.RecordSuccess()
		assert.True(t, primary)
		assert.True(t, change.Closed)
		assert.True(t, b.Allow())
	})

	t.Run("a failed trial call restarts the success count", func(t *testing.T) {
		b := newTestBreaker(clock, WithFailureThreshold(1), WithSuccessThreshold(2))
		b.RecordFailure()
		b.RecordSuccess()
		b.RecordFailure()
		b.RecordSuccess()
		assert.True(t, b.IsOpen())
		b.RecordSuccess()
		assert.False(t, b.IsOpen())
	})

	t.Run("reset closes immediately", func(t *testing.T) {
		b := newTestBreaker(clock, WithFailureThreshold(1))
		b.RecordFailure()
		b.Reset()
		assert.Equal(t, StateClosed, b.State())
		assert.True(t, b.Allow())
	})
}
