package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"HYCREDIT_ADDR", "KAFKA_BROKERS", "LEDGER_CONFIRMATION_DEADLINE", "VERIFICATION_TOLERANCE", "ADMIN_API_TOKEN", "WORKFLOW_COMMIT_LEASE", "WORKFLOW_RECOVERY_INTERVAL", "LEDGER_SETTLE_TIMEOUT"} {
		t.Setenv(key, "")
	}
	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Second, cfg.Ledger.ConfirmationDeadline)
	assert.Equal(t, 10*time.Minute, cfg.Ledger.SettleTimeout)
	assert.Zero(t, cfg.Ledger.CommitLease)
	assert.Equal(t, time.Minute, cfg.Ledger.RecoveryInterval)
	assert.True(t, cfg.VerificationTolerance.Equal(decimal.RequireFromString("0.05")))
	assert.Empty(t, cfg.AdminToken)
	assert.False(t, cfg.IsProduction())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HYCREDIT_ADDR", ":9090")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LEDGER_CONFIRMATION_DEADLINE", "2m")
	t.Setenv("LEDGER_SUBMIT_MAX_ATTEMPTS", "7")
	t.Setenv("VERIFICATION_TOLERANCE", "0.1")
	t.Setenv("ANOMALY_POLICY", "reject")
	t.Setenv("WORKFLOW_COMMIT_LEASE", "15m")

	cfg := FromEnv()

	assert.Equal(t, ":9090", cfg.Addr)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 2*time.Minute, cfg.Ledger.ConfirmationDeadline)
	assert.Equal(t, 7, cfg.Ledger.SubmitMaxAttempts)
	assert.True(t, cfg.VerificationTolerance.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, "reject", cfg.AnomalyPolicy)
	assert.Equal(t, 15*time.Minute, cfg.Ledger.CommitLease)
}

func TestFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("LEDGER_POLL_INTERVAL", "soon")
	t.Setenv("REDIS_POOL_SIZE", "-3")
	t.Setenv("VERIFICATION_TOLERANCE", "-1")

	cfg := FromEnv()

	assert.Equal(t, 250*time.Millisecond, cfg.Ledger.PollInterval)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.True(t, cfg.VerificationTolerance.Equal(decimal.RequireFromString("0.05")))
}
