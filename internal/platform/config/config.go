package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Server captures process level configuration.
type Server struct {
	Addr        string
	Environment string
	LogLevel    string

	DatabaseURL            string
	MeasurementDatabaseURL string
	Redis                  RedisConfig
	Kafka                  KafkaConfig

	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	// AdminToken enables the admin routes when non-empty.
	AdminToken string

	VerificationTolerance decimal.Decimal
	AnomalyPolicy         string

	Ledger         LedgerConfig
	HolderCacheTTL time.Duration
}

// RedisConfig configures the shared Redis client used for locks, the holder
// cache and lifetime statistics.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the ledger event stream.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// LedgerConfig tunes the commit coordinator and the in-process chain.
type LedgerConfig struct {
	ConfirmationDeadline time.Duration
	PollInterval         time.Duration
	SubmitMaxAttempts    int
	BlockInterval        time.Duration
	SettleTimeout        time.Duration
	ReceiptRetention     time.Duration
	// CommitLease is zero unless set; wiring then derives it from the
	// confirmation deadline.
	CommitLease      time.Duration
	RecoveryInterval time.Duration
}

// IsProduction reports whether the process runs with production defaults.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:        envString("HYCREDIT_ADDR", ":8080"),
		Environment: envString("ENVIRONMENT", "development"),
		LogLevel:    envString("LOG_LEVEL", "info"),

		DatabaseURL:            os.Getenv("DATABASE_URL"),
		MeasurementDatabaseURL: os.Getenv("MEASUREMENT_DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   envString("LEDGER_EVENTS_TOPIC", "hycredit.ledger.events"),
		},

		JWTSigningKey: jwtSigningKey,
		JWTIssuer:     envString("JWT_ISSUER", "hycredit"),
		JWTAudience:   envString("JWT_AUDIENCE", "hycredit-api"),
		AdminToken:    os.Getenv("ADMIN_API_TOKEN"),

		VerificationTolerance: envDecimal("VERIFICATION_TOLERANCE", decimal.RequireFromString("0.05")),
		AnomalyPolicy:         envString("ANOMALY_POLICY", "escalate"),

		Ledger: LedgerConfig{
			ConfirmationDeadline: envDuration("LEDGER_CONFIRMATION_DEADLINE", 30*time.Second),
			PollInterval:         envDuration("LEDGER_POLL_INTERVAL", 250*time.Millisecond),
			SubmitMaxAttempts:    envInt("LEDGER_SUBMIT_MAX_ATTEMPTS", 4),
			BlockInterval:        envDuration("LEDGER_BLOCK_INTERVAL", time.Second),
			SettleTimeout:        envDuration("LEDGER_SETTLE_TIMEOUT", 10*time.Minute),
			ReceiptRetention:     envDuration("LEDGER_RECEIPT_RETENTION", 10*time.Minute),
			CommitLease:          envDuration("WORKFLOW_COMMIT_LEASE", 0),
			RecoveryInterval:     envDuration("WORKFLOW_RECOVERY_INTERVAL", time.Minute),
		},
		HolderCacheTTL: envDuration("HOLDER_CACHE_TTL", 30*time.Second),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}

func envDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if d, err := decimal.NewFromString(os.Getenv(key)); err == nil && !d.IsNegative() {
		return d
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
