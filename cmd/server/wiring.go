package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"

	"hycredit/internal/actor"
	actorstore "hycredit/internal/actor/store"
	"hycredit/internal/admin"
	jwttoken "hycredit/internal/jwt_token"
	"hycredit/internal/ledger/cache"
	"hycredit/internal/ledger/events"
	ledgerhandler "hycredit/internal/ledger/handler"
	ledgermetrics "hycredit/internal/ledger/metrics"
	ledgermodels "hycredit/internal/ledger/models"
	ledgerservice "hycredit/internal/ledger/service"
	ledgerstore "hycredit/internal/ledger/store"
	"hycredit/internal/ledgersync"
	"hycredit/internal/ledgersync/chain"
	"hycredit/internal/ledgersync/lock"
	syncmetrics "hycredit/internal/ledgersync/metrics"
	"hycredit/internal/measurement"
	"hycredit/internal/platform/config"
	"hycredit/internal/platform/metrics"
	"hycredit/internal/platform/postgres"
	platformredis "hycredit/internal/platform/redis"
	"hycredit/internal/verification"
	workflowhandler "hycredit/internal/workflow/handler"
	workflowmetrics "hycredit/internal/workflow/metrics"
	workflowmodels "hycredit/internal/workflow/models"
	workflowservice "hycredit/internal/workflow/service"
	workflowstore "hycredit/internal/workflow/store"
	id "hycredit/pkg/domain"
	"hycredit/pkg/platform/audit"
	auditpublisher "hycredit/pkg/platform/audit/publisher"
	"hycredit/pkg/platform/audit/publishers/compliance"
	auditmemory "hycredit/pkg/platform/audit/store/memory"
	auditpostgres "hycredit/pkg/platform/audit/store/postgres"
	"hycredit/pkg/platform/circuit"
	"hycredit/pkg/platform/httputil"
)

const auditBufferSize = 1024

// auditStore is the append side plus the queries the admin routes serve.
type auditStore interface {
	audit.Store
	ListByRequest(ctx context.Context, requestID string) ([]audit.Event, error)
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

// meteringStore serves verification reads and admin ingestion.
type meteringStore interface {
	measurement.Source
	Insert(ctx context.Context, r measurement.Reading) error
}

type statsStore interface {
	workflowservice.StatsStore
	workflowhandler.StatsReader
}

// app holds everything main starts and later stops.
type app struct {
	router      http.Handler
	workflow    *workflowservice.Service
	coordinator *ledgersync.Coordinator
	logger      *slog.Logger

	recoveryInterval time.Duration

	stopChain  context.CancelFunc
	auditPub   *auditpublisher.Publisher
	compliance *compliance.Publisher
	kafka      *kgo.Client
	redis      *platformredis.Client
	db         *sql.DB
	pool       *pgxpool.Pool
}

func buildApp(ctx context.Context, cfg config.Server, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.close(context.Background())
		}
	}()

	db, err := postgres.Open(ctx, postgres.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return nil, err
	}
	a.db = db
	if db != nil {
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, err
		}
		logger.Info("postgres persistence enabled")
	}

	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	a.redis = rc
	if rc != nil {
		logger.Info("redis enabled for locks, holder cache and stats")
	}

	// Audit
	var auditStorage auditStore = auditmemory.NewInMemoryStore()
	if db != nil {
		auditStorage = auditpostgres.New(db)
	}
	a.auditPub = auditpublisher.NewPublisher(auditStorage,
		auditpublisher.WithAsyncBuffer(auditBufferSize),
		auditpublisher.WithLogger(logger),
	)
	a.compliance = compliance.New(auditStorage,
		compliance.WithLogger(logger),
		compliance.WithMetrics(compliance.NewMetrics()),
	)

	// Ledger
	var creditStore ledgerservice.Store = ledgerstore.NewInMemoryStore()
	if db != nil {
		creditStore = ledgerstore.NewPostgres(db)
	}

	var ledger *ledgerservice.Service
	var holderBackend cache.Backend = cache.NewMemoryBackend()
	if rc != nil {
		holderBackend = cache.NewRedisBackend(rc.Client)
	}
	holders := cache.NewHolderView(holderBackend,
		cache.LoaderFunc(func(ctx context.Context, creditID id.CreditID) (*ledgermodels.CreditRecord, error) {
			return ledger.Get(ctx, creditID)
		}),
		cfg.HolderCacheTTL,
	)

	fanout := events.Fanout{holders, events.NewAuditTrail(a.compliance)}
	if len(cfg.Kafka.Brokers) > 0 {
		client, err := events.NewKafkaClient(cfg.Kafka.Brokers)
		if err != nil {
			return nil, err
		}
		a.kafka = client
		if err := events.EnsureTopic(ctx, client, cfg.Kafka.Topic, 3, 1); err != nil {
			return nil, err
		}
		fanout = append(fanout, events.NewKafkaPublisher(client, cfg.Kafka.Topic))
		logger.Info("streaming ledger events", "topic", cfg.Kafka.Topic)
	}

	ledger = ledgerservice.New(creditStore,
		ledgerservice.WithPublisher(fanout),
		ledgerservice.WithLogger(logger),
		ledgerservice.WithMetrics(ledgermetrics.New()),
	)

	// Ledger sync
	local := chain.NewLocal(ledger,
		chain.WithBlockInterval(cfg.Ledger.BlockInterval),
		chain.WithReceiptRetention(cfg.Ledger.ReceiptRetention),
		chain.WithLogger(logger),
	)
	chainCtx, stopChain := context.WithCancel(context.Background())
	a.stopChain = stopChain
	go local.Run(chainCtx)

	var locker lock.Locker = lock.NewMemoryLocker()
	var registry lock.Registry = lock.NewMemoryRegistry()
	if rc != nil {
		locker = lock.NewRedisLocker(rc.Client, lock.WithLogger(logger))
		registry = lock.NewRedisRegistry(rc.Client, 0)
	}

	syncCfg := ledgersync.DefaultConfig()
	syncCfg.ConfirmationDeadline = cfg.Ledger.ConfirmationDeadline
	syncCfg.PollInterval = cfg.Ledger.PollInterval
	syncCfg.SubmitMaxAttempts = cfg.Ledger.SubmitMaxAttempts
	syncCfg.SettleTimeout = cfg.Ledger.SettleTimeout
	a.coordinator, err = ledgersync.New(local, locker,
		ledgersync.WithConfig(syncCfg),
		ledgersync.WithRegistry(registry),
		ledgersync.WithLogger(logger),
		ledgersync.WithMetrics(syncmetrics.New()),
		ledgersync.WithBreaker(circuit.New("ledger-chain")),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger sync: %w", err)
	}

	// Verification
	var metering meteringStore = measurement.NewMemorySource()
	if cfg.MeasurementDatabaseURL != "" {
		pool, err := measurement.NewPool(ctx, cfg.MeasurementDatabaseURL)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		metering = measurement.NewPostgresSource(pool)
	}
	verifier := verification.NewService(
		[]verification.NamedSource{{Name: "metering", Source: metering}},
		verification.WithPolicy(verification.Policy{Tolerance: cfg.VerificationTolerance}),
		verification.WithLogger(logger),
		verification.WithMetrics(verification.NewMetrics()),
	)

	// Workflow
	directory := actor.NewMemoryDirectory()
	var stats statsStore = actorstore.NewInMemoryStatsStore()
	if rc != nil {
		stats = actorstore.NewRedisStatsStore(rc.Client)
	}
	var requests workflowservice.Store = workflowstore.NewInMemoryStore()
	if db != nil {
		requests = workflowstore.NewPostgres(db)
	}
	lease := cfg.Ledger.CommitLease
	if lease == 0 {
		lease = 2 * (syncCfg.LockTimeout + syncCfg.ConfirmationDeadline)
	}
	a.recoveryInterval = cfg.Ledger.RecoveryInterval
	a.workflow, err = workflowservice.New(workflowservice.Deps{
		Store:       requests,
		Verifier:    verifier,
		Holders:     holders,
		Ledger:      ledger,
		Directory:   directory,
		Coordinator: a.coordinator,
		Stats:       stats,
	},
		workflowservice.WithLogger(logger),
		workflowservice.WithMetrics(workflowmetrics.New()),
		workflowservice.WithAuditPublisher(a.auditPub),
		workflowservice.WithCompliancePublisher(a.compliance),
		workflowservice.WithAnomalyPolicy(workflowmodels.AnomalyPolicy(cfg.AnomalyPolicy)),
		workflowservice.WithCommitLease(lease),
	)
	if err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}

	// HTTP
	tokens := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	validator := jwttoken.NewJWTServiceAdapter(tokens)
	httpMetrics := metrics.New()

	r := chi.NewRouter()
	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	workflowhandler.New(a.workflow, stats, logger, httpMetrics, validator).Register(r)
	ledgerhandler.New(ledger, logger, httpMetrics, validator).Register(r)
	if cfg.AdminToken != "" {
		admin.New(cfg.AdminToken, directory, tokens, metering, auditStorage, logger).Register(r)
	} else {
		logger.Warn("ADMIN_API_TOKEN not set, admin routes disabled")
	}
	a.router = r

	ok = true
	return a, nil
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			status["postgres"] = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}
	if a.redis != nil {
		if err := a.redis.Health(ctx); err != nil {
			status["redis"] = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}
	if code != http.StatusOK {
		status["status"] = "degraded"
	}
	httputil.WriteJSON(w, code, status)
}

// close stops components in dependency order: in-flight commits drain
// before the chain stops, and audit buffers flush before storage closes.
func (a *app) close(ctx context.Context) {
	if a.workflow != nil {
		if err := a.workflow.Close(ctx); err != nil {
			a.logger.Error("workflow drain incomplete", "error", err)
		}
	}
	if a.coordinator != nil {
		if err := a.coordinator.Close(ctx); err != nil {
			a.logger.Error("ledger sync drain incomplete", "error", err)
		}
	}
	if a.stopChain != nil {
		a.stopChain()
	}
	if a.auditPub != nil {
		if err := a.auditPub.Close(); err != nil {
			a.logger.Error("audit publisher close failed", "error", err)
		}
	}
	if a.compliance != nil {
		_ = a.compliance.Close()
	}
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
