package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/animus-labs/animus-orchestrator/internal/delegate"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/audit"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/engine"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/executor"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/metrics"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/registry"
	"github.com/animus-labs/animus-orchestrator/internal/orchestration/waitnotify"
	"github.com/animus-labs/animus-orchestrator/internal/outcome"
	"github.com/animus-labs/animus-orchestrator/internal/platform/auditlog"
	"github.com/animus-labs/animus-orchestrator/internal/platform/auth"
	"github.com/animus-labs/animus-orchestrator/internal/platform/env"
	"github.com/animus-labs/animus-orchestrator/internal/platform/httpserver"
	"github.com/animus-labs/animus-orchestrator/internal/platform/objectstore"
	platformotel "github.com/animus-labs/animus-orchestrator/internal/platform/otel"
	"github.com/animus-labs/animus-orchestrator/internal/platform/postgres"
	"github.com/animus-labs/animus-orchestrator/internal/repo"
	"github.com/animus-labs/animus-orchestrator/internal/repo/memory"
	repopg "github.com/animus-labs/animus-orchestrator/internal/repo/postgres"
	"github.com/animus-labs/animus-orchestrator/internal/steps"
)

const serviceName = "orchestrator"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := env.Parse[serviceConfig]()
	if err == nil {
		err = cfg.validate()
	}
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	httpCfg, err := httpserver.ConfigFromEnv(serviceName)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	otelCfg, err := platformotel.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid otel config", "error", err)
		os.Exit(2)
	}
	shutdownTracing, err := platformotel.Setup(ctx, serviceName, otelCfg)
	if err != nil {
		logger.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	var (
		db     *sql.DB
		nodes  repo.NodeExecutionRepository
		plans  repo.PlanExecutionRepository
		waits  repo.WaitInstanceRepository
		checks []httpserver.ReadinessCheck
	)
	if cfg.usePostgres() {
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(2)
		}
		db, err = postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if err := repopg.Migrate(ctx, db); err != nil {
			logger.Error("database migration failed", "error", err)
			os.Exit(1)
		}
		nodes = repopg.NewNodeExecutionStore(db)
		plans = repopg.NewPlanExecutionStore(db)
		waits = repopg.NewWaitInstanceStore(db)
		checks = append(checks, httpserver.ReadinessCheck{
			Name:    "postgres",
			Check:   db.PingContext,
			Timeout: 750 * time.Millisecond,
		})
	} else {
		logger.Warn("using in-memory execution store; state is lost on restart")
		nodes = memory.NewNodeExecutionStore()
		plans = memory.NewPlanExecutionStore()
		waits = memory.NewWaitInstanceStore()
	}

	var outcomeObjects outcome.Objects
	if cfg.useMinio() {
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		store, err := objectstore.New(storeCfg)
		if err != nil {
			logger.Error("object store client init failed", "error", err)
			os.Exit(2)
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := store.Ensure(startupCtx); err != nil {
			cancel()
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		cancel()
		minioObjects, err := outcome.NewMinioObjects(store.Client, store.Bucket())
		if err != nil {
			logger.Error("outcome store init failed", "error", err)
			os.Exit(2)
		}
		outcomeObjects = minioObjects
		checks = append(checks, httpserver.ReadinessCheck{Name: "minio", Check: store.Check, Timeout: 750 * time.Millisecond})
	} else {
		outcomeObjects = outcome.NewMemoryObjects()
	}

	regs, err := steps.Register(registry.NewBuilder().WithDefaults()).Build()
	if err != nil {
		logger.Error("registry init failed", "error", err)
		os.Exit(2)
	}

	pool := executor.New(logger, cfg.Workers)
	notifier := waitnotify.New(logger, waits)

	recorder := metrics.New()
	recorder.RegisterPool(pool)
	observers := engine.Observers{recorder}
	if db != nil {
		trail := audit.NewTrail(logger, auditlog.NewWriter(db, serviceName), cfg.AuditBuffer)
		go trail.Run(ctx)
		observers = append(observers, trail)
	}

	engineCfg := engine.Config{
		Logger:         logger,
		Registries:     regs,
		NodeExecutions: nodes,
		PlanExecutions: plans,
		Notifier:       notifier,
		Scheduler:      pool,
		Outcomes:       outcome.NewStore(outcomeObjects),
		Observer:       observers,
		Tracer:         platformotel.Tracer(),
	}
	delegateCfg, err := delegate.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid delegate config", "error", err)
		os.Exit(2)
	}
	if delegateCfg.Enabled() {
		client, err := delegate.New(ctx, delegateCfg)
		if err != nil {
			logger.Error("delegate init failed", "error", err)
			os.Exit(2)
		}
		engineCfg.Delegate = client
	} else {
		logger.Warn("no task delegate configured; task steps will fail")
	}

	eng, err := engine.New(engineCfg)
	if err != nil {
		logger.Error("engine init failed", "error", err)
		os.Exit(2)
	}
	notifier.Bind(eng)

	expirer := waitnotify.NewExpirer(notifier, cfg.ExpireInterval, cfg.ExpireBatch)
	go func() {
		if err := expirer.Run(ctx); err != nil {
			logger.Error("wait expirer stopped", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	checks = append(checks, httpserver.ReadinessCheck{Name: "drain", Check: httpCfg.Drain.Check})
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(serviceName, checks...))
	mux.Handle("/metrics", recorder.Handler())

	api := newOrchestratorAPI(logger, eng, notifier, regs, plans, nodes, cfg.PlanMaxBytes)
	api.register(mux)

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	authenticator, err := auth.New(ctx, authCfg)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(2)
	}

	var handler http.Handler = mux
	if authenticator != nil {
		middleware := auth.Middleware{
			Logger:        logger,
			Authenticator: authenticator,
			Authorize:     auth.PermissionAuthorizer(),
			SkipPrefixes:  []string{"/healthz", "/readyz", "/metrics"},
		}
		if db != nil {
			middleware.Audit = auditlog.NewWriter(db, serviceName).AuthDeny()
		}
		handler = middleware.Wrap(mux)
	} else {
		logger.Warn("authentication disabled")
	}

	if err := httpserver.Run(ctx, logger, httpCfg, httpserver.Wrap(logger, serviceName, handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer cancel()
	if err := pool.Close(drainCtx); err != nil {
		logger.Warn("executor drain incomplete", "error", err)
	}
}
