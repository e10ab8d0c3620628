package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/psdigitalweb/wb-automation-sub001/internal/dispatch"
	"github.com/psdigitalweb/wb-automation-sub001/internal/runs"
	"github.com/psdigitalweb/wb-automation-sub001/internal/schedule"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/config"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/db"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/logger"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/metrics"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/migrate"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/ops"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/pubsub"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/queue"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "dispatcher"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "dispatcher"

	logg = logger.New(logger.Options{
		ServiceName: "dispatcher",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	checks := map[string]ops.Pinger{"db": dbClient}

	var cycleLock dispatch.CycleLock = dispatch.NoopCycleLock{}
	if cfg.Redis.URL != "" || cfg.Redis.Address != "" {
		redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		checks["redis"] = redisClient

		cycleLock, err = dispatch.NewRedisCycleLock(
			redisClient, redisClient.LockKey("dispatch-sweep"), cfg.Dispatcher.CycleLockTTL)
		if err != nil {
			logg.Error(context.Background(), "failed to create sweep lock", err)
			os.Exit(1)
		}
	}

	// The standalone dispatcher only makes sense with a broker between it
	// and the workers; single-process deployments run ingest-worker, which
	// embeds a dispatcher over an in-process queue.
	if !cfg.PubSub.Enabled() {
		logg.Error(context.Background(), "pubsub is not configured",
			errors.New("set WBAUTO_GCP_PROJECT_ID and WBAUTO_PUBSUB_RUN_TOPIC, or run ingest-worker in single-binary mode"))
		os.Exit(1)
	}

	psClient, err := pubsub.NewClient(context.Background(), cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := psClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()
	checks["pubsub"] = psClient

	var enqueuer queue.Enqueuer
	enqueuer, err = queue.NewPubSubQueue(queue.PubSubQueueParams{
		Publisher: psClient.RunPublisher(),
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create run queue", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	evaluator := schedule.NewEvaluator()
	scheduleService, err := schedule.NewService(schedule.ServiceParams{
		Logger:    logg,
		Repo:      schedule.NewRepository(dbClient.DB()),
		Evaluator: evaluator,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create schedule service", err)
		os.Exit(1)
	}

	runService, err := runs.NewService(runs.ServiceParams{
		Logger: logg,
		Repo:   runs.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create run service", err)
		os.Exit(1)
	}

	dispatcher, err := dispatch.NewService(dispatch.ServiceParams{
		Logger:        logg,
		Conn:          dbClient.DB(),
		Schedules:     scheduleService,
		Runs:          runService,
		Evaluator:     evaluator,
		Enqueuer:      enqueuer,
		Lock:          cycleLock,
		Metrics:       pipelineMetrics,
		StuckTTL:      cfg.Dispatcher.StuckTTL,
		SweepInterval: cfg.Dispatcher.SweepInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create dispatcher", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	opsServer := startOpsServer(ctx, logg, cfg.App.OpsPort, registry, checks)
	defer shutdownOpsServer(logg, opsServer)

	logg.Info(ctx, "starting dispatcher")
	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "dispatcher stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "dispatcher shutting down gracefully")
}

func startOpsServer(ctx context.Context, logg *logger.Logger, port string, registry *prometheus.Registry, checks map[string]ops.Pinger) *http.Server {
	server := &http.Server{
		Addr: ":" + port,
		Handler: ops.NewHandler(ops.HandlerParams{
			ServiceName: "dispatcher",
			Logger:      logg,
			Registry:    registry,
			Checks:      checks,
		}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "ops server stopped unexpectedly", err)
		}
	}()
	return server
}

func shutdownOpsServer(logg *logger.Logger, server *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "error shutting down ops server", err)
	}
}
