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
	"github.com/psdigitalweb/wb-automation-sub001/internal/events"
	"github.com/psdigitalweb/wb-automation-sub001/internal/executor"
	"github.com/psdigitalweb/wb-automation-sub001/internal/jobs"
	"github.com/psdigitalweb/wb-automation-sub001/internal/pnl"
	"github.com/psdigitalweb/wb-automation-sub001/internal/runs"
	"github.com/psdigitalweb/wb-automation-sub001/internal/schedule"
	"github.com/psdigitalweb/wb-automation-sub001/internal/staging"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/config"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/db"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/logger"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/metrics"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/migrate"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/ops"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/pubsub"
	"github.com/psdigitalweb/wb-automation-sub001/pkg/queue"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "ingest-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "ingest-worker"

	logg = logger.New(logger.Options{
		ServiceName: "ingest-worker",
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
	registry := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	runService, err := runs.NewService(runs.ServiceParams{
		Logger: logg,
		Repo:   runs.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create run service", err)
		os.Exit(1)
	}

	builder, err := events.NewBuilder(events.BuilderParams{
		Logger:            logg,
		Conn:              dbClient.DB(),
		Repo:              events.NewRepository(dbClient.DB()),
		Lines:             staging.NewLineSource(dbClient.DB()),
		Skus:              staging.NewSkuResolver(dbClient.DB()),
		Metrics:           pipelineMetrics,
		Tolerance:         cfg.Builder.ReconcileTolerance,
		UnmappedSampleCap: cfg.Builder.UnmappedSampleCap,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create event builder", err)
		os.Exit(1)
	}

	aggregator, err := pnl.NewAggregator(pnl.AggregatorParams{
		Logger: logg,
		Conn:   dbClient.DB(),
		Repo:   pnl.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create pnl aggregator", err)
		os.Exit(1)
	}

	jobRegistry := executor.NewRegistry()
	if err := jobs.RegisterBuiltin(jobRegistry, jobs.Params{
		Logger:     logg,
		Builder:    builder,
		Aggregator: aggregator,
	}); err != nil {
		logg.Error(context.Background(), "failed to register jobs", err)
		os.Exit(1)
	}

	execService, err := executor.NewService(executor.ServiceParams{
		Logger:            logg,
		Runs:              runService,
		Registry:          jobRegistry,
		Metrics:           pipelineMetrics,
		HeartbeatInterval: cfg.Executor.HeartbeatInterval,
		SoftTimeLimit:     cfg.Executor.SoftTimeLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create executor", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"jobs":        jobRegistry.Keys(),
	})

	handler := func(ctx context.Context, envelope queue.RunEnvelope) error {
		return execService.Execute(ctx, envelope.RunID)
	}

	var consumer queue.Consumer
	if cfg.PubSub.Enabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.PubSub, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := psClient.Close(); err != nil {
				logg.Error(ctx, "error closing pubsub", err)
			}
		}()
		checks["pubsub"] = psClient

		consumer, err = queue.NewPubSubQueue(queue.PubSubQueueParams{
			Subscriber: psClient.RunSubscription(),
			Logger:     logg,
		})
		if err != nil {
			logg.Error(ctx, "failed to create run consumer", err)
			os.Exit(1)
		}
	} else {
		// Single-binary mode: an in-process queue fed by an embedded
		// dispatcher replaces the pubsub topology.
		memory, err := queue.NewMemoryQueue(queue.MemoryQueueParams{
			Logger:  logg,
			Workers: cfg.Executor.Concurrency,
		})
		if err != nil {
			logg.Error(ctx, "failed to create run queue", err)
			os.Exit(1)
		}
		defer memory.Close()
		consumer = memory

		dispatcher, err := embeddedDispatcher(cfg, logg, dbClient, runService, memory, pipelineMetrics)
		if err != nil {
			logg.Error(ctx, "failed to create embedded dispatcher", err)
			os.Exit(1)
		}
		go func() {
			if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "embedded dispatcher stopped unexpectedly", err)
			}
		}()
		logg.Info(ctx, "pubsub not configured, running embedded dispatcher with in-process queue")
	}

	opsServer := startOpsServer(ctx, logg, cfg.App.OpsPort, registry, checks)
	defer shutdownOpsServer(logg, opsServer)

	logg.Info(ctx, "starting ingest worker")
	if err := consumer.Run(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "ingest worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "ingest worker shutting down gracefully")
}

func embeddedDispatcher(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, runService runs.Service, enqueuer queue.Enqueuer, pipelineMetrics *metrics.PipelineMetrics) (*dispatch.Service, error) {
	evaluator := schedule.NewEvaluator()
	scheduleService, err := schedule.NewService(schedule.ServiceParams{
		Logger:    logg,
		Repo:      schedule.NewRepository(dbClient.DB()),
		Evaluator: evaluator,
	})
	if err != nil {
		return nil, err
	}
	return dispatch.NewService(dispatch.ServiceParams{
		Logger:        logg,
		Conn:          dbClient.DB(),
		Schedules:     scheduleService,
		Runs:          runService,
		Evaluator:     evaluator,
		Enqueuer:      enqueuer,
		Lock:          dispatch.NoopCycleLock{},
		Metrics:       pipelineMetrics,
		StuckTTL:      cfg.Dispatcher.StuckTTL,
		SweepInterval: cfg.Dispatcher.SweepInterval,
	})
}

func startOpsServer(ctx context.Context, logg *logger.Logger, port string, registry *prometheus.Registry, checks map[string]ops.Pinger) *http.Server {
	server := &http.Server{
		Addr: ":" + port,
		Handler: ops.NewHandler(ops.HandlerParams{
			ServiceName: "ingest-worker",
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
