package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/screwyprof/restaker/migrator"
	"github.com/screwyprof/restaker/pkg/logger"
	"github.com/screwyprof/restaker/pkg/metrics"
	"github.com/screwyprof/restaker/pkg/pgxdb"
	"github.com/screwyprof/restaker/pkg/rewardsapi"
	"github.com/screwyprof/restaker/pkg/subgraph"
	"github.com/screwyprof/restaker/populator"
	"github.com/screwyprof/restaker/populator/config"
	"github.com/screwyprof/restaker/populator/ops"
	"github.com/screwyprof/restaker/populator/store/pgxstore"
)

// These values are overridden at build time using -ldflags
var (
	version = "dev"
	date    = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// A missing .env file is fine: the environment may be set by the host
	_ = godotenv.Load()

	// Load configuration
	cfg := config.New()

	// Initialize logger and set as default
	log := logger.NewFromConfig(logger.Config{
		LogLevel:         cfg.LogLevel,
		LogHumanFriendly: cfg.LogHumanFriendly,
	})
	slog.SetDefault(log)

	log.Info("Restaking data populator starting",
		slog.String("version", version),
		slog.String("date", date),
		slog.Bool("mockMode", cfg.MockMode),
		slog.String("schedule", cfg.Schedule),
	)

	// os.Exit skips deferred calls, so the signal handler is released here
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, log)
	stop()

	os.Exit(code)
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) int {
	// Database connection
	db, err := pgxdb.NewConnection(ctx, cfg.DatabaseURL, pgxdb.WithApplicationName("restaker-populator"))
	if err != nil {
		log.ErrorContext(ctx, "Failed to connect to database", slog.Any("error", err))
		return 1
	}

	// Apply migrations
	applied, err := migrator.ApplyMigrations(db, cfg.MigrationsDir)
	if err != nil {
		log.ErrorContext(ctx, "Failed to apply migrations", slog.Any("error", err))
		db.Close()
		return 1
	}
	log.InfoContext(ctx, "Database migrations applied", slog.Int("applied", applied))

	// Initialize store
	store, storeCloser := pgxstore.New(db)
	defer storeCloser()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Upstream clients
	httpClient := &http.Client{Timeout: cfg.HttpClientTimeout}
	indexer := subgraph.NewClient(httpClient, cfg.SubgraphURL,
		subgraph.WithRetry(cfg.MaxRetries, cfg.RetryDelay()),
		subgraph.WithLogger(logger.ForComponent(log, "subgraph")),
		subgraph.WithMetrics(m),
	)
	rewards := rewardsapi.NewClient(httpClient, cfg.RewardsAPIURL, cfg.RewardsAPIKey,
		rewardsapi.WithPathPrefix(cfg.RewardsPathPrefix),
		rewardsapi.WithTimeout(cfg.RewardsTimeout),
		rewardsapi.WithRateLimit(cfg.RewardsRPS, 1),
		rewardsapi.WithLogger(logger.ForComponent(log, "rewardsapi")),
		rewardsapi.WithMetrics(m),
	)

	// Create populator service
	service := populator.NewService(indexer, rewards, store,
		populator.WithLogger(logger.ForComponent(log, "populator")),
		populator.WithMetrics(m),
		populator.WithPageSize(cfg.PageSize),
		populator.WithMaxPages(cfg.MaxPages),
		populator.WithMockMode(cfg.MockMode),
		populator.WithPlaceholderSeed(cfg.MockSeed),
		populator.WithStETHStrategy(cfg.StETHStrategyAddress),
	)

	if cfg.OpsAddr != "" {
		shutdown := startOpsServer(ctx, cfg.OpsAddr, store, log)
		defer shutdown()
	}

	if cfg.Schedule == "" {
		return exitCode(runOnce(ctx, service, log))
	}
	if err := runScheduled(ctx, cfg.Schedule, service, log); err != nil {
		log.ErrorContext(ctx, "Invalid schedule", slog.String("schedule", cfg.Schedule), slog.Any("error", err))
		return 1
	}
	return 0
}

// runOnce executes one population run and returns its final state
func runOnce(ctx context.Context, service *populator.Service, log *slog.Logger) populator.State {
	events, done := service.Start(ctx)

	final := populator.StateFailed
	subCloser := setupEventLogging(ctx, events, log, &final)
	<-done
	subCloser()

	return final
}

// runScheduled runs the populator on a cron schedule until ctx is cancelled.
// A tick is skipped while the previous run is still in progress.
func runScheduled(ctx context.Context, spec string, service *populator.Service, log *slog.Logger) error {
	cronLog := cron.PrintfLogger(slog.NewLogLogger(logger.ForComponent(log, "cron").Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	if _, err := c.AddFunc(spec, func() { runOnce(ctx, service, log) }); err != nil {
		return err
	}

	log.InfoContext(ctx, "Scheduler started", slog.String("schedule", spec))
	c.Start()

	<-ctx.Done()

	log.InfoContext(ctx, "Waiting for the current run to finish")
	<-c.Stop().Done()
	log.InfoContext(ctx, "Scheduler stopped gracefully")
	return nil
}

// startOpsServer serves health, status and metrics endpoints. The returned
// function shuts the server down.
func startOpsServer(ctx context.Context, addr string, store *pgxstore.Store, log *slog.Logger) func() {
	mux := http.NewServeMux()
	ops.NewHandler(store, store, prometheus.DefaultGatherer).AddRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           logger.NewMiddleware(log, logger.WithQuietPaths("/healthz", "/metrics"))(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.InfoContext(ctx, "Ops server started", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorContext(ctx, "Ops server failed", slog.Any("error", err))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.ErrorContext(ctx, "Ops server forced to shutdown", slog.Any("error", err))
		}
	}
}

// exitCode maps the final state of a run to a process exit code. An
// interrupted run is a clean shutdown.
func exitCode(state populator.State) int {
	if state == populator.StateFailed {
		return 1
	}
	return 0
}

// setupEventLogging configures event handlers using slog directly and records
// the final state of the run into final
func setupEventLogging(ctx context.Context, events <-chan populator.Event, log *slog.Logger, final *populator.State) func() {
	return populator.NewSubscriber(events,
		populator.OnRunStarted(func(event populator.RunStarted) {
			log.InfoContext(ctx, "Population run started",
				slog.String("run_id", event.RunID),
				slog.String("startedAt", event.StartedAt.Format(logger.BritishTimeFormat)),
			)
		}),
		populator.OnStageStarted(func(event populator.StageStarted) {
			log.InfoContext(ctx, "Stage started",
				slog.String("run_id", event.RunID),
				slog.String("stage", string(event.Stage)),
			)
		}),
		populator.OnStageCompleted(func(event populator.StageCompleted) {
			log.InfoContext(ctx, "Stage completed",
				slog.String("run_id", event.RunID),
				slog.String("stage", string(event.Stage)),
				slog.Int("written", event.Written),
				slog.Int("skipped", event.Skipped),
				slog.Duration("duration", event.Duration),
			)
		}),
		populator.OnRecordSkipped(func(event populator.RecordSkipped) {
			log.DebugContext(ctx, "Record skipped",
				slog.String("run_id", event.RunID),
				slog.String("family", string(event.Family)),
				slog.String("record", event.RecordID),
				slog.Any("error", event.Err),
			)
		}),
		populator.OnRunCompleted(func(event populator.RunCompleted) {
			*final = populator.StateDone
			log.InfoContext(ctx, "Population run completed",
				slog.String("run_id", event.RunID),
				slog.Int("delegations", event.Summary.Stats.Delegations),
				slog.Int("operators", event.Summary.Stats.Operators),
				slog.Int("rewards", event.Summary.Stats.Rewards),
				slog.String("tvl", event.Summary.Stats.TotalValueLocked.String()),
				slog.Int("placeholderWallets", event.Summary.PlaceholderWallets),
				slog.Duration("duration", event.Summary.Duration),
			)
		}),
		populator.OnRunFailed(func(event populator.RunFailed) {
			*final = populator.StateFailed
			log.ErrorContext(ctx, "Population run failed",
				slog.String("run_id", event.RunID),
				slog.String("stage", string(event.Stage)),
				slog.Any("error", event.Err),
			)
		}),
		populator.OnRunInterrupted(func(event populator.RunInterrupted) {
			*final = populator.StateInterrupted
			log.WarnContext(ctx, "Population run interrupted",
				slog.String("run_id", event.RunID),
				slog.String("stage", string(event.Stage)),
			)
		}),
	)
}
