package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/screwyprof/restaker/migrator"
	"github.com/screwyprof/restaker/migrator/config"
	"github.com/screwyprof/restaker/pkg/logger"
	"github.com/screwyprof/restaker/pkg/pgxdb"
)

// These values are overridden at build time using -ldflags
var (
	version = "dev"
	date    = "unknown"
)

func main() {
	// Load configuration from environment
	cfg := config.New()

	// Initialize logger and set as default
	log := logger.NewFromConfig(logger.Config{
		LogLevel:         cfg.LogLevel,
		LogHumanFriendly: cfg.LogHumanFriendly,
	})
	slog.SetDefault(log)

	log.Info("Starting database migrator service",
		slog.String("migrationsDir", cfg.MigrationsDir),
		slog.Bool("dryRun", cfg.DryRun),
		slog.String("version", version),
		slog.String("date", date),
	)

	os.Exit(run(cfg, log))
}

// run returns the exit code so that its deferred cleanup completes first
func run(cfg config.Config, log *slog.Logger) int {
	// Create a context that cancels on SIGINT/SIGTERM _or_ when the timeout elapses
	baseCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(baseCtx, cfg.OperationTimeout)
	defer cancel()

	// Connect to database
	db, err := pgxdb.NewConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("Failed to connect to database", slog.Any("error", err))
		return 1
	}
	defer db.Close()

	if cfg.DryRun {
		pending, err := migrator.PendingMigrations(db, cfg.MigrationsDir)
		if err != nil {
			log.Error("Failed to plan migrations", slog.Any("error", err))
			return 1
		}
		log.Info("Pending migrations", slog.Int("count", len(pending)), slog.Any("migrations", pending))
		return 0
	}

	// Apply migrations
	log.Info("Applying database migrations")
	applied, err := migrator.ApplyMigrations(db, cfg.MigrationsDir)
	if err != nil {
		log.Error("Failed to apply migrations", slog.Any("error", err))
		return 1
	}

	log.Info("Database migrator completed successfully", slog.Int("applied", applied))
	return 0
}
