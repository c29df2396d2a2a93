// Command worker runs the background job-processing daemon: it connects to
// the database, applies migrations, registers job handlers, and starts the
// worker pool. It drains gracefully on SIGINT/SIGTERM; a second signal
// cancels in-flight jobs immediately.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql

	"github.com/praxisworks/jobq/internal/config"
	"github.com/praxisworks/jobq/internal/job"
	"github.com/praxisworks/jobq/internal/platform/logger"
	"github.com/praxisworks/jobq/internal/platform/postgres"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker daemon exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.Setup(cfg.Logger.Level)

	db, err := openDatabase(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("failed to close database connection", "error", closeErr)
		}
	}()

	if err := postgres.Migrate(db); err != nil {
		return err
	}
	log.Info("database migrations applied")

	queue := job.NewQueue(postgres.NewJobStore(db), job.QueueConfig{
		DefaultMaxAttempts: cfg.Worker.DefaultMaxAttempts,
		Backoff: job.Backoff{
			Base: cfg.Worker.BackoffBase,
			Cap:  cfg.Worker.BackoffCap,
			// One base step of jitter spreads synchronized retries.
			Jitter: cfg.Worker.BackoffBase,
		},
	}, log)

	registry := job.NewRegistry()
	if err := registerHandlers(registry, log); err != nil {
		return fmt.Errorf("failed to register job handlers: %w", err)
	}

	pool, err := job.NewPool(queue, registry, job.PoolConfig{
		WorkerCount:     cfg.Worker.Count,
		PollInterval:    cfg.Worker.PollInterval,
		HandlerTimeout:  cfg.Worker.HandlerTimeout,
		StaleAfter:      cfg.Worker.StaleAfter,
		ReapInterval:    cfg.Worker.ReapInterval,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
	}, log)
	if err != nil {
		return err
	}

	if err := pool.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	sig := <-sigCh
	log.Info("shutdown signal received, draining", "signal", sig.String())

	// A second signal skips the drain and cancels in-flight jobs.
	go func() {
		sig := <-sigCh
		log.Warn("second signal received, aborting in-flight jobs", "signal", sig.String())
		pool.Stop(false)
	}()

	pool.Stop(true)
	return nil
}

// openDatabase connects to PostgreSQL and verifies the connection.
func openDatabase(url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// registerHandlers binds job kinds to their handlers. Collaborator subsystems
// (notification dispatch, search reindexing, file post-processing) add their
// kinds here at startup; "echo" ships as a wiring smoke test.
func registerHandlers(r *job.Registry, log *slog.Logger) error {
	return r.Register("echo", func(ctx context.Context, payload []byte) error {
		log.Info("echo job executed", "payload", string(payload))
		return nil
	})
}
