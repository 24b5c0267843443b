// Package cli holds the startup steps shared by cmd/tavola and
// cmd/tavola-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tavola/internal/config"
	"tavola/internal/log"
	"tavola/internal/storage"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
)

// LoadEnvFile loads .env for local development. A missing file is fine.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger at LOG_LEVEL and installs it as the
// slog default.
func SetupLogger(level string) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(level)
	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration and exits on validation failure.
func LoadAndValidateConfig() *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		SetupLogger("info").Error("Configuration validation failed",
			log.FieldError, err.Error(), log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite opens the database, applying migrations, or exits.
func InitSQLite(logger *log.Logger, dbPath string) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository",
			log.FieldError, err.Error(), log.FieldErrorType, log.ErrorTypeDatabase, "path", dbPath)
		os.Exit(1)
	}
	return repo
}

// InitSentry enables error reporting when a DSN is configured. The returned
// func flushes pending events and is safe to call when Sentry is disabled.
func InitSentry(logger *log.Logger, cfg *config.Config, release string) func() {
	if cfg.SentryDSN == "" {
		logger.Info("Sentry disabled - no SENTRY_DSN provided")
		return func() {}
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		Release:     release,
	})
	if err != nil {
		logger.Error("Failed to initialize Sentry", log.FieldError, err.Error())
		return func() {}
	}
	logger.Info("Sentry initialized", "environment", cfg.SentryEnvironment)
	return func() { sentry.Flush(2 * time.Second) }
}

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM. cleanup
// runs first, bounded by timeout; done is closed once it has returned.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		cancel()

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
			return
		}
		logger.Info("Shutdown complete")
	}()

	return ctx, done
}

// WaitForShutdown blocks until shutdown has finished.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
