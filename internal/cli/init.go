// Package cli provides common process bootstrap shared by cmd/spese,
// cmd/spese-server and cmd/spese-worker, and the client command tree.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"spesesync/internal/config"
	applog "spesesync/internal/log"
	"spesesync/internal/storage"
)

// NewLogger builds a component logger writing text records to w.
func NewLogger(w io.Writer, level, component string) *applog.Logger {
	lvl := applog.ParseLevel(level)
	return applog.New(applog.Config{
		Level:     lvl,
		Component: component,
		Handler:   slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}),
	})
}

// SetupLogger initializes structured logging on stdout at the given level
// and installs it as the default logger.
func SetupLogger(level, component string) *applog.Logger {
	logger := NewLogger(os.Stdout, level, component)
	applog.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration, layering the optional TOML file
// at path under the environment, and validates it.
// Returns the config or exits the process on failure.
func LoadAndValidateConfig(logger *applog.Logger, path string) *config.Config {
	cfg, err := config.LoadWithFile(path)
	if err != nil {
		logger.Error("Failed to load configuration", applog.FieldError, err, "path", path)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite initializes a SQLite repository with the given path.
// Returns the repository or exits the process on failure.
func InitSQLite(logger *applog.Logger, dbPath string) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", applog.FieldError, err, "path", dbPath)
		os.Exit(1)
	}
	return repo
}

// ShutdownContext returns a context cancelled on SIGINT or SIGTERM. The
// signal is logged once; a second signal falls through to the default
// handler.
func ShutdownContext(parent context.Context, logger *applog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String(), applog.FieldOperation, applog.OpShutdown)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
