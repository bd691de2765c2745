package main

import (
	"context"
	"errors"
	"flag"
	"os"

	"golang.org/x/sync/errgroup"

	"spesesync/internal/amqp"
	"spesesync/internal/cli"
	"spesesync/internal/config"
	"spesesync/internal/export"
	"spesesync/internal/export/google"
	"spesesync/internal/export/memory"
	applog "spesesync/internal/log"
	"spesesync/internal/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("SPESE_CONFIG"), "TOML configuration file")
	flag.Parse()

	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger, *configPath)
	logger = cli.SetupLogger(cfg.LogLevel, applog.ComponentWorker)
	logger.Info("Starting spese-worker", applog.FieldOperation, applog.OpStartup)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by the worker")
		os.Exit(1)
	}

	ctx, stop := cli.ShutdownContext(context.Background(), logger)
	defer stop()

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize exporter", applog.FieldError, err, "backend", cfg.ExportBackend)
		os.Exit(1)
	}
	logger.Info("Initialized exporter", "backend", cfg.ExportBackend)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	exportWorker := worker.NewExportWorker(exporter)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := amqpClient.ConsumeLedgerEvents(gctx, exportWorker.HandleEvent)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("Message consumption failed", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}

func newExporter(ctx context.Context, cfg *config.Config) (export.Exporter, error) {
	switch cfg.ExportBackend {
	case "sheets":
		return google.New(ctx, google.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
			Currency:        cfg.Currency,
		})
	default:
		return memory.New(), nil
	}
}
