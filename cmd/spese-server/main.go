package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"spesesync/internal/amqp"
	"spesesync/internal/cli"
	apphttp "spesesync/internal/http"
	"spesesync/internal/hub"
	applog "spesesync/internal/log"
	"spesesync/internal/middleware/ratelimit"
	"spesesync/internal/services"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("SPESE_CONFIG"), "TOML configuration file")
	flag.Parse()

	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger, *configPath)
	logger = cli.SetupLogger(cfg.LogLevel, applog.ComponentApp)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	metrics := apphttp.NewMetrics(prometheus.DefaultRegisterer)
	h := hub.New(hub.WithDropHook(func(principal string) {
		metrics.BroadcastDrops.Inc()
		logger.Warn("Dropped lagging session", applog.FieldPrincipal, principal)
	}))

	opts := []services.ServiceOption{services.WithWindow(cfg.Window())}
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		opts = append(opts, services.WithPublisher(amqpClient))
		logger.Info("Publishing ledger events", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("Ledger events disabled - no AMQP_URL provided")
	}
	ledger := services.NewLedgerService(repo, h, opts...)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Config{
		Ledger: ledger,
		Hub:    h,
		Limiter: ratelimit.NewLimiter(ratelimit.Config{
			PerSecond:       cfg.SessionRateLimit,
			Burst:           cfg.SessionBurst,
			CleanupInterval: ratelimit.DefaultConfig().CleanupInterval,
			IdleTimeout:     ratelimit.DefaultConfig().IdleTimeout,
		}),
		TrustedProxies: cfg.TrustedProxies,
		Metrics:        metrics,
		Gatherer:       prometheus.DefaultGatherer,
		Logger:         logger,
	})

	ctx, stop := cli.ShutdownContext(context.Background(), logger)
	defer stop()

	// The hub outlives the listener so that closing sessions can unsubscribe.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.Run(hubCtx)
		return nil
	})
	g.Go(func() error {
		logger.Info("Starting spese server", "port", cfg.Port, applog.FieldOperation, applog.OpStartup)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		defer stopHub()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
