// The operator service consumes the anomalies topic and serves the
// dashboard: REST summaries, archived history, and a live WebSocket
// feed. Redis and Postgres are optional; without them the service runs
// on in-memory aggregates alone.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fleetgrid/backend/internal/bus"
	"github.com/fleetgrid/backend/internal/config"
	"github.com/fleetgrid/backend/internal/operator"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Error("operator stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("operator shut down")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	client, err := bus.NewClient(ctx, cfg.Bus.ProjectID, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.WaitReady(ctx, 2*time.Minute, 2*time.Second); err != nil {
		return err
	}

	sub, err := client.EnsureSubscription(ctx, cfg.Bus.OutTopic, cfg.Operator.Subscription)
	if err != nil {
		return err
	}

	// Optional backends degrade gracefully: a connection failure at
	// startup means running without that backend, not exiting.
	var mirror *operator.Mirror
	if addr := cfg.Operator.RedisAddr; addr != "" {
		mirror, err = operator.NewMirror(ctx, addr, os.Getenv("REDIS_PASSWORD"), cfg.Operator.RedisDB, logger)
		if err != nil {
			logger.Warn("redis unavailable, running without mirror", "error", err)
			mirror = nil
		}
	}
	defer mirror.Close()

	var archive *operator.Archive
	if dsn := cfg.Operator.PostgresDSN; dsn != "" {
		archive, err = operator.NewArchive(ctx, dsn, logger)
		if err != nil {
			logger.Warn("postgres unavailable, running without archive", "error", err)
			archive = nil
		}
	}
	defer archive.Close()

	agg := operator.NewAggregator()
	hub := operator.NewHub(logger)
	defer hub.Close()

	consumer := operator.NewConsumer(sub, agg, hub, mirror, archive, logger)
	server := operator.NewServer(cfg.Operator.HTTPAddr, agg, hub, archive, consumer, logger)

	errCh := make(chan error, 2)
	go func() { errCh <- consumer.Run(ctx) }()
	go func() { errCh <- server.Run(ctx) }()

	logger.Info("operator running",
		"http_addr", cfg.Operator.HTTPAddr,
		"subscription", cfg.Operator.Subscription,
		"mirror", mirror != nil,
		"archive", archive != nil,
	)

	err = <-errCh
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
