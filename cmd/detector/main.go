// The detector consumes raw telemetry frames, runs the anomaly rules
// over per-vehicle history, and publishes anomaly events. It keeps
// running through bus outages and bad input; only an invalid
// configuration makes it exit non-zero.
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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fleetgrid/backend/internal/bus"
	"github.com/fleetgrid/backend/internal/config"
	"github.com/fleetgrid/backend/internal/emit"
	"github.com/fleetgrid/backend/internal/ingest"
	"github.com/fleetgrid/backend/internal/metrics"
	"github.com/fleetgrid/backend/internal/rules"
	"github.com/fleetgrid/backend/internal/state"
	"github.com/fleetgrid/backend/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	// .env is a development convenience; absence is not an error.
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
		logger.Error("detector stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("detector shut down")
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

	sub, err := client.EnsureSubscription(ctx, cfg.Bus.InTopic, cfg.Bus.Subscription)
	if err != nil {
		return err
	}

	met := metrics.New(prometheus.DefaultRegisterer)

	store := state.NewStore(cfg.Detector.RingBufferSize)
	engine := rules.NewDefaultEngine(cfg.Detector.Thresholds, met, logger)
	publisher := emit.NewPublisher(client, cfg.Bus.OutTopic, cfg.Bus.RequestTimeout(), met, logger)
	defer publisher.Close()

	sup := supervisor.New(cfg.Detector, store, engine, publisher, met, logger)

	consumer, err := ingest.NewConsumer(sub, sup.HandleFrame, cfg.Detector.DedupCapacity, met, logger)
	if err != nil {
		return err
	}

	health := supervisor.NewHealthServer(cfg.Detector.HealthAddr, consumer, store, publisher, logger)
	go func() {
		if err := health.Run(ctx); err != nil {
			logger.Warn("health server stopped", "error", err)
		}
	}()

	logger.Info("detector running",
		"in_topic", cfg.Bus.InTopic,
		"out_topic", cfg.Bus.OutTopic,
		"subscription", cfg.Bus.Subscription,
		"ring_buffer", cfg.Detector.RingBufferSize,
	)

	err = sup.Run(ctx, consumer)
	publisher.Flush()
	return err
}
