// The replay publisher feeds a recorded telemetry dataset onto the raw
// telemetry topic at a fixed rate, standing in for a live fleet.
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
	"github.com/fleetgrid/backend/internal/replay"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	dataset := flag.String("dataset", "", "JSONL dataset path (overrides config)")
	rate := flag.Float64("rate", 0, "frames per second (overrides config)")
	loop := flag.Bool("loop", false, "replay forever")
	flag.Parse()

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	if *dataset != "" {
		cfg.Replay.DatasetPath = *dataset
	}
	if *rate > 0 {
		cfg.Replay.RateHz = *rate
	}
	if *loop {
		cfg.Replay.Loop = true
	}
	if cfg.Replay.DatasetPath == "" {
		logger.Error("no dataset configured, pass -dataset or set replay.dataset_path")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Error("replay stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("replay shut down")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ds, err := replay.LoadDataset(cfg.Replay.DatasetPath, logger)
	if err != nil {
		return err
	}

	client, err := bus.NewClient(ctx, cfg.Bus.ProjectID, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.WaitReady(ctx, 2*time.Minute, 2*time.Second); err != nil {
		return err
	}

	player, err := replay.NewPlayer(client, cfg.Bus.InTopic, ds, cfg.Replay.RateHz, cfg.Replay.Loop, logger)
	if err != nil {
		return err
	}

	logger.Info("replay running",
		"dataset", cfg.Replay.DatasetPath,
		"frames", len(ds.Frames),
		"rate_hz", cfg.Replay.RateHz,
		"loop", cfg.Replay.Loop,
	)
	return player.Run(ctx)
}
