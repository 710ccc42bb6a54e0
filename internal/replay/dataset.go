// Package replay publishes a recorded telemetry dataset onto the
// raw_telemetry topic at a configurable pace, standing in for a live
// fleet during development and integration testing.
package replay

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"github.com/fleetgrid/backend/internal/telemetry"
)

// Dataset is a recorded scene: one JSON frame per line, in capture
// order. Capture order is global frame order, which per vehicle is
// frame_index order.
type Dataset struct {
	Path   string
	Frames []*telemetry.Frame
}

// LoadDataset reads a JSONL scene file. Undecodable or invalid lines
// are skipped with a warning; a dataset with zero usable frames is an
// error.
func LoadDataset(path string, logger *slog.Logger) (*Dataset, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	ds := &Dataset{Path: path}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	skipped := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame, err := telemetry.DecodeFrame(line)
		if err != nil {
			skipped++
			logger.Warn("skipping bad dataset line", "line", lineNo, "error", err)
			continue
		}
		ds.Frames = append(ds.Frames, frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	if len(ds.Frames) == 0 {
		return nil, fmt.Errorf("dataset %s contains no usable frames", path)
	}

	logger.Info("dataset loaded",
		"path", path,
		"frames", len(ds.Frames),
		"skipped", skipped,
		"vehicles", ds.VehicleCount(),
	)
	return ds, nil
}

// VehicleCount reports how many distinct vehicles the dataset tracks.
func (d *Dataset) VehicleCount() int {
	seen := make(map[string]struct{})
	for _, f := range d.Frames {
		seen[f.VehicleID] = struct{}{}
	}
	return len(seen)
}
