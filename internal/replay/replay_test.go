package replay

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetgrid/backend/internal/telemetry"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeDataset(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scene.jsonl")
	var data []byte
	for _, l := range lines {
		data = append(data, l...)
		data = append(data, '\n')
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func frameLine(t *testing.T, vehicle string, idx int64, at time.Time) string {
	t.Helper()
	f := &telemetry.Frame{
		EventID:    fmt.Sprintf("rec-%s-%d", vehicle, idx),
		EventTime:  at,
		VehicleID:  vehicle,
		SceneID:    "scene-1",
		FrameIndex: idx,
		Speed:      12.5,
	}
	data, err := telemetry.EncodeFrame(f)
	require.NoError(t, err)
	return string(data)
}

func TestLoadDataset(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	path := writeDataset(t,
		frameLine(t, "A", 0, base),
		frameLine(t, "B", 0, base),
		"", // blank lines are tolerated
		frameLine(t, "A", 1, base.Add(100*time.Millisecond)),
	)

	ds, err := LoadDataset(path, quiet())
	require.NoError(t, err)
	assert.Len(t, ds.Frames, 3)
	assert.Equal(t, 2, ds.VehicleCount())
	assert.Equal(t, "A", ds.Frames[0].VehicleID)
	assert.Equal(t, int64(1), ds.Frames[2].FrameIndex)
}

func TestLoadDatasetSkipsBadLines(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	path := writeDataset(t,
		"{ not json",
		frameLine(t, "A", 0, base),
		`{"event_id":"x","vehicle_id":"A","frame_index":-1}`, // fails validation
	)

	ds, err := LoadDataset(path, quiet())
	require.NoError(t, err)
	assert.Len(t, ds.Frames, 1)
}

func TestLoadDatasetEmptyIsError(t *testing.T) {
	path := writeDataset(t, "not a frame")

	_, err := LoadDataset(path, quiet())
	assert.Error(t, err)
}

func TestLoadDatasetMissingFile(t *testing.T) {
	_, err := LoadDataset(filepath.Join(t.TempDir(), "absent.jsonl"), quiet())
	assert.Error(t, err)
}

func TestNewPlayerRejectsBadRate(t *testing.T) {
	ds := &Dataset{Frames: []*telemetry.Frame{{}}}
	_, err := NewPlayer(nil, "raw_telemetry", ds, 0, false, quiet())
	assert.Error(t, err)
}
