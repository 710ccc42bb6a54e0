package ingest

import (
	"github.com/fleetgrid/backend/internal/telemetry"
)

type scenePosition struct {
	sceneID   string
	lastIndex int64
}

// OrderGuard enforces non-decreasing frame_index per vehicle within a
// scene. With vehicle-keyed ordering on the bus this never drops
// anything; it exists to protect the core when a misconfigured producer
// or a redelivery reshuffles frames. A new scene resets the watermark.
type OrderGuard struct {
	positions map[string]scenePosition
}

// NewOrderGuard creates an empty guard.
func NewOrderGuard() *OrderGuard {
	return &OrderGuard{positions: make(map[string]scenePosition)}
}

// Admit reports whether the frame may enter the core, advancing the
// per-vehicle watermark when it does.
func (g *OrderGuard) Admit(f *telemetry.Frame) bool {
	pos, ok := g.positions[f.VehicleID]
	if ok && pos.sceneID == f.SceneID && f.FrameIndex < pos.lastIndex {
		return false
	}
	g.positions[f.VehicleID] = scenePosition{sceneID: f.SceneID, lastIndex: f.FrameIndex}
	return true
}
