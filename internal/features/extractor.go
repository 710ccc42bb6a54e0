// Package features computes kinematic features over a vehicle's frame
// history. All functions are pure: same snapshot in, same features out.
// A feature that cannot be computed is absent from the result, never
// zero.
package features

import (
	"math"

	"github.com/fleetgrid/backend/internal/telemetry"
)

// Feature names as they appear in the feature map and in emitted
// anomalies.
const (
	Acceleration         = "acceleration"
	CentroidDisplacement = "centroid_displacement"
	HeadingChange        = "heading_change"
)

// MaxAccelerationGap is the largest frame-to-frame interval over which
// numerical differentiation of speed is trusted. Longer gaps indicate
// an outage or clock anomaly and yield no acceleration feature.
const MaxAccelerationGap = 1.0 // seconds

// Map is a per-frame feature map. Missing keys mean the feature could
// not be computed from the available history.
type Map map[string]float64

// Extract computes all features over frames (ordered oldest to newest).
func Extract(frames []*telemetry.Frame) Map {
	m := make(Map, 3)
	if a, ok := ExtractAcceleration(frames); ok {
		m[Acceleration] = a
	}
	if d, ok := ExtractCentroidDisplacement(frames); ok {
		m[CentroidDisplacement] = d
	}
	if h, ok := ExtractHeadingChange(frames); ok {
		m[HeadingChange] = h
	}
	return m
}

// ExtractAcceleration differentiates speed over the two newest frames.
// Units: m/s^2. Returns false when history is short, the interval is
// non-positive or exceeds MaxAccelerationGap, or the result is not
// finite.
func ExtractAcceleration(frames []*telemetry.Frame) (float64, bool) {
	k := len(frames)
	if k < 2 {
		return 0, false
	}
	prev, cur := frames[k-2], frames[k-1]

	dt := cur.EventTime.Sub(prev.EventTime).Seconds()
	if dt <= 0 || dt > MaxAccelerationGap {
		return 0, false
	}
	a := (cur.Speed - prev.Speed) / dt
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 0, false
	}
	return a, true
}

// ExtractCentroidDisplacement is the XY-plane euclidean distance between
// the two newest centroids. Units: meters. Z is ignored.
func ExtractCentroidDisplacement(frames []*telemetry.Frame) (float64, bool) {
	k := len(frames)
	if k < 2 {
		return 0, false
	}
	prev, cur := frames[k-2], frames[k-1]

	dx := cur.Centroid.X - prev.Centroid.X
	dy := cur.Centroid.Y - prev.Centroid.Y
	d := math.Hypot(dx, dy)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, false
	}
	return d, true
}

// ExtractHeadingChange is the absolute yaw delta between the two newest
// frames, wrapped into [0, pi]. Units: radians. Wrapping via
// atan2(sin, cos) handles yaw discontinuities at +/- pi.
func ExtractHeadingChange(frames []*telemetry.Frame) (float64, bool) {
	k := len(frames)
	if k < 2 {
		return 0, false
	}
	prev, cur := frames[k-2], frames[k-1]

	dpsi := cur.Yaw - prev.Yaw
	wrapped := math.Atan2(math.Sin(dpsi), math.Cos(dpsi))
	h := math.Abs(wrapped)
	if math.IsNaN(h) || math.IsInf(h, 0) {
		return 0, false
	}
	return h, true
}
