package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetgrid/backend/internal/telemetry"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func mkFrame(offsetSec, speed float64, cx, cy, yaw float64) *telemetry.Frame {
	return &telemetry.Frame{
		EventID:   "e",
		VehicleID: "veh-1",
		EventTime: t0.Add(time.Duration(offsetSec * float64(time.Second))),
		Speed:     speed,
		Centroid:  telemetry.Vec3{X: cx, Y: cy},
		Yaw:       yaw,
	}
}

func TestAccelerationDeceleration(t *testing.T) {
	frames := []*telemetry.Frame{
		mkFrame(0.0, 10.0, 0, 0, 0),
		mkFrame(0.1, 5.0, 0, 0, 0),
	}
	a, ok := ExtractAcceleration(frames)
	require.True(t, ok)
	assert.InDelta(t, -50.0, a, 1e-9)
}

func TestAccelerationPositive(t *testing.T) {
	frames := []*telemetry.Frame{
		mkFrame(0.0, 5.0, 0, 0, 0),
		mkFrame(0.1, 10.0, 0, 0, 0),
	}
	a, ok := ExtractAcceleration(frames)
	require.True(t, ok)
	assert.Greater(t, a, 0.0)
}

func TestAccelerationInsufficientHistory(t *testing.T) {
	_, ok := ExtractAcceleration([]*telemetry.Frame{mkFrame(0, 10, 0, 0, 0)})
	assert.False(t, ok)

	_, ok = ExtractAcceleration(nil)
	assert.False(t, ok)
}

func TestAccelerationTimestampGates(t *testing.T) {
	// Zero dt: division would blow up.
	frames := []*telemetry.Frame{
		mkFrame(0.5, 10.0, 0, 0, 0),
		mkFrame(0.5, 5.0, 0, 0, 0),
	}
	_, ok := ExtractAcceleration(frames)
	assert.False(t, ok)

	// Negative dt: clock anomaly.
	frames = []*telemetry.Frame{
		mkFrame(1.0, 10.0, 0, 0, 0),
		mkFrame(0.5, 5.0, 0, 0, 0),
	}
	_, ok = ExtractAcceleration(frames)
	assert.False(t, ok)

	// Gap over one second: treated as an outage, not a feature.
	frames = []*telemetry.Frame{
		mkFrame(0.0, 10.0, 0, 0, 0),
		mkFrame(1.5, 5.0, 0, 0, 0),
	}
	_, ok = ExtractAcceleration(frames)
	assert.False(t, ok)
}

func TestAccelerationUsesNewestPair(t *testing.T) {
	frames := []*telemetry.Frame{
		mkFrame(0.0, 0.0, 0, 0, 0),
		mkFrame(0.1, 10.0, 0, 0, 0),
		mkFrame(0.2, 9.0, 0, 0, 0),
	}
	a, ok := ExtractAcceleration(frames)
	require.True(t, ok)
	assert.InDelta(t, -10.0, a, 1e-9)
}

func TestCentroidDisplacement(t *testing.T) {
	frames := []*telemetry.Frame{
		mkFrame(0.0, 10, 0, 0, 0),
		mkFrame(0.1, 10, 3, 4, 0),
	}
	d, ok := ExtractCentroidDisplacement(frames)
	require.True(t, ok)
	assert.InDelta(t, 5.0, d, 1e-9)
}

func TestCentroidDisplacementIgnoresZ(t *testing.T) {
	frames := []*telemetry.Frame{
		mkFrame(0.0, 10, 0, 0, 0),
		mkFrame(0.1, 10, 3, 4, 0),
	}
	frames[1].Centroid.Z = 100.0
	d, ok := ExtractCentroidDisplacement(frames)
	require.True(t, ok)
	assert.InDelta(t, 5.0, d, 1e-9)
}

func TestCentroidDisplacementInsufficient(t *testing.T) {
	_, ok := ExtractCentroidDisplacement([]*telemetry.Frame{mkFrame(0, 10, 0, 0, 0)})
	assert.False(t, ok)
}

func TestHeadingChangeSimple(t *testing.T) {
	frames := []*telemetry.Frame{
		mkFrame(0.0, 10, 0, 0, 0),
		mkFrame(0.1, 10, 0, 0, math.Pi/4),
	}
	h, ok := ExtractHeadingChange(frames)
	require.True(t, ok)
	assert.InDelta(t, math.Pi/4, h, 1e-9)
}

func TestHeadingChangeWrapsAroundPi(t *testing.T) {
	// From just below +pi to just above -pi is a small turn, not a
	// near-2pi spin.
	frames := []*telemetry.Frame{
		mkFrame(0.0, 10, 0, 0, math.Pi-0.05),
		mkFrame(0.1, 10, 0, 0, -math.Pi+0.05),
	}
	h, ok := ExtractHeadingChange(frames)
	require.True(t, ok)
	assert.InDelta(t, 0.1, h, 1e-9)
}

func TestHeadingChangeAlwaysInZeroPi(t *testing.T) {
	yaws := []float64{-math.Pi, -2.5, -1.0, 0, 0.7, 2.9, math.Pi, 5.1, -7.3}
	for _, a := range yaws {
		for _, b := range yaws {
			frames := []*telemetry.Frame{
				mkFrame(0.0, 10, 0, 0, a),
				mkFrame(0.1, 10, 0, 0, b),
			}
			h, ok := ExtractHeadingChange(frames)
			require.True(t, ok)
			assert.GreaterOrEqual(t, h, 0.0)
			assert.LessOrEqual(t, h, math.Pi+1e-12)
		}
	}
}

func TestExtractIsPureAndOmitsMissing(t *testing.T) {
	frames := []*telemetry.Frame{
		mkFrame(0.0, 10.0, 0, 0, 0),
		mkFrame(0.1, 2.0, 3, 4, 0.2),
	}

	m1 := Extract(frames)
	m2 := Extract(frames)
	assert.Equal(t, m1, m2, "identical input must give identical output")

	assert.Contains(t, m1, Acceleration)
	assert.Contains(t, m1, CentroidDisplacement)
	assert.Contains(t, m1, HeadingChange)

	// Single frame: nothing computable, keys absent rather than zero.
	m := Extract(frames[:1])
	assert.Empty(t, m)
}

func TestExtractNonFiniteSpeedYieldsNoFeature(t *testing.T) {
	frames := []*telemetry.Frame{
		mkFrame(0.0, 10.0, 0, 0, 0),
		mkFrame(0.1, math.NaN(), 0, 0, 0),
	}
	m := Extract(frames)
	assert.NotContains(t, m, Acceleration)
}
