package rules

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetgrid/backend/internal/features"
	"github.com/fleetgrid/backend/internal/telemetry"
)

func defaultEngine() *Engine {
	return NewDefaultEngine(DefaultThresholds(), nil, nil)
}

func TestDetectSuddenDecelerationCritical(t *testing.T) {
	e := defaultEngine()
	frame := testFrame(2.0)
	frame.FrameIndex = 1

	// S1: (2-10)/0.1 = -80 m/s^2.
	anomalies := e.Detect(frame, features.Map{features.Acceleration: -80.0}, nil, Context{})

	require.Len(t, anomalies, 1)
	a := anomalies[0]
	assert.Equal(t, RuleSuddenDeceleration, a.RuleName)
	assert.Equal(t, telemetry.SeverityCritical, a.Severity)
	assert.Equal(t, "veh-1", a.VehicleID)
	assert.Equal(t, int64(1), a.FrameIndex)
	assert.InDelta(t, -80.0, a.Features[features.Acceleration], 1e-9)
	assert.NotEmpty(t, a.AnomalyID)
	assert.Equal(t, frame.EventTime, a.EventTime)
}

func TestDetectMultipleRulesPreserveOrder(t *testing.T) {
	e := defaultEngine()
	frame := testFrame(2.0)

	anomalies := e.Detect(frame, features.Map{
		features.Acceleration:         -6.0,
		features.CentroidDisplacement: 12.0,
	}, nil, Context{
		AgentCounts: &AgentCounts{Current: 10, Previous: 20},
	})

	require.Len(t, anomalies, 3)
	assert.Equal(t, RuleSuddenDeceleration, anomalies[0].RuleName)
	assert.Equal(t, RulePerceptionInstability, anomalies[1].RuleName)
	assert.Equal(t, RuleDropoutProxy, anomalies[2].RuleName)
}

func TestDetectFreshAnomalyIDs(t *testing.T) {
	e := defaultEngine()
	frame := testFrame(2.0)
	feats := features.Map{features.Acceleration: -6.0}

	a1 := e.Detect(frame, feats, nil, Context{})
	a2 := e.Detect(frame, feats, nil, Context{})
	require.Len(t, a1, 1)
	require.Len(t, a2, 1)
	assert.NotEqual(t, a1[0].AnomalyID, a2[0].AnomalyID)
}

func TestDetectNoFeaturesNoAnomalies(t *testing.T) {
	// S5: with no computable features, frame content is irrelevant.
	e := defaultEngine()
	frame := testFrame(0.0)

	anomalies := e.Detect(frame, features.Map{}, nil, Context{})
	assert.Empty(t, anomalies)
}

func TestDetectNumericalEdgeSuppressed(t *testing.T) {
	e := defaultEngine()
	frame := testFrame(2.0)

	anomalies := e.Detect(frame, features.Map{
		features.Acceleration: math.Inf(-1),
	}, nil, Context{})
	assert.Empty(t, anomalies, "NaN/Inf features must not fire rules")

	anomalies = e.Detect(frame, features.Map{
		features.CentroidDisplacement: math.NaN(),
	}, nil, Context{})
	assert.Empty(t, anomalies)
}

func TestDetectNumericalEdgeScopedToAffectedRule(t *testing.T) {
	// A non-finite acceleration silences sudden_deceleration only; the
	// other rules still see their own inputs.
	e := defaultEngine()
	frame := testFrame(2.0)

	anomalies := e.Detect(frame, features.Map{
		features.Acceleration:         math.NaN(),
		features.CentroidDisplacement: 12.0,
	}, nil, Context{
		AgentCounts: &AgentCounts{Current: 10, Previous: 20},
	})

	require.Len(t, anomalies, 2)
	assert.Equal(t, RulePerceptionInstability, anomalies[0].RuleName)
	assert.Equal(t, RuleDropoutProxy, anomalies[1].RuleName)
}

func TestRuleFeatureScopes(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, []string{features.Acceleration}, NewSuddenDeceleration(th.SuddenDeceleration).Features())
	assert.Equal(t, []string{features.CentroidDisplacement}, NewPerceptionInstability(th.PerceptionInstability).Features())
	assert.Nil(t, NewDropoutProxy(th.DropoutProxy).Features())
}

func TestDetectProcessingTimeStamped(t *testing.T) {
	e := defaultEngine()
	fixed := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	anomalies := e.Detect(testFrame(2.0), features.Map{features.Acceleration: -6.0}, nil, Context{})
	require.Len(t, anomalies, 1)
	assert.Equal(t, fixed, anomalies[0].ProcessingTime)
}

func TestRulesOrder(t *testing.T) {
	e := defaultEngine()
	assert.Equal(t, []string{
		RuleSuddenDeceleration,
		RulePerceptionInstability,
		RuleDropoutProxy,
	}, e.Rules())
}
