package rules

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fleetgrid/backend/internal/features"
	"github.com/fleetgrid/backend/internal/metrics"
	"github.com/fleetgrid/backend/internal/telemetry"
)

// Engine runs a fixed set of rules against each frame and turns
// triggered decisions into anomaly events. Rules run in registration
// order and anomalies come out in that same order.
type Engine struct {
	rules []Rule
	met   *metrics.Metrics
	log   *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates an engine with the given rules. met may be nil.
func NewEngine(met *metrics.Metrics, logger *slog.Logger, ruleSet ...Rule) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		rules: ruleSet,
		met:   met,
		log:   logger,
		now:   time.Now,
	}
}

// NewDefaultEngine wires the three built-in rules in their canonical
// order: sudden_deceleration, perception_instability, dropout_proxy.
func NewDefaultEngine(th Thresholds, met *metrics.Metrics, logger *slog.Logger) *Engine {
	return NewEngine(met, logger,
		NewSuddenDeceleration(th.SuddenDeceleration),
		NewPerceptionInstability(th.PerceptionInstability),
		NewDropoutProxy(th.DropoutProxy),
	)
}

// Rules returns the registered rule names in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Detect evaluates every rule against the frame and returns the
// anomalies for the triggered ones, in rule registration order. A
// non-finite value in a feature the rule consults is a numerical edge:
// that rule does not fire, the suppression is counted per rule and
// logged at debug, and the remaining rules evaluate normally.
func (e *Engine) Detect(frame *telemetry.Frame, feats features.Map, history []*telemetry.Frame, ctx Context) []*telemetry.Anomaly {
	var out []*telemetry.Anomaly
	for _, r := range e.rules {
		if hasNumericalEdge(r, feats) {
			e.met.RecordNumericalEdge(r.Name())
			e.log.Debug("rule input not finite, suppressing",
				"rule", r.Name(),
				"vehicle_id", frame.VehicleID,
				"frame_index", frame.FrameIndex,
			)
			continue
		}

		d := r.Evaluate(frame, feats, history, ctx)
		if !d.Triggered {
			continue
		}
		out = append(out, e.anomalyFromDecision(frame, d))
	}
	return out
}

func hasNumericalEdge(r Rule, feats features.Map) bool {
	for _, key := range r.Features() {
		if v, ok := feats[key]; ok && !finite(v) {
			return true
		}
	}
	return false
}

func (e *Engine) anomalyFromDecision(frame *telemetry.Frame, d Decision) *telemetry.Anomaly {
	a := &telemetry.Anomaly{
		AnomalyID:      uuid.NewString(),
		EventTime:      frame.EventTime,
		ProcessingTime: e.now(),
		VehicleID:      frame.VehicleID,
		SceneID:        frame.SceneID,
		FrameIndex:     frame.FrameIndex,
		RuleName:       d.RuleName,
		Features:       d.FeaturesUsed,
		Thresholds:     d.ThresholdsUsed,
		Severity:       d.Severity,
		Explanation:    d.Explanation,
	}
	e.met.RecordAnomaly(d.RuleName, string(d.Severity))
	return a
}
