// Package rules implements the anomaly rules and the engine that runs
// them. Rules are pure predicates over (frame, features, history, ctx)
// plus the thresholds they were constructed with; they never return
// errors and never panic; a non-finite input means "not triggered".
package rules

import (
	"fmt"
	"math"

	"github.com/fleetgrid/backend/internal/features"
	"github.com/fleetgrid/backend/internal/telemetry"
)

// Rule names on the wire.
const (
	RuleSuddenDeceleration    = "sudden_deceleration"
	RulePerceptionInstability = "perception_instability"
	RuleDropoutProxy          = "dropout_proxy"
)

// AgentCounts is the cross-vehicle input to DropoutProxy: the number of
// distinct vehicles seen in the current rolling window and the previous
// one. The supervisor attaches it to at most one frame per window
// transition.
type AgentCounts struct {
	Current  int
	Previous int
}

// Context carries the cross-vehicle state a rule may consult. A nil
// AgentCounts means the counts are absent for this frame.
type Context struct {
	AgentCounts *AgentCounts
}

// Decision is the outcome of one rule on one frame.
type Decision struct {
	Triggered      bool
	Severity       telemetry.Severity
	RuleName       string
	FeaturesUsed   map[string]float64
	ThresholdsUsed map[string]float64
	Explanation    string
}

// Rule evaluates one anomaly condition. Features lists the feature keys
// the rule consults, so the engine can scope its numerical-edge check;
// rules driven by context alone return nil.
type Rule interface {
	Name() string
	Features() []string
	Evaluate(frame *telemetry.Frame, feats features.Map, history []*telemetry.Frame, ctx Context) Decision
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func notTriggered(name string) Decision {
	return Decision{RuleName: name}
}

// SuddenDeceleration fires when the acceleration feature drops to or
// below the configured thresholds.
type SuddenDeceleration struct {
	cfg DecelerationThresholds
}

// NewSuddenDeceleration constructs the rule with the given thresholds.
func NewSuddenDeceleration(cfg DecelerationThresholds) *SuddenDeceleration {
	return &SuddenDeceleration{cfg: cfg}
}

func (r *SuddenDeceleration) Name() string { return RuleSuddenDeceleration }

func (r *SuddenDeceleration) Features() []string { return []string{features.Acceleration} }

func (r *SuddenDeceleration) Evaluate(_ *telemetry.Frame, feats features.Map, _ []*telemetry.Frame, _ Context) Decision {
	accel, ok := feats[features.Acceleration]
	if !ok || !finite(accel) {
		return notTriggered(r.Name())
	}

	var severity telemetry.Severity
	switch {
	case accel <= r.cfg.Critical:
		severity = telemetry.SeverityCritical
	case accel <= r.cfg.Warning:
		severity = telemetry.SeverityWarning
	default:
		return notTriggered(r.Name())
	}

	return Decision{
		Triggered:    true,
		Severity:     severity,
		RuleName:     r.Name(),
		FeaturesUsed: map[string]float64{features.Acceleration: accel},
		ThresholdsUsed: map[string]float64{
			"warning":  r.cfg.Warning,
			"critical": r.cfg.Critical,
		},
		Explanation: fmt.Sprintf("observed acceleration %.2f m/s^2 (warning %.2f, critical %.2f)",
			accel, r.cfg.Warning, r.cfg.Critical),
	}
}

// PerceptionInstability fires when the tracked centroid jumps farther
// between consecutive frames than a physical object could move.
type PerceptionInstability struct {
	cfg CentroidThresholds
}

// NewPerceptionInstability constructs the rule with the given thresholds.
func NewPerceptionInstability(cfg CentroidThresholds) *PerceptionInstability {
	return &PerceptionInstability{cfg: cfg}
}

func (r *PerceptionInstability) Name() string { return RulePerceptionInstability }

func (r *PerceptionInstability) Features() []string { return []string{features.CentroidDisplacement} }

func (r *PerceptionInstability) Evaluate(_ *telemetry.Frame, feats features.Map, _ []*telemetry.Frame, _ Context) Decision {
	disp, ok := feats[features.CentroidDisplacement]
	if !ok || !finite(disp) {
		return notTriggered(r.Name())
	}

	var severity telemetry.Severity
	switch {
	case disp >= r.cfg.CentroidCritical:
		severity = telemetry.SeverityCritical
	case disp >= r.cfg.CentroidWarning:
		severity = telemetry.SeverityWarning
	default:
		return notTriggered(r.Name())
	}

	return Decision{
		Triggered:    true,
		Severity:     severity,
		RuleName:     r.Name(),
		FeaturesUsed: map[string]float64{features.CentroidDisplacement: disp},
		ThresholdsUsed: map[string]float64{
			"centroid_warning":  r.cfg.CentroidWarning,
			"centroid_critical": r.cfg.CentroidCritical,
		},
		Explanation: fmt.Sprintf("centroid jumped %.2f m between frames (warning %.2f, critical %.2f)",
			disp, r.cfg.CentroidWarning, r.cfg.CentroidCritical),
	}
}

// DropoutProxy fires when the fleet-wide active agent count drops
// sharply between rolling windows, a proxy for a perception or
// ingestion dropout. No critical tier is defined.
type DropoutProxy struct {
	cfg DropoutThresholds
}

// NewDropoutProxy constructs the rule with the given thresholds.
func NewDropoutProxy(cfg DropoutThresholds) *DropoutProxy {
	return &DropoutProxy{cfg: cfg}
}

func (r *DropoutProxy) Name() string { return RuleDropoutProxy }

// Features is nil: the rule is driven by agent counts, not frame features.
func (r *DropoutProxy) Features() []string { return nil }

func (r *DropoutProxy) Evaluate(_ *telemetry.Frame, _ features.Map, _ []*telemetry.Frame, ctx Context) Decision {
	if ctx.AgentCounts == nil {
		return notTriggered(r.Name())
	}
	drop := ctx.AgentCounts.Previous - ctx.AgentCounts.Current
	if drop < r.cfg.AgentDrop {
		return notTriggered(r.Name())
	}

	return Decision{
		Triggered: true,
		Severity:  telemetry.SeverityWarning,
		RuleName:  r.Name(),
		FeaturesUsed: map[string]float64{
			"active_agent_count":      float64(ctx.AgentCounts.Current),
			"prev_active_agent_count": float64(ctx.AgentCounts.Previous),
		},
		ThresholdsUsed: map[string]float64{
			"agent_drop": float64(r.cfg.AgentDrop),
		},
		Explanation: fmt.Sprintf("active agents dropped from %d to %d (threshold %d)",
			ctx.AgentCounts.Previous, ctx.AgentCounts.Current, r.cfg.AgentDrop),
	}
}
