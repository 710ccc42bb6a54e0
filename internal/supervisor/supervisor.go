// Package supervisor wires the detection pipeline together: ingest in,
// state store and rule engine in the middle, emit out. It owns the
// rolling agent counter, cold-state eviction, the health endpoint, and
// cooperative shutdown.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/fleetgrid/backend/internal/config"
	"github.com/fleetgrid/backend/internal/features"
	"github.com/fleetgrid/backend/internal/metrics"
	"github.com/fleetgrid/backend/internal/rules"
	"github.com/fleetgrid/backend/internal/state"
	"github.com/fleetgrid/backend/internal/telemetry"
)

// AnomalySink receives detected anomalies. *emit.Publisher is the
// production implementation.
type AnomalySink interface {
	Publish(ctx context.Context, a *telemetry.Anomaly)
}

// FrameSource consumes the inbound bus and reports ingest progress.
// *ingest.Consumer is the production implementation.
type FrameSource interface {
	Run(ctx context.Context) error
	LastEventTime() time.Time
}

// Supervisor runs the detection pipeline.
type Supervisor struct {
	cfg     config.DetectorConfig
	store   *state.Store
	engine  *rules.Engine
	counter *AgentCounter
	sink    AnomalySink
	met     *metrics.Metrics
	log     *slog.Logger
}

// New wires a supervisor. met may be nil (tests).
func New(cfg config.DetectorConfig, store *state.Store, engine *rules.Engine, sink AnomalySink, met *metrics.Metrics, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:     cfg,
		store:   store,
		engine:  engine,
		counter: NewAgentCounter(),
		sink:    sink,
		met:     met,
		log:     logger,
	}
}

// Counter exposes the rolling agent counter (the health endpoint and
// tests read it).
func (s *Supervisor) Counter() *AgentCounter {
	return s.counter
}

// HandleFrame is the per-frame pipeline: append to state, extract
// features over the fresh snapshot, run the rules, publish what fired.
// It is the ingest.Handler of the detector.
func (s *Supervisor) HandleFrame(ctx context.Context, frame *telemetry.Frame) error {
	history := s.store.Ingest(frame)
	s.counter.Observe(frame.VehicleID)

	feats := features.Extract(history)
	ruleCtx := rules.Context{AgentCounts: s.counter.Take()}

	for _, a := range s.engine.Detect(frame, feats, history, ruleCtx) {
		s.sink.Publish(ctx, a)
	}

	s.met.SetVehiclesTracked(s.store.Count())
	return nil
}

// Run operates the pipeline until ctx is cancelled, then drains: the
// source stops consuming, in-flight work gets the configured grace
// period, and the caller flushes the emitter afterwards.
func (s *Supervisor) Run(ctx context.Context, source FrameSource) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.counter.Run(runCtx, s.cfg.AgentWindow())

	if ttl := s.cfg.StateTTL(); ttl > 0 {
		go s.runEviction(runCtx, ttl)
	}

	done := make(chan error, 1)
	go func() { done <- source.Run(runCtx) }()

	select {
	case err := <-done:
		// Source stopped on its own; only cancellation is expected.
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down, draining in-flight frames", "grace", s.cfg.ShutdownGrace())
	cancel()

	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace()):
		s.log.Warn("drain grace period elapsed, abandoning in-flight work")
	}
	return nil
}

func (s *Supervisor) runEviction(ctx context.Context, ttl time.Duration) {
	t := time.NewTicker(ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.store.Expire(ttl); n > 0 {
				s.log.Info("evicted cold vehicles", "count", n)
				s.met.SetVehiclesTracked(s.store.Count())
			}
		}
	}
}
