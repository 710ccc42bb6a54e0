// Package metrics registers the Prometheus instruments shared by the
// pipeline services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus instrument for the detector. A nil
// *Metrics is valid everywhere it is accepted; recording methods become
// no-ops, which keeps unit tests free of registry setup.
type Metrics struct {
	FramesIngested    prometheus.Counter
	DecodeErrors      prometheus.Counter
	DedupDrops        prometheus.Counter
	OrderingDrops     prometheus.Counter
	RuleNumericalEdge *prometheus.CounterVec
	AnomaliesEmitted  *prometheus.CounterVec
	PublishFailures   prometheus.Counter
	IngestLag         prometheus.Gauge
	VehiclesTracked   prometheus.Gauge
}

// New creates and registers all detector metrics on the given
// registerer. Pass prometheus.DefaultRegisterer in main.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "detector_frames_ingested_total",
			Help: "Total telemetry frames accepted into the detection core",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "detector_decode_errors_total",
			Help: "Total inbound messages dropped because they failed to decode or validate",
		}),
		DedupDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "detector_dedup_drops_total",
			Help: "Total frames dropped because their event_id was already seen",
		}),
		OrderingDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "detector_ordering_drops_total",
			Help: "Total frames dropped because their frame_index regressed within a scene",
		}),
		RuleNumericalEdge: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "detector_rule_numerical_edge_total",
			Help: "Total rule evaluations suppressed by a NaN/Inf input",
		}, []string{"rule"}),
		AnomaliesEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "detector_anomalies_emitted_total",
			Help: "Total anomalies emitted since start",
		}, []string{"rule", "severity"}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "detector_publish_failures_total",
			Help: "Total anomalies dropped because the outbound publish failed",
		}),
		IngestLag: factory.NewGauge(prometheus.GaugeOpts{
			Name: "detector_ingest_lag_seconds",
			Help: "Wall clock minus event_time of the newest ingested frame",
		}),
		VehiclesTracked: factory.NewGauge(prometheus.GaugeOpts{
			Name: "detector_vehicles_tracked",
			Help: "Number of vehicles with live state",
		}),
	}
}

// RecordFrame counts an accepted frame and updates the lag gauge.
func (m *Metrics) RecordFrame(lagSeconds float64) {
	if m == nil {
		return
	}
	m.FramesIngested.Inc()
	m.IngestLag.Set(lagSeconds)
}

// RecordDecodeError counts a dropped undecodable message.
func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

// RecordDedupDrop counts a silently dropped duplicate frame.
func (m *Metrics) RecordDedupDrop() {
	if m == nil {
		return
	}
	m.DedupDrops.Inc()
}

// RecordOrderingDrop counts a frame dropped by the monotonicity guard.
func (m *Metrics) RecordOrderingDrop() {
	if m == nil {
		return
	}
	m.OrderingDrops.Inc()
}

// RecordNumericalEdge counts a rule evaluation suppressed by a
// non-finite input.
func (m *Metrics) RecordNumericalEdge(rule string) {
	if m == nil {
		return
	}
	m.RuleNumericalEdge.WithLabelValues(rule).Inc()
}

// RecordAnomaly counts an emitted anomaly.
func (m *Metrics) RecordAnomaly(rule, severity string) {
	if m == nil {
		return
	}
	m.AnomaliesEmitted.WithLabelValues(rule, severity).Inc()
}

// RecordPublishFailure counts an anomaly dropped on publish failure.
func (m *Metrics) RecordPublishFailure() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}

// SetVehiclesTracked updates the tracked-vehicle gauge.
func (m *Metrics) SetVehiclesTracked(n int) {
	if m == nil {
		return
	}
	m.VehiclesTracked.Set(float64(n))
}
