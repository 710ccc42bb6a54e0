// Package operator implements the operator-facing service: it consumes
// the anomalies topic, keeps per-vehicle aggregates for the dashboard,
// archives anomalies to Postgres, mirrors hot state into Redis, and
// fans live updates out over WebSocket. Redis and Postgres are
// optional; without them the service runs on in-memory aggregates only.
package operator

import (
	"sync"
	"time"

	"github.com/fleetgrid/backend/internal/telemetry"
)

// VehicleSummary is the dashboard view of one vehicle.
type VehicleSummary struct {
	VehicleID     string             `json:"vehicle_id"`
	Total         int64              `json:"total"`
	BySeverity    map[string]int64   `json:"by_severity"`
	ByRule        map[string]int64   `json:"by_rule"`
	LastAnomaly   *telemetry.Anomaly `json:"last_anomaly,omitempty"`
	LastAnomalyAt time.Time          `json:"last_anomaly_at"`
}

// FleetSummary is the dashboard view of the whole fleet.
type FleetSummary struct {
	Total      int64            `json:"total"`
	BySeverity map[string]int64 `json:"by_severity"`
	ByRule     map[string]int64 `json:"by_rule"`
	Vehicles   int              `json:"vehicles"`
}

// Aggregator keeps per-vehicle anomaly aggregates in memory. Safe for
// concurrent use.
type Aggregator struct {
	mu       sync.RWMutex
	vehicles map[string]*VehicleSummary
	fleet    FleetSummary
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		vehicles: make(map[string]*VehicleSummary),
		fleet: FleetSummary{
			BySeverity: make(map[string]int64),
			ByRule:     make(map[string]int64),
		},
	}
}

// Record folds one anomaly into the aggregates.
func (g *Aggregator) Record(a *telemetry.Anomaly) {
	g.mu.Lock()
	defer g.mu.Unlock()

	v, ok := g.vehicles[a.VehicleID]
	if !ok {
		v = &VehicleSummary{
			VehicleID:  a.VehicleID,
			BySeverity: make(map[string]int64),
			ByRule:     make(map[string]int64),
		}
		g.vehicles[a.VehicleID] = v
	}

	v.Total++
	v.BySeverity[string(a.Severity)]++
	v.ByRule[a.RuleName]++
	v.LastAnomaly = a
	v.LastAnomalyAt = a.ProcessingTime

	g.fleet.Total++
	g.fleet.BySeverity[string(a.Severity)]++
	g.fleet.ByRule[a.RuleName]++
	g.fleet.Vehicles = len(g.vehicles)
}

// Vehicle returns the summary for one vehicle, or nil when unknown.
func (g *Aggregator) Vehicle(vehicleID string) *VehicleSummary {
	g.mu.RLock()
	defer g.mu.RUnlock()

	v, ok := g.vehicles[vehicleID]
	if !ok {
		return nil
	}
	out := *v
	out.BySeverity = copyCounts(v.BySeverity)
	out.ByRule = copyCounts(v.ByRule)
	return &out
}

// Fleet returns the fleet-wide summary.
func (g *Aggregator) Fleet() FleetSummary {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := g.fleet
	out.BySeverity = copyCounts(g.fleet.BySeverity)
	out.ByRule = copyCounts(g.fleet.ByRule)
	return out
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
