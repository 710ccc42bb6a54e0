// Package telemetry defines the wire records shared by the replay,
// detector, and operator services: raw telemetry frames on the inbound
// topic and anomaly events on the outbound topic. Both are JSON-encoded
// on the bus with the vehicle ID as the ordering key.
package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Topic names. Overridable via config; these are the defaults the whole
// pipeline agrees on.
const (
	TopicRawTelemetry = "raw_telemetry"
	TopicAnomalies    = "anomalies"
)

// Severity grades an anomaly: WARNING is advisory, CRITICAL demands
// operator attention.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether s is one of the defined severities.
func (s Severity) Valid() bool {
	return s == SeverityWarning || s == SeverityCritical
}

// Vec3 is a 3D position in meters. Feature math only uses X and Y.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Velocity is the planar velocity vector in m/s.
type Velocity struct {
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// Frame is one raw telemetry record for one tracked object at one
// instant. Frames for the same vehicle arrive in frame_index order
// because the bus partitions by vehicle_id.
type Frame struct {
	EventID            string             `json:"event_id"`
	EventTime          time.Time          `json:"event_time"`
	ProcessingTime     time.Time          `json:"processing_time"`
	VehicleID          string             `json:"vehicle_id"`
	SceneID            string             `json:"scene_id"`
	FrameIndex         int64              `json:"frame_index"`
	IsEgo              bool               `json:"is_ego"`
	TrackID            int64              `json:"track_id"`
	Centroid           Vec3               `json:"centroid"`
	Velocity           Velocity           `json:"velocity"`
	Speed              float64            `json:"speed"`
	Yaw                float64            `json:"yaw"`
	LabelProbabilities map[string]float64 `json:"label_probabilities,omitempty"`
}

// Validate checks the invariants a frame must satisfy before it enters
// the detection core. Frames that fail validation are skipped, never
// processed partially.
func (f *Frame) Validate() error {
	switch {
	case f.EventID == "":
		return fmt.Errorf("frame missing event_id")
	case f.VehicleID == "":
		return fmt.Errorf("frame %s missing vehicle_id", f.EventID)
	case f.EventTime.IsZero():
		return fmt.Errorf("frame %s missing event_time", f.EventID)
	case f.FrameIndex < 0:
		return fmt.Errorf("frame %s has negative frame_index %d", f.EventID, f.FrameIndex)
	case f.Speed < 0:
		return fmt.Errorf("frame %s has negative speed %.3f", f.EventID, f.Speed)
	case math.IsNaN(f.Speed) || math.IsInf(f.Speed, 0):
		return fmt.Errorf("frame %s has non-finite speed", f.EventID)
	case math.IsNaN(f.Yaw) || math.IsInf(f.Yaw, 0):
		return fmt.Errorf("frame %s has non-finite yaw", f.EventID)
	}
	return nil
}

// Anomaly asserts that a rule triggered on a specific frame. One frame
// may produce several anomalies (one per rule), never more than one per
// rule within a process run.
type Anomaly struct {
	AnomalyID      string             `json:"anomaly_id"`
	EventTime      time.Time          `json:"event_time"`
	ProcessingTime time.Time          `json:"processing_time"`
	VehicleID      string             `json:"vehicle_id"`
	SceneID        string             `json:"scene_id"`
	FrameIndex     int64              `json:"frame_index"`
	RuleName       string             `json:"rule_name"`
	Features       map[string]float64 `json:"features"`
	Thresholds     map[string]float64 `json:"thresholds"`
	Severity       Severity           `json:"severity"`
	Explanation    string             `json:"explanation,omitempty"`
}

// Validate checks the fields downstream consumers depend on.
func (a *Anomaly) Validate() error {
	switch {
	case a.AnomalyID == "":
		return fmt.Errorf("anomaly missing anomaly_id")
	case a.VehicleID == "":
		return fmt.Errorf("anomaly %s missing vehicle_id", a.AnomalyID)
	case a.RuleName == "":
		return fmt.Errorf("anomaly %s missing rule_name", a.AnomalyID)
	case !a.Severity.Valid():
		return fmt.Errorf("anomaly %s has unknown severity %q", a.AnomalyID, a.Severity)
	}
	return nil
}

// EncodeFrame serializes a frame for the raw_telemetry topic.
func EncodeFrame(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses and validates an inbound frame payload.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// EncodeAnomaly serializes an anomaly for the anomalies topic.
func EncodeAnomaly(a *Anomaly) ([]byte, error) {
	return json.Marshal(a)
}

// DecodeAnomaly parses and validates an anomaly payload.
func DecodeAnomaly(data []byte) (*Anomaly, error) {
	var a Anomaly
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode anomaly: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}
