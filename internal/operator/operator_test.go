package operator

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetgrid/backend/internal/bus"
	"github.com/fleetgrid/backend/internal/telemetry"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func anomaly(vehicle string, idx int64, rule string, sev telemetry.Severity) *telemetry.Anomaly {
	return &telemetry.Anomaly{
		AnomalyID:      vehicle + "-" + rule + "-" + time.Now().Format("150405.000000000"),
		EventTime:      time.Now().Add(-time.Second),
		ProcessingTime: time.Now(),
		VehicleID:      vehicle,
		SceneID:        "scene-1",
		FrameIndex:     idx,
		RuleName:       rule,
		Features:       map[string]float64{"acceleration": -6.2},
		Severity:       sev,
	}
}

func TestAggregatorRecord(t *testing.T) {
	agg := NewAggregator()

	agg.Record(anomaly("A", 1, "sudden_deceleration", telemetry.SeverityCritical))
	agg.Record(anomaly("A", 2, "sudden_deceleration", telemetry.SeverityWarning))
	agg.Record(anomaly("B", 5, "perception_instability", telemetry.SeverityWarning))

	v := agg.Vehicle("A")
	require.NotNil(t, v)
	assert.Equal(t, int64(2), v.Total)
	assert.Equal(t, int64(1), v.BySeverity["CRITICAL"])
	assert.Equal(t, int64(1), v.BySeverity["WARNING"])
	assert.Equal(t, int64(2), v.ByRule["sudden_deceleration"])
	require.NotNil(t, v.LastAnomaly)
	assert.Equal(t, int64(2), v.LastAnomaly.FrameIndex)

	fleet := agg.Fleet()
	assert.Equal(t, int64(3), fleet.Total)
	assert.Equal(t, 2, fleet.Vehicles)
	assert.Equal(t, int64(2), fleet.BySeverity["WARNING"])

	assert.Nil(t, agg.Vehicle("C"))
}

func TestAggregatorSnapshotsDoNotAlias(t *testing.T) {
	agg := NewAggregator()
	agg.Record(anomaly("A", 1, "dropout_proxy", telemetry.SeverityWarning))

	v := agg.Vehicle("A")
	v.ByRule["dropout_proxy"] = 99
	v.BySeverity["WARNING"] = 99

	fresh := agg.Vehicle("A")
	assert.Equal(t, int64(1), fresh.ByRule["dropout_proxy"])
	assert.Equal(t, int64(1), fresh.BySeverity["WARNING"])
}

type stubFeed struct {
	received int64
	last     time.Time
}

func (s *stubFeed) Received() int64          { return s.received }
func (s *stubFeed) LastEventTime() time.Time { return s.last }

func newTestServer(t *testing.T, agg *Aggregator, feed AnomalyFeed) *Server {
	t.Helper()
	return NewServer(":0", agg, NewHub(quiet()), nil, feed, quiet())
}

func TestFleetEndpoint(t *testing.T) {
	agg := NewAggregator()
	agg.Record(anomaly("A", 1, "sudden_deceleration", telemetry.SeverityCritical))
	s := newTestServer(t, agg, &stubFeed{received: 1, last: time.Now()})

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/fleet", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var fleet FleetSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&fleet))
	assert.Equal(t, int64(1), fleet.Total)
	assert.Equal(t, 1, fleet.Vehicles)
}

func TestVehicleEndpointUnknownIs404(t *testing.T) {
	s := newTestServer(t, NewAggregator(), &stubFeed{})

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/vehicles/ghost", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVehicleEndpoint(t *testing.T) {
	agg := NewAggregator()
	agg.Record(anomaly("veh-7", 3, "perception_instability", telemetry.SeverityWarning))
	s := newTestServer(t, agg, &stubFeed{})

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/vehicles/veh-7", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var v VehicleSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	assert.Equal(t, "veh-7", v.VehicleID)
	assert.Equal(t, int64(1), v.Total)
}

func TestHistoryWithoutArchiveIs503(t *testing.T) {
	s := newTestServer(t, NewAggregator(), &stubFeed{})

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/vehicles/A/history", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	agg := NewAggregator()
	agg.Record(anomaly("A", 1, "sudden_deceleration", telemetry.SeverityWarning))
	s := newTestServer(t, agg, &stubFeed{received: 4, last: time.Now()})

	rec := httptest.NewRecorder()
	s.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var h Health
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, int64(4), h.AnomaliesReceived)
	assert.Equal(t, 1, h.VehiclesSeen)
	assert.Equal(t, 0, h.DashboardClients)
}

func TestHubBroadcastDropsNobodyConnected(t *testing.T) {
	hub := NewHub(quiet())
	// Broadcasting into an empty hub must be a no-op, not a panic.
	hub.Broadcast(anomaly("A", 1, "sudden_deceleration", telemetry.SeverityWarning))
	assert.Equal(t, 0, hub.Clients())
}

func TestConsumerHandleMessage(t *testing.T) {
	agg := NewAggregator()
	c := &Consumer{
		agg:     agg,
		hub:     NewHub(quiet()),
		log:     quiet(),
		backoff: bus.DefaultBackoff(),
	}

	a := anomaly("A", 9, "sudden_deceleration", telemetry.SeverityCritical)
	payload, err := telemetry.EncodeAnomaly(a)
	require.NoError(t, err)

	c.handleMessage(t.Context(), payload)
	c.handleMessage(t.Context(), []byte("not json"))

	assert.Equal(t, int64(1), c.Received())
	assert.Equal(t, a.EventTime.UnixNano(), c.LastEventTime().UnixNano())
	require.NotNil(t, agg.Vehicle("A"))
	assert.Equal(t, int64(1), agg.Vehicle("A").Total)
}
