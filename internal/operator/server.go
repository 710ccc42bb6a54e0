package operator

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetgrid/backend/internal/telemetry"
)

// AnomalyFeed is what the server reads consumption progress from.
// *Consumer is the production implementation.
type AnomalyFeed interface {
	Received() int64
	LastEventTime() time.Time
}

// Health is the payload of GET /healthz.
type Health struct {
	Status            string    `json:"status"`
	AnomaliesReceived int64     `json:"anomalies_received"`
	LastAnomalyAt     time.Time `json:"last_anomaly_at"`
	VehiclesSeen      int       `json:"vehicles_seen"`
	DashboardClients  int       `json:"dashboard_clients"`
}

// Server is the operator HTTP surface: fleet and vehicle summaries,
// archived history, the live WebSocket feed, health, and metrics.
type Server struct {
	agg     *Aggregator
	hub     *Hub
	archive *Archive
	feed    AnomalyFeed
	log     *slog.Logger
	srv     *http.Server
}

// NewServer wires the routes. archive may be nil; history requests then
// answer 503.
func NewServer(addr string, agg *Aggregator, hub *Hub, archive *Archive, feed AnomalyFeed, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		agg:     agg,
		hub:     hub,
		archive: archive,
		feed:    feed,
		log:     logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/fleet", s.handleFleet).Methods("GET")
	r.HandleFunc("/api/vehicles/{vehicle_id}", s.handleVehicle).Methods("GET")
	r.HandleFunc("/api/vehicles/{vehicle_id}/history", s.handleHistory).Methods("GET")
	r.HandleFunc("/ws", hub.HandleWebSocket).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) handleFleet(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.agg.Fleet())
}

func (s *Server) handleVehicle(w http.ResponseWriter, r *http.Request) {
	vehicleID := mux.Vars(r)["vehicle_id"]
	v := s.agg.Vehicle(vehicleID)
	if v == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "unknown vehicle " + vehicleID,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "anomaly archive not configured",
		})
		return
	}

	vehicleID := mux.Vars(r)["vehicle_id"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	anomalies, err := s.archive.Recent(r.Context(), vehicleID, limit)
	if err != nil {
		s.log.Warn("querying anomaly history", "vehicle", vehicleID, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "history query failed",
		})
		return
	}
	if anomalies == nil {
		anomalies = []*telemetry.Anomaly{} // encode [] rather than null
	}
	s.writeJSON(w, http.StatusOK, anomalies)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, Health{
		Status:            "ok",
		AnomaliesReceived: s.feed.Received(),
		LastAnomalyAt:     s.feed.LastEventTime(),
		VehiclesSeen:      s.agg.Fleet().Vehicles,
		DashboardClients:  s.hub.Clients(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encoding response", "error", err)
	}
}

// Run serves until ctx is cancelled, then shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("operator API listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.srv.Shutdown(shCtx)
}
