package supervisor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetgrid/backend/internal/state"
)

// EmitCounter reports anomalies published since start.
type EmitCounter interface {
	Emitted() int64
}

// HealthStatus is the payload of GET /healthz.
type HealthStatus struct {
	Status           string    `json:"status"`
	LastIngested     time.Time `json:"last_ingested"`
	IngestLagSeconds float64   `json:"ingest_lag_seconds"`
	VehiclesTracked  int       `json:"vehicles_tracked"`
	AnomaliesEmitted int64     `json:"anomalies_emitted"`
}

// HealthServer serves liveness counters and Prometheus metrics.
type HealthServer struct {
	source  FrameSource
	store   *state.Store
	emitter EmitCounter
	log     *slog.Logger
	srv     *http.Server
}

// NewHealthServer builds the health endpoint for the detector.
func NewHealthServer(addr string, source FrameSource, store *state.Store, emitter EmitCounter, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	h := &HealthServer{
		source:  source,
		store:   store,
		emitter: emitter,
		log:     logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	h.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return h
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := h.Status()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.log.Warn("encoding health response", "error", err)
	}
}

// Status assembles the current liveness counters.
func (h *HealthServer) Status() HealthStatus {
	last := h.source.LastEventTime()
	lag := 0.0
	if !last.IsZero() {
		lag = time.Since(last).Seconds()
	}
	return HealthStatus{
		Status:           "ok",
		LastIngested:     last,
		IngestLagSeconds: lag,
		VehiclesTracked:  h.store.Count(),
		AnomaliesEmitted: h.emitter.Emitted(),
	}
}

// Run serves until ctx is cancelled, then shuts the listener down.
func (h *HealthServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
	return h.srv.Shutdown(shCtx)
}
