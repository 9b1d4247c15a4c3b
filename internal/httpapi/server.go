// Package httpapi serves the read-only status surface of a long-running
// watcher: health, the last run, stored stations and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/stationbot/internal/stationbot/store"
)

type Dependencies struct {
	Logger   zerolog.Logger
	Addr     string
	Stations store.StationStore
	Tracker  *RunTracker
	Gatherer prometheus.Gatherer // optional; /metrics is not served without it

	// StaleAfter marks the watcher unhealthy when no run has finished for
	// this long. Zero disables the check.
	StaleAfter time.Duration
}

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
	mux        *http.ServeMux
	stations   store.StationStore
	tracker    *RunTracker
	staleAfter time.Duration
	now        func() time.Time
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	tracker := d.Tracker
	if tracker == nil {
		tracker = NewRunTracker()
	}

	s := &Server{
		logger:     d.Logger,
		mux:        mux,
		stations:   d.Stations,
		tracker:    tracker,
		staleAfter: d.StaleAfter,
		now:        time.Now,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/stations/{id}", s.handleStation)
	if d.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleHealth returns 503 when the last run failed or runs have stopped
// finishing.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()

	status, reason := http.StatusOK, "ok"
	switch {
	case snap.Runs == 0:
		reason = "starting"
	case snap.LastErr != nil:
		status, reason = http.StatusServiceUnavailable, "last_run_failed"
	case s.staleAfter > 0 && s.now().Sub(snap.FinishedAt) > s.staleAfter:
		status, reason = http.StatusServiceUnavailable, "stale"
	}

	writeJSON(w, status, healthResponse{OK: status == http.StatusOK, Status: reason})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	if snap.Runs == 0 {
		writeError(w, http.StatusNotFound, "no_runs", "no run has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, statusToWire(snap))
}

func (s *Server) handleStation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_station_id", "station id required")
		return
	}

	rec, ok, err := s.stations.Get(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Str("station_id", id).Msg("station lookup failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_station", "station has not been recorded")
		return
	}

	writeJSON(w, http.StatusOK, stationToWire(rec))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}
