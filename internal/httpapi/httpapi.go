// Package httpapi exposes the kiosk's ambient HTTP surface: liveness and
// Prometheus metrics for operators, and a websocket feed of outcome.Bus
// events for the kiosk screen and any secondary display.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/attendo/kiosk-engine/internal/boundary"
	"github.com/attendo/kiosk-engine/internal/health"
	"github.com/attendo/kiosk-engine/internal/outcome"
)

// Server wires the kiosk's HTTP routes together.
type Server struct {
	Bus    outcome.Bus
	Health *health.Recorder
	Manual *boundary.ManualAdapter

	router *mux.Router
}

// NewServer builds the router. allowedOrigins controls which Origin
// headers the /outcomes websocket upgrade accepts; "*" allows any.
// manual may be nil, in which case /intake/manual is not registered.
func NewServer(bus outcome.Bus, rec *health.Recorder, manual *boundary.ManualAdapter, allowedOrigins []string) *Server {
	s := &Server{Bus: bus, Health: rec, Manual: manual}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/outcomes", newOutcomesHandler(bus, allowedOrigins)).Methods(http.MethodGet)
	if manual != nil {
		s.router.HandleFunc("/intake/manual", s.handleManualIntake).Methods(http.MethodPost)
	}
	return s
}

// Router returns the underlying mux.Router for use with http.Server.
func (s *Server) Router() *mux.Router { return s.router }

type manualIntakeRequest struct {
	SubjectID string `json:"subject_id"`
}

// handleManualIntake accepts a typed-id submission from the kiosk screen's
// keypad fallback and forwards it to the engine; the response is just an
// ack, since the actual accept/reject decision arrives asynchronously on
// /outcomes.
func (s *Server) handleManualIntake(w http.ResponseWriter, r *http.Request) {
	var req manualIntakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.Manual.Submit(r.Context(), req.SubjectID)
	w.WriteHeader(http.StatusAccepted)
}

type healthzResponse struct {
	Status    string    `json:"status"`
	FatalCode string    `json:"fatal_code,omitempty"`
	FatalAt   time.Time `json:"fatal_at,omitempty"`
	FatalErr  string    `json:"fatal_error,omitempty"`
}

// handleHealthz reports liveness. A fatal infrastructure error recorded
// since startup downgrades the status but never stops the process: the
// engine keeps serving subsequent events regardless.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	fatal, ok := s.Health.Latest()
	if !ok {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(healthzResponse{Status: "ok"})
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(healthzResponse{
		Status:    "degraded",
		FatalCode: fatal.Code,
		FatalAt:   fatal.At,
		FatalErr:  fatal.Err.Error(),
	})
}
