// Package handler serves liveness and readiness probes.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Checker reports whether one dependency is reachable.
type Checker func(ctx context.Context) error

// Handler serves /healthz and /readyz.
type Handler struct {
	checks map[string]Checker
}

func New(checks map[string]Checker) *Handler {
	return &Handler{checks: checks}
}

// Register mounts the probe routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/healthz", h.Live).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.Ready).Methods(http.MethodGet)
}

// Live reports process liveness only.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready runs every dependency check with a short deadline and reports 503 if
// any fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	out := make(map[string]string, len(h.checks))
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			out[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		out[name] = "ok"
	}
	writeStatus(w, status, out)
}

func writeStatus(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
