// Package handler exposes the audit trail read side over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"embedded-session-auth/internal/audit/domain"
)

// Lister reads audit events for one family.
type Lister interface {
	ListByFamily(ctx context.Context, familyID string, limit, offset int32) ([]*domain.Event, error)
}

// Handler serves the audit trail for a session family.
type Handler struct {
	repo Lister
}

func New(repo Lister) *Handler {
	return &Handler{repo: repo}
}

// Register mounts the audit routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/v1/sessions/families/{familyID}/audit", h.ListByFamily).Methods(http.MethodGet)
}

type eventResponse struct {
	ID              string    `json:"id"`
	FamilyID        string    `json:"family_id,omitempty"`
	TokenID         string    `json:"token_id,omitempty"`
	Kind            string    `json:"kind"`
	At              time.Time `json:"at"`
	NetworkAddress  string    `json:"network_address,omitempty"`
	FingerprintHash string    `json:"fingerprint_hash,omitempty"`
	Detail          string    `json:"detail,omitempty"`
}

// ListByFamily returns the family's audit events in causal order. limit
// defaults to 100 and caps at 1000.
func (h *Handler) ListByFamily(w http.ResponseWriter, r *http.Request) {
	familyID := mux.Vars(r)["familyID"]
	limit := queryInt(r, "limit", 100)
	if limit > 1000 {
		limit = 1000
	}
	offset := queryInt(r, "offset", 0)

	events, err := h.repo.ListByFamily(r.Context(), familyID, limit, offset)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error_code": "storage_unavailable", "error_message": "audit storage unavailable"})
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse{
			ID:              ev.ID,
			FamilyID:        ev.FamilyID,
			TokenID:         ev.TokenID,
			Kind:            string(ev.Kind),
			At:              ev.At,
			NetworkAddress:  ev.NetworkAddress,
			FingerprintHash: ev.FingerprintHash,
			Detail:          ev.Detail,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"events": out})
}

func queryInt(r *http.Request, name string, fallback int32) int32 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n < 0 {
		return fallback
	}
	return int32(n)
}
