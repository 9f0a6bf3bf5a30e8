// Package handler exposes the session lifecycle over HTTP/JSON.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"embedded-session-auth/internal/server/middleware"
	"embedded-session-auth/internal/session/service"
)

// Handler serves the /v1/sessions endpoints.
type Handler struct {
	svc *service.Service
}

func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the session routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/v1/sessions/issue", h.Issue).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions/rotate", h.Rotate).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions/revoke", h.Revoke).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions/revoke-subject", h.RevokeSubject).Methods(http.MethodPost)
	r.HandleFunc("/v1/sessions/introspect", h.Introspect).Methods(http.MethodGet)
}

type issueRequest struct {
	WorkspaceID string `json:"workspace_id"`
	SubjectID   string `json:"subject_id"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

type rotateRequest struct {
	RefreshToken string `json:"refresh_token"`
	Fingerprint  string `json:"fingerprint,omitempty"`
}

type revokeRequest struct {
	FamilyID     string `json:"family_id,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type revokeSubjectRequest struct {
	WorkspaceID string `json:"workspace_id"`
	SubjectID   string `json:"subject_id"`
}

type tokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	FamilyID         string    `json:"family_id"`
	TokenType        string    `json:"token_type"`
}

type apiError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
}

func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.WorkspaceID == "" || req.SubjectID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "workspace_id and subject_id are required")
		return
	}
	pair, err := h.svc.Issue(r.Context(), req.WorkspaceID, req.SubjectID, req.Fingerprint, middleware.ClientIP(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairResponse(pair))
}

func (h *Handler) Rotate(w http.ResponseWriter, r *http.Request) {
	var req rotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "refresh_token is required")
		return
	}
	pair, err := h.svc.Rotate(r.Context(), req.RefreshToken, req.Fingerprint, middleware.ClientIP(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairResponse(pair))
}

// Revoke is idempotent: revoking an unknown or already-revoked family still
// returns 204.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.FamilyID == "" && req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "family_id or refresh_token is required")
		return
	}
	if err := h.svc.Revoke(r.Context(), req.FamilyID, req.RefreshToken, middleware.ClientIP(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RevokeSubject(w http.ResponseWriter, r *http.Request) {
	var req revokeSubjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.WorkspaceID == "" || req.SubjectID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "workspace_id and subject_id are required")
		return
	}
	n, err := h.svc.RevokeAllForSubject(r.Context(), req.WorkspaceID, req.SubjectID, middleware.ClientIP(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked_families": n})
}

// Introspect verifies the bearer access token and returns its claims.
func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" || raw == r.Header.Get("Authorization") {
		writeError(w, http.StatusUnauthorized, "invalid_token", "bearer access token required")
		return
	}
	claims, err := h.svc.ValidateAccess(r.Context(), raw)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"workspace_id": claims.WorkspaceID,
		"subject_id":   claims.Subject,
		"family_id":    claims.FamilyID,
		"token_id":     claims.ID,
		"expires_at":   claims.ExpiresAt.Time.UTC().Format(time.RFC3339),
	})
}

func pairResponse(p *service.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
		FamilyID:         p.FamilyID,
		TokenType:        "Bearer",
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	var rle *service.RateLimitError
	switch {
	case errors.As(err, &rle):
		secs := int(rle.RetryAfter.Round(time.Second).Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
	case errors.Is(err, service.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
	case errors.Is(err, service.ErrReuseDetected):
		writeError(w, http.StatusForbidden, "reuse_detected", "refresh token reuse detected; session family revoked")
	case errors.Is(err, service.ErrExpiredToken):
		writeError(w, http.StatusUnauthorized, "expired_token", "refresh token expired")
	case errors.Is(err, service.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
	case errors.Is(err, service.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "session storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Code: code, Message: message})
}
