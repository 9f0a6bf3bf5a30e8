package handler

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"embedded-session-auth/internal/audit"
	"embedded-session-auth/internal/ratelimit"
	"embedded-session-auth/internal/security"
	"embedded-session-auth/internal/session/replaycache"
	"embedded-session-auth/internal/session/repository"
	"embedded-session-auth/internal/session/service"
)

func newTestRouter(t *testing.T, limits ratelimit.Config) *mux.Router {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	access := security.NewAccessTokenProvider(key, &key.PublicKey, "embed-auth", "embed-api", 15*time.Minute)
	store := repository.NewMemoryStore()
	if limits == nil {
		limits = ratelimit.DefaultConfig()
	}
	svc := service.New(
		store,
		ratelimit.NewMemoryLimiter(limits),
		audit.NewRecorder(store),
		replaycache.NewMemoryCache(),
		access,
		nil,
		service.Config{},
	)
	r := mux.NewRouter()
	New(svc).Register(r)
	return r
}

func post(t *testing.T, r *mux.Router, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.RemoteAddr = "10.0.0.1:44321"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodePair(t *testing.T, rec *httptest.ResponseRecorder) tokenPairResponse {
	t.Helper()
	var pair tokenPairResponse
	if err := json.NewDecoder(rec.Body).Decode(&pair); err != nil {
		t.Fatalf("decode pair: %v", err)
	}
	return pair
}

func TestIssueEndpoint(t *testing.T) {
	r := newTestRouter(t, nil)

	rec := post(t, r, "/v1/sessions/issue", issueRequest{WorkspaceID: "ws-1", SubjectID: "sub-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body)
	}
	pair := decodePair(t, rec)
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.TokenType != "Bearer" {
		t.Fatalf("incomplete pair: %+v", pair)
	}

	rec = post(t, r, "/v1/sessions/issue", issueRequest{SubjectID: "sub-1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400 without workspace_id, got %d", rec.Code)
	}
}

func TestRotateEndpoint(t *testing.T) {
	r := newTestRouter(t, nil)

	issued := decodePair(t, post(t, r, "/v1/sessions/issue", issueRequest{WorkspaceID: "ws-1", SubjectID: "sub-1"}))

	rec := post(t, r, "/v1/sessions/rotate", rotateRequest{RefreshToken: issued.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body)
	}
	rotated := decodePair(t, rec)
	if rotated.RefreshToken == issued.RefreshToken {
		t.Fatal("rotation returned the presented refresh token")
	}
}

func TestRotateUnknownToken401(t *testing.T) {
	r := newTestRouter(t, nil)

	secret, err := security.NewRefreshSecret()
	if err != nil {
		t.Fatalf("mint secret: %v", err)
	}
	rec := post(t, r, "/v1/sessions/rotate", rotateRequest{RefreshToken: secret})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rec.Code)
	}
	var apiErr apiError
	if err := json.NewDecoder(rec.Body).Decode(&apiErr); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if apiErr.Code != "invalid_token" {
		t.Fatalf("want invalid_token, got %q", apiErr.Code)
	}
}

func TestReuseDetection403(t *testing.T) {
	r := newTestRouter(t, nil)

	issued := decodePair(t, post(t, r, "/v1/sessions/issue", issueRequest{WorkspaceID: "ws-1", SubjectID: "sub-1"}))
	if rec := post(t, r, "/v1/sessions/rotate", rotateRequest{RefreshToken: issued.RefreshToken}); rec.Code != http.StatusOK {
		t.Fatalf("rotate: %d", rec.Code)
	}
	// Immediate replay is inside the grace window; the real reuse path is
	// covered in the service tests where the clock is controllable. Revoke
	// instead and confirm the family answers 401 afterwards.
	if rec := post(t, r, "/v1/sessions/revoke", revokeRequest{FamilyID: issued.FamilyID}); rec.Code != http.StatusNoContent {
		t.Fatalf("revoke: %d", rec.Code)
	}
	rec := post(t, r, "/v1/sessions/rotate", rotateRequest{RefreshToken: issued.RefreshToken})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401 after revoke, got %d", rec.Code)
	}
}

func TestRevokeEndpointIdempotent(t *testing.T) {
	r := newTestRouter(t, nil)

	issued := decodePair(t, post(t, r, "/v1/sessions/issue", issueRequest{WorkspaceID: "ws-1", SubjectID: "sub-1"}))
	for i := 0; i < 2; i++ {
		rec := post(t, r, "/v1/sessions/revoke", revokeRequest{FamilyID: issued.FamilyID})
		if rec.Code != http.StatusNoContent {
			t.Fatalf("revoke attempt %d: want 204, got %d", i+1, rec.Code)
		}
	}
	rec := post(t, r, "/v1/sessions/revoke", revokeRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400 for empty revoke, got %d", rec.Code)
	}
}

func TestRevokeSubjectEndpoint(t *testing.T) {
	r := newTestRouter(t, nil)

	post(t, r, "/v1/sessions/issue", issueRequest{WorkspaceID: "ws-1", SubjectID: "sub-1"})
	post(t, r, "/v1/sessions/issue", issueRequest{WorkspaceID: "ws-1", SubjectID: "sub-1"})

	rec := post(t, r, "/v1/sessions/revoke-subject", revokeSubjectRequest{WorkspaceID: "ws-1", SubjectID: "sub-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	var out map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["revoked_families"] != 2 {
		t.Fatalf("want 2 revoked families, got %d", out["revoked_families"])
	}
}

func TestRateLimit429WithRetryAfter(t *testing.T) {
	limits := ratelimit.Config{
		ratelimit.ClassIssue: {Size: time.Minute, Max: 1},
	}
	r := newTestRouter(t, limits)

	if rec := post(t, r, "/v1/sessions/issue", issueRequest{WorkspaceID: "ws-1", SubjectID: "sub-1"}); rec.Code != http.StatusOK {
		t.Fatalf("first issue: %d", rec.Code)
	}
	rec := post(t, r, "/v1/sessions/issue", issueRequest{WorkspaceID: "ws-1", SubjectID: "sub-1"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("want 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
}

func TestIntrospectEndpoint(t *testing.T) {
	r := newTestRouter(t, nil)

	issued := decodePair(t, post(t, r, "/v1/sessions/issue", issueRequest{WorkspaceID: "ws-1", SubjectID: "sub-1"}))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/introspect", nil)
	req.Header.Set("Authorization", "Bearer "+issued.AccessToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body)
	}
	var out map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["workspace_id"] != "ws-1" || out["subject_id"] != "sub-1" || out["family_id"] != issued.FamilyID {
		t.Fatalf("unexpected claims: %v", out)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/sessions/introspect", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("want 401 without bearer, got %d", rec.Code)
	}
}
