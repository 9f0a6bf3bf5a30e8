package domain

import (
	"testing"
	"time"
)

func consumedAt(t time.Time) *time.Time { return &t }

func TestIsReuse_TerminalStates(t *testing.T) {
	now := time.Now().UTC()
	for _, state := range []TokenState{TokenStateDead, TokenStateRevoked} {
		tok := &Token{State: state}
		if !IsReuse(tok, now, 30*time.Second) {
			t.Errorf("state %s: expected reuse", state)
		}
	}
}

func TestIsReuse_ActiveNeverReuse(t *testing.T) {
	now := time.Now().UTC()
	tok := &Token{State: TokenStateActive, ExpiresAt: now.Add(-time.Hour)}
	if IsReuse(tok, now, 30*time.Second) {
		t.Error("active token must not be classified as reuse, even when expired")
	}
}

func TestIsReuse_ConsumedWithinGrace(t *testing.T) {
	now := time.Now().UTC()
	tok := &Token{State: TokenStateConsumed, ConsumedAt: consumedAt(now.Add(-10 * time.Second))}
	if IsReuse(tok, now, 30*time.Second) {
		t.Error("consumed 10s ago with 30s grace must not be reuse")
	}
}

func TestIsReuse_ConsumedPastGrace(t *testing.T) {
	now := time.Now().UTC()
	tok := &Token{State: TokenStateConsumed, ConsumedAt: consumedAt(now.Add(-60 * time.Second))}
	if !IsReuse(tok, now, 30*time.Second) {
		t.Error("consumed 60s ago with 30s grace must be reuse")
	}
}

func TestIsReuse_GraceBoundaryInclusive(t *testing.T) {
	now := time.Now().UTC()
	tok := &Token{State: TokenStateConsumed, ConsumedAt: consumedAt(now.Add(-30 * time.Second))}
	if IsReuse(tok, now, 30*time.Second) {
		t.Error("exactly at the grace boundary is still a benign retry")
	}
}

func TestIsReuse_ConsumedWithoutTimestamp(t *testing.T) {
	// A consumed row with no consumed_at cannot prove it is inside the
	// window, so it counts as reuse.
	now := time.Now().UTC()
	tok := &Token{State: TokenStateConsumed}
	if !IsReuse(tok, now, 30*time.Second) {
		t.Error("consumed token without consumed_at must be reuse")
	}
}

func TestTokenExpired(t *testing.T) {
	now := time.Now().UTC()
	tok := &Token{ExpiresAt: now}
	if !tok.Expired(now) {
		t.Error("token expiring exactly now is expired")
	}
	tok.ExpiresAt = now.Add(time.Minute)
	if tok.Expired(now) {
		t.Error("token expiring in a minute is not expired")
	}
}

func TestFamilyValidate(t *testing.T) {
	f := &Family{WorkspaceID: "ws-1", SubjectID: "sub-1"}
	if err := f.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if f.Status != FamilyStatusActive {
		t.Errorf("status = %q, want %q", f.Status, FamilyStatusActive)
	}
	if err := (&Family{SubjectID: "sub-1"}).Validate(); err == nil {
		t.Error("missing workspace id should fail validation")
	}
	if err := (&Family{WorkspaceID: "ws-1"}).Validate(); err == nil {
		t.Error("missing subject id should fail validation")
	}
}
