package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	auditdomain "embedded-session-auth/internal/audit/domain"
	"embedded-session-auth/internal/session/domain"
)

func seedFamily(t *testing.T, s *MemoryStore, familyID, tokenID, hash string) {
	t.Helper()
	now := time.Now().UTC()
	f := &domain.Family{ID: familyID, WorkspaceID: "ws-1", SubjectID: "sub-1", Status: domain.FamilyStatusActive, CreatedAt: now}
	tok := &domain.Token{ID: tokenID, FamilyID: familyID, SecretHash: hash, State: domain.TokenStateActive, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	ev := auditdomain.New(auditdomain.KindIssued, now, familyID, tokenID, "", "", "")
	if err := s.CreateFamily(context.Background(), f, tok, ev); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestMemoryStore_LookupByHash(t *testing.T) {
	s := NewMemoryStore()
	seedFamily(t, s, "fam-1", "tok-1", "hash-1")
	ctx := context.Background()

	tok, fam, err := s.GetTokenBySecretHash(ctx, "hash-1")
	if err != nil || tok == nil || fam == nil {
		t.Fatalf("lookup: tok=%v fam=%v err=%v", tok, fam, err)
	}
	if tok.ID != "tok-1" || fam.ID != "fam-1" {
		t.Errorf("resolved %s/%s, want tok-1/fam-1", tok.ID, fam.ID)
	}

	tok, fam, err = s.GetTokenBySecretHash(ctx, "unknown")
	if err != nil || tok != nil || fam != nil {
		t.Error("unknown hash must resolve to nils")
	}
}

func TestMemoryStore_RotateOnlyOneWinner(t *testing.T) {
	s := NewMemoryStore()
	seedFamily(t, s, "fam-1", "tok-1", "hash-1")
	ctx := context.Background()
	now := time.Now().UTC()

	const racers = 20
	var wg sync.WaitGroup
	wins := make([]bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			succ := &domain.Token{
				ID: "succ", FamilyID: "fam-1", SecretHash: "hash-2",
				State: domain.TokenStateActive, IssuedAt: now, ExpiresAt: now.Add(time.Hour),
			}
			ev := auditdomain.New(auditdomain.KindRotated, now, "fam-1", "succ", "", "", "")
			won, err := s.Rotate(ctx, "tok-1", now, succ, ev)
			if err != nil {
				t.Errorf("rotate: %v", err)
			}
			wins[i] = won
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, w := range wins {
		if w {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}

	pred, _ := s.GetToken(ctx, "tok-1")
	if pred.State != domain.TokenStateConsumed {
		t.Errorf("predecessor state = %s, want consumed", pred.State)
	}
	if pred.SuccessorID != "succ" {
		t.Errorf("successor link = %q, want succ", pred.SuccessorID)
	}
	if pred.ConsumedAt == nil {
		t.Error("consumed_at must be stamped")
	}
}

func TestMemoryStore_SingleActiveInvariant(t *testing.T) {
	s := NewMemoryStore()
	seedFamily(t, s, "fam-1", "tok-1", "hash-1")
	ctx := context.Background()
	now := time.Now().UTC()

	// Rotate through three generations; at each step exactly one token in the
	// family is Active.
	prev := "tok-1"
	for gen := 2; gen <= 4; gen++ {
		succ := &domain.Token{
			ID: fmt.Sprintf("tok-%d", gen), FamilyID: "fam-1", SecretHash: fmt.Sprintf("hash-%d", gen),
			State: domain.TokenStateActive, IssuedAt: now.Add(time.Duration(gen) * time.Second), ExpiresAt: now.Add(time.Hour),
		}
		won, err := s.Rotate(ctx, prev, now, succ, auditdomain.New(auditdomain.KindRotated, now, "fam-1", succ.ID, "", "", ""))
		if err != nil || !won {
			t.Fatalf("gen %d: won=%v err=%v", gen, won, err)
		}
		active := 0
		for _, tok := range s.TokensByFamily("fam-1") {
			if tok.State == domain.TokenStateActive {
				active++
			}
		}
		if active != 1 {
			t.Fatalf("gen %d: active tokens = %d, want 1", gen, active)
		}
		prev = succ.ID
	}
}

func TestMemoryStore_RevokeFamilyCascades(t *testing.T) {
	s := NewMemoryStore()
	seedFamily(t, s, "fam-1", "tok-1", "hash-1")
	ctx := context.Background()
	now := time.Now().UTC()
	succ := &domain.Token{ID: "tok-2", FamilyID: "fam-1", SecretHash: "hash-2", State: domain.TokenStateActive, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	s.Rotate(ctx, "tok-1", now, succ, auditdomain.New(auditdomain.KindRotated, now, "fam-1", "tok-2", "", "", ""))

	changed, err := s.RevokeFamily(ctx, "fam-1", auditdomain.New(auditdomain.KindReuseDetected, now, "fam-1", "tok-1", "", "", ""))
	if err != nil || !changed {
		t.Fatalf("revoke: changed=%v err=%v", changed, err)
	}
	for _, tok := range s.TokensByFamily("fam-1") {
		if tok.State != domain.TokenStateRevoked {
			t.Errorf("token %s state = %s, want revoked", tok.ID, tok.State)
		}
	}
	if s.GetFamily("fam-1").Status != domain.FamilyStatusRevoked {
		t.Error("family must be revoked")
	}

	// Idempotent: second revoke is a no-op, no extra audit event.
	before := len(s.EventsByFamily("fam-1"))
	changed, err = s.RevokeFamily(ctx, "fam-1", auditdomain.New(auditdomain.KindRevoked, now, "fam-1", "", "", "", ""))
	if err != nil || changed {
		t.Fatalf("second revoke: changed=%v err=%v", changed, err)
	}
	if got := len(s.EventsByFamily("fam-1")); got != before {
		t.Errorf("events = %d, want %d (no audit for a no-op)", got, before)
	}
}

func TestMemoryStore_RevokeAllForSubject(t *testing.T) {
	s := NewMemoryStore()
	seedFamily(t, s, "fam-1", "tok-1", "hash-1")
	seedFamily(t, s, "fam-2", "tok-2", "hash-2")
	ctx := context.Background()

	n, err := s.RevokeAllForSubject(ctx, "ws-1", "sub-1", &auditdomain.Event{Kind: auditdomain.KindRevoked, At: time.Now().UTC()})
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 2 {
		t.Errorf("revoked = %d, want 2", n)
	}
	if s.GetFamily("fam-1").Status != domain.FamilyStatusRevoked || s.GetFamily("fam-2").Status != domain.FamilyStatusRevoked {
		t.Error("both families must be revoked")
	}
	if n, _ := s.RevokeAllForSubject(ctx, "ws-1", "sub-1", &auditdomain.Event{Kind: auditdomain.KindRevoked}); n != 0 {
		t.Errorf("second pass revoked %d, want 0", n)
	}
}

func TestMemoryStore_AuditErrAbortsTransition(t *testing.T) {
	s := NewMemoryStore()
	seedFamily(t, s, "fam-1", "tok-1", "hash-1")
	s.AuditErr = errors.New("audit sink down")
	ctx := context.Background()
	now := time.Now().UTC()

	succ := &domain.Token{ID: "tok-2", FamilyID: "fam-1", SecretHash: "hash-2", State: domain.TokenStateActive, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	won, err := s.Rotate(ctx, "tok-1", now, succ, auditdomain.New(auditdomain.KindRotated, now, "fam-1", "tok-2", "", "", ""))
	if won || err == nil {
		t.Fatalf("rotate with failing audit: won=%v err=%v", won, err)
	}
	tok, _ := s.GetToken(ctx, "tok-1")
	if tok.State != domain.TokenStateActive {
		t.Error("failed audit must leave the predecessor Active")
	}
	if tok2, _ := s.GetToken(ctx, "tok-2"); tok2 != nil {
		t.Error("failed audit must not persist the successor")
	}
}

func TestMemoryStore_PurgeExpired(t *testing.T) {
	s := NewMemoryStore()
	seedFamily(t, s, "fam-1", "tok-1", "hash-1")
	ctx := context.Background()
	now := time.Now().UTC()

	s.RevokeFamily(ctx, "fam-1", auditdomain.New(auditdomain.KindRevoked, now, "fam-1", "", "", "", ""))

	// Horizon before expiry: nothing purged.
	n, err := s.PurgeExpired(ctx, now)
	if err != nil || n != 0 {
		t.Fatalf("early purge: n=%d err=%v", n, err)
	}

	n, err = s.PurgeExpired(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 2 { // one token, one empty family
		t.Errorf("purged = %d, want 2", n)
	}
	if s.GetFamily("fam-1") != nil {
		t.Error("empty revoked family must be deleted")
	}
}
