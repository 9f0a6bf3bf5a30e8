package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	auditdomain "embedded-session-auth/internal/audit/domain"
	"embedded-session-auth/internal/session/domain"
)

// MemoryStore is an in-process Store for tests and single-node development.
// It also acts as the audit sink, mirroring the production layout where
// session rows and the audit log share one database. AuditErr injects audit
// write failures: every mutating operation checks it before touching state,
// which models the transaction abort of the Postgres store.
type MemoryStore struct {
	mu       sync.RWMutex
	families map[string]*domain.Family
	tokens   map[string]*domain.Token
	byHash   map[string]string // secret hash -> token ID
	events   []*auditdomain.Event

	AuditErr error
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		families: make(map[string]*domain.Family),
		tokens:   make(map[string]*domain.Token),
		byHash:   make(map[string]string),
	}
}

// GetTokenBySecretHash resolves a secret hash to copies of its token and
// family. Returns (nil, nil, nil) when the hash is unknown.
func (s *MemoryStore) GetTokenBySecretHash(ctx context.Context, secretHash string) (*domain.Token, *domain.Family, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[secretHash]
	if !ok {
		return nil, nil, nil
	}
	t := s.tokens[id]
	f := s.families[t.FamilyID]
	tc, fc := *t, *f
	return &tc, &fc, nil
}

// GetToken returns a copy of the token for id, or nil if not found.
func (s *MemoryStore) GetToken(ctx context.Context, id string) (*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, nil
	}
	tc := *t
	return &tc, nil
}

// CreateFamily inserts the family, its first generation, and the Issued event.
func (s *MemoryStore) CreateFamily(ctx context.Context, f *domain.Family, t *domain.Token, ev *auditdomain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AuditErr != nil {
		return s.AuditErr
	}
	fc, tc := *f, *t
	s.families[fc.ID] = &fc
	s.tokens[tc.ID] = &tc
	s.byHash[tc.SecretHash] = tc.ID
	s.events = append(s.events, ev)
	return nil
}

// Rotate applies the Active -> Consumed transition and inserts the successor.
// Returns false, leaving the store untouched, when the predecessor is no
// longer Active.
func (s *MemoryStore) Rotate(ctx context.Context, predecessorID string, consumedAt time.Time, successor *domain.Token, ev *auditdomain.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pred, ok := s.tokens[predecessorID]
	if !ok || pred.State != domain.TokenStateActive {
		return false, nil
	}
	if s.AuditErr != nil {
		return false, s.AuditErr
	}
	at := consumedAt
	pred.State = domain.TokenStateConsumed
	pred.ConsumedAt = &at
	pred.SuccessorID = successor.ID
	tc := *successor
	s.tokens[tc.ID] = &tc
	s.byHash[tc.SecretHash] = tc.ID
	s.events = append(s.events, ev)
	return true, nil
}

// MarkTokenDead transitions an Active token to Dead.
func (s *MemoryStore) MarkTokenDead(ctx context.Context, tokenID string, ev *auditdomain.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenID]
	if !ok || t.State != domain.TokenStateActive {
		return false, nil
	}
	if s.AuditErr != nil {
		return false, s.AuditErr
	}
	t.State = domain.TokenStateDead
	s.events = append(s.events, ev)
	return true, nil
}

// RevokeFamily revokes the family and all its generations.
func (s *MemoryStore) RevokeFamily(ctx context.Context, familyID string, ev *auditdomain.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.families[familyID]
	if !ok || f.Status != domain.FamilyStatusActive {
		return false, nil
	}
	if s.AuditErr != nil {
		return false, s.AuditErr
	}
	s.revokeFamilyLocked(familyID)
	s.events = append(s.events, ev)
	return true, nil
}

// RevokeAllForSubject revokes every active family for (workspace, subject).
func (s *MemoryStore) RevokeAllForSubject(ctx context.Context, workspaceID, subjectID string, evTemplate *auditdomain.Event) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AuditErr != nil {
		return 0, s.AuditErr
	}
	revoked := 0
	for id, f := range s.families {
		if f.WorkspaceID != workspaceID || f.SubjectID != subjectID || f.Status != domain.FamilyStatusActive {
			continue
		}
		s.revokeFamilyLocked(id)
		ev := *evTemplate
		ev.ID = ulid.Make().String()
		ev.FamilyID = id
		s.events = append(s.events, &ev)
		revoked++
	}
	return revoked, nil
}

// PurgeExpired deletes terminal generations past the horizon and empty
// revoked families.
func (s *MemoryStore) PurgeExpired(ctx context.Context, horizon time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	remaining := make(map[string]int)
	for id, t := range s.tokens {
		terminal := t.State == domain.TokenStateDead || t.State == domain.TokenStateRevoked
		if terminal && t.ExpiresAt.Before(horizon) {
			delete(s.tokens, id)
			delete(s.byHash, t.SecretHash)
			total++
			continue
		}
		remaining[t.FamilyID]++
	}
	for id, f := range s.families {
		if f.Status == domain.FamilyStatusRevoked && remaining[id] == 0 {
			delete(s.families, id)
			total++
		}
	}
	return total, nil
}

func (s *MemoryStore) revokeFamilyLocked(familyID string) {
	s.families[familyID].Status = domain.FamilyStatusRevoked
	for _, t := range s.tokens {
		if t.FamilyID == familyID {
			t.State = domain.TokenStateRevoked
		}
	}
}

// Append implements the audit appender against the same store, mirroring the
// shared-database layout of production.
func (s *MemoryStore) Append(ctx context.Context, ev *auditdomain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AuditErr != nil {
		return s.AuditErr
	}
	s.events = append(s.events, ev)
	return nil
}

// EventsByFamily returns recorded events for the family in ID (insertion)
// order. Test helper.
func (s *MemoryStore) EventsByFamily(familyID string) []*auditdomain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*auditdomain.Event
	for _, ev := range s.events {
		if ev.FamilyID == familyID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Events returns all recorded events. Test helper.
func (s *MemoryStore) Events() []*auditdomain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*auditdomain.Event(nil), s.events...)
}

// TokensByFamily returns copies of the family's generations. Test helper.
func (s *MemoryStore) TokensByFamily(familyID string) []*domain.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Token
	for _, t := range s.tokens {
		if t.FamilyID == familyID {
			tc := *t
			out = append(out, &tc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}

// GetFamily returns a copy of the family for id, or nil. Test helper.
func (s *MemoryStore) GetFamily(id string) *domain.Family {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.families[id]
	if !ok {
		return nil
	}
	fc := *f
	return &fc
}
