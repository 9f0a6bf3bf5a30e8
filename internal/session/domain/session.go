package domain

import (
	"errors"
	"time"
)

// FamilyStatus is the lifecycle status of a session family.
type FamilyStatus string

const (
	FamilyStatusActive  FamilyStatus = "active"
	FamilyStatusRevoked FamilyStatus = "revoked"
)

// TokenState is the lifecycle state of one refresh-token generation.
type TokenState string

const (
	// TokenStateActive is the single live generation in a family.
	TokenStateActive TokenState = "active"
	// TokenStateConsumed means a successor has been minted; re-presentation
	// within the grace window is a benign retry.
	TokenStateConsumed TokenState = "consumed"
	// TokenStateDead is terminal: the generation expired or its grace window
	// elapsed after consumption.
	TokenStateDead TokenState = "dead"
	// TokenStateRevoked is terminal: the whole family was invalidated.
	TokenStateRevoked TokenState = "revoked"
)

// Family is the unit of trust: the full chain of refresh-token generations
// descended from one initial issuance. Revocation applies to the whole family.
type Family struct {
	ID          string
	WorkspaceID string
	SubjectID   string
	Status      FamilyStatus
	CreatedAt   time.Time
}

// Token is one refresh-token generation within a family. The raw secret is
// never stored; SecretHash is its SHA-256 hash.
type Token struct {
	ID              string
	FamilyID        string
	SecretHash      string
	State           TokenState
	IssuedAt        time.Time
	ExpiresAt       time.Time
	ConsumedAt      *time.Time // nil until rotated
	SuccessorID     string     // empty until rotated
	FingerprintHash string
	NetworkAddress  string
}

// Validate validates the family for persistence.
func (f *Family) Validate() error {
	if f.WorkspaceID == "" {
		return errors.New("workspace id is required")
	}
	if f.SubjectID == "" {
		return errors.New("subject id is required")
	}
	if f.Status == "" {
		f.Status = FamilyStatusActive
	}
	return nil
}

// Expired reports whether the token is past its own expiry at now.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// WithinGrace reports whether a consumed token is still inside its grace
// window at now. Each generation tracks its own window from its ConsumedAt;
// windows never compound across a family. Returns false for tokens that were
// never consumed.
func (t *Token) WithinGrace(now time.Time, grace time.Duration) bool {
	if t.State != TokenStateConsumed || t.ConsumedAt == nil {
		return false
	}
	return now.Sub(*t.ConsumedAt) <= grace
}

// IsReuse is the reuse predicate: a token presented in a Dead or Revoked
// state, or Consumed with its grace window already elapsed, is a replay
// against the family. Pure; callers apply the family cascade.
func IsReuse(t *Token, now time.Time, grace time.Duration) bool {
	switch t.State {
	case TokenStateDead, TokenStateRevoked:
		return true
	case TokenStateConsumed:
		return !t.WithinGrace(now, grace)
	default:
		return false
	}
}
