package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind classifies a security-relevant transition.
type Kind string

const (
	KindIssued        Kind = "issued"
	KindRotated       Kind = "rotated"
	KindReuseDetected Kind = "reuse_detected"
	KindRevoked       Kind = "revoked"
	KindRateLimited   Kind = "rate_limited"
	KindExpired       Kind = "expired"
)

// Event is one append-only audit record. Events are never updated or deleted.
// IDs are ULIDs, so events for the same chain sort lexicographically in the
// order they were recorded.
type Event struct {
	ID              string
	FamilyID        string // empty for denials with no family (rate-limited issue)
	TokenID         string // empty when the event is family-scoped
	Kind            Kind
	At              time.Time
	NetworkAddress  string
	FingerprintHash string
	Detail          string
}

// New builds an event with a fresh ULID and the given timestamp.
func New(kind Kind, at time.Time, familyID, tokenID, networkAddress, fingerprintHash, detail string) *Event {
	return &Event{
		ID:              ulid.Make().String(),
		FamilyID:        familyID,
		TokenID:         tokenID,
		Kind:            kind,
		At:              at,
		NetworkAddress:  networkAddress,
		FingerprintHash: fingerprintHash,
		Detail:          detail,
	}
}
