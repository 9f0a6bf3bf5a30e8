// Package repository persists session families, token generations, and their
// audit records. Every mutating operation commits a family-scoped transaction
// together with its audit event, so no state transition outlives a failed
// audit write.
package repository

import (
	"context"
	"time"

	auditdomain "embedded-session-auth/internal/audit/domain"
	"embedded-session-auth/internal/session/domain"
)

// Store is the single owner of persisted session rows. Only the issuer and
// rotation engine call it.
type Store interface {
	// GetTokenBySecretHash resolves a presented secret's hash to its token and
	// family. Returns (nil, nil, nil) when the hash is unknown.
	GetTokenBySecretHash(ctx context.Context, secretHash string) (*domain.Token, *domain.Family, error)

	// GetToken returns the token for id, or nil if not found.
	GetToken(ctx context.Context, id string) (*domain.Token, error)

	// CreateFamily inserts a new family with its first Active generation and
	// the Issued audit event in one transaction.
	CreateFamily(ctx context.Context, f *domain.Family, t *domain.Token, ev *auditdomain.Event) error

	// Rotate transitions predecessorID from Active to Consumed, stamps
	// consumedAt, links and inserts the successor, and appends the Rotated
	// audit event, all in one transaction guarded by a conditional update on
	// the predecessor's state. Returns false when the predecessor was no
	// longer Active, leaving the store untouched (the caller lost the race or
	// is replaying).
	Rotate(ctx context.Context, predecessorID string, consumedAt time.Time, successor *domain.Token, ev *auditdomain.Event) (bool, error)

	// MarkTokenDead transitions an Active token to Dead (benign expiry) and
	// appends ev. Returns false when the token was not Active.
	MarkTokenDead(ctx context.Context, tokenID string, ev *auditdomain.Event) (bool, error)

	// RevokeFamily revokes the family and every generation in it with a
	// single family-keyed sweep, appending ev. Returns false without
	// touching the store when the family was already revoked or unknown.
	RevokeFamily(ctx context.Context, familyID string, ev *auditdomain.Event) (bool, error)

	// RevokeAllForSubject revokes every active family for the workspace and
	// subject, appending one ev per revoked family. Returns the number of
	// families revoked.
	RevokeAllForSubject(ctx context.Context, workspaceID, subjectID string, evTemplate *auditdomain.Event) (int, error)

	// PurgeExpired deletes Dead and Revoked generations whose expiry is
	// before the horizon, and revoked families left with no generations.
	// Maintenance only; never on the hot path.
	PurgeExpired(ctx context.Context, horizon time.Time) (int64, error)
}
