package repository

import (
	"context"

	"embedded-session-auth/internal/audit/domain"
)

// Repository defines persistence for audit events. Insert-only: no update or
// delete is exposed.
type Repository interface {
	Append(ctx context.Context, ev *domain.Event) error
	ListByFamily(ctx context.Context, familyID string, limit, offset int32) ([]*domain.Event, error)
}
