package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	auditdomain "embedded-session-auth/internal/audit/domain"
	"embedded-session-auth/internal/ratelimit"
	"embedded-session-auth/internal/security"
	"embedded-session-auth/internal/session/domain"
)

// Issue creates a new session family with its first refresh-token generation
// and a paired access token. The rate limiter is consulted first; a denied
// attempt is audited and no family is created.
//
// Issue does not dedupe retries itself: callers are expected to send an
// idempotency key with the initial request at the transport layer.
func (s *Service) Issue(ctx context.Context, workspaceID, subjectID, fingerprint, networkAddress string) (*TokenPair, error) {
	if workspaceID == "" {
		return nil, errors.New("workspace id is required")
	}
	if subjectID == "" {
		return nil, errors.New("subject id is required")
	}
	fingerprintHash := security.HashFingerprint(fingerprint)

	key := ratelimit.Key{WorkspaceID: workspaceID, SubjectID: subjectID, NetworkAddress: networkAddress}
	if err := s.admit(ctx, key, ratelimit.ClassIssue, "", fingerprintHash); err != nil {
		return nil, err
	}

	now := s.nowF()
	refreshToken, err := security.NewRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("mint refresh secret: %w", err)
	}

	family := &domain.Family{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		SubjectID:   subjectID,
		Status:      domain.FamilyStatusActive,
		CreatedAt:   now,
	}
	if err := family.Validate(); err != nil {
		return nil, err
	}
	token := &domain.Token{
		ID:              uuid.New().String(),
		FamilyID:        family.ID,
		SecretHash:      security.HashRefreshToken(refreshToken),
		State:           domain.TokenStateActive,
		IssuedAt:        now,
		ExpiresAt:       now.Add(s.cfg.RefreshTTL),
		FingerprintHash: fingerprintHash,
		NetworkAddress:  networkAddress,
	}

	accessToken, accessExpiresAt, err := s.access.Issue(family.ID, token.ID, workspaceID, subjectID, now)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	ev := auditdomain.New(auditdomain.KindIssued, now, family.ID, token.ID, networkAddress, fingerprintHash, "")
	if err := s.store.CreateFamily(ctx, family, token, ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.metrics.Issued(ctx)
	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: token.ExpiresAt,
		FamilyID:         family.ID,
	}, nil
}
