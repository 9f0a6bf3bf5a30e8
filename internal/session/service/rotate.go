package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	auditdomain "embedded-session-auth/internal/audit/domain"
	"embedded-session-auth/internal/ratelimit"
	"embedded-session-auth/internal/security"
	"embedded-session-auth/internal/session/domain"
	"embedded-session-auth/internal/session/replaycache"
)

// Replay-cache polling for the loser of a concurrent rotation: the winner
// populates the cache right after its transaction commits, so a short wait
// is enough in practice.
const (
	replayWaitAttempts = 5
	replayWaitInterval = 50 * time.Millisecond
)

// Rotate validates the presented refresh token and either mints the next
// generation, serves a benign replay, or revokes the family on reuse.
func (s *Service) Rotate(ctx context.Context, refreshToken, fingerprint, networkAddress string) (*TokenPair, error) {
	fingerprintHash := security.HashFingerprint(fingerprint)

	if security.CheckRefreshFormat(refreshToken) != nil {
		return nil, s.failAuth(ctx, networkAddress, fingerprintHash, ErrInvalidToken)
	}

	token, family, err := s.store.GetTokenBySecretHash(ctx, security.HashRefreshToken(refreshToken))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	// Constant-time recheck of the resolved row against the presented secret.
	if token == nil || !security.RefreshTokenHashEqual(refreshToken, token.SecretHash) {
		return nil, s.failAuth(ctx, networkAddress, fingerprintHash, ErrInvalidToken)
	}

	key := ratelimit.Key{WorkspaceID: family.WorkspaceID, SubjectID: family.SubjectID, NetworkAddress: networkAddress}
	if err := s.admit(ctx, key, ratelimit.ClassRotate, family.ID, fingerprintHash); err != nil {
		return nil, err
	}

	// A revoked family answers exactly like an unknown token, so a caller
	// cannot learn whether reuse detection fired.
	if family.Status != domain.FamilyStatusActive {
		return nil, s.failAuth(ctx, networkAddress, fingerprintHash, ErrInvalidToken)
	}

	now := s.nowF()
	switch {
	case token.State == domain.TokenStateActive && !token.Expired(now):
		return s.rotateActive(ctx, token, family, fingerprintHash, networkAddress, now)

	case token.State == domain.TokenStateActive:
		// Past its own expiry: benign death of the generation.
		ev := auditdomain.New(auditdomain.KindExpired, now, family.ID, token.ID, networkAddress, fingerprintHash, "")
		if _, err := s.store.MarkTokenDead(ctx, token.ID, ev); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		return nil, s.failAuth(ctx, networkAddress, fingerprintHash, ErrExpiredToken)

	case token.WithinGrace(now, s.cfg.GracePeriod):
		return s.serveReplay(ctx, token)

	case domain.IsReuse(token, now, s.cfg.GracePeriod):
		return nil, s.revokeOnReuse(ctx, token, family, fingerprintHash, networkAddress, now)

	default:
		return nil, s.failAuth(ctx, networkAddress, fingerprintHash, ErrInvalidToken)
	}
}

// rotateActive attempts the Active -> Consumed transition. Exactly one caller
// wins the conditional update; the loser is rerouted to the replay path.
func (s *Service) rotateActive(ctx context.Context, token *domain.Token, family *domain.Family, fingerprintHash, networkAddress string, now time.Time) (*TokenPair, error) {
	refreshToken, err := security.NewRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("mint refresh secret: %w", err)
	}
	successor := &domain.Token{
		ID:              uuid.New().String(),
		FamilyID:        family.ID,
		SecretHash:      security.HashRefreshToken(refreshToken),
		State:           domain.TokenStateActive,
		IssuedAt:        now,
		ExpiresAt:       now.Add(s.cfg.RefreshTTL),
		FingerprintHash: fingerprintHash,
		NetworkAddress:  networkAddress,
	}
	accessToken, accessExpiresAt, err := s.access.Issue(family.ID, successor.ID, family.WorkspaceID, family.SubjectID, now)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	ev := auditdomain.New(auditdomain.KindRotated, now, family.ID, successor.ID, networkAddress, fingerprintHash,
		"predecessor="+token.ID)
	won, err := s.store.Rotate(ctx, token.ID, now, successor, ev)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !won {
		return s.lostRotationRace(ctx, token.ID, fingerprintHash, networkAddress)
	}

	pair := replaycache.Pair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: successor.ExpiresAt,
		FamilyID:         family.ID,
		SuccessorID:      successor.ID,
	}
	if err := s.replays.Put(ctx, token.ID, pair, s.cfg.GracePeriod); err != nil {
		// A lost cache entry only downgrades a later benign replay to
		// re-authentication; the rotation itself already committed.
		s.warnF("replay cache put for token %s: %v", token.ID, err)
	}

	s.metrics.Rotated(ctx)
	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: successor.ExpiresAt,
		FamilyID:         family.ID,
	}, nil
}

// lostRotationRace re-reads the contested token and dispatches on what the
// winner left behind.
func (s *Service) lostRotationRace(ctx context.Context, tokenID, fingerprintHash, networkAddress string) (*TokenPair, error) {
	token, err := s.store.GetToken(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if token == nil {
		return nil, ErrInvalidToken
	}
	now := s.nowF()
	if token.WithinGrace(now, s.cfg.GracePeriod) {
		return s.serveReplay(ctx, token)
	}
	if domain.IsReuse(token, now, s.cfg.GracePeriod) {
		family, err := s.familyOf(ctx, token)
		if err != nil {
			return nil, err
		}
		return nil, s.revokeOnReuse(ctx, token, family, fingerprintHash, networkAddress, now)
	}
	return nil, ErrInvalidToken
}

// serveReplay returns the successor pair minted when the presented token was
// consumed. No Rotated event is recorded for a replay; the rotation already
// has one.
func (s *Service) serveReplay(ctx context.Context, token *domain.Token) (*TokenPair, error) {
	for attempt := 0; ; attempt++ {
		pair, ok, err := s.replays.Get(ctx, token.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if ok {
			s.warnF("replay within grace for token %s served from cache", token.ID)
			s.metrics.Replayed(ctx)
			return &TokenPair{
				AccessToken:      pair.AccessToken,
				RefreshToken:     pair.RefreshToken,
				AccessExpiresAt:  pair.AccessExpiresAt,
				RefreshExpiresAt: pair.RefreshExpiresAt,
				FamilyID:         pair.FamilyID,
			}, nil
		}
		if attempt >= replayWaitAttempts {
			// The cache entry is gone (restart or eviction); the caller must
			// re-authenticate upstream.
			return nil, ErrInvalidToken
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(replayWaitInterval):
		}
	}
}

// revokeOnReuse cascades revocation over the whole family and records the
// detection at top severity.
func (s *Service) revokeOnReuse(ctx context.Context, token *domain.Token, family *domain.Family, fingerprintHash, networkAddress string, now time.Time) error {
	ev := auditdomain.New(auditdomain.KindReuseDetected, now, family.ID, token.ID, networkAddress, fingerprintHash,
		fmt.Sprintf("presented token in state %s", token.State))
	if _, err := s.store.RevokeFamily(ctx, family.ID, ev); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	s.metrics.ReuseDetected(ctx)
	return ErrReuseDetected
}

func (s *Service) familyOf(ctx context.Context, token *domain.Token) (*domain.Family, error) {
	// Reuse after a lost race needs the family row; resolve it through the
	// successor's hash-independent ID lookup.
	t, f, err := s.store.GetTokenBySecretHash(ctx, token.SecretHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if t == nil || f == nil {
		return nil, ErrInvalidToken
	}
	return f, nil
}

// failAuth counts a failed authentication attempt against the presenting
// address and returns authErr, or a rate-limit rejection when the failedAuth
// budget itself is exhausted.
func (s *Service) failAuth(ctx context.Context, networkAddress, fingerprintHash string, authErr error) error {
	key := ratelimit.Key{NetworkAddress: networkAddress}
	if err := s.admit(ctx, key, ratelimit.ClassFailedAuth, "", fingerprintHash); err != nil {
		return err
	}
	return authErr
}
