package service

import (
	"context"
	"fmt"

	auditdomain "embedded-session-auth/internal/audit/domain"
	"embedded-session-auth/internal/security"
	"embedded-session-auth/internal/session/domain"
)

// Revoke terminates a family by ID or by one of its refresh tokens. Revoking
// an already-revoked or unknown family succeeds without effect, so callers
// can retry freely.
func (s *Service) Revoke(ctx context.Context, familyID, refreshToken, networkAddress string) error {
	if familyID == "" && refreshToken == "" {
		return fmt.Errorf("%w: family id or refresh token required", ErrInvalidToken)
	}

	tokenID := ""
	if familyID == "" {
		if err := security.CheckRefreshFormat(refreshToken); err != nil {
			return ErrInvalidToken
		}
		token, family, err := s.store.GetTokenBySecretHash(ctx, security.HashRefreshToken(refreshToken))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if token == nil {
			// Unknown token: nothing to revoke, and nothing to reveal.
			return nil
		}
		familyID = family.ID
		tokenID = token.ID
	}

	ev := auditdomain.New(auditdomain.KindRevoked, s.nowF(), familyID, tokenID, networkAddress, "", "explicit revoke")
	revoked, err := s.store.RevokeFamily(ctx, familyID, ev)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if revoked {
		s.metrics.Revoked(ctx)
	}
	return nil
}

// RevokeAllForSubject revokes every active family a subject holds in a
// workspace and reports how many were swept.
func (s *Service) RevokeAllForSubject(ctx context.Context, workspaceID, subjectID, networkAddress string) (int, error) {
	if workspaceID == "" || subjectID == "" {
		return 0, fmt.Errorf("%w: workspace and subject required", ErrInvalidToken)
	}
	tmpl := auditdomain.New(auditdomain.KindRevoked, s.nowF(), "", "", networkAddress, "",
		fmt.Sprintf("subject sweep for %s", subjectID))
	n, err := s.store.RevokeAllForSubject(ctx, workspaceID, subjectID, tmpl)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	for i := 0; i < n; i++ {
		s.metrics.Revoked(ctx)
	}
	return n, nil
}

// ValidateAccess verifies a bearer access token's signature and claims, then
// confirms the issuing generation was not revoked since. Within a family the
// claims stay valid until the access token's own expiry even after rotation
// consumed the generation.
func (s *Service) ValidateAccess(ctx context.Context, accessToken string) (*security.AccessClaims, error) {
	claims, err := s.access.Validate(accessToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	token, err := s.store.GetToken(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if token == nil || token.State == domain.TokenStateRevoked {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
