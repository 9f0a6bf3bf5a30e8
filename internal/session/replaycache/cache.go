// Package replaycache keeps the token pair minted by a rotation for the
// duration of the grace window, keyed by the consumed generation's ID.
//
// The durable store holds only secret hashes, so a benign replay (client
// double-submit, or the loser of a concurrent rotate) can return the winner's
// exact pair only if it was cached at mint time. Entries expire with the grace
// window; losing one degrades a replay to re-authentication, never to a
// duplicate mint.
package replaycache

import (
	"context"
	"time"
)

// Pair is the response payload of a successful rotation.
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	FamilyID         string    `json:"family_id"`
	SuccessorID      string    `json:"successor_id"`
}

// Cache stores rotation results for at most the grace window.
type Cache interface {
	Put(ctx context.Context, consumedTokenID string, p Pair, ttl time.Duration) error
	Get(ctx context.Context, consumedTokenID string) (Pair, bool, error)
}
