package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// refreshSecretLen is the byte length of a raw refresh secret.
const refreshSecretLen = 32

// ErrMalformedRefreshToken is returned for refresh tokens that cannot be a
// product of NewRefreshSecret.
var ErrMalformedRefreshToken = errors.New("malformed refresh token")

// NewRefreshSecret mints an opaque refresh token: 32 random bytes,
// base64url-encoded without padding. The raw value exists only on the wire;
// the store keeps its hash.
func NewRefreshSecret() (string, error) {
	b := make([]byte, refreshSecretLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CheckRefreshFormat rejects tokens that are structurally not refresh secrets
// before any store lookup. Well-formed but unknown tokens still go through the
// hash lookup so the caller cannot distinguish them from revoked ones.
func CheckRefreshFormat(token string) error {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != refreshSecretLen {
		return ErrMalformedRefreshToken
	}
	return nil
}

// HashRefreshToken returns the SHA-256 hash of the refresh token string,
// hex-encoded. Used for storing and looking up refresh tokens without ever
// persisting the raw secret.
func HashRefreshToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// RefreshTokenHashEqual performs constant-time comparison of the provided
// token's hash with the stored hash.
func RefreshTokenHashEqual(providedToken, storedHash string) bool {
	providedHash := HashRefreshToken(providedToken)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}

// HashFingerprint hashes raw browser-signal input for storage alongside a
// generation. Fingerprints support anomaly review, never authentication.
func HashFingerprint(fingerprint string) string {
	if fingerprint == "" {
		return ""
	}
	h := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(h[:])
}
