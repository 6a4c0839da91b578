package security

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
)

// Refresh tokens are "{sessionId}.{secret}". Session ids are UUIDs and secrets are
// unpadded base64url, so the separator never occurs inside either half.
const (
	refreshSeparator   = "."
	secretBytes        = 32
	maxRefreshTokenLen = 1024
)

// GenerateSecret returns a new 256-bit random rotation secret, base64url encoded without padding.
func GenerateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// EncodeRefreshToken joins sessionID and secret into the external refresh token.
// Returns ErrMalformedCredential if either part is empty or contains the separator.
func EncodeRefreshToken(sessionID, secret string) (string, error) {
	if sessionID == "" || secret == "" ||
		strings.Contains(sessionID, refreshSeparator) || strings.Contains(secret, refreshSeparator) {
		return "", ErrMalformedCredential
	}
	return sessionID + refreshSeparator + secret, nil
}

// DecodeRefreshToken splits a refresh token into session id and secret. It says
// nothing about whether the session exists or the secret is correct.
func DecodeRefreshToken(token string) (sessionID, secret string, err error) {
	if len(token) > maxRefreshTokenLen {
		return "", "", ErrMalformedCredential
	}
	sessionID, secret, ok := strings.Cut(token, refreshSeparator)
	if !ok || sessionID == "" || secret == "" || strings.Contains(secret, refreshSeparator) {
		return "", "", ErrMalformedCredential
	}
	return sessionID, secret, nil
}

// SecretHasher hashes refresh rotation secrets with the lighter SecretParams.
type SecretHasher struct {
	params Argon2Params
}

// NewSecretHasher returns a SecretHasher. A zero MemoryKiB selects SecretParams.
func NewSecretHasher(p Argon2Params) *SecretHasher {
	if p.MemoryKiB == 0 {
		p = SecretParams
	}
	return &SecretHasher{params: p}
}

// Hash returns the PHC-encoded Argon2id hash of secret.
func (h *SecretHasher) Hash(secret string) (string, error) {
	return hashArgon2id([]byte(secret), h.params)
}

// Verify reports whether secret matches the stored hash. A corrupt hash or an
// algorithm mismatch is a verification failure, never an error.
func (h *SecretHasher) Verify(hash, secret string) bool {
	ok, err := verifyArgon2id(hash, []byte(secret))
	return err == nil && ok
}
