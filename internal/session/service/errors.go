package service

import "errors"

// ErrInvalidRefreshToken is the only rejection a refresh caller ever sees. The
// internal kinds below are logged and emitted as events, never returned.
var ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")

// ErrStoreUnavailable wraps session store failures. It is kept apart from
// ErrInvalidRefreshToken so an outage is not reported as a bad credential.
var ErrStoreUnavailable = errors.New("session store unavailable")

// ErrSessionNotFound is returned by administrative lookups and revocation.
var ErrSessionNotFound = errors.New("session not found")

// Internal rejection kinds.
var (
	ErrSecretMismatch         = errors.New("secret mismatch")
	ErrReplayDetected         = errors.New("replay detected")
	ErrSessionRevoked         = errors.New("session revoked")
	ErrSessionExpired         = errors.New("session expired")
	ErrConcurrentRotationLost = errors.New("concurrent rotation lost")
)
