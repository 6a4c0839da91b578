package domain

import "time"

// Session is one link in a rotation chain. A continuous login is a chain of sessions
// joined by ReplacedBySessionID; each link carries its own validity window and the hash
// of its single-use rotation secret.
type Session struct {
	ID         string
	UserID     string
	SecretHash string // Argon2id PHC string; the secret itself is never stored
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time // nil when not revoked
	// ReplacedBySessionID is set exactly once, when this link is rotated forward.
	ReplacedBySessionID *string
	LastSeenAt          *time.Time
	IPAddress           string
	UserAgent           string
}

// Status is the derived, never stored, state of a session.
type Status string

const (
	StatusActive  Status = "active"
	StatusRotated Status = "rotated"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// Status projects the session onto its display status at now. Rotation wins over
// revocation so that rotation history stays visible after incident cleanup.
func (s *Session) Status(now time.Time) Status {
	switch {
	case s.ReplacedBySessionID != nil:
		return StatusRotated
	case s.RevokedAt != nil:
		return StatusRevoked
	case !s.ExpiresAt.After(now):
		return StatusExpired
	default:
		return StatusActive
	}
}
