package domain

import "time"

// EventKind names a session lifecycle event.
type EventKind string

const (
	EventIssued   EventKind = "session.issued"
	EventRotated  EventKind = "session.rotated"
	EventRejected EventKind = "session.refresh_rejected"
	EventReplay   EventKind = "session.replay_detected"
	EventRevoked  EventKind = "session.revoked"
)

// Event is emitted by the rotation engine for audit and security export.
// Reason carries the internal failure kind for rejections; it is never shown to clients.
type Event struct {
	Kind      EventKind
	SessionID string
	UserID    string
	Reason    string
	// Affected lists sessions revoked as a consequence (replay response, logout-all).
	Affected   []string
	IPAddress  string
	OccurredAt time.Time
}
