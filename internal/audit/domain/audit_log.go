package domain

import "time"

// Audit actions. Session lifecycle actions mirror the engine's event kinds.
const (
	ActionLogin           = "login"
	ActionLoginFailure    = "login_failure"
	ActionRegister        = "register"
	ActionRefresh         = "refresh"
	ActionRefreshRejected = "refresh_rejected"
	ActionReplayDetected  = "replay_detected"
	ActionRevoke          = "revoke"
)

// AuditLog represents an audit event.
type AuditLog struct {
	ID        string
	UserID    string // empty when the caller could not be identified
	SessionID string
	Action    string
	Reason    string
	IP        string
	Metadata  map[string]any // stored as JSONB
	CreatedAt time.Time
}
