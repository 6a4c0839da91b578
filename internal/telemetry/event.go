package telemetry

import (
	"time"

	"sessionauth/internal/session/domain"
)

// SecurityEvent is the exported form of a session lifecycle event. It carries
// identifiers and the internal rejection kind, never credential material.
type SecurityEvent struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Affected   []string  `json:"affected_session_ids,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	Source     string    `json:"source"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Source identifies this service in exported events.
const Source = "sessionauth"

// FromSessionEvent converts an engine event.
func FromSessionEvent(e domain.Event) *SecurityEvent {
	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return &SecurityEvent{
		Type:       string(e.Kind),
		SessionID:  e.SessionID,
		UserID:     e.UserID,
		Reason:     e.Reason,
		Affected:   append([]string(nil), e.Affected...),
		IPAddress:  e.IPAddress,
		Source:     Source,
		OccurredAt: occurred.UTC(),
	}
}

// IsAlert reports whether the event should be surfaced to incident response.
func (e *SecurityEvent) IsAlert() bool {
	return e.Type == string(domain.EventReplay)
}
