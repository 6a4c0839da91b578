package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"sessionauth/internal/audit/domain"
	auditrepo "sessionauth/internal/audit/repository"
	sessiondomain "sessionauth/internal/session/domain"
)

// Entry is one audit record to write.
type Entry struct {
	UserID    string
	SessionID string
	Action    string
	Reason    string
	IP        string
	Metadata  map[string]any
	At        time.Time
}

// AuditLogger writes a single audit event. Used by the identity service and as the
// rotation engine's event sink. LogEvent is best-effort: failures are logged and do
// not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, e Entry)
}

// Logger implements AuditLogger using the audit repository.
type Logger struct {
	repo auditrepo.Repository
}

// NewLogger returns an AuditLogger that persists to repo.
func NewLogger(repo auditrepo.Repository) *Logger {
	return &Logger{repo: repo}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, e Entry) {
	if l == nil || l.repo == nil {
		return
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	ip := e.IP
	if ip == "" {
		ip = "unknown"
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		UserID:    e.UserID,
		SessionID: e.SessionID,
		Action:    e.Action,
		Reason:    e.Reason,
		IP:        ip,
		Metadata:  e.Metadata,
		CreatedAt: at.UTC(),
	}
	// Revocations triggered by a replay must be recorded even if the request is cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event action=%s session_id=%s: %v", e.Action, e.SessionID, err)
	}
}

// SessionEvent records a rotation engine event.
func (l *Logger) SessionEvent(ctx context.Context, e sessiondomain.Event) {
	l.LogEvent(ctx, Entry{
		UserID:    e.UserID,
		SessionID: e.SessionID,
		Action:    ActionForEvent(e.Kind),
		Reason:    e.Reason,
		IP:        e.IPAddress,
		Metadata:  metadataForEvent(e),
		At:        e.OccurredAt,
	})
}
