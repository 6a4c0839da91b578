package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"sessionauth/internal/audit/domain"
	auditrepo "sessionauth/internal/audit/repository"
	sessiondomain "sessionauth/internal/session/domain"
)

// mockAuditRepo implements the audit repository interface for tests.
type mockAuditRepo struct {
	entries   []*domain.AuditLog
	createErr error
	ctxErr    error
}

func (m *mockAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	m.ctxErr = ctx.Err()
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuditLog, error) {
	return nil, nil
}

func (m *mockAuditRepo) ListBySession(ctx context.Context, sessionID string) ([]*domain.AuditLog, error) {
	return nil, nil
}

func TestLogger_LogEvent_Success(t *testing.T) {
	repo := &mockAuditRepo{}
	logger := NewLogger(repo)

	logger.LogEvent(context.Background(), Entry{
		UserID:   "user-1",
		Action:   domain.ActionLoginFailure,
		Reason:   "invalid credentials",
		IP:       "192.168.1.1",
		Metadata: map[string]any{"email_domain": "example.com"},
	})

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.UserID != "user-1" {
		t.Errorf("user_id = %q, want %q", entry.UserID, "user-1")
	}
	if entry.Action != domain.ActionLoginFailure {
		t.Errorf("action = %q, want %q", entry.Action, domain.ActionLoginFailure)
	}
	if entry.IP != "192.168.1.1" {
		t.Errorf("ip = %q, want %q", entry.IP, "192.168.1.1")
	}
	if entry.Metadata["email_domain"] != "example.com" {
		t.Errorf("metadata = %v", entry.Metadata)
	}
	if entry.ID == "" {
		t.Error("entry ID should be set")
	}
	if entry.CreatedAt.IsZero() {
		t.Error("entry CreatedAt should be set")
	}
}

func TestLogger_LogEvent_DefaultsIP(t *testing.T) {
	repo := &mockAuditRepo{}
	NewLogger(repo).LogEvent(context.Background(), Entry{Action: domain.ActionRevoke})
	if repo.entries[0].IP != "unknown" {
		t.Errorf("ip = %q, want %q", repo.entries[0].IP, "unknown")
	}
}

func TestLogger_LogEvent_RepoErrorIsSwallowed(t *testing.T) {
	repo := &mockAuditRepo{createErr: errors.New("db down")}
	// Should not panic or return.
	NewLogger(repo).LogEvent(context.Background(), Entry{Action: domain.ActionRevoke})
}

func TestLogger_LogEvent_NilRepo(t *testing.T) {
	NewLogger(nil).LogEvent(context.Background(), Entry{Action: domain.ActionRevoke})
	var l *Logger
	l.LogEvent(context.Background(), Entry{Action: domain.ActionRevoke})
}

func TestLogger_LogEvent_IgnoresCancellation(t *testing.T) {
	repo := &mockAuditRepo{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewLogger(repo).LogEvent(ctx, Entry{Action: domain.ActionReplayDetected})
	if repo.ctxErr != nil {
		t.Errorf("repository saw cancelled context: %v", repo.ctxErr)
	}
	if len(repo.entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(repo.entries))
	}
}

func TestLogger_SessionEvent(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	logger := NewLogger(repo)
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	logger.SessionEvent(context.Background(), sessiondomain.Event{
		Kind:       sessiondomain.EventReplay,
		SessionID:  "s1",
		UserID:     "u1",
		Reason:     "replay detected",
		Affected:   []string{"s2", "s3"},
		IPAddress:  "10.0.0.7",
		OccurredAt: at,
	})

	entries, err := repo.ListBySession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != domain.ActionReplayDetected || e.UserID != "u1" || e.IP != "10.0.0.7" || !e.CreatedAt.Equal(at) {
		t.Errorf("entry = %+v", e)
	}
	if e.Metadata["affected_count"] != 2 {
		t.Errorf("metadata = %v", e.Metadata)
	}

	byUser, err := repo.ListByUser(context.Background(), "u1", 10, 0)
	if err != nil || len(byUser) != 1 {
		t.Errorf("ListByUser = %v, %v", byUser, err)
	}
}
