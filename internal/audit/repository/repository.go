package repository

import (
	"context"

	"sessionauth/internal/audit/domain"
)

// Repository defines persistence for audit logs. Entries are append-only.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListByUser returns the user's entries newest first.
	ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuditLog, error)
	// ListBySession returns the entries that name sessionID, oldest first.
	ListBySession(ctx context.Context, sessionID string) ([]*domain.AuditLog, error)
}
