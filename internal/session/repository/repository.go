package repository

import (
	"context"
	"time"

	"sessionauth/internal/session/domain"
)

// ListFilter selects sessions for administrative listing. An empty UserID lists all users.
type ListFilter struct {
	UserID string
	Limit  int32
	Offset int32
}

// Repository defines persistence for sessions. It is the only shared mutable state of
// the rotation engine; every chain-advancing write goes through RotateForward.
type Repository interface {
	// Create persists a session with no predecessor link.
	Create(ctx context.Context, s *domain.Session) error
	// GetByID returns the session for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// RotateForward atomically inserts next and links oldID to it, but only while oldID
	// is still unrotated and unrevoked. It returns false, persisting nothing, when the
	// guard fails.
	RotateForward(ctx context.Context, oldID string, next *domain.Session) (bool, error)
	// Revoke sets revoked_at if unset. It reports whether this call revoked the session.
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	// RevokeChain revokes fromID and every session reachable from it through
	// replaced_by links. It returns the ids it revoked.
	RevokeChain(ctx context.Context, fromID string, at time.Time) ([]string, error)
	// RevokeAllByUser revokes every unrevoked session of the user and returns their ids.
	RevokeAllByUser(ctx context.Context, userID string, at time.Time) ([]string, error)
	// List returns sessions newest first.
	List(ctx context.Context, f ListFilter) ([]*domain.Session, error)
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}
