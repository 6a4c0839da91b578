package rbac

import (
	"context"
	"errors"
	"fmt"

	"sessionauth/internal/policy/engine"
	"sessionauth/internal/server/middleware"
	"sessionauth/internal/user/domain"
)

var (
	// ErrUnauthenticated means the context carries no caller identity.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrPermissionDenied means the policy refused the action.
	ErrPermissionDenied = errors.New("permission denied")
)

// UserGetter resolves the caller's role. Satisfied by the user repository.
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// RequireSessionAccess ensures the authenticated caller may perform action on the
// sessions of targetUserID (empty for "any user"). Returns the caller's user id.
// Disabled or unknown callers are denied. Lookup and evaluation failures are returned
// wrapped and must be treated as a denial by the caller.
func RequireSessionAccess(ctx context.Context, users UserGetter, eval engine.Evaluator, action engine.Action, targetUserID string) (string, error) {
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		return "", ErrUnauthenticated
	}
	u, err := users.GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("resolve caller: %w", err)
	}
	if u == nil || u.Status != domain.UserStatusActive {
		return "", ErrPermissionDenied
	}
	allowed, err := eval.Allow(ctx, engine.Request{
		Actor:        engine.Actor{UserID: u.ID, Role: string(u.Role)},
		Action:       action,
		TargetUserID: targetUserID,
	})
	if err != nil {
		return "", fmt.Errorf("evaluate policy: %w", err)
	}
	if !allowed {
		return "", ErrPermissionDenied
	}
	return userID, nil
}
