package engine

import "context"

// Action is an administrative session operation subject to policy.
type Action string

const (
	ActionListSessions   Action = "session.list"
	ActionReadSession    Action = "session.read"
	ActionRevokeSession  Action = "session.revoke"
	ActionRevokeUserSess Action = "session.revoke_all"
)

// Actor is the authenticated caller.
type Actor struct {
	UserID string
	Role   string
}

// Request is one authorization question. TargetUserID is the owner of the sessions
// acted on; empty means "all users".
type Request struct {
	Actor        Actor
	Action       Action
	TargetUserID string
}

// Evaluator decides administrative session access.
type Evaluator interface {
	// Allow reports whether the request is permitted. Evaluation errors deny.
	Allow(ctx context.Context, req Request) (bool, error)
}
