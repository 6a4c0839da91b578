package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const policyQuery = "data.sessionauth.admin.allow"

// DefaultPolicy lets admins act on any user's sessions and users act on their own.
const DefaultPolicy = `package sessionauth.admin

default allow := false

self_service_actions := {"session.list", "session.read", "session.revoke", "session.revoke_all"}

allow if input.actor.role == "admin"

allow if {
	input.actor.id != ""
	input.actor.id == input.target_user_id
	input.action in self_service_actions
}
`

// OPAEvaluator evaluates the admin policy with an in-process OPA Rego engine. The
// policy is compiled once at construction.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles source, or DefaultPolicy when source is empty.
func NewOPAEvaluator(ctx context.Context, source string) (*OPAEvaluator, error) {
	if strings.TrimSpace(source) == "" {
		source = DefaultPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"admin.rego": source})
	if err != nil {
		return nil, fmt.Errorf("compile admin policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare admin policy: %w", err)
	}
	return &OPAEvaluator{query: pq}, nil
}

// LoadPolicyFile reads a Rego override. An empty path returns "" (use DefaultPolicy).
func LoadPolicyFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read admin policy: %w", err)
	}
	return string(b), nil
}

// Allow evaluates req. A query error or an undefined result denies.
func (e *OPAEvaluator) Allow(ctx context.Context, req Request) (bool, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(req)))
	if err != nil {
		log.Printf("policy: evaluation failed action=%s: %v", req.Action, err)
		return false, fmt.Errorf("eval admin policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := rs[0].Expressions[0].Value.(bool)
	return allowed, nil
}

// HealthCheck verifies that the compiled policy evaluates to a decision.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(Request{Action: ActionReadSession})))
	if err != nil {
		return fmt.Errorf("eval admin policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}

func buildInput(req Request) map[string]interface{} {
	return map[string]interface{}{
		"actor": map[string]interface{}{
			"id":   req.Actor.UserID,
			"role": req.Actor.Role,
		},
		"action":         string(req.Action),
		"target_user_id": req.TargetUserID,
	}
}
