package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sessionauth/internal/audit/domain"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns an audit log repository backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const auditColumns = `id, user_id, session_id, action, reason, ip, metadata, created_at`

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_logs (`+auditColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, nullable(a.UserID), nullable(a.SessionID), a.Action, nullable(a.Reason), nullable(a.IP), a.Metadata, a.CreatedAt)
	return err
}

// ListByUser returns audit logs for userID, paginated by limit and offset.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuditLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+auditColumns+` FROM audit_logs WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ListBySession returns audit logs for sessionID in insertion order.
func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string) ([]*domain.AuditLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+auditColumns+` FROM audit_logs WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*domain.AuditLog, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.AuditLog, error) {
		var (
			a                             domain.AuditLog
			userID, sessionID, reason, ip *string
		)
		if err := row.Scan(&a.ID, &userID, &sessionID, &a.Action, &reason, &ip, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.UserID, a.SessionID, a.Reason, a.IP = deref(userID), deref(sessionID), deref(reason), deref(ip)
		return &a, nil
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
