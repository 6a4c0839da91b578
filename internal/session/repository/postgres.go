package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sessionauth/internal/session/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a session repository backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const sessionColumns = `id, user_id, secret_hash, created_at, expires_at, revoked_at,
	replaced_by_session_id, last_seen_at, ip_address, user_agent`

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	return insertSession(ctx, r.pool, s)
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// RotateForward inserts next and links oldID to it in one transaction. The link is a
// conditional update; under concurrent callers the row lock makes the second updater
// re-check the guard after the first commits, so exactly one wins.
func (r *PostgresRepository) RotateForward(ctx context.Context, oldID string, next *domain.Session) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertSession(ctx, tx, next); err != nil {
		return false, err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE sessions
		SET replaced_by_session_id = $2, last_seen_at = $3
		WHERE id = $1
		  AND replaced_by_session_id IS NULL
		  AND revoked_at IS NULL
		  AND expires_at > $3
	`, oldID, next.ID, next.CreatedAt)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Revoke marks the session revoked. Already revoked sessions keep their original time.
func (r *PostgresRepository) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RevokeChain walks replaced_by links forward from fromID in a single statement.
func (r *PostgresRepository) RevokeChain(ctx context.Context, fromID string, at time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		WITH RECURSIVE chain(id, depth) AS (
			SELECT id, 0 FROM sessions WHERE id = $1
			UNION ALL
			SELECT s.replaced_by_session_id, c.depth + 1
			FROM sessions s
			JOIN chain c ON s.id = c.id
			WHERE s.replaced_by_session_id IS NOT NULL AND c.depth < 10000
		)
		UPDATE sessions SET revoked_at = $2
		WHERE id IN (SELECT id FROM chain) AND revoked_at IS NULL
		RETURNING id
	`, fromID, at)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

// RevokeAllByUser revokes all sessions of the user that are not already revoked.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID string, at time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL RETURNING id`,
		userID, at)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

// List returns sessions for f.UserID (or all users when empty), newest first.
func (r *PostgresRepository) List(ctx context.Context, f ListFilter) ([]*domain.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, f.UserID, f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateLastSeen sets the session's last-seen timestamp.
func (r *PostgresRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET last_seen_at = $2 WHERE id = $1`, id, at)
	return err
}

func insertSession(ctx context.Context, q querier, s *domain.Session) error {
	_, err := q.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.ID, s.UserID, s.SecretHash, s.CreatedAt, s.ExpiresAt, s.RevokedAt,
		s.ReplacedBySessionID, s.LastSeenAt, nullIfEmpty(s.IPAddress), nullIfEmpty(s.UserAgent))
	return err
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		s         domain.Session
		ip, agent *string
	)
	err := row.Scan(&s.ID, &s.UserID, &s.SecretHash, &s.CreatedAt, &s.ExpiresAt, &s.RevokedAt,
		&s.ReplacedBySessionID, &s.LastSeenAt, &ip, &agent)
	if err != nil {
		return nil, err
	}
	if ip != nil {
		s.IPAddress = *ip
	}
	if agent != nil {
		s.UserAgent = *agent
	}
	return &s, nil
}

func collectIDs(rows pgx.Rows) ([]string, error) {
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
