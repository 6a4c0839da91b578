// Package service implements the session rotation engine: login, refresh with
// single-use secret rotation, replay response, logout and revocation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"sessionauth/internal/security"
	"sessionauth/internal/session/domain"
	sessionrepo "sessionauth/internal/session/repository"
)

const instrumentationName = "sessionauth/internal/session/service"

// lastSeenInterval bounds how often bearer authentication writes last_seen_at.
const lastSeenInterval = time.Minute

// ReplayScope selects what a detected replay revokes.
type ReplayScope string

const (
	// ReplayScopeChain revokes the replayed link and every link after it, up to the head.
	ReplayScopeChain ReplayScope = "chain"
	// ReplayScopeUser revokes every session of the user.
	ReplayScopeUser ReplayScope = "user"
)

// ParseReplayScope parses a configured scope. Empty selects ReplayScopeChain.
func ParseReplayScope(s string) (ReplayScope, error) {
	switch ReplayScope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ReplayScopeChain:
		return ReplayScopeChain, nil
	case ReplayScopeUser:
		return ReplayScopeUser, nil
	default:
		return "", fmt.Errorf("unknown replay scope %q", s)
	}
}

// Config holds engine policy.
type Config struct {
	// RefreshTTL is the validity window of each session link.
	RefreshTTL  time.Duration
	ReplayScope ReplayScope
	// RevocationCheck makes AuthenticateAccess consult the store, closing the window in
	// which a revoked session's access tokens stay usable until they expire.
	RevocationCheck bool
}

// EventSink receives session lifecycle events. Implementations must not block.
type EventSink interface {
	SessionEvent(ctx context.Context, e domain.Event)
}

// ClientMeta describes the client presenting a credential. Stored on new sessions only.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// Issued is a freshly minted credential pair bound to one session.
type Issued struct {
	AccessToken      string
	ExpiresIn        int64
	RefreshToken     string
	SessionID        string
	UserID           string
	SessionExpiresAt time.Time
}

// Engine is the session state machine. All concurrency control is delegated to the
// repository's RotateForward; the engine holds no per-session state.
type Engine struct {
	repo    sessionrepo.Repository
	tokens  *security.TokenProvider
	secrets *security.SecretHasher
	cfg     Config
	sink    EventSink
	now     func() time.Time

	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

// NewEngine returns an Engine. sink may be nil.
func NewEngine(repo sessionrepo.Repository, tokens *security.TokenProvider, secrets *security.SecretHasher, cfg Config, sink EventSink) *Engine {
	if cfg.ReplayScope == "" {
		cfg.ReplayScope = ReplayScopeChain
	}
	meter := otel.Meter(instrumentationName)
	outcomes, err := meter.Int64Counter("session.refresh.outcomes",
		metric.WithDescription("Refresh attempts by outcome"))
	if err != nil {
		log.Printf("session: counter init failed: %v", err)
	}
	return &Engine{
		repo:     repo,
		tokens:   tokens,
		secrets:  secrets,
		cfg:      cfg,
		sink:     sink,
		now:      time.Now,
		tracer:   otel.Tracer(instrumentationName),
		outcomes: outcomes,
	}
}

// SetNow overrides the clock. Intended for tests.
func (e *Engine) SetNow(now func() time.Time) { e.now = now }

// Now returns the engine's current time, used for status projection.
func (e *Engine) Now() time.Time { return e.now().UTC() }

// Login starts a new rotation chain for an already authenticated user.
func (e *Engine) Login(ctx context.Context, userID string, meta ClientMeta) (*Issued, error) {
	ctx, span := e.tracer.Start(ctx, "session.Login")
	defer span.End()

	if userID == "" {
		return nil, errors.New("session: user id required")
	}
	if err := e.tokens.Ready(); err != nil {
		return nil, e.keyFailure(span, err)
	}
	now := e.Now()
	sess, secret, err := e.newSession(userID, now, meta)
	if err != nil {
		return nil, err
	}
	if err := e.repo.Create(ctx, sess); err != nil {
		return nil, e.storeFailure(ctx, span, "create", err)
	}
	issued, err := e.issue(sess, secret)
	if err != nil {
		return nil, e.keyFailure(span, err)
	}
	span.SetAttributes(attribute.String("session.id", sess.ID))
	e.emit(ctx, domain.Event{Kind: domain.EventIssued, SessionID: sess.ID, UserID: userID, IPAddress: meta.IPAddress, OccurredAt: now})
	return issued, nil
}

// Refresh validates a presented refresh token and rotates its session forward.
// Every rejection returns ErrInvalidRefreshToken; a replayed token additionally
// triggers revocation according to the configured ReplayScope.
func (e *Engine) Refresh(ctx context.Context, token string, meta ClientMeta) (*Issued, error) {
	ctx, span := e.tracer.Start(ctx, "session.Refresh")
	defer span.End()
	now := e.Now()

	sessionID, secret, err := security.DecodeRefreshToken(token)
	if err != nil {
		return nil, e.reject(ctx, span, nil, security.ErrMalformedCredential, meta, now)
	}
	span.SetAttributes(attribute.String("session.id", sessionID))

	sess, err := e.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, e.storeFailure(ctx, span, "get", err)
	}
	if sess == nil {
		return nil, e.reject(ctx, span, &domain.Session{ID: sessionID}, ErrSessionNotFound, meta, now)
	}

	switch sess.Status(now) {
	case domain.StatusRotated:
		return nil, e.replay(ctx, span, sess, ErrReplayDetected, meta, now)
	case domain.StatusRevoked:
		return nil, e.reject(ctx, span, sess, ErrSessionRevoked, meta, now)
	case domain.StatusExpired:
		return nil, e.reject(ctx, span, sess, ErrSessionExpired, meta, now)
	}

	if !e.secrets.Verify(sess.SecretHash, secret) {
		return nil, e.reject(ctx, span, sess, ErrSecretMismatch, meta, now)
	}
	// Key material is checked before the commit so a bad key never strands a rotated chain.
	if err := e.tokens.Ready(); err != nil {
		return nil, e.keyFailure(span, err)
	}

	next, nextSecret, err := e.newSession(sess.UserID, now, meta)
	if err != nil {
		return nil, err
	}
	ok, err := e.repo.RotateForward(ctx, sess.ID, next)
	if err != nil {
		return nil, e.storeFailure(ctx, span, "rotate", err)
	}
	if !ok {
		return nil, e.lostRace(ctx, span, sess.ID, meta, now)
	}

	issued, err := e.issue(next, nextSecret)
	if err != nil {
		return nil, e.keyFailure(span, err)
	}
	e.count(ctx, "rotated")
	e.emit(ctx, domain.Event{
		Kind: domain.EventRotated, SessionID: next.ID, UserID: next.UserID,
		Affected: []string{sess.ID}, IPAddress: meta.IPAddress, OccurredAt: now,
	})
	return issued, nil
}

// lostRace handles a failed guarded write: another request changed the session between
// our read and our write. If it rotated, this request is a replay of a consumed secret.
func (e *Engine) lostRace(ctx context.Context, span trace.Span, sessionID string, meta ClientMeta, now time.Time) error {
	current, err := e.repo.GetByID(ctx, sessionID)
	if err != nil {
		return e.storeFailure(ctx, span, "reload", err)
	}
	if current == nil {
		return e.reject(ctx, span, &domain.Session{ID: sessionID}, ErrSessionNotFound, meta, now)
	}
	switch current.Status(now) {
	case domain.StatusRotated:
		return e.replay(ctx, span, current, ErrConcurrentRotationLost, meta, now)
	case domain.StatusExpired:
		return e.reject(ctx, span, current, ErrSessionExpired, meta, now)
	default:
		return e.reject(ctx, span, current, ErrSessionRevoked, meta, now)
	}
}

// replay revokes according to ReplayScope and rejects the request.
func (e *Engine) replay(ctx context.Context, span trace.Span, sess *domain.Session, kind error, meta ClientMeta, now time.Time) error {
	var (
		revoked []string
		err     error
	)
	switch e.cfg.ReplayScope {
	case ReplayScopeUser:
		revoked, err = e.repo.RevokeAllByUser(ctx, sess.UserID, now)
	default:
		revoked, err = e.repo.RevokeChain(ctx, sess.ID, now)
	}
	if err != nil {
		log.Printf("session: replay response failed session_id=%s user_id=%s: %v", sess.ID, sess.UserID, err)
		return e.storeFailure(ctx, span, "revoke_replay", err)
	}
	log.Printf("session: replay detected kind=%q session_id=%s user_id=%s scope=%s revoked=%d",
		kind, sess.ID, sess.UserID, e.cfg.ReplayScope, len(revoked))
	e.emit(ctx, domain.Event{
		Kind: domain.EventReplay, SessionID: sess.ID, UserID: sess.UserID, Reason: kind.Error(),
		Affected: revoked, IPAddress: meta.IPAddress, OccurredAt: now,
	})
	span.SetStatus(codes.Error, kind.Error())
	e.count(ctx, outcomeOf(kind))
	return ErrInvalidRefreshToken
}

func (e *Engine) reject(ctx context.Context, span trace.Span, sess *domain.Session, kind error, meta ClientMeta, now time.Time) error {
	ev := domain.Event{Kind: domain.EventRejected, Reason: kind.Error(), IPAddress: meta.IPAddress, OccurredAt: now}
	if sess != nil {
		ev.SessionID = sess.ID
		ev.UserID = sess.UserID
	}
	log.Printf("session: refresh rejected kind=%q session_id=%s", kind, ev.SessionID)
	e.emit(ctx, ev)
	span.SetStatus(codes.Error, kind.Error())
	e.count(ctx, outcomeOf(kind))
	return ErrInvalidRefreshToken
}

// Logout revokes the session a refresh token belongs to. Unknown, revoked and expired
// tokens are ignored. A token that was already rotated is a replay of a consumed
// secret, so the chain it belongs to is revoked the same way Refresh would.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	sessionID, secret, err := security.DecodeRefreshToken(refreshToken)
	if err != nil {
		return nil
	}
	sess, err := e.repo.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if sess == nil || !e.secrets.Verify(sess.SecretHash, secret) {
		return nil
	}

	now := e.Now()
	switch sess.Status(now) {
	case domain.StatusRotated:
		ctx, span := e.tracer.Start(ctx, "session.Logout")
		defer span.End()
		if err := e.replay(ctx, span, sess, ErrReplayDetected, ClientMeta{}, now); errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		return nil
	case domain.StatusRevoked, domain.StatusExpired:
		return nil
	}
	_, err = e.revoke(ctx, sess, "logout")
	return err
}

// Revoke revokes one session. It is idempotent; a missing session is ErrSessionNotFound.
func (e *Engine) Revoke(ctx context.Context, sessionID, reason string) error {
	sess, err := e.repo.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	_, err = e.revoke(ctx, sess, reason)
	return err
}

func (e *Engine) revoke(ctx context.Context, sess *domain.Session, reason string) (bool, error) {
	now := e.Now()
	changed, err := e.repo.Revoke(ctx, sess.ID, now)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if changed {
		e.emit(ctx, domain.Event{Kind: domain.EventRevoked, SessionID: sess.ID, UserID: sess.UserID, Reason: reason, OccurredAt: now})
	}
	return changed, nil
}

// RevokeAllForUser revokes every session of userID and returns the revoked ids.
func (e *Engine) RevokeAllForUser(ctx context.Context, userID, reason string) ([]string, error) {
	now := e.Now()
	ids, err := e.repo.RevokeAllByUser(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if len(ids) > 0 {
		e.emit(ctx, domain.Event{Kind: domain.EventRevoked, UserID: userID, Reason: reason, Affected: ids, OccurredAt: now})
	}
	return ids, nil
}

// AuthenticateAccess validates an access token. With RevocationCheck enabled it also
// rejects tokens whose session has been revoked and records session activity; otherwise
// the store is not consulted and such tokens stay valid until they expire.
func (e *Engine) AuthenticateAccess(ctx context.Context, token string) (*security.AccessClaims, error) {
	claims, err := e.tokens.ValidateAccess(token)
	if err != nil {
		return nil, err
	}
	if !e.cfg.RevocationCheck {
		return claims, nil
	}
	sess, err := e.repo.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if sess == nil || sess.UserID != claims.Subject || sess.RevokedAt != nil {
		return nil, fmt.Errorf("%w: session revoked", security.ErrInvalidToken)
	}
	e.touch(ctx, sess)
	return claims, nil
}

// touch records activity on sess at most once per lastSeenInterval. Failures are logged only.
func (e *Engine) touch(ctx context.Context, sess *domain.Session) {
	now := e.Now()
	if sess.LastSeenAt != nil && now.Sub(*sess.LastSeenAt) < lastSeenInterval {
		return
	}
	if err := e.repo.UpdateLastSeen(ctx, sess.ID, now); err != nil {
		log.Printf("session: update last seen failed session_id=%s: %v", sess.ID, err)
	}
}

// Get returns a session by id, or ErrSessionNotFound.
func (e *Engine) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := e.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// List returns sessions for the filter, newest first.
func (e *Engine) List(ctx context.Context, f sessionrepo.ListFilter) ([]*domain.Session, error) {
	list, err := e.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return list, nil
}

func (e *Engine) newSession(userID string, now time.Time, meta ClientMeta) (*domain.Session, string, error) {
	secret, err := security.GenerateSecret()
	if err != nil {
		return nil, "", err
	}
	hash, err := e.secrets.Hash(secret)
	if err != nil {
		return nil, "", err
	}
	return &domain.Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		SecretHash: hash,
		CreatedAt:  now,
		ExpiresAt:  now.Add(e.cfg.RefreshTTL),
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	}, secret, nil
}

func (e *Engine) issue(sess *domain.Session, secret string) (*Issued, error) {
	access, expiresIn, err := e.tokens.IssueAccess(sess.UserID, sess.ID)
	if err != nil {
		return nil, err
	}
	refresh, err := security.EncodeRefreshToken(sess.ID, secret)
	if err != nil {
		return nil, err
	}
	return &Issued{
		AccessToken:      access,
		ExpiresIn:        expiresIn,
		RefreshToken:     refresh,
		SessionID:        sess.ID,
		UserID:           sess.UserID,
		SessionExpiresAt: sess.ExpiresAt,
	}, nil
}

func (e *Engine) storeFailure(ctx context.Context, span trace.Span, op string, err error) error {
	log.Printf("session: store %s failed: %v", op, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, "store failure")
	e.count(ctx, "store_error")
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func (e *Engine) keyFailure(span trace.Span, err error) error {
	log.Printf("session: SIGNING KEY UNUSABLE, no credentials can be issued: %v", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, "key material")
	return err
}

func (e *Engine) emit(ctx context.Context, ev domain.Event) {
	if e.sink != nil {
		e.sink.SessionEvent(ctx, ev)
	}
}

func (e *Engine) count(ctx context.Context, outcome string) {
	if e.outcomes != nil {
		e.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func outcomeOf(kind error) string {
	switch {
	case errors.Is(kind, security.ErrMalformedCredential):
		return "malformed"
	case errors.Is(kind, ErrSessionNotFound):
		return "not_found"
	case errors.Is(kind, ErrSecretMismatch):
		return "secret_mismatch"
	case errors.Is(kind, ErrReplayDetected):
		return "replay"
	case errors.Is(kind, ErrConcurrentRotationLost):
		return "race_lost"
	case errors.Is(kind, ErrSessionRevoked):
		return "revoked"
	case errors.Is(kind, ErrSessionExpired):
		return "expired"
	default:
		return "other"
	}
}
