package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sessionauth/internal/platform/rbac"
	"sessionauth/internal/policy/engine"
	"sessionauth/internal/server/middleware"
	"sessionauth/internal/session/domain"
	sessionrepo "sessionauth/internal/session/repository"
	sessionservice "sessionauth/internal/session/service"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Sessions is the part of the rotation engine the admin API drives.
type Sessions interface {
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	List(ctx context.Context, f sessionrepo.ListFilter) ([]*domain.Session, error)
	Revoke(ctx context.Context, sessionID, reason string) error
	RevokeAllForUser(ctx context.Context, userID, reason string) ([]string, error)
	Now() time.Time
}

// Server serves the session administration API. Every route requires a bearer
// identity and is authorized by the admin policy.
type Server struct {
	sessions Sessions
	users    rbac.UserGetter
	policy   engine.Evaluator
}

// NewServer returns a new session admin Server.
func NewServer(sessions Sessions, users rbac.UserGetter, policy engine.Evaluator) *Server {
	return &Server{sessions: sessions, users: users, policy: policy}
}

// SessionView is the outward projection of a session record. The secret hash is never exposed.
type SessionView struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	Status              string     `json:"status"`
	CreatedAt           time.Time  `json:"created_at"`
	ExpiresAt           time.Time  `json:"expires_at"`
	RevokedAt           *time.Time `json:"revoked_at,omitempty"`
	ReplacedBySessionID string     `json:"replaced_by_session_id,omitempty"`
	LastSeenAt          *time.Time `json:"last_seen_at,omitempty"`
	IPAddress           string     `json:"ip_address,omitempty"`
	UserAgent           string     `json:"user_agent,omitempty"`
}

// ListResponse is one page of sessions.
type ListResponse struct {
	Sessions      []SessionView `json:"sessions"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

// ListSessions handles GET /v1/sessions?user_id&page_size&page_token. Without user_id it
// lists every user's sessions, which the default policy allows for admins only.
func (s *Server) ListSessions(c *gin.Context) {
	ctx := c.Request.Context()
	targetUserID := c.Query("user_id")
	if !s.authorize(c, engine.ActionListSessions, targetUserID) {
		return
	}
	pageSize := int32(defaultPageSize)
	if v := c.Query("page_size"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n < 0 {
			middleware.AbortWithError(c, http.StatusBadRequest, "invalid_request", "page_size must be a non-negative integer")
			return
		}
		if n > 0 {
			pageSize = int32(n)
		}
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	offset := int32(0)
	if tok := c.Query("page_token"); tok != "" {
		n, err := strconv.ParseInt(tok, 10, 32)
		if err != nil || n < 0 {
			middleware.AbortWithError(c, http.StatusBadRequest, "invalid_request", "invalid page_token")
			return
		}
		offset = int32(n)
	}
	list, err := s.sessions.List(ctx, sessionrepo.ListFilter{UserID: targetUserID, Limit: pageSize, Offset: offset})
	if err != nil {
		writeSessionError(c, err)
		return
	}
	now := s.sessions.Now()
	resp := ListResponse{Sessions: make([]SessionView, len(list))}
	for i := range list {
		resp.Sessions[i] = toView(list[i], now)
	}
	if len(list) == int(pageSize) {
		resp.NextPageToken = strconv.Itoa(int(offset + pageSize))
	}
	c.JSON(http.StatusOK, resp)
}

// GetSession handles GET /v1/sessions/:id.
func (s *Server) GetSession(c *gin.Context) {
	sess, ok := s.loadAuthorized(c, engine.ActionReadSession)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toView(sess, s.sessions.Now()))
}

// RevokeSession handles POST /v1/sessions/:id/revoke. Revoking an already revoked session succeeds.
func (s *Server) RevokeSession(c *gin.Context) {
	sess, ok := s.loadAuthorized(c, engine.ActionRevokeSession)
	if !ok {
		return
	}
	if err := s.sessions.Revoke(c.Request.Context(), sess.ID, "admin_revoke"); err != nil {
		writeSessionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RevokeAllSessionsForUser handles POST /v1/users/:id/sessions/revoke.
func (s *Server) RevokeAllSessionsForUser(c *gin.Context) {
	targetUserID := c.Param("id")
	if targetUserID == "" {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid_request", "user id required")
		return
	}
	if !s.authorize(c, engine.ActionRevokeUserSess, targetUserID) {
		return
	}
	ids, err := s.sessions.RevokeAllForUser(c.Request.Context(), targetUserID, "admin_revoke_all")
	if err != nil {
		writeSessionError(c, err)
		return
	}
	log.Printf("session: revoked all sessions user_id=%s count=%d", targetUserID, len(ids))
	c.Status(http.StatusNoContent)
}

// loadAuthorized loads the :id session and authorizes action against its owner. A
// missing session is reported as 404 only to callers allowed to act on every user.
func (s *Server) loadAuthorized(c *gin.Context, action engine.Action) (*domain.Session, bool) {
	sessionID := c.Param("id")
	sess, err := s.sessions.Get(c.Request.Context(), sessionID)
	if errors.Is(err, sessionservice.ErrSessionNotFound) {
		if s.authorize(c, action, "") {
			middleware.AbortWithError(c, http.StatusNotFound, "not_found", "session not found")
		}
		return nil, false
	}
	if err != nil {
		writeSessionError(c, err)
		return nil, false
	}
	if !s.authorize(c, action, sess.UserID) {
		return nil, false
	}
	return sess, true
}

func (s *Server) authorize(c *gin.Context, action engine.Action, targetUserID string) bool {
	_, err := rbac.RequireSessionAccess(c.Request.Context(), s.users, s.policy, action, targetUserID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, rbac.ErrUnauthenticated):
		middleware.AbortWithError(c, http.StatusUnauthorized, "invalid_token", "authentication required")
	case errors.Is(err, rbac.ErrPermissionDenied):
		middleware.AbortWithError(c, http.StatusForbidden, "permission_denied", "not allowed")
	default:
		log.Printf("session: authorization failed action=%s: %v", action, err)
		middleware.AbortWithError(c, http.StatusServiceUnavailable, "unavailable", "try again later")
	}
	return false
}

func writeSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sessionservice.ErrSessionNotFound):
		middleware.AbortWithError(c, http.StatusNotFound, "not_found", "session not found")
	case errors.Is(err, sessionservice.ErrStoreUnavailable):
		middleware.AbortWithError(c, http.StatusServiceUnavailable, "unavailable", "try again later")
	default:
		log.Printf("session: unexpected error: %v", err)
		middleware.AbortWithError(c, http.StatusInternalServerError, "internal", "internal error")
	}
}

func toView(s *domain.Session, now time.Time) SessionView {
	v := SessionView{
		ID:         s.ID,
		UserID:     s.UserID,
		Status:     string(s.Status(now)),
		CreatedAt:  s.CreatedAt,
		ExpiresAt:  s.ExpiresAt,
		RevokedAt:  s.RevokedAt,
		LastSeenAt: s.LastSeenAt,
		IPAddress:  s.IPAddress,
		UserAgent:  s.UserAgent,
	}
	if s.ReplacedBySessionID != nil {
		v.ReplacedBySessionID = *s.ReplacedBySessionID
	}
	return v
}
