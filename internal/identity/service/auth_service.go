package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"sessionauth/internal/audit"
	auditdomain "sessionauth/internal/audit/domain"
	"sessionauth/internal/security"
	"sessionauth/internal/server/middleware"
	sessionservice "sessionauth/internal/session/service"
	userdomain "sessionauth/internal/user/domain"
)

// Sentinel errors for auth service; handler maps them to HTTP statuses.
var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrInvalidInput           = errors.New("invalid input")
	ErrNotAuthenticated       = errors.New("not authenticated")
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// Sessions is the part of the rotation engine the auth service drives.
type Sessions interface {
	Login(ctx context.Context, userID string, meta sessionservice.ClientMeta) (*sessionservice.Issued, error)
	Refresh(ctx context.Context, token string, meta sessionservice.ClientMeta) (*sessionservice.Issued, error)
	Logout(ctx context.Context, refreshToken string) error
	Revoke(ctx context.Context, sessionID, reason string) error
	RevokeAllForUser(ctx context.Context, userID, reason string) ([]string, error)
}

// AuthService implements password signup and login on top of the session engine.
type AuthService struct {
	users    UserRepo
	sessions Sessions
	hasher   *security.Hasher
	audit    audit.AuditLogger
	// dummyHash is compared against when the email is unknown so both failure
	// paths cost one Argon2id evaluation.
	dummyHash string
}

// NewAuthService returns an AuthService with the given dependencies. auditLogger may be nil.
func NewAuthService(users UserRepo, sessions Sessions, hasher *security.Hasher, auditLogger audit.AuditLogger) (*AuthService, error) {
	dummy, err := hasher.Hash([]byte(uuid.NewString()))
	if err != nil {
		return nil, fmt.Errorf("auth: dummy hash: %w", err)
	}
	return &AuthService{users: users, sessions: sessions, hasher: hasher, audit: auditLogger, dummyHash: dummy}, nil
}

// Register creates a user with the given email and password and starts its first session.
func (s *AuthService) Register(ctx context.Context, email, password string, meta sessionservice.ClientMeta) (*sessionservice.Issued, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, userStoreFailure("lookup", err)
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	user := &userdomain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hashed,
		Role:         userdomain.RoleUser,
		Status:       userdomain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, userdomain.ErrEmailTaken) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, userStoreFailure("create", err)
	}
	log.Printf("auth: user registered user_id=%s", user.ID)
	s.logEvent(ctx, audit.Entry{UserID: user.ID, Action: auditdomain.ActionRegister, IP: meta.IPAddress})
	return s.sessions.Login(ctx, user.ID, meta)
}

// Login authenticates with email and password and starts a new session chain.
// Unknown email, disabled user and wrong password all return ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string, meta sessionservice.ClientMeta) (*sessionservice.Issued, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, userStoreFailure("lookup", err)
	}
	if user == nil || user.PasswordHash == "" {
		_ = s.hasher.Compare(s.dummyHash, []byte(password))
		s.logEvent(ctx, audit.Entry{Action: auditdomain.ActionLoginFailure, Reason: "unknown_user", IP: meta.IPAddress})
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		if !errors.Is(err, security.ErrPasswordMismatch) {
			log.Printf("auth: stored password hash unreadable user_id=%s: %v", user.ID, err)
		}
		s.logEvent(ctx, audit.Entry{UserID: user.ID, Action: auditdomain.ActionLoginFailure, Reason: "bad_password", IP: meta.IPAddress})
		return nil, ErrInvalidCredentials
	}
	if user.Status != userdomain.UserStatusActive {
		s.logEvent(ctx, audit.Entry{UserID: user.ID, Action: auditdomain.ActionLoginFailure, Reason: "user_disabled", IP: meta.IPAddress})
		return nil, ErrInvalidCredentials
	}
	return s.sessions.Login(ctx, user.ID, meta)
}

// Refresh rotates the refresh token. All rejections are sessionservice.ErrInvalidRefreshToken.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta sessionservice.ClientMeta) (*sessionservice.Issued, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, sessionservice.ErrInvalidRefreshToken
	}
	return s.sessions.Refresh(ctx, strings.TrimSpace(refreshToken), meta)
}

// Logout revokes the session identified by the refresh token or by the access token in context.
// If refreshToken is non-empty, that session is revoked when the token is current.
// If refreshToken is empty and the bearer middleware set session_id in context, that session is revoked.
// Otherwise no-op.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken != "" {
		return s.sessions.Logout(ctx, refreshToken)
	}
	sessionID, ok := middleware.GetSessionID(ctx)
	if !ok {
		return nil
	}
	err := s.sessions.Revoke(ctx, sessionID, "logout")
	if errors.Is(err, sessionservice.ErrSessionNotFound) {
		return nil
	}
	return err
}

// LogoutAll revokes every session of the authenticated caller.
func (s *AuthService) LogoutAll(ctx context.Context) (int, error) {
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		return 0, ErrNotAuthenticated
	}
	ids, err := s.sessions.RevokeAllForUser(ctx, userID, "logout_all")
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *AuthService) logEvent(ctx context.Context, e audit.Entry) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, e)
	}
}

func userStoreFailure(op string, err error) error {
	log.Printf("auth: user store %s failed: %v", op, err)
	return fmt.Errorf("%w: user %s: %w", sessionservice.ErrStoreUnavailable, op, err)
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: invalid email format", ErrInvalidInput)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return fmt.Errorf("%w: password must be at least 12 characters", ErrInvalidInput)
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	if !hasUpper {
		return fmt.Errorf("%w: password must contain at least one uppercase letter", ErrInvalidInput)
	}
	if !hasLower {
		return fmt.Errorf("%w: password must contain at least one lowercase letter", ErrInvalidInput)
	}
	if !hasNumber {
		return fmt.Errorf("%w: password must contain at least one number", ErrInvalidInput)
	}
	if !hasSymbol {
		return fmt.Errorf("%w: password must contain at least one symbol", ErrInvalidInput)
	}
	return nil
}
