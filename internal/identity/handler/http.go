package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v3/jwk"

	identityservice "sessionauth/internal/identity/service"
	"sessionauth/internal/security"
	"sessionauth/internal/server/middleware"
	sessionservice "sessionauth/internal/session/service"
)

// AuthService is the identity service surface used by the HTTP handlers.
type AuthService interface {
	Register(ctx context.Context, email, password string, meta sessionservice.ClientMeta) (*sessionservice.Issued, error)
	Login(ctx context.Context, email, password string, meta sessionservice.ClientMeta) (*sessionservice.Issued, error)
	Refresh(ctx context.Context, refreshToken string, meta sessionservice.ClientMeta) (*sessionservice.Issued, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutAll(ctx context.Context) (int, error)
}

// KeySet publishes the verification keys.
type KeySet interface {
	PublicKeySet() (jwk.Set, error)
}

// AuthHandler serves /v1/auth and the JWKS document.
type AuthHandler struct {
	auth AuthService
	keys KeySet
}

// NewAuthHandler returns an AuthHandler.
func NewAuthHandler(auth AuthService, keys KeySet) *AuthHandler {
	return &AuthHandler{auth: auth, keys: keys}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenPair is the credential response of signup, login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id"`
}

func tokenPair(i *sessionservice.Issued) TokenPair {
	return TokenPair{
		AccessToken:  i.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    i.ExpiresIn,
		RefreshToken: i.RefreshToken,
		SessionID:    i.SessionID,
		UserID:       i.UserID,
	}
}

// Signup handles POST /v1/auth/signup.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	issued, err := h.auth.Register(c.Request.Context(), req.Email, req.Password, clientMeta(c))
	if err != nil {
		writeAuthError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusCreated, tokenPair(issued))
}

// Login handles POST /v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	issued, err := h.auth.Login(c.Request.Context(), req.Email, req.Password, clientMeta(c))
	if err != nil {
		writeAuthError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, tokenPair(issued))
}

// Refresh handles POST /v1/auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	issued, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken, clientMeta(c))
	if err != nil {
		writeAuthError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, tokenPair(issued))
}

// Logout handles POST /v1/auth/logout. The body is optional when a bearer token is sent.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.AbortWithError(c, http.StatusBadRequest, "invalid_request", "malformed JSON body")
			return
		}
	}
	if err := h.auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		writeAuthError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// LogoutAll handles POST /v1/auth/logout-all. Requires a bearer token.
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	if _, err := h.auth.LogoutAll(c.Request.Context()); err != nil {
		writeAuthError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// JWKS handles GET /.well-known/jwks.json.
func (h *AuthHandler) JWKS(c *gin.Context) {
	set, err := h.keys.PublicKeySet()
	if err != nil {
		log.Printf("auth: jwks unavailable: %v", err)
		middleware.AbortWithError(c, http.StatusInternalServerError, "internal", "signing keys unavailable")
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, set)
}

func clientMeta(c *gin.Context) sessionservice.ClientMeta {
	return sessionservice.ClientMeta{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

func writeAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sessionservice.ErrInvalidRefreshToken):
		middleware.AbortWithError(c, http.StatusUnauthorized, "invalid_refresh_token", "invalid or expired refresh token")
	case errors.Is(err, identityservice.ErrInvalidCredentials):
		middleware.AbortWithError(c, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	case errors.Is(err, identityservice.ErrNotAuthenticated):
		middleware.AbortWithError(c, http.StatusUnauthorized, "invalid_token", "authentication required")
	case errors.Is(err, identityservice.ErrEmailAlreadyRegistered):
		middleware.AbortWithError(c, http.StatusConflict, "email_taken", "email already registered")
	case errors.Is(err, identityservice.ErrInvalidInput):
		middleware.AbortWithError(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, sessionservice.ErrStoreUnavailable):
		middleware.AbortWithError(c, http.StatusServiceUnavailable, "unavailable", "try again later")
	case errors.Is(err, security.ErrKeyMaterialInvalid):
		log.Printf("auth: key material error: %v", err)
		middleware.AbortWithError(c, http.StatusInternalServerError, "internal", "internal error")
	default:
		log.Printf("auth: unexpected error: %v", err)
		middleware.AbortWithError(c, http.StatusInternalServerError, "internal", "internal error")
	}
}
