package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sessionauth/internal/security"
	sessionservice "sessionauth/internal/session/service"
)

const bearerPrefix = "bearer "

// AccessAuthenticator validates access tokens.
type AccessAuthenticator interface {
	AuthenticateAccess(ctx context.Context, token string) (*security.AccessClaims, error)
}

// RequireBearer validates the Bearer access token and sets user_id and session_id in
// the request context. Requests without a valid token get 401 invalid_token.
func RequireBearer(auth AccessAuthenticator) gin.HandlerFunc {
	return bearer(auth, true)
}

// OptionalBearer authenticates when a Bearer token is present and lets anonymous
// requests through. A present but invalid token is still rejected.
func OptionalBearer(auth AccessAuthenticator) gin.HandlerFunc {
	return bearer(auth, false)
}

func bearer(auth AccessAuthenticator, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			if required {
				c.Header("WWW-Authenticate", `Bearer`)
				AbortWithError(c, http.StatusUnauthorized, "invalid_token", "missing or invalid authorization")
				return
			}
			c.Next()
			return
		}
		claims, err := auth.AuthenticateAccess(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, sessionservice.ErrStoreUnavailable) {
				log.Printf("auth: revocation check unavailable: %v", err)
				AbortWithError(c, http.StatusServiceUnavailable, "unavailable", "try again later")
				return
			}
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			AbortWithError(c, http.StatusUnauthorized, "invalid_token", "missing or invalid authorization")
			return
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), claims.Subject, claims.SessionID))
		c.Next()
	}
}

// extractBearer returns the token from an Authorization header value, or "" if missing or malformed.
func extractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
