// Package server assembles the public HTTP API and the gRPC health server.
package server

import (
	"time"

	"github.com/gin-gonic/gin"

	healthhandler "sessionauth/internal/health/handler"
	identityhandler "sessionauth/internal/identity/handler"
	"sessionauth/internal/ratelimit"
	"sessionauth/internal/server/middleware"
	sessionhandler "sessionauth/internal/session/handler"
)

// Deps holds the handlers and middleware dependencies for the HTTP router.
type Deps struct {
	Auth     *identityhandler.AuthHandler
	Sessions *sessionhandler.Server
	// Health serves /healthz and /readyz. If nil, the probes are not routed.
	Health *healthhandler.Server
	// Authenticator validates bearer access tokens (the rotation engine).
	Authenticator middleware.AccessAuthenticator
	// Limiter rate-limits credential endpoints per client IP. If nil, no limits apply.
	Limiter middleware.Limiter
	// LoginPerMin limits signup and login; RefreshPerMin limits refresh.
	LoginPerMin   int
	RefreshPerMin int
	CORSOrigins   []string
}

// NewRouter returns the gin engine serving the public API.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.CORS(deps.CORSOrigins))

	if deps.Health != nil {
		r.GET("/healthz", deps.Health.Live)
		r.GET("/readyz", deps.Health.Ready)
	}

	loginLimit := middleware.RateLimit(deps.Limiter, ratelimit.Rule{Name: "login", Limit: deps.LoginPerMin, Window: time.Minute})
	refreshLimit := middleware.RateLimit(deps.Limiter, ratelimit.Rule{Name: "refresh", Limit: deps.RefreshPerMin, Window: time.Minute})
	requireBearer := middleware.RequireBearer(deps.Authenticator)

	if h := deps.Auth; h != nil {
		r.GET("/.well-known/jwks.json", h.JWKS)
		auth := r.Group("/v1/auth")
		auth.POST("/signup", loginLimit, h.Signup)
		auth.POST("/login", loginLimit, h.Login)
		auth.POST("/refresh", refreshLimit, h.Refresh)
		auth.POST("/logout", middleware.OptionalBearer(deps.Authenticator), h.Logout)
		auth.POST("/logout-all", requireBearer, h.LogoutAll)
	}

	if s := deps.Sessions; s != nil {
		v1 := r.Group("/v1", requireBearer)
		v1.GET("/sessions", s.ListSessions)
		v1.GET("/sessions/:id", s.GetSession)
		v1.POST("/sessions/:id/revoke", s.RevokeSession)
		v1.POST("/users/:id/sessions/revoke", s.RevokeAllSessionsForUser)
	}
	return r
}
