package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	healthhandler "sessionauth/internal/health/handler"
	identityhandler "sessionauth/internal/identity/handler"
	identityservice "sessionauth/internal/identity/service"
	"sessionauth/internal/policy/engine"
	"sessionauth/internal/ratelimit"
	"sessionauth/internal/security"
	sessionhandler "sessionauth/internal/session/handler"
	sessionrepo "sessionauth/internal/session/repository"
	sessionservice "sessionauth/internal/session/service"
	userrepo "sessionauth/internal/user/repository"
)

var fastParams = security.Argon2Params{MemoryKiB: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

// denyLimiter rejects every request for the named rule.
type denyLimiter struct{ rule string }

func (d denyLimiter) Allow(_ context.Context, rule ratelimit.Rule, _ string) (bool, time.Duration, error) {
	if rule.Name == d.rule {
		return false, time.Minute, nil
	}
	return true, 0, nil
}

func newTestRouter(t *testing.T, limiter *denyLimiter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	users := userrepo.NewMemoryRepository()
	tokens := security.NewTestTokenProvider(t, 15*time.Minute)
	eng := sessionservice.NewEngine(sessionrepo.NewMemoryRepository(), tokens, security.NewSecretHasher(fastParams),
		sessionservice.Config{RefreshTTL: time.Hour}, nil)
	auth, err := identityservice.NewAuthService(users, eng, security.NewHasher(fastParams), nil)
	require.NoError(t, err)
	policy, err := engine.NewOPAEvaluator(ctx, "")
	require.NoError(t, err)

	deps := Deps{
		Auth:          identityhandler.NewAuthHandler(auth, tokens),
		Sessions:      sessionhandler.NewServer(eng, users, policy),
		Health:        healthhandler.NewServer(nil, policy, tokens),
		Authenticator: eng,
		LoginPerMin:   10,
		RefreshPerMin: 30,
	}
	if limiter != nil {
		deps.Limiter = limiter
	}
	return NewRouter(deps)
}

func doJSON(r http.Handler, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestRouter_SessionLifecycle(t *testing.T) {
	r := newTestRouter(t, nil)

	rr := doJSON(r, http.MethodPost, "/v1/auth/signup", map[string]string{"email": "ann@example.com", "password": "Correct-Horse-42"}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var pair identityhandler.TokenPair
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pair))

	rr = doJSON(r, http.MethodGet, "/v1/sessions?user_id="+pair.UserID, nil, pair.AccessToken)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var list sessionhandler.ListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, pair.SessionID, list.Sessions[0].ID)

	rr = doJSON(r, http.MethodPost, "/v1/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = doJSON(r, http.MethodPost, "/v1/users/"+pair.UserID+"/sessions/revoke", nil, pair.AccessToken)
	assert.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
}

func TestRouter_SessionRoutesRequireBearer(t *testing.T) {
	r := newTestRouter(t, nil)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/sessions"},
		{http.MethodGet, "/v1/sessions/abc"},
		{http.MethodPost, "/v1/sessions/abc/revoke"},
		{http.MethodPost, "/v1/users/u1/sessions/revoke"},
		{http.MethodPost, "/v1/auth/logout-all"},
	} {
		rr := doJSON(r, tc.method, tc.path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "%s %s", tc.method, tc.path)
	}
}

func TestRouter_RateLimitsCredentialEndpoints(t *testing.T) {
	r := newTestRouter(t, &denyLimiter{rule: "login"})

	rr := doJSON(r, http.MethodPost, "/v1/auth/login", map[string]string{"email": "a@example.com", "password": "x"}, "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	rr = doJSON(r, http.MethodPost, "/v1/auth/signup", map[string]string{"email": "a@example.com", "password": "x"}, "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	// Refresh has its own rule.
	rr = doJSON(r, http.MethodPost, "/v1/auth/refresh", map[string]string{"refresh_token": "garbage"}, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouter_ProbesAndJWKS(t *testing.T) {
	r := newTestRouter(t, nil)
	for _, path := range []string{"/healthz", "/readyz", "/.well-known/jwks.json"} {
		rr := doJSON(r, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
}
