package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionauth/internal/security"
	"sessionauth/internal/session/domain"
	sessionrepo "sessionauth/internal/session/repository"
)

var testSecretParams = security.Argon2Params{MemoryKiB: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) SessionEvent(_ context.Context, e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) kinds() []domain.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventKind, len(s.events))
	for i, e := range s.events {
		out[i] = e.Kind
	}
	return out
}

func (s *recordingSink) last(kind domain.EventKind) (domain.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Kind == kind {
			return s.events[i], true
		}
	}
	return domain.Event{}, false
}

type fixture struct {
	engine *Engine
	repo   *sessionrepo.MemoryRepository
	sink   *recordingSink
	now    time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = time.Hour
	}
	repo := sessionrepo.NewMemoryRepository()
	sink := &recordingSink{}
	f := &fixture{repo: repo, sink: sink, now: time.Now().UTC()}
	f.engine = newEngineWith(t, repo, cfg, sink)
	f.engine.SetNow(func() time.Time { return f.now })
	return f
}

func newEngineWith(t *testing.T, repo sessionrepo.Repository, cfg Config, sink EventSink) *Engine {
	t.Helper()
	tokens := security.NewTestTokenProvider(t, 15*time.Minute)
	return NewEngine(repo, tokens, security.NewSecretHasher(testSecretParams), cfg, sink)
}

func (f *fixture) session(t *testing.T, id string) *domain.Session {
	t.Helper()
	s, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s
}

func TestEngine_LoginIssuesActiveSession(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	issued, err := f.engine.Login(ctx, "u1", ClientMeta{IPAddress: "198.51.100.1"})
	require.NoError(t, err)

	sid, secret, err := security.DecodeRefreshToken(issued.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, issued.SessionID, sid)
	assert.NotEmpty(t, secret)

	s := f.session(t, sid)
	assert.Equal(t, domain.StatusActive, s.Status(f.engine.Now()))
	assert.Equal(t, "u1", s.UserID)
	assert.NotContains(t, s.SecretHash, secret)
	assert.Equal(t, "198.51.100.1", s.IPAddress)
	assert.True(t, s.ExpiresAt.Equal(f.now.Add(time.Hour)))
	assert.Nil(t, s.ReplacedBySessionID)

	claims, err := f.engine.AuthenticateAccess(ctx, issued.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, sid, claims.SessionID)
	assert.Equal(t, int64(900), issued.ExpiresIn)

	assert.Equal(t, []domain.EventKind{domain.EventIssued}, f.sink.kinds())
}

func TestEngine_LoginRequiresUser(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.engine.Login(context.Background(), "", ClientMeta{})
	assert.Error(t, err)
}

func TestEngine_RefreshRotates(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	first, err := f.engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)

	f.now = f.now.Add(10 * time.Minute)
	second, err := f.engine.Refresh(ctx, first.RefreshToken, ClientMeta{})
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, "u1", second.UserID)

	old := f.session(t, first.SessionID)
	require.NotNil(t, old.ReplacedBySessionID)
	assert.Equal(t, second.SessionID, *old.ReplacedBySessionID)
	assert.Equal(t, domain.StatusRotated, old.Status(f.engine.Now()))

	next := f.session(t, second.SessionID)
	assert.Equal(t, domain.StatusActive, next.Status(f.engine.Now()))
	assert.True(t, next.ExpiresAt.Equal(f.now.Add(time.Hour)), "each link gets a fresh window")

	third, err := f.engine.Refresh(ctx, second.RefreshToken, ClientMeta{})
	require.NoError(t, err)
	assert.NotEqual(t, second.SessionID, third.SessionID)

	ev, ok := f.sink.last(domain.EventRotated)
	require.True(t, ok)
	assert.Equal(t, third.SessionID, ev.SessionID)
	assert.Equal(t, []string{second.SessionID}, ev.Affected)
}

func TestEngine_ReplayRevokesChainHead(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	a, err := f.engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)
	b, err := f.engine.Refresh(ctx, a.RefreshToken, ClientMeta{})
	require.NoError(t, err)
	c, err := f.engine.Refresh(ctx, b.RefreshToken, ClientMeta{})
	require.NoError(t, err)
	other, err := f.engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)

	_, err = f.engine.Refresh(ctx, a.RefreshToken, ClientMeta{})
	assert.Equal(t, ErrInvalidRefreshToken, err)

	_, err = f.engine.Refresh(ctx, c.RefreshToken, ClientMeta{})
	assert.Equal(t, ErrInvalidRefreshToken, err, "legitimately issued head must be unusable after replay")

	head := f.session(t, c.SessionID)
	assert.Equal(t, domain.StatusRevoked, head.Status(f.engine.Now()))
	mid := f.session(t, b.SessionID)
	assert.Equal(t, domain.StatusRotated, mid.Status(f.engine.Now()))
	assert.NotNil(t, mid.RevokedAt)

	_, err = f.engine.Refresh(ctx, other.RefreshToken, ClientMeta{})
	assert.NoError(t, err, "chain scope leaves the user's other logins alone")

	ev, ok := f.sink.last(domain.EventReplay)
	require.True(t, ok)
	assert.Equal(t, a.SessionID, ev.SessionID)
	assert.Equal(t, ErrReplayDetected.Error(), ev.Reason)
	assert.ElementsMatch(t, []string{a.SessionID, b.SessionID, c.SessionID}, ev.Affected)
}

func TestEngine_ReplayUserScope(t *testing.T) {
	f := newFixture(t, Config{ReplayScope: ReplayScopeUser})
	ctx := context.Background()

	a, err := f.engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)
	other, err := f.engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)
	stranger, err := f.engine.Login(ctx, "u2", ClientMeta{})
	require.NoError(t, err)
	_, err = f.engine.Refresh(ctx, a.RefreshToken, ClientMeta{})
	require.NoError(t, err)

	_, err = f.engine.Refresh(ctx, a.RefreshToken, ClientMeta{})
	assert.Equal(t, ErrInvalidRefreshToken, err)

	_, err = f.engine.Refresh(ctx, other.RefreshToken, ClientMeta{})
	assert.Equal(t, ErrInvalidRefreshToken, err)
	_, err = f.engine.Refresh(ctx, stranger.RefreshToken, ClientMeta{})
	assert.NoError(t, err)
}

func TestEngine_ConcurrentRefreshSingleWinner(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	first, err := f.engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*Issued, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.engine.Refresh(ctx, first.RefreshToken, ClientMeta{})
		}(i)
	}
	wg.Wait()

	var winner *Issued
	for i := 0; i < n; i++ {
		if errs[i] == nil {
			require.Nil(t, winner, "two refreshes of one token succeeded")
			winner = results[i]
			continue
		}
		assert.Equal(t, ErrInvalidRefreshToken, errs[i])
	}
	require.NotNil(t, winner)

	old := f.session(t, first.SessionID)
	require.NotNil(t, old.ReplacedBySessionID)
	assert.Equal(t, winner.SessionID, *old.ReplacedBySessionID)

	_, err = f.engine.Refresh(ctx, winner.RefreshToken, ClientMeta{})
	assert.Equal(t, ErrInvalidRefreshToken, err, "losers are treated as replay and end the chain")
}

// racingRepo lets a competitor rotate the session between the engine's read and its write.
type racingRepo struct {
	*sessionrepo.MemoryRepository
	once sync.Once
}

func (r *racingRepo) RotateForward(ctx context.Context, oldID string, next *domain.Session) (bool, error) {
	r.once.Do(func() {
		competitor := *next
		competitor.ID = uuid.NewString()
		_, _ = r.MemoryRepository.RotateForward(ctx, oldID, &competitor)
	})
	return r.MemoryRepository.RotateForward(ctx, oldID, next)
}

func TestEngine_LostGuardedWriteIsReplay(t *testing.T) {
	repo := &racingRepo{MemoryRepository: sessionrepo.NewMemoryRepository()}
	sink := &recordingSink{}
	engine := newEngineWith(t, repo, Config{RefreshTTL: time.Hour}, sink)
	ctx := context.Background()

	first, err := engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)

	_, err = engine.Refresh(ctx, first.RefreshToken, ClientMeta{})
	assert.Equal(t, ErrInvalidRefreshToken, err)

	ev, ok := sink.last(domain.EventReplay)
	require.True(t, ok)
	assert.Equal(t, ErrConcurrentRotationLost.Error(), ev.Reason)
	assert.Len(t, ev.Affected, 2, "replayed link and the competitor's head")

	old, _ := repo.GetByID(ctx, first.SessionID)
	head, _ := repo.GetByID(ctx, *old.ReplacedBySessionID)
	assert.Equal(t, domain.StatusRevoked, head.Status(engine.Now()))
}

func TestEngine_RefreshRejections(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	issued, err := f.engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)
	sid, secret, _ := security.DecodeRefreshToken(issued.RefreshToken)

	tests := []struct {
		name   string
		token  string
		reason error
	}{
		{"no separator", "abc", security.ErrMalformedCredential},
		{"empty session id", ".secret", security.ErrMalformedCredential},
		{"empty", "", security.ErrMalformedCredential},
		{"unknown session", uuid.NewString() + "." + secret, ErrSessionNotFound},
		{"wrong secret", sid + ".AAAA" + secret[4:], ErrSecretMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Refresh(ctx, tt.token, ClientMeta{})
			assert.Equal(t, ErrInvalidRefreshToken, err)
			ev, ok := f.sink.last(domain.EventRejected)
			require.True(t, ok)
			assert.Equal(t, tt.reason.Error(), ev.Reason)
		})
	}

	s := f.session(t, sid)
	assert.Equal(t, domain.StatusActive, s.Status(f.engine.Now()), "failed attempts do not consume the secret")
	_, err = f.engine.Refresh(ctx, issued.RefreshToken, ClientMeta{})
	assert.NoError(t, err)
}

func TestEngine_RefreshExpired(t *testing.T) {
	f := newFixture(t, Config{RefreshTTL: time.Hour})
	ctx := context.Background()
	issued, err := f.engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	_, err = f.engine.Refresh(ctx, issued.RefreshToken, ClientMeta{})
	assert.Equal(t, ErrInvalidRefreshToken, err)
	ev, _ := f.sink.last(domain.EventRejected)
	assert.Equal(t, ErrSessionExpired.Error(), ev.Reason)
	assert.Nil(t, f.session(t, issued.SessionID).RevokedAt, "expiry has no side effects")
}

func TestEngine_RefreshRevoked(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	issued, err := f.engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)
	require.NoError(t, f.engine.Revoke(ctx, issued.SessionID, "admin"))

	_, err = f.engine.Refresh(ctx, issued.RefreshToken, ClientMeta{})
	assert.Equal(t, ErrInvalidRefreshToken, err)
	ev, _ := f.sink.last(domain.EventRejected)
	assert.Equal(t, ErrSessionRevoked.Error(), ev.Reason)
}

func TestEngine_RevokeIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	issued, err := f.engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, f.engine.Revoke(ctx, issued.SessionID, "admin"))
	firstAt := *f.session(t, issued.SessionID).RevokedAt
	f.now = f.now.Add(time.Minute)
	require.NoError(t, f.engine.Revoke(ctx, issued.SessionID, "admin"))
	assert.True(t, firstAt.Equal(*f.session(t, issued.SessionID).RevokedAt))

	revocations := 0
	for _, k := range f.sink.kinds() {
		if k == domain.EventRevoked {
			revocations++
		}
	}
	assert.Equal(t, 1, revocations)
	assert.ErrorIs(t, f.engine.Revoke(ctx, "missing", "admin"), ErrSessionNotFound)
}

func TestEngine_Logout(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	issued, err := f.engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)

	assert.NoError(t, f.engine.Logout(ctx, "garbage"))
	sid, _, _ := security.DecodeRefreshToken(issued.RefreshToken)
	assert.NoError(t, f.engine.Logout(ctx, sid+".wrongsecret"))
	assert.Nil(t, f.session(t, sid).RevokedAt, "logout needs the current secret")

	require.NoError(t, f.engine.Logout(ctx, issued.RefreshToken))
	assert.NotNil(t, f.session(t, sid).RevokedAt)
	_, err = f.engine.Refresh(ctx, issued.RefreshToken, ClientMeta{})
	assert.Equal(t, ErrInvalidRefreshToken, err)
}

func TestEngine_LogoutWithRotatedTokenRevokesChain(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	a, err := f.engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)
	b, err := f.engine.Refresh(ctx, a.RefreshToken, ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, f.engine.Logout(ctx, a.RefreshToken))

	assert.Equal(t, domain.StatusRevoked, f.session(t, b.SessionID).Status(f.engine.Now()))
	_, err = f.engine.Refresh(ctx, b.RefreshToken, ClientMeta{})
	assert.Equal(t, ErrInvalidRefreshToken, err)
	ev, ok := f.sink.last(domain.EventReplay)
	require.True(t, ok)
	assert.Contains(t, ev.Affected, b.SessionID)
}

func TestEngine_LogoutOfEndedSessionIsNoop(t *testing.T) {
	f := newFixture(t, Config{RefreshTTL: time.Minute})
	ctx := context.Background()
	revoked, err := f.engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)
	require.NoError(t, f.engine.Logout(ctx, revoked.RefreshToken))
	expired, err := f.engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)
	f.now = f.now.Add(2 * time.Minute)
	before := len(f.sink.kinds())

	assert.NoError(t, f.engine.Logout(ctx, revoked.RefreshToken))
	assert.NoError(t, f.engine.Logout(ctx, expired.RefreshToken))

	assert.Len(t, f.sink.kinds(), before)
	assert.Nil(t, f.session(t, expired.SessionID).RevokedAt)
}

func TestEngine_RevokeAllForUser(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	a, _ := f.engine.Login(ctx, "u1", ClientMeta{})
	b, _ := f.engine.Login(ctx, "u1", ClientMeta{})
	c, _ := f.engine.Login(ctx, "u2", ClientMeta{})

	ids, err := f.engine.RevokeAllForUser(ctx, "u1", "logout_all")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.SessionID, b.SessionID}, ids)
	assert.Nil(t, f.session(t, c.SessionID).RevokedAt)
}

func TestEngine_AccessTokenOutlivesRevocationByDefault(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	issued, err := f.engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)
	require.NoError(t, f.engine.Revoke(ctx, issued.SessionID, "logout"))

	_, err = f.engine.AuthenticateAccess(ctx, issued.AccessToken)
	assert.NoError(t, err)
}

func TestEngine_RevocationCheckRejectsRevokedSession(t *testing.T) {
	f := newFixture(t, Config{RevocationCheck: true})
	ctx := context.Background()
	first, err := f.engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)
	second, err := f.engine.Refresh(ctx, first.RefreshToken, ClientMeta{})
	require.NoError(t, err)

	_, err = f.engine.AuthenticateAccess(ctx, first.AccessToken)
	assert.NoError(t, err, "a normally rotated link's access token remains valid")

	require.NoError(t, f.engine.Revoke(ctx, second.SessionID, "logout"))
	_, err = f.engine.AuthenticateAccess(ctx, second.AccessToken)
	assert.ErrorIs(t, err, security.ErrInvalidToken)

	_, err = f.engine.AuthenticateAccess(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, security.ErrInvalidToken)
}

func TestEngine_RevocationCheckRecordsLastSeen(t *testing.T) {
	f := newFixture(t, Config{RevocationCheck: true})
	ctx := context.Background()
	issued, err := f.engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)
	require.Nil(t, f.session(t, issued.SessionID).LastSeenAt)

	_, err = f.engine.AuthenticateAccess(ctx, issued.AccessToken)
	require.NoError(t, err)
	seen := f.session(t, issued.SessionID).LastSeenAt
	require.NotNil(t, seen)
	assert.True(t, seen.Equal(f.now))

	// Within the interval the timestamp is not rewritten.
	f.now = f.now.Add(30 * time.Second)
	_, err = f.engine.AuthenticateAccess(ctx, issued.AccessToken)
	require.NoError(t, err)
	assert.True(t, f.session(t, issued.SessionID).LastSeenAt.Equal(*seen))

	f.now = f.now.Add(time.Minute)
	_, err = f.engine.AuthenticateAccess(ctx, issued.AccessToken)
	require.NoError(t, err)
	assert.True(t, f.session(t, issued.SessionID).LastSeenAt.Equal(f.now))
}

type failingRepo struct {
	*sessionrepo.MemoryRepository
	failGet bool
}

var errDown = errors.New("connection refused")

func (r *failingRepo) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	if r.failGet {
		return nil, errDown
	}
	return r.MemoryRepository.GetByID(ctx, id)
}

func TestEngine_StoreFailureIsNotInvalidToken(t *testing.T) {
	repo := &failingRepo{MemoryRepository: sessionrepo.NewMemoryRepository()}
	engine := newEngineWith(t, repo, Config{RefreshTTL: time.Hour}, nil)
	ctx := context.Background()
	issued, err := engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)

	repo.failGet = true
	_, err = engine.Refresh(ctx, issued.RefreshToken, ClientMeta{})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, errDown)
	assert.NotErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestEngine_KeyMaterialFailureDoesNotRotate(t *testing.T) {
	repo := sessionrepo.NewMemoryRepository()
	keys := security.NewTestKeyManager()
	tokens := security.NewTokenProvider(keys, "i", "a", time.Minute)
	engine := NewEngine(repo, tokens, security.NewSecretHasher(testSecretParams), Config{RefreshTTL: time.Hour}, nil)
	ctx := context.Background()
	issued, err := engine.Login(ctx, "u1", ClientMeta{})
	require.NoError(t, err)

	keys.ReplaceSourceForTest(security.KeySource{PrivateKey: "broken"})
	_, err = engine.Refresh(ctx, issued.RefreshToken, ClientMeta{})
	assert.ErrorIs(t, err, security.ErrKeyMaterialInvalid)
	assert.NotErrorIs(t, err, ErrInvalidRefreshToken)

	s, _ := repo.GetByID(ctx, issued.SessionID)
	assert.Equal(t, domain.StatusActive, s.Status(engine.Now()))

	_, err = engine.Login(ctx, "u1", ClientMeta{})
	assert.ErrorIs(t, err, security.ErrKeyMaterialInvalid)
}

func TestEngine_ListAndGet(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	a, _ := f.engine.Login(ctx, "u1", ClientMeta{})
	f.now = f.now.Add(time.Second)
	b, _ := f.engine.Login(ctx, "u1", ClientMeta{})

	list, err := f.engine.List(ctx, sessionrepo.ListFilter{UserID: "u1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.SessionID, list[0].ID)

	got, err := f.engine.Get(ctx, a.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	_, err = f.engine.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestParseReplayScope(t *testing.T) {
	for in, want := range map[string]ReplayScope{"": ReplayScopeChain, "chain": ReplayScopeChain, " USER ": ReplayScopeUser} {
		got, err := ParseReplayScope(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseReplayScope("everything")
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "everything"))
}
