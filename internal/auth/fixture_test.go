package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/kv"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// stubFinder stands in for the users table.
type stubFinder struct {
	mu  sync.Mutex
	ids map[string]entity.Identity
	err error
}

func (s *stubFinder) FindByID(_ context.Context, id string) (*entity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.ids[id]
	if !ok {
		return nil, userrepo.ErrNotFound
	}
	return &v, nil
}

func (s *stubFinder) setActive(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.ids[id]
	v.Active = active
	s.ids[id] = v
}

func (s *stubFinder) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// downKV fails every call.
type downKV struct{}

var errKVDown = errors.New("kv down")

func (downKV) Get(context.Context, string) (string, error)               { return "", errKVDown }
func (downKV) Set(context.Context, string, string, time.Duration) error { return errKVDown }
func (downKV) Incr(context.Context, string) (int64, error)              { return 0, errKVDown }
func (downKV) Expire(context.Context, string, time.Duration) error      { return errKVDown }
func (downKV) Delete(context.Context, string) error                     { return errKVDown }
func (downKV) Ping(context.Context) error                               { return errKVDown }
func (downKV) Close() error                                             { return nil }

func (downKV) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errKVDown
}

func (downKV) IncrWindow(context.Context, string, time.Duration) (int64, error) {
	return 0, errKVDown
}

var u1 = entity.Identity{ID: "u1", Email: "u1@example.com", Role: entity.RoleUser, Active: true, EmailVerified: true}

type fixture struct {
	clock       *fakeClock
	mr          *miniredis.Miniredis
	store       kv.Store
	codec       *Codec
	revocations *RevocationStore
	finder      *stubFinder
	cache       *user.Cache
	auth        *Authenticator
	tokens      *TokenService
	metrics     *metrics.Metrics
}

func newTestCodec(t *testing.T, clock *fakeClock) *Codec {
	t.Helper()
	c, err := NewCodec(CodecConfig{
		AccessSecret:  []byte("access-secret-for-tests"),
		RefreshSecret: []byte("refresh-secret-for-tests"),
		Now:           clock.Now,
	})
	require.NoError(t, err)
	return c
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: newClock(), mr: miniredis.RunT(t)}
	store, err := kv.OpenRedis(context.Background(), "redis://"+f.mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	f.store = store

	f.metrics = metrics.New(prometheus.NewRegistry())
	f.codec = newTestCodec(t, f.clock)
	f.revocations = NewRevocationStore(store, RevocationOpts{Now: f.clock.Now, Metrics: f.metrics})
	f.finder = &stubFinder{ids: map[string]entity.Identity{"u1": u1}}
	f.cache = user.NewCache(store, f.finder, user.CacheOpts{Metrics: f.metrics})
	f.auth = NewAuthenticator(f.codec, f.revocations, f.cache, nil, f.metrics)
	f.tokens = NewTokenService(f.codec, f.revocations, true, nil)
	return f
}

func (f *fixture) issue(t *testing.T, id entity.Identity, k Kind) string {
	t.Helper()
	tok, err := f.codec.Issue(id, k)
	require.NoError(t, err)
	return tok
}

// advance moves both the token clock and the redis clock.
func (f *fixture) advance(d time.Duration) {
	f.clock.Advance(d)
	f.mr.FastForward(d)
}

type seen struct {
	called   bool
	identity *entity.Identity
}

// serve runs req through mw and reports what the wrapped handler saw.
func serve(mw func(http.Handler) http.Handler, req *http.Request) (*httptest.ResponseRecorder, *seen) {
	s := &seen{}
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.called = true
		if id, ok := IdentityFrom(r.Context()); ok {
			s.identity = &id
		}
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, s
}

func bearer(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}
