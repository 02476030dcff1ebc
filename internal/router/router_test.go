package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/kv"
)

type repo struct {
	mu    sync.Mutex
	users map[string]entity.User
}

func (r *repo) FindByID(_ context.Context, id string) (*entity.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, userrepo.ErrNotFound
	}
	v := u.Identity()
	return &v, nil
}

func (r *repo) Create(_ context.Context, u *entity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return userrepo.ErrDuplicate
		}
	}
	r.users[u.ID] = *u
	return nil
}

func (r *repo) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, userrepo.ErrNotFound
}

func (r *repo) TouchLogin(context.Context, string) error { return nil }

func (r *repo) Deactivate(_ context.Context, id string) error { return r.set(id, entity.StatusDisabled) }

func (r *repo) Reactivate(_ context.Context, id string) error { return r.set(id, entity.StatusActive) }

func (r *repo) SetEmailVerified(_ context.Context, id string, verified bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return userrepo.ErrNotFound
	}
	u.EmailVerified = verified
	r.users[id] = u
	return nil
}

func (r *repo) set(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return userrepo.ErrNotFound
	}
	u.Status = status
	r.users[id] = u
	return nil
}

type server struct {
	http.Handler
	mr *miniredis.Miniredis
}

func newServer(t *testing.T) *server {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := kv.OpenRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	hasher := user.BcryptHasher{Cost: bcrypt.MinCost}
	hash, algo, err := hasher.Hash("admin password")
	require.NoError(t, err)
	r := &repo{users: map[string]entity.User{
		"root": {ID: "root", Email: "root@example.com", EmailVerified: true, PasswordHash: hash, PasswordAlgo: algo,
			Role: entity.RoleAdmin, Status: entity.StatusActive},
	}}

	log := zap.NewNop().Sugar()
	m := metrics.New(prometheus.NewRegistry())
	cache := user.NewCache(store, r, user.CacheOpts{Metrics: m})
	users := user.NewUserService(r, cache, hasher, log)
	codec, err := auth.NewCodec(auth.CodecConfig{AccessSecret: []byte("a-secret"), RefreshSecret: []byte("r-secret")})
	require.NoError(t, err)
	revocations := auth.NewRevocationStore(store, auth.RevocationOpts{Metrics: m})
	tokens := auth.NewTokenService(codec, revocations, true, log)

	h := RegisterRoutes(Deps{
		Logger:        log,
		Authenticator: auth.NewAuthenticator(codec, revocations, cache, log, m),
		Auth: auth.NewHandler(users, tokens, auth.HandlerOpts{
			Throttle: auth.NewLoginThrottle(store, 5, time.Minute, 0, log),
			Logger:   log,
		}),
		Users:         user.NewHandler(users, log),
		Metrics:       m,
		Health:        map[string]HealthCheck{"kv": store.Ping},
	})
	return &server{Handler: h, mr: mr}
}

func (s *server) do(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func (s *server) login(t *testing.T, email, password string) auth.TokenPair {
	t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/auth/login", `{"email":"`+email+`","password":"`+password+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pair auth.TokenPair
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pair))
	return pair
}

func TestHealth(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	s.mr.SetError("ERR simulated outage")
	rec = s.do(http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestSignupLoginAndAdmin(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodPost, "/api/v1/auth/signup", `{"email":"rider@example.com","password":"charge it up"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created user.SignupResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	rider := s.login(t, "rider@example.com", "charge it up")
	rec = s.do(http.MethodGet, "/api/v1/auth/me", "", rider.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	// plain users cannot reach the admin surface
	rec = s.do(http.MethodPost, "/api/v1/admin/users/"+created.ID+"/deactivate", "", rider.AccessToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	root := s.login(t, "root@example.com", "admin password")
	rec = s.do(http.MethodPost, "/api/v1/admin/users/"+created.ID+"/deactivate", "", root.AccessToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// the cache entry was invalidated, so the rider is locked out immediately
	rec = s.do(http.MethodGet, "/api/v1/auth/me", "", rider.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), auth.CodeAccountDeactivated)

	rec = s.do(http.MethodGet, "/api/v1/admin/users/"+created.ID, "", root.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var v entity.Identity
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	assert.False(t, v.Active)

	rec = s.do(http.MethodPost, "/api/v1/admin/users/"+created.ID+"/reactivate", "", root.AccessToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodPost, "/api/v1/admin/users/"+created.ID+"/verify-email", "", root.AccessToken)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, "/api/v1/auth/me", "", rider.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	assert.True(t, v.Active)
	assert.True(t, v.EmailVerified)
}

func TestLogoutRevokes(t *testing.T) {
	s := newServer(t)
	root := s.login(t, "root@example.com", "admin password")

	rec := s.do(http.MethodPost, "/api/v1/auth/logout", `{"refresh_token":"`+root.RefreshToken+`"}`, root.AccessToken)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/auth/session", "", root.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), auth.CodeRevoked)

	rec = s.do(http.MethodGet, "/api/v1/auth/session", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"authenticated":false`)
}

func TestLogout_RevocationStoreDown(t *testing.T) {
	s := newServer(t)
	root := s.login(t, "root@example.com", "admin password")

	s.mr.SetError("ERR simulated outage")

	rec := s.do(http.MethodPost, "/api/v1/auth/logout", "", root.AccessToken)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), auth.CodeUpstreamUnavailable)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t)
	s.do(http.MethodGet, "/api/v1/auth/me", "", "")

	rec := s.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `auth_outcomes_total{mode="required",outcome="MISSING_CREDENTIAL"} 1`)
}

var _ user.Repository = (*repo)(nil)
