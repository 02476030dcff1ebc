package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestAuthenticate_Required(t *testing.T) {
	f := newFixture(t)
	tok := f.issue(t, u1, KindAccess)

	rec, s := serve(f.auth.Middleware(Required), bearer(tok))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, s.identity)
	assert.Equal(t, "u1", s.identity.ID)
	assert.Equal(t, entity.RoleUser, s.identity.Role)
	assert.True(t, s.identity.EmailVerified)
}

func TestAuthenticate_AttachesToken(t *testing.T) {
	f := newFixture(t)
	tok := f.issue(t, u1, KindAccess)

	var got string
	h := f.auth.Middleware(Required)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = TokenFrom(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), bearer(tok))
	assert.Equal(t, tok, got)
}

func TestAuthenticate_CookieFallback(t *testing.T) {
	f := newFixture(t)
	tok := f.issue(t, u1, KindAccess)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: tok})
	rec, s := serve(f.auth.Middleware(Required), req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, s.identity)

	// a header wins over the cookie
	req = bearer("garbage")
	req.AddCookie(&http.Cookie{Name: CookieName, Value: tok})
	rec, _ = serve(f.auth.Middleware(Required), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticate_Rejections(t *testing.T) {
	f := newFixture(t)
	ghost := entity.Identity{ID: "ghost", Email: "g@example.com", Role: entity.RoleUser}

	cases := []struct {
		name  string
		token string
		code  string
	}{
		{"missing", "", CodeMissingCredential},
		{"garbage", "abc.def.ghi", CodeInvalidToken},
		{"refresh as access", f.issue(t, u1, KindRefresh), CodeInvalidToken},
		{"unknown user", f.issue(t, ghost, KindAccess), CodeUnknownUser},
	}
	for _, tc := range cases {
		rec, s := serve(f.auth.Middleware(Required), bearer(tc.token))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.name)
		assert.False(t, s.called, tc.name)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer", tc.name)
		assert.Equal(t, tc.code, decodeErr(t, rec).Code, tc.name)
	}
}

func TestAuthenticate_Expired(t *testing.T) {
	f := newFixture(t)
	tok := f.issue(t, u1, KindAccess)
	f.clock.Advance(DefaultAccessTTL + time.Second)

	rec, _ := serve(f.auth.Middleware(Required), bearer(tok))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeExpired, decodeErr(t, rec).Code)
}

func TestAuthenticate_StaleCacheWindow(t *testing.T) {
	f := newFixture(t)
	tok := f.issue(t, u1, KindAccess)

	rec, _ := serve(f.auth.Middleware(Required), bearer(tok))
	require.Equal(t, http.StatusOK, rec.Code)

	f.finder.setActive("u1", false)
	rec, s := serve(f.auth.Middleware(Required), bearer(tok))
	assert.Equal(t, http.StatusOK, rec.Code, "cached identity is still active")
	assert.True(t, s.called)

	f.advance(user.DefaultCacheTTL + time.Second)
	rec, s = serve(f.auth.Middleware(Required), bearer(tok))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, s.called)
	assert.Equal(t, CodeAccountDeactivated, decodeErr(t, rec).Code)
}

func TestAuthenticate_Revoked(t *testing.T) {
	f := newFixture(t)
	tok := f.issue(t, u1, KindAccess)
	require.NoError(t, f.tokens.Blacklist(context.Background(), tok))

	_, err := f.codec.Verify(tok, KindAccess)
	require.NoError(t, err, "signature and expiry are still fine")

	for _, mode := range []Mode{Required, Optional} {
		rec, s := serve(f.auth.Middleware(mode), bearer(tok))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, mode.String())
		assert.False(t, s.called, mode.String())
		assert.Equal(t, CodeRevoked, decodeErr(t, rec).Code, mode.String())
	}

	body := scrape(t, f)
	assert.Contains(t, body, `auth_outcomes_total{mode="required",outcome="TOKEN_REVOKED"} 1`)
	assert.Contains(t, body, `auth_outcomes_total{mode="optional",outcome="TOKEN_REVOKED"} 1`)
}

func TestAuthenticate_OptionalDegrades(t *testing.T) {
	f := newFixture(t)

	rec, s := serve(f.auth.Middleware(Optional), bearer(""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.called)
	assert.Nil(t, s.identity)

	rec, s = serve(f.auth.Middleware(Optional), bearer("abc.def.ghi"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.called)
	assert.Nil(t, s.identity)

	tok := f.issue(t, u1, KindAccess)
	_, s = serve(f.auth.Middleware(Optional), bearer(tok))
	require.NotNil(t, s.identity)
	assert.Equal(t, "u1", s.identity.ID)

	assert.Contains(t, scrape(t, f), `auth_outcomes_total{mode="optional",outcome="anonymous"} 2`)
}

func TestAuthenticate_UpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.finder.fail(errors.New("connection refused"))
	tok := f.issue(t, u1, KindAccess)

	rec, s := serve(f.auth.Middleware(Required), bearer(tok))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, s.called)
	assert.Equal(t, CodeUpstreamUnavailable, decodeErr(t, rec).Code)

	_, s = serve(f.auth.Middleware(Optional), bearer(tok))
	assert.True(t, s.called)
	assert.Nil(t, s.identity)
}

func TestAuthenticate_RevocationLookupFailsOpen(t *testing.T) {
	f := newFixture(t)
	a := NewAuthenticator(f.codec, NewRevocationStore(downKV{}, RevocationOpts{Now: f.clock.Now}), f.cache, nil, nil)
	tok := f.issue(t, u1, KindAccess)

	rec, s := serve(a.Middleware(Required), bearer(tok))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, s.identity)
}

func TestCredentialFrom(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, CredentialFrom(req))

	req.Header.Set("Authorization", "bearer   tok1 ")
	assert.Equal(t, "tok1", CredentialFrom(req))

	req.Header.Set("Authorization", "Basic dXNlcjpwdw==")
	assert.Empty(t, CredentialFrom(req))

	req.AddCookie(&http.Cookie{Name: CookieName, Value: "tok2"})
	assert.Equal(t, "tok2", CredentialFrom(req))
}

func scrape(t *testing.T, f *fixture) string {
	t.Helper()
	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(b)
}
