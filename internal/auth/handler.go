package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// PasswordAuthenticator checks login credentials. *user.UserService satisfies it.
type PasswordAuthenticator interface {
	AuthenticatePassword(ctx context.Context, email, password string) (entity.Identity, error)
}

var _ PasswordAuthenticator = (*user.UserService)(nil)

// CookieOptions controls the access token cookie set on login.
type CookieOptions struct {
	Secure bool
	Domain string
}

type HandlerOpts struct {
	Cookie CookieOptions
	// Throttle may be nil to disable login attempt limits.
	Throttle *LoginThrottle
	Logger   *zap.SugaredLogger
}

// Handler exposes login, refresh, logout and session endpoints.
type Handler struct {
	users    PasswordAuthenticator
	tokens   *TokenService
	cookie   CookieOptions
	throttle *LoginThrottle
	logger   *zap.SugaredLogger
}

func NewHandler(users PasswordAuthenticator, tokens *TokenService, o HandlerOpts) *Handler {
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return &Handler{users: users, tokens: tokens, cookie: o.Cookie, throttle: o.Throttle, logger: o.Logger}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// SessionResponse describes the caller on optionally authenticated routes.
type SessionResponse struct {
	Authenticated bool             `json:"authenticated"`
	User          *entity.Identity `json:"user,omitempty"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := utilities.WithTrace(r.Context(), h.logger)
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload", Code: CodeInvalidPayload})
		return
	}
	if !h.throttle.Attempt(r.Context(), req.Email) {
		logger.Infow("login throttled")
		writeError(w, ErrTooManyAttempts)
		return
	}
	id, err := h.users.AuthenticatePassword(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, user.ErrBadCredentials):
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error(), Code: CodeInvalidCredentials})
		return
	case errors.Is(err, user.ErrDisabled):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error(), Code: CodeAccountDeactivated})
		return
	case err != nil:
		logger.Errorw("login failed", "err", err)
		writeError(w, ErrUpstreamUnavailable)
		return
	}

	h.throttle.Reset(r.Context(), req.Email)

	pair, err := h.tokens.IssueTokenPair(id)
	if err != nil {
		logger.Errorw("issue token pair", "user_id", id.ID, "err", err)
		writeError(w, err)
		return
	}
	http.SetCookie(w, h.accessCookie(pair.AccessToken, int(pair.ExpiresIn)))
	logger.Infow("user logged in", "user_id", id.ID)
	writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload", Code: CodeInvalidPayload})
		return
	}
	pair, err := h.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrUpstreamUnavailable) {
			utilities.WithTrace(r.Context(), h.logger).Errorw("refresh failed", "err", err)
		}
		writeError(w, err)
		return
	}
	http.SetCookie(w, h.accessCookie(pair.AccessToken, int(pair.ExpiresIn)))
	writeJSON(w, http.StatusOK, pair)
}

// Logout must run behind required authentication. The body is optional.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	token, hasToken := TokenFrom(r.Context())
	if !ok || !hasToken {
		writeError(w, ErrUnauthenticated)
		return
	}
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid payload", Code: CodeInvalidPayload})
		return
	}
	if err := h.tokens.Logout(r.Context(), id.ID, token, req.RefreshToken); err != nil {
		utilities.WithTrace(r.Context(), h.logger).Errorw("logout failed", "user_id", id.ID, "err", err)
		writeError(w, err)
		return
	}
	http.SetCookie(w, h.accessCookie("", -1))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, ErrUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	resp := SessionResponse{}
	if id, ok := IdentityFrom(r.Context()); ok {
		resp.Authenticated = true
		resp.User = &id
	}
	writeJSON(w, http.StatusOK, resp)
}

// Revoke implements RFC 7009. Possessing a token is enough to revoke it, and
// an unusable token is still answered with 200.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	token := r.Form.Get("token")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if err := h.tokens.Blacklist(r.Context(), token); err != nil && errors.Is(err, ErrUpstreamUnavailable) {
		utilities.WithTrace(r.Context(), h.logger).Errorw("revoke failed", "err", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Introspect implements RFC 7662 for tokens issued by this service.
func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	token := r.Form.Get("token")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	writeJSON(w, http.StatusOK, h.tokens.Introspect(r.Context(), token))
}

func (h *Handler) accessCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.cookie.Domain,
		MaxAge:   maxAge,
		Secure:   h.cookie.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
