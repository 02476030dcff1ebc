package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/kv"
)

const loginKeyPrefix = "login:"

// LoginThrottle counts password attempts per email in a fixed window.
// Backend failures never lock anyone out.
type LoginThrottle struct {
	kv      kv.Store
	limit   int64
	window  time.Duration
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewLoginThrottle allows limit attempts per window. A limit of zero disables it.
func NewLoginThrottle(store kv.Store, limit int64, window, timeout time.Duration, logger *zap.SugaredLogger) *LoginThrottle {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LoginThrottle{kv: store, limit: limit, window: window, timeout: timeout, logger: logger}
}

func loginKey(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return loginKeyPrefix + base64.RawURLEncoding.EncodeToString(sum[:])
}

// Attempt records one attempt and reports whether it is within the limit.
func (t *LoginThrottle) Attempt(ctx context.Context, email string) bool {
	if t == nil || t.limit <= 0 {
		return true
	}
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	// the window is attached by the increment itself, so a counter that
	// lost its expiry is given one again on the next attempt
	n, err := t.kv.IncrWindow(ctx, loginKey(email), t.window)
	if err != nil {
		t.logger.Warnw("login throttle unavailable", "err", err)
		return true
	}
	return n <= t.limit
}

// Reset clears the counter after a successful login.
func (t *LoginThrottle) Reset(ctx context.Context, email string) {
	if t == nil {
		return
	}
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	if err := t.kv.Delete(ctx, loginKey(email)); err != nil {
		t.logger.Warnw("login throttle reset failed", "err", err)
	}
}

func (t *LoginThrottle) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.timeout)
}
