package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/kv"
)

const revokedKeyPrefix = "revoked:"

// RevocationStore records revoked tokens until they would have expired anyway.
type RevocationStore struct {
	kv      kv.Store
	timeout time.Duration
	now     func() time.Time
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

type RevocationOpts struct {
	Timeout time.Duration
	Now     func() time.Time
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
}

func NewRevocationStore(store kv.Store, o RevocationOpts) *RevocationStore {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return &RevocationStore{kv: store, timeout: o.Timeout, now: o.Now, logger: o.Logger, metrics: o.Metrics}
}

// revocationKey never contains the token itself.
func revocationKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return revokedKeyPrefix + base64.RawURLEncoding.EncodeToString(sum[:])
}

// Blacklist revokes token for the rest of its lifetime. An already expired
// token is a no-op. A store failure is returned wrapped in ErrUpstreamUnavailable.
func (r *RevocationStore) Blacklist(ctx context.Context, token string) error {
	exp, err := ExpiryOf(token)
	if err != nil {
		return err
	}
	ttl := exp.Sub(r.now())
	if ttl <= 0 {
		r.metrics.Revocation("blacklist", "skipped")
		return nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.kv.Set(ctx, revocationKey(token), "1", ttl); err != nil {
		r.metrics.Revocation("blacklist", "error")
		r.logger.Errorw("token revocation write failed", "err", err)
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	r.metrics.Revocation("blacklist", "ok")
	return nil
}

// Consume revokes token unless it was already revoked, in one atomic
// step, and reports whether this call did it. Concurrent callers presenting
// the same token see true at most once. Failures are handled like Blacklist.
func (r *RevocationStore) Consume(ctx context.Context, token string) (bool, error) {
	exp, err := ExpiryOf(token)
	if err != nil {
		return false, err
	}
	ttl := exp.Sub(r.now())
	if ttl <= 0 {
		// the codec rejects it from now on anyway
		r.metrics.Revocation("consume", "skipped")
		return false, nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	first, err := r.kv.SetNX(ctx, revocationKey(token), "1", ttl)
	if err != nil {
		r.metrics.Revocation("consume", "error")
		r.logger.Errorw("token revocation write failed", "err", err)
		return false, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	if !first {
		r.metrics.Revocation("consume", "replayed")
		return false, nil
	}
	r.metrics.Revocation("consume", "ok")
	return true, nil
}

// IsBlacklisted reports whether token was revoked. Lookup failures are
// logged and treated as not revoked.
func (r *RevocationStore) IsBlacklisted(ctx context.Context, token string) bool {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.kv.Get(ctx, revocationKey(token))
	switch {
	case err == nil:
		r.metrics.Revocation("lookup", "revoked")
		return true
	case errors.Is(err, kv.ErrNotFound):
		r.metrics.Revocation("lookup", "clear")
		return false
	default:
		r.metrics.Revocation("lookup", "error")
		r.logger.Warnw("token revocation lookup failed, continuing", "err", err)
		return false
	}
}

func (r *RevocationStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}
