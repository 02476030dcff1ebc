package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/kv"
)

// DefaultCacheTTL bounds how long a deactivation can go unnoticed.
const DefaultCacheTTL = 5 * time.Minute

const cacheKeyPrefix = "user:"

// IdentityFinder is the persistent source of truth for identities.
type IdentityFinder interface {
	FindByID(ctx context.Context, id string) (*entity.Identity, error)
}

// Cache is a read-through cache of identities in front of an IdentityFinder.
// It is never the only copy: callers may always go to the finder directly.
type Cache struct {
	kv      kv.Store
	store   IdentityFinder
	ttl     time.Duration
	timeout time.Duration
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

type CacheOpts struct {
	TTL time.Duration
	// Timeout bounds each individual cache or store round-trip.
	Timeout time.Duration
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
}

func NewCache(store kv.Store, finder IdentityFinder, o CacheOpts) *Cache {
	if o.TTL <= 0 {
		o.TTL = DefaultCacheTTL
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return &Cache{kv: store, store: finder, ttl: o.TTL, timeout: o.Timeout, logger: o.Logger, metrics: o.Metrics}
}

// Resolve returns the identity for id, or ErrUserNotFound. Any other error
// means the persistent store could not answer.
func (c *Cache) Resolve(ctx context.Context, id string) (entity.Identity, error) {
	if v, ok := c.lookup(ctx, id); ok {
		c.metrics.CacheLookup("hit")
		return v, nil
	}
	c.metrics.CacheLookup("miss")

	found, err := c.find(ctx, id)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return entity.Identity{}, ErrUserNotFound
		}
		return entity.Identity{}, fmt.Errorf("find user %s: %w", id, err)
	}
	if found == nil {
		return entity.Identity{}, ErrUserNotFound
	}

	c.writeBack(ctx, *found)
	return *found, nil
}

func (c *Cache) find(ctx context.Context, id string) (*entity.Identity, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.store.FindByID(ctx, id)
}

// Invalidate drops the cached entry for id.
func (c *Cache) Invalidate(ctx context.Context, id string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.kv.Delete(ctx, cacheKeyPrefix+id)
}

func (c *Cache) lookup(ctx context.Context, id string) (entity.Identity, bool) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	raw, err := c.kv.Get(ctx, cacheKeyPrefix+id)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			c.metrics.CacheLookup("error")
			c.logger.Warnw("user cache read failed", "user_id", id, "err", err)
		}
		return entity.Identity{}, false
	}
	var v entity.Identity
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		c.logger.Warnw("user cache entry undecodable", "user_id", id, "err", err)
		return entity.Identity{}, false
	}
	return v, true
}

// writeBack stores v; failures are logged and swallowed.
func (c *Cache) writeBack(ctx context.Context, v entity.Identity) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Warnw("user cache encode failed", "user_id", v.ID, "err", err)
		return
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if err := c.kv.Set(ctx, cacheKeyPrefix+v.ID, string(raw), c.ttl); err != nil {
		c.logger.Warnw("user cache write failed", "user_id", v.ID, "err", err)
	}
}

func (c *Cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
