// Package kv is the key-value backend shared by the revocation store, the
// login throttle and the user cache. Redis serves deployments with more than
// one instance. Single-node setups get two in-process stores: a bounded map
// that never evicts for state that must survive until it expires, and a
// ristretto cache for data that may be recomputed.
package kv

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"
)

// ErrNotFound is returned by Get and Expire when the key is absent.
var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal set of operations the auth pipeline relies on.
// A ttl of zero means the key does not expire.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes key only if it is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	// IncrWindow increments key and, in the same step, gives it window as
	// expiry whenever it has none.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

type Config struct {
	// RedisURL selects the Redis backend, e.g. redis://localhost:6379/0.
	// Empty means in-process.
	RedisURL string
	// Timeout bounds every single lookup made through the store.
	Timeout time.Duration
	// MaxItems caps each in-process backend.
	MaxItems int64
}

// ConfigFromEnv reads KV config from environment variables.
func ConfigFromEnv() Config {
	timeout := 500 * time.Millisecond
	if d, err := time.ParseDuration(os.Getenv("KV_TIMEOUT")); err == nil && d > 0 {
		timeout = d
	}
	var maxItems int64 = 100_000
	if n, err := strconv.ParseInt(os.Getenv("KV_MAX_ITEMS"), 10, 64); err == nil && n > 0 {
		maxItems = n
	}
	return Config{RedisURL: os.Getenv("REDIS_URL"), Timeout: timeout, MaxItems: maxItems}
}

// Backends groups the stores by what they may lose. Durable must keep
// every acknowledged write until its ttl runs out. Cache may drop entries.
// With Redis both are the same client.
type Backends struct {
	Durable Store
	Cache   Store
}

// Open builds the backends selected by cfg and verifies they answer.
func Open(ctx context.Context, cfg Config) (*Backends, error) {
	if cfg.RedisURL != "" {
		r, err := OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return &Backends{Durable: r, Cache: r}, nil
	}
	cache, err := NewRistretto(cfg.MaxItems)
	if err != nil {
		return nil, err
	}
	return &Backends{Durable: NewMemory(cfg.MaxItems), Cache: cache}, nil
}

// Ping checks the durable store, which is the one requests depend on.
func (b *Backends) Ping(ctx context.Context) error {
	return b.Durable.Ping(ctx)
}

func (b *Backends) Close() error {
	err := b.Durable.Close()
	if b.Cache != b.Durable {
		err = errors.Join(err, b.Cache.Close())
	}
	return err
}
