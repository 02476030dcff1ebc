package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// ErrDropped is returned when the cache refuses or immediately evicts a
// write, which happens under admission pressure once it is full.
var ErrDropped = errors.New("kv: write dropped by cache")

// Ristretto is an in-process Store on top of ristretto. It admits and
// evicts keys by frequency, so it may lose any entry at any time and only
// serves data that can be recomputed, like cached users.
type Ristretto struct {
	cache *ristretto.Cache[string, string]
	// read-modify-writes; ristretto has no atomic increment or set-if-absent
	mu sync.Mutex
}

var _ Store = (*Ristretto)(nil)

// NewRistretto creates a cache holding up to maxItems keys.
func NewRistretto(maxItems int64) (*Ristretto, error) {
	if maxItems <= 0 {
		maxItems = 100_000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
		// every entry costs 1, otherwise per-key bookkeeping eats the budget
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("init ristretto kv: %w", err)
	}
	return &Ristretto{cache: c}, nil
}

func (r *Ristretto) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v, ok := r.cache.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (r *Ristretto) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.set(key, value, ttl)
}

// set only reports success once the value is readable.
func (r *Ristretto) set(key, value string, ttl time.Duration) error {
	if !r.cache.SetWithTTL(key, value, 1, ttl) {
		return ErrDropped
	}
	// writes are buffered and admission is decided while draining them
	r.cache.Wait()
	if got, ok := r.cache.Get(key); !ok || got != value {
		return ErrDropped
	}
	return nil
}

func (r *Ristretto) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cache.Get(key); ok {
		return false, nil
	}
	if err := r.set(key, value, ttl); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Ristretto) Incr(ctx context.Context, key string) (int64, error) {
	return r.incr(ctx, key, 0)
}

func (r *Ristretto) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	return r.incr(ctx, key, window)
}

func (r *Ristretto) incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	var ttl time.Duration
	if v, ok := r.cache.Get(key); ok {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("kv: value at %q is not an integer", key)
		}
		n = parsed
		ttl, _ = r.cache.GetTTL(key)
	}
	if ttl <= 0 {
		ttl = window
	}
	n++
	if err := r.set(key, strconv.FormatInt(n, 10), ttl); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Ristretto) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.cache.Get(key)
	if !ok {
		return ErrNotFound
	}
	return r.set(key, v, ttl)
}

func (r *Ristretto) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.cache.Del(key)
	return nil
}

func (r *Ristretto) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *Ristretto) Close() error {
	r.cache.Close()
	return nil
}
