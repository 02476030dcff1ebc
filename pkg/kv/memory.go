package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// ErrFull is returned when the in-process store is at capacity with keys
// that have not expired yet.
var ErrFull = errors.New("kv: store full")

type entry struct {
	value string
	// zero means no expiry
	expires time.Time
}

func (e entry) live(now time.Time) bool {
	return e.expires.IsZero() || now.Before(e.expires)
}

// Memory is an in-process Store that never evicts a live key. When it is
// full a write fails with ErrFull instead. Entries are not shared between
// instances, so it only fits single-node deployments and tests.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]entry
	maxItems int
	now      func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates a store holding up to maxItems live keys.
func NewMemory(maxItems int64) *Memory {
	if maxItems <= 0 {
		maxItems = 100_000
	}
	return &Memory{entries: make(map[string]entry), maxItems: int(maxItems), now: time.Now}
}

// lookup returns the live entry at key, dropping it if it has expired.
// Callers hold mu.
func (m *Memory) lookup(key string, now time.Time) (entry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.live(now) {
		delete(m.entries, key)
		return entry{}, false
	}
	return e, true
}

// put stores e under key, making room by purging expired keys first.
// Callers hold mu.
func (m *Memory) put(key string, e entry, now time.Time) error {
	if _, ok := m.entries[key]; !ok && len(m.entries) >= m.maxItems {
		for k, old := range m.entries {
			if !old.live(now) {
				delete(m.entries, k)
			}
		}
		if len(m.entries) >= m.maxItems {
			return ErrFull
		}
	}
	m.entries[key] = e
	return nil
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key, m.now())
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	return m.put(key, entry{value: value, expires: expiry(now, ttl)}, now)
}

func (m *Memory) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if _, ok := m.lookup(key, now); ok {
		return false, nil
	}
	if err := m.put(key, entry{value: value, expires: expiry(now, ttl)}, now); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	return m.incr(ctx, key, 0)
}

func (m *Memory) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	return m.incr(ctx, key, window)
}

func (m *Memory) incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	e, ok := m.lookup(key, now)
	var n int64
	if ok {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("kv: value at %q is not an integer", key)
		}
		n = parsed
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	if e.expires.IsZero() {
		e.expires = expiry(now, window)
	}
	if err := m.put(key, e, now); err != nil {
		return 0, err
	}
	return n, nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e, ok := m.lookup(key, now)
	if !ok {
		return ErrNotFound
	}
	if ttl <= 0 {
		// same as an already elapsed deadline in Redis
		delete(m.entries, key)
		return nil
	}
	e.expires = now.Add(ttl)
	m.entries[key] = e
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.entries = make(map[string]entry)
	m.mu.Unlock()
	return nil
}
