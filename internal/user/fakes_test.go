package user

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/kv"
)

// memRepo is an in-memory Repository that counts identity lookups.
type memRepo struct {
	mu      sync.Mutex
	users   map[string]*entity.User
	finds   int
	findErr error
}

func newMemRepo() *memRepo {
	return &memRepo{users: make(map[string]*entity.User)}
}

func (m *memRepo) put(u entity.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

func (m *memRepo) findCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finds
}

func (m *memRepo) FindByID(_ context.Context, id string) (*entity.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	if m.findErr != nil {
		return nil, m.findErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, userrepo.ErrNotFound
	}
	v := u.Identity()
	return &v, nil
}

func (m *memRepo) Create(_ context.Context, u *entity.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return userrepo.ErrDuplicate
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memRepo) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, userrepo.ErrNotFound
}

func (m *memRepo) TouchLogin(context.Context, string) error { return nil }

func (m *memRepo) Deactivate(_ context.Context, id string) error {
	return m.setStatus(id, entity.StatusDisabled)
}

func (m *memRepo) Reactivate(_ context.Context, id string) error {
	return m.setStatus(id, entity.StatusActive)
}

func (m *memRepo) SetEmailVerified(_ context.Context, id string, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return userrepo.ErrNotFound
	}
	u.EmailVerified = verified
	return nil
}

func (m *memRepo) setStatus(id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return userrepo.ErrNotFound
	}
	u.Status = status
	return nil
}

// failingKV fails every call with err.
type failingKV struct{ err error }

func (f failingKV) Get(context.Context, string) (string, error)               { return "", f.err }
func (f failingKV) Set(context.Context, string, string, time.Duration) error { return f.err }
func (f failingKV) Incr(context.Context, string) (int64, error)              { return 0, f.err }
func (f failingKV) Expire(context.Context, string, time.Duration) error      { return f.err }
func (f failingKV) Delete(context.Context, string) error                     { return f.err }
func (f failingKV) Ping(context.Context) error                               { return f.err }
func (f failingKV) Close() error                                             { return nil }

func (f failingKV) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, f.err
}

func (f failingKV) IncrWindow(context.Context, string, time.Duration) (int64, error) {
	return 0, f.err
}

var errKVDown = errors.New("kv down")

func newRedisKV(t *testing.T) (*kv.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := kv.OpenRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}
