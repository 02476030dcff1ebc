package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", "", err
	}
	return string(h), fmt.Sprintf("bcrypt:%d", cost), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Repository is what UserService needs from persistence. *repo.UserRepo satisfies it.
type Repository interface {
	IdentityFinder
	Create(ctx context.Context, u *entity.User) error
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	TouchLogin(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
	Reactivate(ctx context.Context, id string) error
	SetEmailVerified(ctx context.Context, id string, verified bool) error
}

var _ Repository = (*userrepo.UserRepo)(nil)

const minPasswordLen = 8

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrDisabled        = errors.New("user disabled")
	ErrBadCredentials  = errors.New("invalid credentials")
	ErrEmailTaken      = errors.New("email already registered")
	ErrInvalidEmail    = errors.New("invalid email")
	ErrWeakPassword    = errors.New("password is too weak")
	ErrInvalidRoleName = errors.New("invalid role")
)

// UserService orchestrates signup, password login and account lifecycle.
type UserService struct {
	repo   Repository
	cache  *Cache
	hasher PasswordHasher
	logger *zap.SugaredLogger
}

// NewUserService wires the service. cache may be nil; lifecycle changes then
// simply wait out the cache TTL.
func NewUserService(r Repository, cache *Cache, hasher PasswordHasher, logger *zap.SugaredLogger) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &UserService{repo: r, cache: cache, hasher: hasher, logger: logger}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SignupUser creates an active, unverified account and returns its id.
func (s *UserService) SignupUser(ctx context.Context, email, password string, role entity.Role) (string, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return "", ErrInvalidEmail
	}
	if len(password) < minPasswordLen {
		return "", ErrWeakPassword
	}
	if role == "" {
		role = entity.RoleUser
	}
	if !role.Valid() {
		return "", ErrInvalidRoleName
	}
	hash, algo, err := s.hasher.Hash(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	u := &entity.User{
		ID:           utilities.NewSnowflakeID(),
		Email:        email,
		PasswordHash: hash,
		PasswordAlgo: algo,
		Role:         role,
		Status:       entity.StatusActive,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, userrepo.ErrDuplicate) {
			return "", ErrEmailTaken
		}
		return "", err
	}
	return u.ID, nil
}

// AuthenticatePassword checks the credentials and returns the identity to
// put into a fresh token pair.
func (s *UserService) AuthenticatePassword(ctx context.Context, email, password string) (entity.Identity, error) {
	email = normalizeEmail(email)
	if email == "" {
		return entity.Identity{}, ErrBadCredentials
	}
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return entity.Identity{}, ErrBadCredentials // avoid user enumeration
		}
		return entity.Identity{}, err
	}
	if !s.hasher.Verify(u.PasswordHash, password) {
		return entity.Identity{}, ErrBadCredentials
	}
	if u.Status != entity.StatusActive {
		return entity.Identity{}, ErrDisabled
	}
	if err := s.repo.TouchLogin(ctx, u.ID); err != nil {
		s.logger.Warnw("record login failed", "user_id", u.ID, "err", err)
	}
	return u.Identity(), nil
}

// GetIdentity reads the persistent store directly, skipping the cache.
func (s *UserService) GetIdentity(ctx context.Context, id string) (entity.Identity, error) {
	v, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return entity.Identity{}, ErrUserNotFound
		}
		return entity.Identity{}, err
	}
	return *v, nil
}

// Deactivate disables the account. Tokens already issued keep working
// until the cached identity expires unless the cache entry can be dropped.
func (s *UserService) Deactivate(ctx context.Context, id string) error {
	return s.applyChange(ctx, id, s.repo.Deactivate)
}

// Reactivate re-enables a disabled account.
func (s *UserService) Reactivate(ctx context.Context, id string) error {
	return s.applyChange(ctx, id, s.repo.Reactivate)
}

// VerifyEmail marks the address of id as confirmed.
func (s *UserService) VerifyEmail(ctx context.Context, id string) error {
	return s.applyChange(ctx, id, func(ctx context.Context, id string) error {
		return s.repo.SetEmailVerified(ctx, id, true)
	})
}

func (s *UserService) applyChange(ctx context.Context, id string, apply func(context.Context, string) error) error {
	if err := apply(ctx, id); err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			s.logger.Warnw("user cache invalidate failed", "user_id", id, "err", err)
		}
	}
	return nil
}
