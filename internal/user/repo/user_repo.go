package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

var (
	ErrNotFound  = errors.New("user not found")
	ErrDuplicate = errors.New("user already exists")
)

const userColumns = `id, email, email_verified, password_hash, password_algo, role,
	status, last_login_at, created_at, updated_at, deactivated_at`

// UserRepo provides data access for users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row. created_at/updated_at come back from the database.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	const q = `INSERT INTO users (id, email, email_verified, password_hash, password_algo, role, status)
		VALUES (:id, :email, :email_verified, :password_hash, :password_algo, :role, :status)
		RETURNING created_at, updated_at`
	rows, err := r.db.NamedQueryContext(ctx, q, u)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("user insert: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("user insert: %w", err)
		}
		return errors.New("user insert: no row returned")
	}
	return rows.Scan(&u.CreatedAt, &u.UpdatedAt)
}

// GetByEmail matches case-insensitively thanks to citext.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*entity.User, error) {
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("user select: %w", err)
	}
	return &u, nil
}

// FindByID returns only the fields needed for request authentication.
func (r *UserRepo) FindByID(ctx context.Context, id string) (*entity.Identity, error) {
	const q = `SELECT id, email, role, status = 'active' AS active, email_verified FROM users WHERE id=$1`
	var v entity.Identity
	if err := r.db.GetContext(ctx, &v, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("identity select: %w", err)
	}
	return &v, nil
}

// TouchLogin records a successful login.
func (r *UserRepo) TouchLogin(ctx context.Context, id string) error {
	const q = `UPDATE users SET last_login_at=NOW(), updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// Deactivate marks a user as disabled.
func (r *UserRepo) Deactivate(ctx context.Context, id string) error {
	const q = `UPDATE users SET status='disabled', deactivated_at=NOW(), updated_at=NOW() WHERE id=$1`
	return r.execOne(ctx, q, id)
}

// Reactivate resets a disabled user to active.
func (r *UserRepo) Reactivate(ctx context.Context, id string) error {
	const q = `UPDATE users SET status='active', deactivated_at=NULL, updated_at=NOW() WHERE id=$1`
	return r.execOne(ctx, q, id)
}

// SetEmailVerified flips the verification flag.
func (r *UserRepo) SetEmailVerified(ctx context.Context, id string, verified bool) error {
	const q = `UPDATE users SET email_verified=$2, updated_at=NOW() WHERE id=$1`
	return r.execOne(ctx, q, id, verified)
}

func (r *UserRepo) execOne(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
