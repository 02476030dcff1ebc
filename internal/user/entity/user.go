package entity

import (
	"fmt"
	"time"
)

// Role is the closed set of roles a user can hold.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole validates s against the known roles.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUser, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// Account status values stored in users.status.
const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// User represents an account row in the `users` table.
type User struct {
	ID            string     `db:"id"`
	Email         string     `db:"email"`
	EmailVerified bool       `db:"email_verified"`
	PasswordHash  string     `db:"password_hash"`
	PasswordAlgo  string     `db:"password_algo"`
	Role          Role       `db:"role"`
	Status        string     `db:"status"`
	LastLoginAt   *time.Time `db:"last_login_at"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	DeactivatedAt *time.Time `db:"deactivated_at"`
}

// Identity returns the projection the auth pipeline works with.
func (u *User) Identity() Identity {
	return Identity{
		ID:            u.ID,
		Email:         u.Email,
		Role:          u.Role,
		Active:        u.Status == StatusActive,
		EmailVerified: u.EmailVerified,
	}
}

// Identity is the minimal view of a user needed to authenticate and
// authorize a request. The auth pipeline only ever reads it.
type Identity struct {
	ID            string `json:"id" db:"id"`
	Email         string `json:"email" db:"email"`
	Role          Role   `json:"role" db:"role"`
	Active        bool   `json:"active" db:"active"`
	EmailVerified bool   `json:"email_verified" db:"email_verified"`
}
