package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

// Predicate decides whether an identity may proceed. A nil error allows it.
type Predicate func(entity.Identity) error

// RequireRoles allows identities holding any of roles.
func RequireRoles(roles ...entity.Role) Predicate {
	return func(id entity.Identity) error {
		if slices.Contains(roles, id.Role) {
			return nil
		}
		return fmt.Errorf("role %q not permitted", id.Role)
	}
}

func RequireVerifiedEmail() Predicate {
	return func(id entity.Identity) error {
		if !id.EmailVerified {
			return errors.New("email not verified")
		}
		return nil
	}
}

// All allows an identity only if every predicate does.
func All(preds ...Predicate) Predicate {
	return func(id entity.Identity) error {
		for _, p := range preds {
			if err := p(id); err != nil {
				return err
			}
		}
		return nil
	}
}

// Authorize gates a handler on pred. It must run after authentication; a
// request without an identity is treated as unauthenticated.
func Authorize(pred Predicate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				writeError(w, ErrUnauthenticated)
				return
			}
			if err := pred(id); err != nil {
				writeError(w, fmt.Errorf("%w: %s", ErrForbidden, err.Error()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
