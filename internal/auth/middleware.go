package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// Mode selects what happens when a request cannot be authenticated.
type Mode int

const (
	// Required rejects the request.
	Required Mode = iota
	// Optional lets it through without an identity. Revoked tokens are still rejected.
	Optional
)

func (m Mode) String() string {
	if m == Optional {
		return "optional"
	}
	return "required"
}

// IdentityResolver maps a subject to its current identity. *user.Cache satisfies it.
type IdentityResolver interface {
	Resolve(ctx context.Context, id string) (entity.Identity, error)
}

var _ IdentityResolver = (*user.Cache)(nil)

// Authenticator runs the per-request authentication pipeline.
type Authenticator struct {
	codec       *Codec
	revocations *RevocationStore
	users       IdentityResolver
	logger      *zap.SugaredLogger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

func NewAuthenticator(codec *Codec, revocations *RevocationStore, users IdentityResolver, logger *zap.SugaredLogger, m *metrics.Metrics) *Authenticator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Authenticator{
		codec:       codec,
		revocations: revocations,
		users:       users,
		logger:      logger,
		metrics:     m,
		tracer:      otel.Tracer("github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"),
	}
}

// Check validates an access token and returns the identity it belongs to.
// The revocation list is consulted before the signature.
func (a *Authenticator) Check(ctx context.Context, token string) (entity.Identity, error) {
	ctx, span := a.tracer.Start(ctx, "auth.check")
	defer span.End()

	id, err := a.check(ctx, token)
	if err != nil {
		span.SetStatus(codes.Error, CodeOf(err))
		span.SetAttributes(attribute.String("auth.reason", CodeOf(err)))
		return entity.Identity{}, err
	}
	span.SetAttributes(attribute.String("enduser.id", id.ID))
	return id, nil
}

func (a *Authenticator) check(ctx context.Context, token string) (entity.Identity, error) {
	rctx, span := a.tracer.Start(ctx, "auth.revocation_lookup")
	revoked := a.revocations.IsBlacklisted(rctx, token)
	span.End()
	if revoked {
		return entity.Identity{}, ErrRevoked
	}

	_, span = a.tracer.Start(ctx, "auth.verify")
	claims, err := a.codec.Verify(token, KindAccess)
	span.End()
	if err != nil {
		return entity.Identity{}, err
	}

	uctx, span := a.tracer.Start(ctx, "auth.resolve_user")
	id, err := a.users.Resolve(uctx, claims.Subject)
	span.End()
	switch {
	case errors.Is(err, user.ErrUserNotFound):
		return entity.Identity{}, ErrUnknownUser
	case err != nil:
		return entity.Identity{}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	if !id.Active {
		return entity.Identity{}, ErrAccountDeactivated
	}
	return id, nil
}

// Middleware authenticates each request in the given mode and attaches the
// identity and raw token to the request context on success.
func (a *Authenticator) Middleware(mode Mode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := utilities.WithTrace(ctx, a.logger)

			token := CredentialFrom(r)
			if token == "" {
				if mode == Optional {
					a.metrics.AuthOutcome(mode.String(), "anonymous")
					next.ServeHTTP(w, r)
					return
				}
				a.reject(w, mode, ErrMissingCredential)
				return
			}

			id, err := a.Check(ctx, token)
			if err == nil {
				a.metrics.AuthOutcome(mode.String(), "authenticated")
				ctx = withToken(WithIdentity(ctx, id), token)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if errors.Is(err, ErrUpstreamUnavailable) {
				logger.Errorw("authentication upstream failure", "mode", mode.String(), "err", err)
			} else {
				logger.Debugw("authentication failed", "mode", mode.String(), "reason", CodeOf(err))
			}
			if mode == Optional && !errors.Is(err, ErrRevoked) {
				a.metrics.AuthOutcome(mode.String(), "anonymous")
				next.ServeHTTP(w, r)
				return
			}
			a.reject(w, mode, err)
		})
	}
}

func (a *Authenticator) reject(w http.ResponseWriter, mode Mode, err error) {
	a.metrics.AuthOutcome(mode.String(), CodeOf(err))
	writeError(w, err)
}
