package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

// TokenPair is what login and refresh hand back to clients.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// TokenService issues, refreshes and revokes token pairs.
type TokenService struct {
	codec       *Codec
	revocations *RevocationStore
	rotate      bool
	logger      *zap.SugaredLogger
}

// NewTokenService wires the service. With rotate set, a refresh token is
// revoked as soon as it has been exchanged.
func NewTokenService(codec *Codec, revocations *RevocationStore, rotate bool, logger *zap.SugaredLogger) *TokenService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &TokenService{codec: codec, revocations: revocations, rotate: rotate, logger: logger}
}

func (s *TokenService) IssueTokenPair(id entity.Identity) (TokenPair, error) {
	access, err := s.codec.Issue(id, KindAccess)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.codec.Issue(id, KindRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.codec.TTL(KindAccess).Seconds()),
	}, nil
}

// Refresh exchanges a valid, unrevoked refresh token for a new pair.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if refreshToken == "" {
		return TokenPair{}, ErrMissingCredential
	}
	if s.revocations.IsBlacklisted(ctx, refreshToken) {
		return TokenPair{}, ErrRevoked
	}
	claims, err := s.codec.Verify(refreshToken, KindRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	if s.rotate {
		first, err := s.revocations.Consume(ctx, refreshToken)
		if err != nil {
			return TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
		}
		if !first {
			// another exchange of this token won the race
			return TokenPair{}, ErrRevoked
		}
	}
	return s.IssueTokenPair(entity.Identity{ID: claims.Subject, Email: claims.Email, Role: claims.Role})
}

// Blacklist revokes a single token of either kind.
func (s *TokenService) Blacklist(ctx context.Context, token string) error {
	return s.revocations.Blacklist(ctx, token)
}

// Logout revokes the access token and, when given, a refresh token owned by
// the same subject. A refresh token that fails verification is ignored.
func (s *TokenService) Logout(ctx context.Context, subject, accessToken, refreshToken string) error {
	if err := s.revocations.Blacklist(ctx, accessToken); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	if refreshToken == "" {
		return nil
	}
	claims, err := s.codec.Verify(refreshToken, KindRefresh)
	if err != nil {
		s.logger.Debugw("logout ignored refresh token", "user_id", subject, "reason", CodeOf(err))
		return nil
	}
	if claims.Subject != subject {
		s.logger.Warnw("logout refresh token belongs to another subject", "user_id", subject)
		return nil
	}
	if err := s.revocations.Blacklist(ctx, refreshToken); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// Introspection follows the RFC 7662 response shape. Inactive tokens carry
// no other fields.
type Introspection struct {
	Active    bool        `json:"active"`
	Subject   string      `json:"sub,omitempty"`
	Email     string      `json:"email,omitempty"`
	Role      entity.Role `json:"role,omitempty"`
	TokenType string      `json:"token_type,omitempty"`
	IssuedAt  int64       `json:"iat,omitempty"`
	ExpiresAt int64       `json:"exp,omitempty"`
	ID        string      `json:"jti,omitempty"`
}

// Introspect reports whether token is currently usable, trying both kinds.
func (s *TokenService) Introspect(ctx context.Context, token string) Introspection {
	if token == "" || s.revocations.IsBlacklisted(ctx, token) {
		return Introspection{}
	}
	for _, k := range []Kind{KindAccess, KindRefresh} {
		claims, err := s.codec.Verify(token, k)
		if err != nil {
			continue
		}
		out := Introspection{
			Active:    true,
			Subject:   claims.Subject,
			Email:     claims.Email,
			Role:      claims.Role,
			TokenType: string(k) + "_token",
			ExpiresAt: claims.ExpiresAt.Unix(),
			ID:        claims.ID,
		}
		if claims.IssuedAt != nil {
			out.IssuedAt = claims.IssuedAt.Unix()
		}
		return out
	}
	return Introspection{}
}
