// Package tokenprovider issues, validates, revokes, and refreshes signed
// access and refresh tokens carrying identity and role claims.
package tokenprovider

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cleanfleet/control-plane/internal/app/apperrors"
	"github.com/cleanfleet/control-plane/internal/app/domain/authz"
)

// Config configures token issuance.
type Config struct {
	Secret               string
	Issuer               string
	AccessTokenDuration  time.Duration
	RefreshTokenDuration time.Duration
}

// claims is the jwt.Claims implementation backing every token this
// provider issues. It embeds jwt.RegisteredClaims for the standard
// fields and carries the domain-specific ones alongside.
type claims struct {
	jwt.RegisteredClaims
	Username  string `json:"username"`
	Role      string `json:"role"`
	TokenType string `json:"tokenType"`
}

// Provider issues and verifies tokens against a shared secret.
type Provider struct {
	cfg Config

	mu        sync.Mutex
	revoked   map[string]time.Time // jti -> natural expiry, for pruning
}

// New constructs a Provider.
func New(cfg Config) *Provider {
	return &Provider{cfg: cfg, revoked: make(map[string]time.Time)}
}

// GenerateTokenPair issues a fresh access and refresh token for user.
func (p *Provider) GenerateTokenPair(user authz.User) (authz.TokenPair, error) {
	now := time.Now().UTC()
	accessExp := now.Add(p.cfg.AccessTokenDuration)
	refreshExp := now.Add(p.cfg.RefreshTokenDuration)

	access, err := p.sign(user, authz.TokenTypeAccess, now, accessExp)
	if err != nil {
		return authz.TokenPair{}, err
	}
	refresh, err := p.sign(user, authz.TokenTypeRefresh, now, refreshExp)
	if err != nil {
		return authz.TokenPair{}, err
	}

	return authz.TokenPair{
		AccessToken:           access,
		RefreshToken:          refresh,
		AccessTokenExpiresAt:  accessExp,
		RefreshTokenExpiresAt: refreshExp,
	}, nil
}

func (p *Provider) sign(user authz.User, tt authz.TokenType, now, exp time.Time) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.cfg.Issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Username:  user.Username,
		Role:      string(user.Role),
		TokenType: string(tt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString([]byte(p.cfg.Secret))
	if err != nil {
		return "", apperrors.Internal("failed to sign token", err)
	}
	return signed, nil
}

// Validate decodes and verifies token, returning its claims.
func (p *Provider) Validate(token string) (authz.Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.InvalidSignature(nil)
		}
		return []byte(p.cfg.Secret), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return authz.Claims{}, apperrors.TokenExpired()
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return authz.Claims{}, apperrors.InvalidSignature(err)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return authz.Claims{}, apperrors.DecodingFailed(err)
		default:
			return authz.Claims{}, apperrors.DecodingFailed(err)
		}
	}
	if !parsed.Valid {
		return authz.Claims{}, apperrors.DecodingFailed(nil)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok {
		return authz.Claims{}, apperrors.DecodingFailed(nil)
	}

	if c.ExpiresAt == nil {
		return authz.Claims{}, apperrors.InvalidClaim("exp")
	}
	if c.IssuedAt == nil {
		return authz.Claims{}, apperrors.InvalidClaim("iat")
	}
	if c.ID == "" {
		return authz.Claims{}, apperrors.InvalidClaim("jti")
	}

	now := time.Now().UTC()
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return authz.Claims{}, apperrors.TokenExpired()
	}
	if !now.Before(c.ExpiresAt.Time) {
		return authz.Claims{}, apperrors.TokenExpired()
	}

	p.mu.Lock()
	_, isRevoked := p.revoked[c.ID]
	p.mu.Unlock()
	if isRevoked {
		return authz.Claims{}, apperrors.InvalidToken()
	}

	tt := authz.TokenType(c.TokenType)
	if tt != authz.TokenTypeAccess && tt != authz.TokenTypeRefresh {
		return authz.Claims{}, apperrors.InvalidClaim("tokenType")
	}

	out := authz.Claims{
		Issuer:    c.Issuer,
		Subject:   c.Subject,
		IssuedAt:  c.IssuedAt.Time,
		ExpiresAt: c.ExpiresAt.Time,
		JTI:       c.ID,
		Username:  c.Username,
		Role:      authz.Role(c.Role),
		TokenType: tt,
	}
	if c.NotBefore != nil {
		nb := c.NotBefore.Time
		out.NotBefore = &nb
	}
	return out, nil
}

// Revoke adds jti to the revocation set, sticky until its natural expiry.
func (p *Provider) Revoke(jti string, expiresAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked[jti] = expiresAt
}

// PruneRevocations drops revocation entries whose token has already
// naturally expired; call periodically to bound the revocation set.
func (p *Provider) PruneRevocations(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	pruned := 0
	for jti, exp := range p.revoked {
		if now.After(exp) {
			delete(p.revoked, jti)
			pruned++
		}
	}
	return pruned
}

// Refresh validates token as a refresh token and issues a new pair.
func (p *Provider) Refresh(token string, user authz.User) (authz.TokenPair, error) {
	c, err := p.Validate(token)
	if err != nil {
		return authz.TokenPair{}, err
	}
	if c.TokenType != authz.TokenTypeRefresh {
		return authz.TokenPair{}, apperrors.InvalidClaim("tokenType")
	}
	return p.GenerateTokenPair(user)
}
