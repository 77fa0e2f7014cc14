package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Mindburn-Labs/conductor-gateway/pkg/authz"
)

// GatewayClaims are the claims carried by a gateway bearer token. Unlike
// the asymmetric tokens issued elsewhere in the surrounding codebase,
// these are signed with a single symmetric secret shared by every gateway
// instance in a deployment.
type GatewayClaims struct {
	jwt.RegisteredClaims
	AgentIdentifier string     `json:"agent_identifier"`
	PermissionTier  authz.Tier `json:"permission_tier"`
}

// TokenService issues and validates the bearer tokens used for
// Authenticated and Admin tier requests.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService signing with secret. ttl bounds
// how long an issued token remains valid before the caller must refresh.
func NewTokenService(secret []byte, ttl time.Duration) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, errors.New("token service requires a non-empty secret")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenService{secret: secret, ttl: ttl}, nil
}

// Issue mints a new bearer token for agentIdentifier at the given tier.
func (s *TokenService) Issue(agentIdentifier string, tier authz.Tier) (string, error) {
	now := time.Now()
	claims := GatewayClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentIdentifier,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		AgentIdentifier: agentIdentifier,
		PermissionTier:  tier,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies tokenStr, returning the Principal it
// asserts.
func (s *TokenService) Validate(tokenStr string) (Principal, error) {
	claims := &GatewayClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("validate token: %w", err)
	}
	if !token.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.AgentIdentifier == "" {
		return Principal{}, errors.New("token missing agent identifier")
	}

	issuedAt := time.Time{}
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}
	expiresAt := time.Time{}
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return Principal{
		AgentIdentifier: claims.AgentIdentifier,
		Tier:            claims.PermissionTier,
		TokenID:         claims.ID,
		IssuedAt:        issuedAt,
		ExpiresAt:       expiresAt,
	}, nil
}

// Refresh validates tokenStr and, if still valid, issues a new token with
// a fresh expiry for the same agent identifier and tier. Refresh does not
// extend a token past its own validity window; an expired token cannot be
// refreshed and must go through Issue (re-authentication) again.
func (s *TokenService) Refresh(tokenStr string) (string, error) {
	principal, err := s.Validate(tokenStr)
	if err != nil {
		return "", err
	}
	return s.Issue(principal.AgentIdentifier, principal.Tier)
}
