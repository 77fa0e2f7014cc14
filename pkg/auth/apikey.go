package auth

import (
	"crypto/subtle"

	"github.com/Mindburn-Labs/conductor-gateway/pkg/authz"
)

// APIKeyValidator checks a static API key against the Authenticated- and
// Admin-tier keys configured for this gateway instance, in constant time
// so a timing side channel can't be used to guess a valid key byte by
// byte.
type APIKeyValidator struct {
	authenticatedKey []byte
	adminKey         []byte
}

// NewAPIKeyValidator creates a validator. Either key may be empty, in
// which case no caller can ever match it.
func NewAPIKeyValidator(authenticatedKey, adminKey string) *APIKeyValidator {
	return &APIKeyValidator{
		authenticatedKey: []byte(authenticatedKey),
		adminKey:         []byte(adminKey),
	}
}

// Tier returns the permission tier granted by candidate, and whether it
// matched any configured key at all.
func (v *APIKeyValidator) Tier(candidate string) (authz.Tier, bool) {
	key := []byte(candidate)

	if len(v.adminKey) > 0 && constantTimeEqual(key, v.adminKey) {
		return authz.Admin, true
	}
	if len(v.authenticatedKey) > 0 && constantTimeEqual(key, v.authenticatedKey) {
		return authz.Authenticated, true
	}
	return authz.Public, false
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
