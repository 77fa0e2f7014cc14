package auth

import (
	"time"

	"github.com/Mindburn-Labs/conductor-gateway/pkg/authz"
)

// Principal is the authenticated or anonymous caller of a request: the
// agent identifier it claims (empty for unauthenticated public callers)
// and the permission tier it has been granted.
type Principal struct {
	AgentIdentifier string
	Tier            authz.Tier
	TokenID         string
	IssuedAt        time.Time
	ExpiresAt       time.Time
}

// IsAuthenticated reports whether the principal carries a non-public tier.
func (p Principal) IsAuthenticated() bool {
	return p.Tier > authz.Public
}

// PublicPrincipal is the zero-value caller identity used when a request
// carries no credentials at all; it is still permitted to invoke
// Public-tier operations.
func PublicPrincipal() Principal {
	return Principal{Tier: authz.Public}
}
