package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/conductor-gateway/pkg/api"
	"github.com/Mindburn-Labs/conductor-gateway/pkg/authz"
)

var (
	errAuthHeaderFormat  = errors.New("invalid Authorization header format (expected 'Bearer <token>')")
	errAuthNotConfigured = errors.New("authentication not configured")
	errInvalidAPIKey     = errors.New("invalid API key")
)

// publicPaths are endpoints that do not require authentication at all;
// they still run through the middleware so a Principal (possibly the
// Public-tier zero value) is always present in context.
var publicPaths = []string{
	"/health",
	"/ready",
	"/auth/register",
	"/auth/login",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// NewMiddleware builds HTTP middleware that resolves an incoming request's
// Principal from, in order: a bearer token, then an API key, falling back
// to PublicPrincipal() when neither is present or when a public path
// carries credentials that fail to verify. Invalid credentials on any
// other path are rejected with 401; beyond that, authorization is the
// authz package's job, applied per operation once a Frame has been parsed.
func NewMiddleware(tokens *TokenService, apiKeys *APIKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := resolvePrincipal(r, tokens, apiKeys)
			if err != nil {
				if isPublicPath(r.URL.Path) {
					next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), PublicPrincipal())))
					return
				}
				api.WriteUnauthorized(w, err.Error())
				return
			}

			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolvePrincipal never returns an error for a request with no
// credentials at all; it returns a Public-tier principal in that case.
// It errors only when credentials are present but invalid, so a caller
// presenting a bad token isn't silently downgraded to anonymous.
func resolvePrincipal(r *http.Request, tokens *TokenService, apiKeys *APIKeyValidator) (Principal, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return Principal{}, errAuthHeaderFormat
		}
		if tokens == nil {
			return Principal{}, errAuthNotConfigured
		}
		return tokens.Validate(parts[1])
	}

	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		if apiKeys == nil {
			return Principal{}, errAuthNotConfigured
		}
		tier, ok := apiKeys.Tier(apiKey)
		if !ok {
			return Principal{}, errInvalidAPIKey
		}
		return Principal{Tier: tier}, nil
	}

	return PublicPrincipal(), nil
}

// RequireTier builds middleware that rejects requests whose context
// Principal does not meet minTier, intended to sit in front of HTTP
// routes (distinct from per-operation admin-protocol checks, which use
// authz.IsAllowed directly against a parsed Frame's operation).
func RequireTier(minTier authz.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := GetPrincipal(r.Context())
			if err != nil || principal.Tier < minTier {
				api.WriteForbidden(w, "insufficient permission tier")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
