package auth

import (
	"context"
	"errors"
)

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return Principal{}, errors.New("no principal in context")
	}
	return p, nil
}

// GetAgentIdentifier is a helper to get the caller's agent identifier from
// the context's Principal.
func GetAgentIdentifier(ctx context.Context) (string, error) {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return "", err
	}
	return p.AgentIdentifier, nil
}

// MustGetAgentIdentifier panics if no agent identifier is present in
// context (use only where middleware guarantees authentication).
func MustGetAgentIdentifier(ctx context.Context) string {
	id, err := GetAgentIdentifier(ctx)
	if err != nil {
		panic(err)
	}
	return id
}
