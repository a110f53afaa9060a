package auth

import (
	"context"
	"errors"

	"github.com/Custodia-Systems/timevault/pkg/contracts"
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
		return nil, errors.New("no principal in context")
	}
	return p, nil
}

// GetIdentity returns the context Principal's identity.
func GetIdentity(ctx context.Context) (contracts.Identity, error) {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return "", err
	}
	return p.Identity(), nil
}
