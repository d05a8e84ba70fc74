package auth

import (
	"context"
	"errors"
)

type contextKey struct{}

// ErrNoPrincipal is returned when a request context carries no
// authenticated principal.
var ErrNoPrincipal = errors.New("auth: no principal in context")

// WithPrincipal attaches the authenticated principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// GetPrincipal returns the request's principal.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	if !ok {
		return nil, ErrNoPrincipal
	}
	return p, nil
}

// GetTenantID returns the tenant of the request's principal.
func GetTenantID(ctx context.Context) (string, error) {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return "", err
	}
	return p.GetTenantID(), nil
}
