package authgate

import (
	"context"

	"github.com/odyssey-erp/odyssey-auth/internal/token"
)

type principalContextKey struct{}

// WithPrincipal stores the verified token payload in context.
func WithPrincipal(ctx context.Context, p token.Payload) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the verified payload attached by the gate.
func PrincipalFromContext(ctx context.Context) (token.Payload, bool) {
	p, ok := ctx.Value(principalContextKey{}).(token.Payload)
	return p, ok
}
