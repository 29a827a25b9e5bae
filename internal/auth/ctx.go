package auth

import "context"

type contextKey struct {
	name string
}

var claimsContextKey = &contextKey{"claims"}

// WithClaimsContext returns a copy of ctx carrying the verified session claims.
func WithClaimsContext(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// GetClaims returns the session claims stored by WithClaimsContext.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	if !ok || claims == nil {
		return nil, false
	}
	return claims, true
}
