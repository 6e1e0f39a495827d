// Package tenant carries the tenant scope of a request through context.
package tenant

import (
	"context"
	"regexp"
)

type contextKey struct{}

// Default is used when a request carries no tenant.
const Default = "public"

var validID = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// WithTenant returns a copy of ctx scoped to id.
func WithTenant(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the tenant of ctx, or Default.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKey{}).(string); ok && v != "" {
		return v
	}
	return Default
}

// Valid reports whether id is an acceptable tenant identifier.
func Valid(id string) bool {
	return validID.MatchString(id)
}
