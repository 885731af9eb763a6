// ABOUTME: Identity propagation through request contexts
// ABOUTME: Provides WithIdentity/FromContext for handlers behind the middleware

package auth

import (
	"context"
)

// Identity is the authenticated admin extracted from a request.
type Identity struct {
	Username string
	Role     string
}

// IsAdmin returns true for the roles allowed to issue commands.
func (i *Identity) IsAdmin() bool {
	return i.Role == "admin" || i.Role == "owner"
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}
