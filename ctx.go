package entree

import (
	"context"

	"github.com/goliatone/go-router"
)

var identityCtxKey = &contextKey{"identity"}
var sessionCtxKey = &contextKey{"session"}

type contextKey struct {
	name string
}

// IdentityLocalsKey is where the middleware stores the identity in router locals
const IdentityLocalsKey = "identity"

// SessionLocalsKey is where the middleware stores the session in router locals
const SessionLocalsKey = "session"

// PrincipalLocalsKey holds the raw session principal
const PrincipalLocalsKey = "entree_principal"

// WithContext sets the Identity in the given context
func WithContext(r context.Context, identity *Identity) context.Context {
	return context.WithValue(r, identityCtxKey, identity)
}

// FromContext finds the identity from the context.
func FromContext(ctx context.Context) (*Identity, bool) {
	raw, ok := ctx.Value(identityCtxKey).(*Identity)
	return raw, ok && raw != nil
}

// WithSessionContext sets the Session in the given context
func WithSessionContext(r context.Context, session *Session) context.Context {
	return context.WithValue(r, sessionCtxKey, session)
}

// SessionFromContext extracts the Session from the standard context
func SessionFromContext(ctx context.Context) (*Session, bool) {
	raw, ok := ctx.Value(sessionCtxKey).(*Session)
	return raw, ok && raw != nil
}

// GetRouterIdentity extracts the Identity from router locals
func GetRouterIdentity(ctx router.Context) (*Identity, bool) {
	raw, ok := ctx.Locals(IdentityLocalsKey).(*Identity)
	return raw, ok && raw != nil
}

// GetRouterSession extracts the Session from router locals
func GetRouterSession(ctx router.Context) (*Session, bool) {
	raw, ok := ctx.Locals(SessionLocalsKey).(*Session)
	return raw, ok && raw != nil
}
