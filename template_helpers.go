package entree

import (
	"maps"

	"github.com/flosch/pongo2/v6"
	"github.com/goliatone/go-router"

	"github.com/goliatone/go-entree/middleware/csrf"
)

// TemplateIdentityKey is the view key holding the current identity
var TemplateIdentityKey = "current_identity"

// TemplateHelpers are registered as global functions of the view engine.
//
//	{% if is_authenticated(current_identity) %}
//	<form method="post">{{ csrf_field()|safe }}</form>
//	<a href="{{ routes.logout }}">logout</a>
func TemplateHelpers() map[string]any {
	helpers := map[string]any{
		"is_authenticated": isAuthenticated,
		"is_verified":      isVerified,
		"routes": map[string]string{
			"login":             RouteLogin,
			"logout":            RouteLogout,
			"register":          RouteRegister,
			"verify":            RouteVerify,
			"verify_resend":     RouteVerifyResend,
			"password_change":   RoutePasswordChange,
			"password_recovery": RoutePasswordRecovery,
			"profile":           RouteProfile,
			"profile_edit":      RouteProfileEdit,
		},
	}

	for name, fallback := range csrf.TemplateHelpers("", csrf.DefaultFormFieldName, csrf.DefaultHeaderName) {
		helpers[name] = lazyCSRFHelper(name, fallback)
	}

	return helpers
}

// lazyCSRFHelper resolves the per request value merged by the csrf
// middleware, falling back to an empty token.
func lazyCSRFHelper(name string, fallback any) func(*pongo2.ExecutionContext) string {
	return func(ec *pongo2.ExecutionContext) string {
		if ec != nil {
			if merged, ok := ec.Public[csrf.DefaultTemplateHelpersKey].(map[string]any); ok {
				if v, ok := merged[name].(string); ok {
					return v
				}
			}
		}
		s, _ := fallback.(string)
		return s
	}
}

// MergeTemplateData adds the current identity and CSRF values found in
// locals to data. Keys already present in data win.
func MergeTemplateData(ctx router.Context, data router.ViewContext) router.ViewContext {
	out := router.ViewContext{}

	if identity, ok := GetRouterIdentity(ctx); ok {
		out[TemplateIdentityKey] = identity
	}

	if merged, ok := ctx.Locals(csrf.DefaultTemplateHelpersKey).(map[string]any); ok {
		maps.Copy(out, merged)
	} else if token, ok := ctx.Locals(csrf.DefaultContextKey).(string); ok {
		maps.Copy(out, csrf.TemplateHelpers(token, csrf.DefaultFormFieldName, csrf.DefaultHeaderName))
	}

	maps.Copy(out, data)
	return out
}

func isAuthenticated(v any) bool {
	switch i := v.(type) {
	case *Identity:
		return i != nil
	case map[string]any:
		return len(i) > 0
	}
	return false
}

func isVerified(v any) bool {
	i, ok := v.(*Identity)
	return ok && i.IsVerified()
}
