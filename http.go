package entree

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"

	"github.com/goliatone/go-entree/middleware/sessionware"
)

// RouteAuthenticator resolves the authority session of each request
type RouteAuthenticator struct {
	auth             *Authority
	cfg              Config
	Logger           Logger
	AuthErrorHandler func(c router.Context, err error) error
	ErrorHandler     func(c router.Context, err error) error
}

func NewHTTPAuthenticator(auth *Authority) *RouteAuthenticator {
	a := &RouteAuthenticator{
		auth:   auth,
		cfg:    auth.Config(),
		Logger: auth.Logger(),
	}

	a.ErrorHandler = a.defaultErrHandler
	a.AuthErrorHandler = a.defaultAuthErrHandler

	return a
}

func (a *RouteAuthenticator) cookieName() string {
	if name := a.cfg.GetSessionCookie(); name != "" {
		return name
	}
	return "entree_session"
}

// sessionPrincipal is the resolved session handed around by sessionware
type sessionPrincipal struct {
	identity *Identity
	session  *Session
}

func (p *sessionPrincipal) Subject() string {
	return p.identity.ID.String()
}

func (a *RouteAuthenticator) ResolveSession(ctx context.Context, raw string) (sessionware.Principal, error) {
	identity, session, err := a.auth.Resolve(ctx, raw)
	if err != nil {
		return nil, err
	}
	return &sessionPrincipal{identity: identity, session: session}, nil
}

// Middleware stores the identity behind the session cookie in locals and
// in the request context. Identities that are not active and verified
// only reach the verify and logout routes.
func (a *RouteAuthenticator) Middleware() router.MiddlewareFunc {
	return sessionware.New(sessionware.Config{
		Resolver:    a,
		TokenLookup: "cookie:" + a.cookieName(),
		Optional:    true,
		ContextKey:  PrincipalLocalsKey,
		ValidationListeners: []sessionware.ValidationListener{
			func(ctx router.Context, p sessionware.Principal) error {
				sp := p.(*sessionPrincipal)
				ctx.Locals(IdentityLocalsKey, sp.identity)
				ctx.Locals(SessionLocalsKey, sp.session)
				return nil
			},
		},
		ContextEnricher: func(c context.Context, p sessionware.Principal) context.Context {
			sp := p.(*sessionPrincipal)
			return WithSessionContext(WithContext(c, sp.identity), sp.session)
		},
		ErrorHandler: func(ctx router.Context, err error) error {
			a.Logger.Debug("dropping session cookie: %v", err)
			a.cookieDel(ctx, a.cookieName())
			return ctx.Next()
		},
		SuccessHandler: func(ctx router.Context) error {
			identity, _ := GetRouterIdentity(ctx)
			if !identity.IsVerified() && !isVerificationPath(ctx.Path()) {
				return ctx.Redirect(RouteVerify, http.StatusFound)
			}
			return ctx.Next()
		},
	})
}

func isVerificationPath(path string) bool {
	return strings.HasPrefix(path, RouteVerify) || strings.HasPrefix(path, RouteLogout)
}

// AuthRequired rejects anonymous requests through AuthErrorHandler
func (a *RouteAuthenticator) AuthRequired() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if _, ok := GetRouterIdentity(ctx); !ok {
				return a.AuthErrorHandler(ctx, ErrUnableToFindSession)
			}
			return ctx.Next()
		}
	}
}

// Login sets the session cookie of result
func (a *RouteAuthenticator) Login(ctx router.Context, result *LoginResult) {
	ctx.Cookie(&router.Cookie{
		Name:     a.cookieName(),
		Value:    result.Session,
		Expires:  time.Now().Add(a.auth.Sessions().Expiration()),
		HTTPOnly: true,
		Secure:   a.secure(),
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) Logout(ctx router.Context) {
	a.cookieDel(ctx, a.cookieName())
}

func (a *RouteAuthenticator) secure() bool {
	return strings.HasPrefix(a.cfg.GetPublicURL(), "https://")
}

func (a *RouteAuthenticator) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   a.secure(),
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) defaultAuthErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryAuth, "An unexpected authentication error").
			WithCode(errors.CodeUnauthorized)
	}

	a.Logger.Info("authentication required for %s: %s", c.OriginalURL(), richErr.Message)

	statusCode := http.StatusSeeOther
	if c.Method() == http.MethodGet {
		statusCode = http.StatusFound
	}
	return c.Redirect(RouteLogin, statusCode)
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	a.Logger.Info("handler error: %s category=%s details=%s",
		richErr.Message,
		richErr.Category,
		print.MaybePrettyJSON(richErr.Metadata),
	)

	switch richErr.Category {
	case errors.CategoryAuth, errors.CategoryAuthz:
		return a.AuthErrorHandler(c, richErr)
	default:
		return c.Status(statusFor(richErr)).Render("errors/500", router.ViewContext{
			"error": richErr,
		})
	}
}

// statusFor maps a rich error to its HTTP status
func statusFor(err *errors.Error) int {
	if err.Code >= 400 && err.Code < 600 {
		return err.Code
	}
	switch err.Category {
	case errors.CategoryValidation, errors.CategoryBadInput:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryAuthz:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
