package client

import (
	"context"
	"sync"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// UserLocalsKey holds the lazily resolved user in router locals
const UserLocalsKey = "entree_user"

// lazyUser fetches at most once per request
type lazyUser struct {
	once     sync.Once
	fetch    func() (*EntreeUser, error)
	user     *EntreeUser
	err      error
	resolved bool
	// cleared is set by logout, the cookie is then left alone
	cleared bool
}

func (l *lazyUser) get() (*EntreeUser, error) {
	l.once.Do(func() {
		l.resolved = true
		l.user, l.err = l.fetch()
	})
	return l.user, l.err
}

func (l *lazyUser) invalid() bool {
	return l.resolved && errors.Is(l.err, ErrInvalidAuth)
}

// forget stops the middleware from rewriting the cookie
func forget(ctx router.Context) {
	if lazy, ok := ctx.Locals(UserLocalsKey).(*lazyUser); ok {
		lazy.cleared = true
	}
}

// GetUser resolves the visitor. Anonymous and invalid visitors return
// false.
func GetUser(ctx router.Context) (*EntreeUser, bool) {
	lazy, ok := ctx.Locals(UserLocalsKey).(*lazyUser)
	if !ok {
		return nil, false
	}
	user, err := lazy.get()
	return user, err == nil && user != nil
}

// Middleware exposes the visitor through GetUser and keeps the cookie
// normalized once the handler returns.
func Middleware(fetcher *Fetcher) router.MiddlewareFunc {
	cfg := fetcher.Config()
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			raw := ctx.Cookies(cfg.CookieName)
			reqCtx := ctx.Context()
			if reqCtx == nil {
				reqCtx = context.Background()
			}

			lazy := &lazyUser{fetch: func() (*EntreeUser, error) {
				return fetcher.Fetch(reqCtx, raw)
			}}
			ctx.Locals(UserLocalsKey, lazy)

			err := ctx.Next()
			if lazy.cleared {
				return err
			}

			normalizeCookie(ctx, cfg, raw, lazy.invalid())
			return err
		}
	}
}

func normalizeCookie(ctx router.Context, cfg Config, raw string, invalid bool) {
	if invalid {
		setMarker(ctx, cfg, InvalidValue)
		return
	}

	token, state := ParseCookie(raw, cfg.CookieKey)
	switch state {
	case CookieMissing:
		setMarker(ctx, cfg, AnonymousValue)
	case CookieBare:
		ctx.Cookie(&router.Cookie{
			Name:     cfg.CookieName,
			Value:    SignCookie(token, cfg.CookieKey),
			Path:     cfg.CookiePath,
			Domain:   cfg.CookieDomain,
			HTTPOnly: true,
		})
	case CookieMismatch:
		setMarker(ctx, cfg, InvalidValue)
	}
}

// setMarker writes a marker value, readable by scripts
func setMarker(ctx router.Context, cfg Config, value string) {
	ctx.Cookie(&router.Cookie{
		Name:   cfg.CookieName,
		Value:  value,
		Path:   cfg.CookiePath,
		Domain: cfg.CookieDomain,
	})
}
