package client

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/goliatone/go-router"

	"github.com/goliatone/go-entree"
)

// RedirectController sends visitors to the authority pages of this site
type RedirectController struct {
	cfg    Config
	store  UserStore
	logger entree.Logger
}

func NewRedirectController(cfg Config, store UserStore) *RedirectController {
	return &RedirectController{cfg: cfg.WithDefaults(), store: store, logger: entree.NopLogger{}}
}

func (c *RedirectController) WithLogger(l entree.Logger) *RedirectController {
	if l != nil {
		c.logger = l
	}
	return c
}

// RegisterRedirectRoutes mounts login, register, edit and logout under app
func RegisterRedirectRoutes[T any](app router.Router[T], c *RedirectController) {
	app.Get("/login/", c.Login).SetName("entree.login")
	app.Get("/login/:next/", c.Login).SetName("entree.login.next")
	app.Get("/register/", c.Register).SetName("entree.register")
	app.Get("/register/:next/", c.Register).SetName("entree.register.next")
	app.Get("/edit/", c.Edit).SetName("entree.edit")
	app.Get("/edit/:next/", c.Edit).SetName("entree.edit.next")
	app.Get("/logout/", c.Logout).SetName("entree.logout")
	app.Get("/logout/:next/", c.Logout).SetName("entree.logout.next")
}

// RedirectURL is <server>/<route>/<site>/<next>/
func (c *RedirectController) RedirectURL(route, next string) string {
	parts := []string{
		trimRight(c.cfg.ServerURL),
		strings.Trim(route, "/"),
		strconv.FormatInt(c.cfg.SiteID, 10),
	}
	if next != "" {
		parts = append(parts, next)
	}
	return strings.Join(parts, "/") + "/"
}

// next prefers a signed :next param, a plain ?next= path is signed here
func (c *RedirectController) next(ctx router.Context) string {
	if next := ctx.Param("next", ""); next != "" {
		return next
	}
	if path := ctx.Query("next", ""); strings.HasPrefix(path, "/") {
		return entree.SignNextURL(path, c.cfg.SecretKey)
	}
	return ""
}

func (c *RedirectController) Login(ctx router.Context) error {
	return ctx.Redirect(c.RedirectURL(entree.RouteLogin, c.next(ctx)), http.StatusFound)
}

func (c *RedirectController) Register(ctx router.Context) error {
	return ctx.Redirect(c.RedirectURL(entree.RouteRegister, c.next(ctx)), http.StatusFound)
}

func (c *RedirectController) Edit(ctx router.Context) error {
	return ctx.Redirect(c.RedirectURL(entree.RouteProfileEdit, c.next(ctx)), http.StatusFound)
}

// Logout forgets the local user before handing over to the authority
func (c *RedirectController) Logout(ctx router.Context) error {
	raw := ctx.Cookies(c.cfg.CookieName)
	if token, state := ParseCookie(raw, c.cfg.CookieKey); token != "" && c.store != nil &&
		(state == CookieSigned || state == CookieBare) {
		if err := c.store.Delete(ctx.Context(), token); err != nil {
			c.logger.Error("forgetting local user on logout failed: %v", err)
		}
	}

	forget(ctx)
	ctx.Cookie(&router.Cookie{
		Name:   c.cfg.CookieName,
		Value:  AnonymousValue,
		Path:   c.cfg.CookiePath,
		Domain: c.cfg.CookieDomain,
	})

	return ctx.Redirect(c.RedirectURL(entree.RouteLogout, c.next(ctx)), http.StatusFound)
}
