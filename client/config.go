package client

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/goliatone/go-entree"
)

const (
	// AnonymousValue marks a visitor without an authority session
	AnonymousValue = "ANONYMOUS"
	// InvalidValue marks a visitor whose cookie failed to resolve
	InvalidValue = "INVALID"
	// FetchTimeout bounds a profile fetch against the authority
	FetchTimeout = time.Second
)

// Config describes a relying site. The env tags are read with the
// ENTREE_CLIENT_ prefix by the config package.
type Config struct {
	ServerURL string `env:"SERVER_URL" envDefault:"http://localhost:8000"`
	SiteID    int64  `env:"SITE_ID"`
	// SecretKey is shared with the authority and signs profile fetches
	SecretKey string `env:"SECRET_KEY"`
	// CookieKey signs the short cookie checksum, it never leaves the site
	CookieKey string `env:"COOKIE_KEY"`

	CookieName   string `env:"COOKIE_NAME" envDefault:"entree_user"`
	CookiePath   string `env:"COOKIE_PATH" envDefault:"/"`
	CookieDomain string `env:"COOKIE_DOMAIN"`

	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"1s"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"5m"`
	DSN          string        `env:"DSN"`
}

// WithDefaults fills every zero field
func (c Config) WithDefaults() Config {
	if c.CookieName == "" {
		c.CookieName = "entree_user"
	}
	if c.CookiePath == "" {
		c.CookiePath = "/"
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = FetchTimeout
	}
	if c.CookieKey == "" {
		c.CookieKey = c.SecretKey
	}
	return c
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ServerURL, validation.Required, is.URL),
		validation.Field(&c.SiteID, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.SecretKey, validation.Required),
	)
}

// ProfileFetchURL is the authority endpoint answering profile fetches
func (c Config) ProfileFetchURL() string {
	return c.route(entree.RouteProfileFetch)
}

func (c Config) route(path string) string {
	return trimRight(c.ServerURL) + path
}

func trimRight(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
