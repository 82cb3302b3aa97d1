// Package config loads authority and client settings from the environment.
// Every variable carries the ENTREE_ prefix.
package config

import (
	"crypto/sha256"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-entree"
)

// Prefix is prepended to every variable name
const Prefix = "ENTREE_"

type SMTP struct {
	Addr     string `env:"ADDR"`
	From     string `env:"FROM" envDefault:"entree@localhost"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
}

// Enabled is false when mail should only be logged
func (s SMTP) Enabled() bool {
	return s.Addr != ""
}

// Config is the authority configuration, it satisfies entree.Config
type Config struct {
	SecretKey         string        `env:"SECRET_KEY,notEmpty"`
	SigningKey        string        `env:"SIGNING_KEY"`
	SessionCookie     string        `env:"SESSION_COOKIE" envDefault:"entree_session"`
	SessionExpiration time.Duration `env:"SESSION_EXPIRATION" envDefault:"720h"`
	Issuer            string        `env:"ISSUER" envDefault:"entree"`
	PublicURL         string        `env:"PUBLIC_URL" envDefault:"http://localhost:8000"`
	Debug             bool          `env:"DEBUG"`

	MailCooldown  time.Duration `env:"MAIL_COOLDOWN" envDefault:"10m"`
	AuthTokenTTL  time.Duration `env:"AUTH_TOKEN_TTL"`
	MailTokenTTL  time.Duration `env:"MAIL_TOKEN_TTL" envDefault:"72h"`
	ResetTokenTTL time.Duration `env:"RESET_TOKEN_TTL" envDefault:"72h"`

	DSN             string        `env:"DSN" envDefault:"file:entree.db?cache=shared&_pragma=foreign_keys(1)"`
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8000"`
	MetricsAddr     string        `env:"METRICS_ADDR" envDefault:":9100"`
	JanitorInterval time.Duration `env:"JANITOR_INTERVAL" envDefault:"1h"`
	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"5m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// FetchRate is the number of profile fetches per second a site may do
	FetchRate  float64 `env:"FETCH_RATE" envDefault:"5"`
	FetchBurst int     `env:"FETCH_BURST" envDefault:"20"`

	CSRFKey string `env:"CSRF_KEY"`

	SMTP SMTP `envPrefix:"SMTP_"`
}

var _ entree.Config = (*Config)(nil)

// Load reads the authority configuration from the environment
func Load() (*Config, error) {
	return load(env.Options{Prefix: Prefix})
}

// LoadFrom reads the configuration from a fixed set of variables
func LoadFrom(environment map[string]string) (*Config, error) {
	return load(env.Options{Prefix: Prefix, Environment: environment})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "failed to parse environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.SecretKey, validation.Required, validation.Length(16, 0)),
		validation.Field(&c.PublicURL, validation.Required, is.URL),
		validation.Field(&c.SessionExpiration, validation.Required),
		validation.Field(&c.FetchRate, validation.Min(0.0)),
		validation.Field(&c.FetchBurst, validation.Min(0)),
	)
}

func (c *Config) GetSecretKey() string { return c.SecretKey }

// GetSigningKey falls back to the secret key
func (c *Config) GetSigningKey() string {
	if c.SigningKey != "" {
		return c.SigningKey
	}
	return c.SecretKey
}

func (c *Config) GetSessionCookie() string            { return c.SessionCookie }
func (c *Config) GetSessionExpiration() time.Duration { return c.SessionExpiration }
func (c *Config) GetIssuer() string                   { return c.Issuer }
func (c *Config) GetPublicURL() string                { return c.PublicURL }
func (c *Config) GetMailCooldown() time.Duration      { return c.MailCooldown }
func (c *Config) GetDebug() bool                      { return c.Debug }

func (c *Config) GetTokenTTL(tokenType entree.TokenType) time.Duration {
	switch tokenType {
	case entree.TokenAuth:
		return c.AuthTokenTTL
	case entree.TokenMail:
		return c.MailTokenTTL
	case entree.TokenReset:
		return c.ResetTokenTTL
	}
	return 0
}

// GetCSRFKey is a 32 byte key, derived from the secret when unset
func (c *Config) GetCSRFKey() []byte {
	seed := c.CSRFKey
	if seed == "" {
		seed = "csrf:" + c.SecretKey
	}
	sum := sha256.Sum256([]byte(seed))
	return sum[:]
}
