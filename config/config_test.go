package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-entree"
	"github.com/goliatone/go-entree/config"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"ENTREE_SECRET_KEY": "0123456789abcdef-secret",
	})
	require.NoError(t, err)

	assert.Equal(t, "entree_session", cfg.GetSessionCookie())
	assert.Equal(t, 30*24*time.Hour, cfg.GetSessionExpiration())
	assert.Equal(t, 10*time.Minute, cfg.GetMailCooldown())
	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.False(t, cfg.SMTP.Enabled())
	assert.Equal(t, "entree@localhost", cfg.SMTP.From)

	assert.Equal(t, time.Duration(0), cfg.GetTokenTTL(entree.TokenAuth))
	assert.Equal(t, 72*time.Hour, cfg.GetTokenTTL(entree.TokenMail))
	assert.Equal(t, 72*time.Hour, cfg.GetTokenTTL(entree.TokenReset))

	assert.Equal(t, cfg.GetSecretKey(), cfg.GetSigningKey())
	assert.Len(t, cfg.GetCSRFKey(), 32)
}

func TestLoadFromOverrides(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"ENTREE_SECRET_KEY":     "0123456789abcdef-secret",
		"ENTREE_SIGNING_KEY":    "signing",
		"ENTREE_PUBLIC_URL":     "https://auth.example.com",
		"ENTREE_MAIL_COOLDOWN":  "1m",
		"ENTREE_AUTH_TOKEN_TTL": "24h",
		"ENTREE_SMTP_ADDR":      "smtp.example.com:587",
		"ENTREE_SMTP_FROM":      "noreply@example.com",
		"ENTREE_FETCH_RATE":     "2.5",
	})
	require.NoError(t, err)

	assert.Equal(t, "signing", cfg.GetSigningKey())
	assert.Equal(t, "https://auth.example.com", cfg.GetPublicURL())
	assert.Equal(t, time.Minute, cfg.GetMailCooldown())
	assert.Equal(t, 24*time.Hour, cfg.GetTokenTTL(entree.TokenAuth))
	assert.True(t, cfg.SMTP.Enabled())
	assert.Equal(t, "noreply@example.com", cfg.SMTP.From)
	assert.Equal(t, 2.5, cfg.FetchRate)
}

func TestLoadFromInvalid(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		_, err := config.LoadFrom(map[string]string{})
		assert.Error(t, err)
	})

	t.Run("short secret", func(t *testing.T) {
		_, err := config.LoadFrom(map[string]string{"ENTREE_SECRET_KEY": "short"})
		assert.Error(t, err)
	})

	t.Run("bad public url", func(t *testing.T) {
		_, err := config.LoadFrom(map[string]string{
			"ENTREE_SECRET_KEY": "0123456789abcdef-secret",
			"ENTREE_PUBLIC_URL": "not a url",
		})
		assert.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := config.LoadFrom(map[string]string{
			"ENTREE_SECRET_KEY":    "0123456789abcdef-secret",
			"ENTREE_MAIL_COOLDOWN": "soon",
		})
		assert.Error(t, err)
	})
}

func TestCSRFKeyIsStable(t *testing.T) {
	a := &config.Config{SecretKey: "one"}
	b := &config.Config{SecretKey: "two"}
	assert.Equal(t, a.GetCSRFKey(), a.GetCSRFKey())
	assert.NotEqual(t, a.GetCSRFKey(), b.GetCSRFKey())

	c := &config.Config{SecretKey: "one", CSRFKey: "explicit"}
	assert.NotEqual(t, a.GetCSRFKey(), c.GetCSRFKey())
}

func TestLoadClientFrom(t *testing.T) {
	cfg, err := config.LoadClientFrom(map[string]string{
		"ENTREE_CLIENT_SERVER_URL": "https://auth.example.com",
		"ENTREE_CLIENT_SITE_ID":    "3",
		"ENTREE_CLIENT_SECRET_KEY": "site-secret",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3), cfg.SiteID)
	assert.Equal(t, "entree_user", cfg.CookieName)
	assert.Equal(t, "site-secret", cfg.CookieKey)
	assert.Equal(t, time.Second, cfg.FetchTimeout)
	assert.Equal(t, "https://auth.example.com/profile/fetch/", cfg.ProfileFetchURL())

	_, err = config.LoadClientFrom(map[string]string{
		"ENTREE_CLIENT_SERVER_URL": "https://auth.example.com",
	})
	assert.Error(t, err)
}
