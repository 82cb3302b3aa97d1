package main

import (
	"bytes"
	"testing"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-entree"
	"github.com/goliatone/go-entree/config"
)

type pathMock struct {
	*router.MockContext
	path string
}

func (m *pathMock) Path() string { return m.path }

func TestSkipCSRF(t *testing.T) {
	for path, skip := range map[string]bool{
		entree.RouteProfileFetch:         true,
		entree.RouteLoginRecovery + "3/": true,
		entree.RouteLogin + "3/":         false,
		entree.RouteProfileEdit + "3/":   false,
		entree.RoutePasswordRecovery:     false,
	} {
		ctx := &pathMock{MockContext: router.NewMockContext(), path: path}
		assert.Equal(t, skip, skipCSRF(ctx), path)
	}
}

func TestCSRFSessionKey(t *testing.T) {
	ctx := router.NewMockContext()
	ctx.On("IP").Return("10.0.0.1")
	assert.Equal(t, "ip_10.0.0.1", csrfSessionKey(ctx))

	ctx = router.NewMockContext()
	ctx.LocalsMock[entree.SessionLocalsKey] = &entree.Session{ID: "abc"}
	assert.Equal(t, "sid_abc", csrfSessionKey(ctx))
}

func TestRedactedConfig(t *testing.T) {
	cfg := &config.Config{SecretKey: "secret", SMTP: config.SMTP{Password: "pwd", Addr: "smtp:25"}}
	out := redacted(cfg)

	assert.Equal(t, "***", out.SecretKey)
	assert.Equal(t, "***", out.SMTP.Password)
	assert.Equal(t, "smtp:25", out.SMTP.Addr)
	assert.Equal(t, "secret", cfg.SecretKey)
}

func TestViewsRender(t *testing.T) {
	engine, err := newViewEngine(false)
	require.NoError(t, err)
	require.NoError(t, engine.Load())

	views := map[string]map[string]any{
		"profile": {
			"identity":     &entree.Identity{Email: "neo@example.com", IsActive: true, MailVerified: true},
			"sites":        []*entree.EntreeSite{{ID: 1, Title: "Shop", URL: "https://shop.example.com"}, {ID: 2, Title: "Blog"}},
			"active_sites": []int64{1},
			"resident":     map[string]any{"nickname": "neo"},
		},
		"login":                    {"site_id": 1, "next": "", "record": entree.LoginRequest{}},
		"register":                 {"site_id": 1, "errors": map[string]string{"email": "taken"}},
		"post_login":               {"next_url": "/profile/", "user_token": "TOKEN"},
		"delete_token":             {"input_token": "TOKEN", "next_url": "/login/1/"},
		"iframe_login":             {"allowed_domains": []string{"a.example.com", "b.example.com"}, "user_token": ""},
		"verify_notice":            {"invalid_link": true},
		"password_change":          {"errors": map[string]string{}},
		"password_recovery":        {"validation": map[string]string{"email": "must be a valid email address"}},
		"password_recovery_finish": {},
		"password_reset":           {"email": "neo@example.com", "token": "T"},
		"profile_edit": {
			"site": &entree.EntreeSite{ID: 1, Title: "Shop"},
			"fields": []entree.ProfileField{
				{Name: "Nickname", Slug: "nickname", Type: entree.PropertyString, Value: "neo"},
				{Name: "Newsletter", Slug: "newsletter", Type: entree.PropertyBoolean, Value: true},
			},
		},
		"errors/500": {"error": map[string]string{"Message": "boom"}},
	}

	for name, bind := range views {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, engine.Render(&out, name, bind))
			assert.NotEmpty(t, out.String())
		})
	}
}
