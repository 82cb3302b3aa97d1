package entree

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type testConfig struct {
	secret   string
	cooldown time.Duration
	ttl      map[TokenType]time.Duration
	debug    bool
}

func newTestConfig() *testConfig {
	return &testConfig{
		secret:   "test-secret-key",
		cooldown: 10 * time.Minute,
		ttl: map[TokenType]time.Duration{
			TokenMail:  3 * 24 * time.Hour,
			TokenReset: 3 * 24 * time.Hour,
		},
	}
}

func (c *testConfig) GetSecretKey() string                { return c.secret }
func (c *testConfig) GetSigningKey() string               { return c.secret + "-signing" }
func (c *testConfig) GetSessionCookie() string            { return "entree_session" }
func (c *testConfig) GetSessionExpiration() time.Duration { return 30 * 24 * time.Hour }
func (c *testConfig) GetIssuer() string                   { return "entree-test" }
func (c *testConfig) GetPublicURL() string                { return "https://auth.example.com" }
func (c *testConfig) GetMailCooldown() time.Duration      { return c.cooldown }
func (c *testConfig) GetTokenTTL(t TokenType) time.Duration {
	return c.ttl[t]
}
func (c *testConfig) GetDebug() bool { return c.debug }

// captureMailer keeps every message it is asked to deliver
type captureMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *captureMailer) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) last() Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return Message{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	ctx := context.Background()

	db, err := OpenDB(ctx, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db.DB))
	return db
}

type testAuthority struct {
	*Authority
	cfg    *testConfig
	mailer *captureMailer
	now    time.Time
}

func (a *testAuthority) advance(d time.Duration) {
	a.now = a.now.Add(d)
}

func newTestAuthority(t *testing.T) *testAuthority {
	t.Helper()

	repo := NewRepositoryManager(newTestDB(t))
	ta := &testAuthority{
		cfg:    newTestConfig(),
		mailer: &captureMailer{},
		now:    time.Now(),
	}

	ta.Authority = NewAuthority(repo, ta.cfg, ta.mailer).
		WithLogger(NopLogger{}).
		WithClock(func() time.Time { return ta.now })
	return ta
}

func createTestSite(t *testing.T, auth *Authority, url string, isDefault bool) *EntreeSite {
	t.Helper()

	var site *EntreeSite
	handler := NewCreateSiteHandler(auth.Repo()).WithLogger(NopLogger{})
	err := handler.Execute(context.Background(), CreateSiteMessage{
		Title:   url,
		URL:     url,
		Secret:  "site-secret-" + uuid.NewString()[:8],
		Active:  true,
		Default: isDefault,
		OnResponse: func(s *EntreeSite) {
			site = s
		},
	})
	require.NoError(t, err)
	require.NotNil(t, site)
	return site
}

func createTestIdentity(t *testing.T, auth *Authority, email, password string, active bool) *Identity {
	t.Helper()

	var identity *Identity
	handler := NewCreateIdentityHandler(auth.Repo()).WithLogger(NopLogger{})
	err := handler.Execute(context.Background(), CreateIdentityMessage{
		Email:    email,
		Password: password,
		Active:   active,
		OnResponse: func(i *Identity) {
			identity = i
		},
	})
	require.NoError(t, err)
	require.NotNil(t, identity)
	return identity
}
