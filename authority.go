package entree

import (
	"context"
	"net/url"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Version is reported to client sites by ClientSettings
const Version = "1.0"

// LoginResult is the outcome of logging an identity into the authority
type LoginResult struct {
	Identity *Identity
	Token    *LoginToken
	Session  string
	NextURL  string
}

// Authority ties identities, tokens, sessions and profiles together
type Authority struct {
	repo     RepositoryManager
	cfg      Config
	provider *IdentityProvider
	tokens   *TokenIssuer
	sessions *SessionService
	profiles *ProfileRegistry
	mailer   *IdentityMailer
	activity ActivitySink
	metrics  Metrics
	logger   Logger
}

// NewAuthority builds the authority services on repo
func NewAuthority(repo RepositoryManager, cfg Config, mailer Mailer) *Authority {
	tokens := NewTokenIssuer(repo, cfg)
	if mailer == nil {
		mailer = LogMailer{}
	}

	return &Authority{
		repo:     repo,
		cfg:      cfg,
		provider: NewIdentityProvider(repo.Identities()),
		tokens:   tokens,
		sessions: NewSessionService(cfg),
		profiles: NewProfileRegistry(repo, 0),
		mailer:   NewIdentityMailer(tokens, mailer, cfg),
		activity: noopActivitySink{},
		metrics:  nopMetrics{},
		logger:   defLogger{},
	}
}

func (a *Authority) WithLogger(l Logger) *Authority {
	if l == nil {
		return a
	}
	a.logger = l
	a.provider.WithLogger(l)
	a.tokens.WithLogger(l)
	a.sessions.WithLogger(l)
	a.profiles.WithLogger(l)
	a.mailer.WithLogger(l)
	return a
}

// WithActivitySink configures an ActivitySink for emitting authority events.
func (a *Authority) WithActivitySink(sink ActivitySink) *Authority {
	a.activity = normalizeActivitySink(sink)
	return a
}

func (a *Authority) WithMetrics(m Metrics) *Authority {
	a.metrics = normalizeMetrics(m)
	a.provider.WithMetrics(a.metrics)
	a.tokens.WithMetrics(a.metrics)
	a.mailer.WithMetrics(a.metrics)
	return a
}

func (a *Authority) WithClock(c Clock) *Authority {
	a.tokens.WithClock(c)
	a.sessions.WithClock(c)
	a.mailer.WithClock(c)
	return a
}

func (a *Authority) Repo() RepositoryManager     { return a.repo }
func (a *Authority) Config() Config              { return a.cfg }
func (a *Authority) Provider() *IdentityProvider { return a.provider }
func (a *Authority) Tokens() *TokenIssuer        { return a.tokens }
func (a *Authority) Sessions() *SessionService   { return a.sessions }
func (a *Authority) Profiles() *ProfileRegistry  { return a.profiles }
func (a *Authority) Mailer() *IdentityMailer     { return a.mailer }
func (a *Authority) Activity() ActivitySink      { return a.activity }
func (a *Authority) Metrics() Metrics            { return a.metrics }
func (a *Authority) Logger() Logger              { return a.logger }

// EntreeLogin opens a session for identity. When siteID points to a site
// where the identity has no active profile the next url is the profile
// edit page, otherwise it is the signed nextURL resolved against the site.
func (a *Authority) EntreeLogin(ctx context.Context, identity *Identity, siteID int64, nextURL string) (*LoginResult, error) {
	if identity == nil {
		return nil, ErrIdentityNotFound
	}

	token, err := a.tokens.Create(ctx, identity, TokenAuth, TokenData{Session: uuid.NewString()})
	if err != nil {
		return nil, err
	}

	session, err := a.sessions.Sign(identity, token)
	if err != nil {
		return nil, err
	}

	result := &LoginResult{
		Identity: identity,
		Token:    token,
		Session:  session,
		NextURL:  RouteProfile,
	}

	if siteID != ResidentSite {
		active, err := a.profiles.IsActive(ctx, identity, siteID)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check site profile")
		}

		if active {
			result.NextURL = a.NextURL(ctx, siteID, nextURL)
		} else {
			result.NextURL = SiteRoute(RouteProfileEdit, siteID, nextURL)
		}
	}

	recordActivity(ctx, a.activity, a.logger, ActivityEvent{
		EventType:  ActivityEventLoginSuccess,
		IdentityID: identity.ID.String(),
		SiteID:     siteID,
	})

	return result, nil
}

// NextURL resolves a signed next url for siteID. Unknown sites send the
// identity to its profile.
func (a *Authority) NextURL(ctx context.Context, siteID int64, encoded string) string {
	site, err := a.repo.Sites().GetByID(ctx, siteID)
	if err != nil {
		return RouteProfile
	}
	return ResolveNextURL(site.URL, site.Secret, encoded)
}

// Resolve loads the identity behind a session cookie. The session is only
// valid while its AUTH token exists and belongs to the same identity.
func (a *Authority) Resolve(ctx context.Context, raw string) (*Identity, *Session, error) {
	session, err := a.sessions.Parse(raw)
	if err != nil {
		return nil, nil, err
	}

	token, err := a.tokens.Lookup(ctx, session.Token, TokenAuth)
	if err != nil {
		return nil, nil, ErrUnableToFindSession
	}

	if token.IdentityID != session.IdentityID {
		return nil, nil, ErrUnableToFindSession
	}

	identity, err := a.repo.Identities().GetByID(ctx, session.IdentityID.String())
	if err != nil {
		if isNotFound(err) {
			return nil, nil, ErrUnableToFindSession
		}
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load session identity")
	}

	return identity, session, nil
}

// Logout deletes the AUTH token bound to session
func (a *Authority) Logout(ctx context.Context, identity *Identity, session *Session) error {
	if identity == nil || session == nil {
		return nil
	}

	token, err := a.tokens.Lookup(ctx, session.Token, TokenAuth)
	if err != nil {
		if HasTextCode(err, TextCodeTokenNotFound) {
			return nil
		}
		return err
	}

	if token.IdentityID != identity.ID {
		return nil
	}

	if err := a.tokens.Delete(ctx, token); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete session token")
	}

	recordActivity(ctx, a.activity, a.logger, ActivityEvent{
		EventType:  ActivityEventLogout,
		IdentityID: identity.ID.String(),
	})
	return nil
}

// AllowedDomains lists the host names of the active sites, the iframe
// login only talks to these.
func (a *Authority) AllowedDomains(ctx context.Context) ([]string, error) {
	sites, err := a.repo.Sites().ListActive(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list active sites")
	}

	out := make([]string, 0, len(sites))
	for _, site := range sites {
		u, err := url.Parse(site.URL)
		if err != nil || u.Hostname() == "" {
			continue
		}
		out = append(out, u.Hostname())
	}

	if len(out) == 0 {
		a.logger.Warn("there are no active sites, users can not be logged in")
	}

	return out, nil
}

const (
	placeholderString = "REPLACE_ME"
	placeholderSiteID = 123456789
)

// ClientSettings is the configuration a relying site needs to talk to
// the authority. The secret is never disclosed.
func (a *Authority) ClientSettings(ctx context.Context, siteID *int64) (map[string]any, error) {
	var id any = placeholderSiteID
	var domain = placeholderString

	if siteID != nil {
		site, err := a.repo.Sites().GetByID(ctx, *siteID)
		if err != nil {
			return nil, err
		}
		id = site.ID
		if u, err := url.Parse(site.URL); err == nil && u.Hostname() != "" {
			domain = u.Hostname()
		}
	}

	return map[string]any{
		"VERSION":       Version,
		"URL_SERVER":    strings.TrimRight(a.cfg.GetPublicURL(), "/"),
		"CACHE_PROFILE": 300,
		"ROUTE": map[string]any{
			"LOGIN":         RouteLogin,
			"LOGOUT":        RouteLogout,
			"REGISTER":      RouteRegister,
			"PROFILE":       RouteProfile,
			"PROFILE_EDIT":  RouteProfileEdit,
			"PROFILE_FETCH": RouteProfileFetch,
		},
		"COOKIE": map[string]any{
			"ANONYMOUS_VALUE": "ANONYMOUS",
			"NAME":            "entree_token",
			"DOMAIN":          domain,
			"PATH":            "/",
			"INVALID":         "INVALID",
		},
		"SITE_ID":    id,
		"SECRET_KEY": placeholderString,
	}, nil
}
