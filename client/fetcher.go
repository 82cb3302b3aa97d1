package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-entree"
)

// ErrInvalidAuth means the cookie can not identify anybody, the
// authority refused the token or its checksum is wrong.
var ErrInvalidAuth = errors.New("invalid authentication cookie", errors.CategoryAuth).
	WithCode(errors.CodeForbidden).
	WithTextCode("INVALID_AUTH")

// Fetcher resolves cookies into users, asking the authority on a miss
type Fetcher struct {
	cfg    Config
	store  UserStore
	client *http.Client
	logger entree.Logger
	now    func() time.Time
}

func NewFetcher(cfg Config, store UserStore) *Fetcher {
	cfg = cfg.WithDefaults()
	return &Fetcher{
		cfg:    cfg,
		store:  store,
		client: &http.Client{Timeout: cfg.FetchTimeout},
		logger: entree.NopLogger{},
		now:    time.Now,
	}
}

func (f *Fetcher) WithLogger(l entree.Logger) *Fetcher {
	if l != nil {
		f.logger = l
	}
	return f
}

// WithHTTPClient replaces the transport, its timeout is kept as is
func (f *Fetcher) WithHTTPClient(c *http.Client) *Fetcher {
	if c != nil {
		f.client = c
	}
	return f
}

func (f *Fetcher) Config() Config { return f.cfg }

// Fetch resolves raw, the cookie value. A nil user without error is an
// anonymous visitor.
func (f *Fetcher) Fetch(ctx context.Context, raw string) (*EntreeUser, error) {
	token, state := ParseCookie(raw, f.cfg.CookieKey)
	switch state {
	case CookieMissing, CookieAnonymous, CookieInvalid:
		return nil, nil
	case CookieMismatch:
		return nil, ErrInvalidAuth
	}

	user, err := f.store.Get(ctx, token)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		f.logger.Error("user store lookup failed: %v", err)
	}

	return f.PerformFetch(ctx, token)
}

// FetchParams is the form posted to the authority
func (f *Fetcher) FetchParams(token string) url.Values {
	return url.Values{
		"token":    {token},
		"checksum": {entree.SiteTokenChecksum(f.cfg.SiteID, token, f.cfg.SecretKey)},
		"site_id":  {strconv.FormatInt(f.cfg.SiteID, 10)},
	}
}

// PerformFetch asks the authority for the profile bound to token. A
// refusal is ErrInvalidAuth, any other failure resolves to anonymous.
func (f *Fetcher) PerformFetch(ctx context.Context, token string) (*EntreeUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.ProfileFetchURL(),
		strings.NewReader(f.FetchParams(token).Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := f.client.Do(req)
	if err != nil {
		f.logger.Error("fetching remote profile failed: %v", err)
		return nil, nil
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusForbidden {
		return nil, ErrInvalidAuth
	}

	if res.StatusCode != http.StatusOK {
		f.logger.Error("fetching remote profile failed: status %d", res.StatusCode)
		return nil, nil
	}

	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		f.logger.Error("deserialization of remote profile failed: %v", err)
		return nil, nil
	}

	user, err := NewUser(token, data, f.now())
	if err != nil {
		f.logger.Error("remote profile rejected: %v", err)
		return nil, nil
	}

	return f.store.Save(ctx, user)
}
