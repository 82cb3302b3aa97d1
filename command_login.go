package entree

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const commandTimeout = time.Second * 10

type LoginMessage struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	SiteID     int64  `json:"site_id"`
	NextURL    string `json:"next_url"`
	OnResponse func(resp *LoginResult)
}

func (e LoginMessage) Type() string { return "entree.login" }

// LoginHandler authenticates credentials and opens an authority session
type LoginHandler struct {
	auth *Authority
}

func NewLoginHandler(auth *Authority) *LoginHandler {
	return &LoginHandler{auth: auth}
}

func (h *LoginHandler) Execute(ctx context.Context, event LoginMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during login",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *LoginHandler) execute(ctx context.Context, event LoginMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	identity, err := h.auth.Provider().Authenticate(ctx, event.Email, event.Password)
	if err != nil {
		recordActivity(ctx, h.auth.Activity(), h.auth.Logger(), ActivityEvent{
			EventType: ActivityEventLoginFailure,
			SiteID:    event.SiteID,
			Metadata: map[string]any{
				"email": NormalizeEmail(event.Email),
				"error": err.Error(),
			},
		})
		return richError(err, "failed to authenticate")
	}

	result, err := h.auth.EntreeLogin(ctx, identity, event.SiteID, event.NextURL)
	if err != nil {
		return richError(err, "failed to log in")
	}

	if event.OnResponse != nil {
		event.OnResponse(result)
	}

	return nil
}

type RecoveryLoginMessage struct {
	Token      string `json:"token"`
	SiteID     int64  `json:"site_id"`
	OnResponse func(resp *LoginResult)
}

func (e RecoveryLoginMessage) Type() string { return "entree.login.recovery" }

// RecoveryLoginHandler restores a session from the AUTH token value a
// browser kept after losing its session cookie. Unknown tokens report
// ErrTokenNotFound so the caller can ask the browser to drop the value.
type RecoveryLoginHandler struct {
	auth *Authority
}

func NewRecoveryLoginHandler(auth *Authority) *RecoveryLoginHandler {
	return &RecoveryLoginHandler{auth: auth}
}

func (h *RecoveryLoginHandler) Execute(ctx context.Context, event RecoveryLoginMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during login recovery",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RecoveryLoginHandler) execute(ctx context.Context, event RecoveryLoginMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	token, err := h.auth.Tokens().Lookup(ctx, event.Token, TokenAuth)
	if err != nil {
		return richError(err, "failed to look up token")
	}

	identity, err := h.auth.Repo().Identities().GetByID(ctx, token.IdentityID.String())
	if err != nil {
		if isNotFound(err) {
			return ErrTokenNotFound
		}
		return richError(err, "failed to load identity")
	}

	result, err := h.auth.EntreeLogin(ctx, identity, event.SiteID, "")
	if err != nil {
		return richError(err, "failed to log in")
	}

	recordActivity(ctx, h.auth.Activity(), h.auth.Logger(), ActivityEvent{
		EventType:  ActivityEventRecoveryLogin,
		IdentityID: identity.ID.String(),
		SiteID:     event.SiteID,
	})

	if event.OnResponse != nil {
		event.OnResponse(result)
	}

	return nil
}

type LogoutMessage struct {
	Identity   *Identity
	Session    *Session
	SiteID     int64
	NextURL    string
	OnResponse func(nextURL string)
}

func (e LogoutMessage) Type() string { return "entree.logout" }

// LogoutHandler closes the session and resolves where to send the browser
type LogoutHandler struct {
	auth *Authority
}

func NewLogoutHandler(auth *Authority) *LogoutHandler {
	return &LogoutHandler{auth: auth}
}

func (h *LogoutHandler) Execute(ctx context.Context, event LogoutMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during logout",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *LogoutHandler) execute(ctx context.Context, event LogoutMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	siteID := event.SiteID
	if siteID == ResidentSite {
		if site, err := h.auth.Repo().Sites().GetDefault(ctx); err == nil {
			siteID = site.ID
		}
	}

	if err := h.auth.Logout(ctx, event.Identity, event.Session); err != nil {
		return richError(err, "failed to log out")
	}

	if event.OnResponse != nil {
		event.OnResponse(h.auth.NextURL(ctx, siteID, event.NextURL))
	}

	return nil
}

// richError passes rich errors through and wraps everything else
func richError(err error, msg string) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
