package entree

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func tokensFor(t *testing.T, auth *Authority, identityID uuid.UUID, tokenType TokenType) []*LoginToken {
	t.Helper()

	var out []*LoginToken
	err := auth.Repo().RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		out, err = auth.Repo().Tokens().FindForIdentityTx(ctx, tx, identityID, tokenType)
		return err
	})
	require.NoError(t, err)
	return out
}

func login(t *testing.T, auth *Authority, email, password string, siteID int64, next string) *LoginResult {
	t.Helper()

	var result *LoginResult
	err := NewLoginHandler(auth).Execute(context.Background(), LoginMessage{
		Email:    email,
		Password: password,
		SiteID:   siteID,
		NextURL:  next,
		OnResponse: func(resp *LoginResult) {
			result = resp
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func TestLoginHandler(t *testing.T) {
	auth := newTestAuthority(t)
	site := createTestSite(t, auth.Authority, "https://shop.example.com", true)
	createTestIdentity(t, auth.Authority, "neo@example.com", "the-one-pass", true)

	t.Run("wrong password", func(t *testing.T) {
		err := NewLoginHandler(auth.Authority).Execute(context.Background(), LoginMessage{
			Email:    "neo@example.com",
			Password: "nope",
			SiteID:   site.ID,
		})
		require.Error(t, err)
		assert.True(t, HasTextCode(err, TextCodeInvalidCredentials))
	})

	t.Run("site without active profile goes to profile edit", func(t *testing.T) {
		next := SignNextURL("/cart/", site.Secret)
		result := login(t, auth.Authority, "NEO@example.com ", "the-one-pass", site.ID, next)
		assert.Equal(t, SiteRoute(RouteProfileEdit, site.ID, next), result.NextURL)
		assert.Equal(t, TokenAuth, result.Token.Type)
		assert.NotEmpty(t, result.Session)
	})

	t.Run("active profile resolves the signed next url", func(t *testing.T) {
		identity, err := auth.Repo().Identities().GetByEmail(context.Background(), "neo@example.com")
		require.NoError(t, err)

		_, err = auth.Profiles().Activate(context.Background(), identity, site.ID)
		require.NoError(t, err)

		result := login(t, auth.Authority, "neo@example.com", "the-one-pass", site.ID, SignNextURL("/cart/", site.Secret))
		assert.Equal(t, "https://shop.example.com/cart/", result.NextURL)

		forged := login(t, auth.Authority, "neo@example.com", "the-one-pass", site.ID, SignNextURL("/cart/", "other"))
		assert.Equal(t, "https://shop.example.com/", forged.NextURL)
	})

	t.Run("resident login lands on profile", func(t *testing.T) {
		result := login(t, auth.Authority, "neo@example.com", "the-one-pass", ResidentSite, "")
		assert.Equal(t, RouteProfile, result.NextURL)
	})
}

func TestLoginLocksAfterRepeatedFailures(t *testing.T) {
	auth := newTestAuthority(t)
	createTestIdentity(t, auth.Authority, "locked@example.com", "right-pass", true)

	for i := 0; i <= MaxLoginAttempts; i++ {
		err := NewLoginHandler(auth.Authority).Execute(context.Background(), LoginMessage{
			Email:    "locked@example.com",
			Password: "wrong",
		})
		require.Error(t, err)
	}

	err := NewLoginHandler(auth.Authority).Execute(context.Background(), LoginMessage{
		Email:    "locked@example.com",
		Password: "right-pass",
	})
	require.Error(t, err)
	assert.True(t, HasTextCode(err, TextCodeTooManyAttempts))
}

func TestRegisterAndVerify(t *testing.T) {
	auth := newTestAuthority(t)
	site := createTestSite(t, auth.Authority, "https://shop.example.com", true)
	next := SignNextURL("/welcome/", site.Secret)

	var res *RegisterIdentityResponse
	err := NewRegisterIdentityHandler(auth.Authority).Execute(context.Background(), RegisterIdentityMessage{
		Email:           "Trinity@Example.com",
		Password:        "matrix-pass",
		ConfirmPassword: "matrix-pass",
		SiteID:          site.ID,
		NextURL:         next,
		OnResponse: func(r *RegisterIdentityResponse) {
			res = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.MailSent)
	assert.Equal(t, RouteProfile, res.Login.NextURL)
	assert.False(t, res.Login.Identity.IsVerified())
	require.Equal(t, 1, auth.mailer.count())

	mail := auth.mailer.last()
	assert.Equal(t, "trinity@example.com", mail.To)

	tokens := tokensFor(t, auth.Authority, res.Login.Identity.ID, TokenMail)
	require.Len(t, tokens, 1)
	assert.Equal(t, site.ID, tokens[0].Data.OriginSite)
	assert.Contains(t, mail.Body, auth.Mailer().ActivationLink(res.Login.Identity, tokens[0]))

	t.Run("duplicate email", func(t *testing.T) {
		err := NewRegisterIdentityHandler(auth.Authority).Execute(context.Background(), RegisterIdentityMessage{
			Email:           "trinity@example.com",
			Password:        "x",
			ConfirmPassword: "x",
			SiteID:          site.ID,
		})
		require.Error(t, err)
		assert.True(t, HasTextCode(err, TextCodeEmailTaken))
	})

	t.Run("resend is throttled", func(t *testing.T) {
		sent := true
		err := NewResendVerificationHandler(auth.Authority).Execute(context.Background(), ResendVerificationMessage{
			Identity:   res.Login.Identity,
			OnResponse: func(ok bool) { sent = ok },
		})
		require.NoError(t, err)
		assert.False(t, sent)
		assert.Equal(t, 1, auth.mailer.count())
	})

	t.Run("bad link", func(t *testing.T) {
		err := NewVerifyIdentityHandler(auth.Authority).Execute(context.Background(), VerifyIdentityMessage{
			Email: EncodeEmail("trinity@example.com"),
			Token: "not-a-token",
		})
		require.Error(t, err)
		assert.True(t, HasTextCode(err, TextCodeTokenNotFound))
	})

	t.Run("verification resumes the origin site", func(t *testing.T) {
		var result *LoginResult
		err := NewVerifyIdentityHandler(auth.Authority).Execute(context.Background(), VerifyIdentityMessage{
			Email: EncodeEmail("trinity@example.com"),
			Token: tokens[0].Value,
			OnResponse: func(r *LoginResult) {
				result = r
			},
		})
		require.NoError(t, err)
		require.NotNil(t, result)

		assert.True(t, result.Identity.IsVerified())
		assert.Equal(t, SiteRoute(RouteProfileEdit, site.ID, next), result.NextURL)
		assert.Empty(t, tokensFor(t, auth.Authority, result.Identity.ID, TokenMail))
	})
}

func TestRecoveryLogin(t *testing.T) {
	auth := newTestAuthority(t)
	site := createTestSite(t, auth.Authority, "https://shop.example.com", true)
	createTestIdentity(t, auth.Authority, "morpheus@example.com", "red-pill", true)

	first := login(t, auth.Authority, "morpheus@example.com", "red-pill", ResidentSite, "")

	var recovered *LoginResult
	err := NewRecoveryLoginHandler(auth.Authority).Execute(context.Background(), RecoveryLoginMessage{
		Token:  first.Token.Value,
		SiteID: site.ID,
		OnResponse: func(r *LoginResult) {
			recovered = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, recovered)
	assert.NotEqual(t, first.Token.Value, recovered.Token.Value)

	err = NewRecoveryLoginHandler(auth.Authority).Execute(context.Background(), RecoveryLoginMessage{
		Token:  "unknown",
		SiteID: site.ID,
	})
	require.Error(t, err)
	assert.True(t, HasTextCode(err, TextCodeTokenNotFound))
}

func TestLogoutResolvesNextURL(t *testing.T) {
	auth := newTestAuthority(t)
	site := createTestSite(t, auth.Authority, "https://shop.example.com", true)
	createTestIdentity(t, auth.Authority, "tank@example.com", "operator", true)

	result := login(t, auth.Authority, "tank@example.com", "operator", ResidentSite, "")
	identity, session, err := auth.Resolve(context.Background(), result.Session)
	require.NoError(t, err)

	var next string
	err = NewLogoutHandler(auth.Authority).Execute(context.Background(), LogoutMessage{
		Identity:   identity,
		Session:    session,
		NextURL:    SignNextURL("/bye/", site.Secret),
		OnResponse: func(u string) { next = u },
	})
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/bye/", next)
	assert.Empty(t, tokensFor(t, auth.Authority, identity.ID, TokenAuth))
}

func TestPasswordRecoveryAndReset(t *testing.T) {
	auth := newTestAuthority(t)
	identity := createTestIdentity(t, auth.Authority, "switch@example.com", "old-password", true)
	login(t, auth.Authority, "switch@example.com", "old-password", ResidentSite, "")

	err := NewPasswordRecoveryRequestHandler(auth.Authority).Execute(context.Background(), PasswordRecoveryRequestMessage{
		Email: "nobody@example.com",
	})
	require.Error(t, err)
	assert.True(t, HasTextCode(err, TextCodeIdentityNotFound))

	err = NewPasswordRecoveryRequestHandler(auth.Authority).Execute(context.Background(), PasswordRecoveryRequestMessage{
		Email: "switch@example.com",
	})
	require.NoError(t, err)

	resets := tokensFor(t, auth.Authority, identity.ID, TokenReset)
	require.Len(t, resets, 1)
	assert.True(t, strings.Contains(auth.mailer.last().Body, RoutePasswordRecoveryFinish+EncodeEmail(identity.Email)))

	reset := NewPasswordResetHandler(auth.Authority)
	require.NoError(t, reset.CheckToken(context.Background(), EncodeEmail(identity.Email), resets[0].Value))

	err = reset.Execute(context.Background(), PasswordResetMessage{
		Email:           EncodeEmail(identity.Email),
		Token:           resets[0].Value,
		Password:        "new-password",
		ConfirmPassword: "mismatch",
	})
	require.Error(t, err)

	err = reset.Execute(context.Background(), PasswordResetMessage{
		Email:           EncodeEmail(identity.Email),
		Token:           resets[0].Value,
		Password:        "new-password",
		ConfirmPassword: "new-password",
	})
	require.NoError(t, err)

	assert.Empty(t, tokensFor(t, auth.Authority, identity.ID, TokenAuth))
	assert.Empty(t, tokensFor(t, auth.Authority, identity.ID, TokenReset))
	assert.Error(t, reset.CheckToken(context.Background(), EncodeEmail(identity.Email), resets[0].Value))

	login(t, auth.Authority, "switch@example.com", "new-password", ResidentSite, "")
}

func TestResetTokenExpires(t *testing.T) {
	auth := newTestAuthority(t)
	identity := createTestIdentity(t, auth.Authority, "mouse@example.com", "pass", true)

	require.NoError(t, NewPasswordRecoveryRequestHandler(auth.Authority).Execute(context.Background(), PasswordRecoveryRequestMessage{
		Email: identity.Email,
	}))
	resets := tokensFor(t, auth.Authority, identity.ID, TokenReset)
	require.Len(t, resets, 1)

	auth.advance(4 * 24 * time.Hour)

	err := NewPasswordResetHandler(auth.Authority).CheckToken(context.Background(), EncodeEmail(identity.Email), resets[0].Value)
	require.Error(t, err)
	assert.True(t, HasTextCode(err, TextCodeTokenNotFound))
}

func TestPasswordChangeKeepsCurrentSession(t *testing.T) {
	auth := newTestAuthority(t)
	createTestIdentity(t, auth.Authority, "apoc@example.com", "first-pass", true)

	other := login(t, auth.Authority, "apoc@example.com", "first-pass", ResidentSite, "")
	current := login(t, auth.Authority, "apoc@example.com", "first-pass", ResidentSite, "")

	identity, session, err := auth.Resolve(context.Background(), current.Session)
	require.NoError(t, err)

	err = NewPasswordChangeHandler(auth.Authority).Execute(context.Background(), PasswordChangeMessage{
		Identity:        identity,
		Session:         session,
		OldPassword:     "wrong",
		Password:        "second-pass",
		ConfirmPassword: "second-pass",
	})
	require.Error(t, err)

	err = NewPasswordChangeHandler(auth.Authority).Execute(context.Background(), PasswordChangeMessage{
		Identity:        identity,
		Session:         session,
		OldPassword:     "first-pass",
		Password:        "second-pass",
		ConfirmPassword: "second-pass",
	})
	require.NoError(t, err)

	_, _, err = auth.Resolve(context.Background(), other.Session)
	assert.True(t, errors.Is(err, ErrUnableToFindSession))

	_, _, err = auth.Resolve(context.Background(), current.Session)
	assert.NoError(t, err)
}

func TestClientSettings(t *testing.T) {
	auth := newTestAuthority(t)
	site := createTestSite(t, auth.Authority, "https://shop.example.com", true)

	settings, err := auth.ClientSettings(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, placeholderSiteID, settings["SITE_ID"])
	assert.Equal(t, "https://auth.example.com", settings["URL_SERVER"])

	settings, err = auth.ClientSettings(context.Background(), &site.ID)
	require.NoError(t, err)
	assert.Equal(t, site.ID, settings["SITE_ID"])
	cookie := settings["COOKIE"].(map[string]any)
	assert.Equal(t, "shop.example.com", cookie["DOMAIN"])
	assert.Equal(t, placeholderString, settings["SECRET_KEY"])
}
