package entree

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type VerifyIdentityMessage struct {
	// Email is base64 encoded as found in the activation link
	Email      string `json:"email"`
	Token      string `json:"token"`
	OnResponse func(resp *LoginResult)
}

func (e VerifyIdentityMessage) Type() string { return "entree.identity.verify" }

// VerifyIdentityHandler consumes a MAIL token, activates the identity and
// logs it in, resuming the site and next url stored at registration
type VerifyIdentityHandler struct {
	auth *Authority
}

func NewVerifyIdentityHandler(auth *Authority) *VerifyIdentityHandler {
	return &VerifyIdentityHandler{auth: auth}
}

func (h *VerifyIdentityHandler) Execute(ctx context.Context, event VerifyIdentityMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during identity verification",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyIdentityHandler) execute(ctx context.Context, event VerifyIdentityMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	token, err := lookupLinkToken(ctx, h.auth.Tokens(), event.Email, event.Token, TokenMail)
	if err != nil {
		return err
	}

	var identity *Identity
	err = h.auth.Repo().RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		identity, err = h.auth.Repo().Identities().FindByIDTx(ctx, tx, token.IdentityID)
		if err != nil {
			return err
		}

		identity.IsActive = true
		identity.MailVerified = true
		if err := h.auth.Repo().Identities().SaveTx(ctx, tx, identity); err != nil {
			return err
		}

		return h.auth.Repo().Tokens().DeleteTx(ctx, tx, token)
	})
	if err != nil {
		return richError(err, "failed to verify identity")
	}

	recordActivity(ctx, h.auth.Activity(), h.auth.Logger(), ActivityEvent{
		EventType:  ActivityEventVerified,
		IdentityID: identity.ID.String(),
		SiteID:     token.Data.OriginSite,
	})

	result, err := h.auth.EntreeLogin(ctx, identity, token.Data.OriginSite, token.Data.NextURL)
	if err != nil {
		return richError(err, "failed to log in")
	}

	if event.OnResponse != nil {
		event.OnResponse(result)
	}

	return nil
}

type ResendVerificationMessage struct {
	Identity   *Identity
	OnResponse func(sent bool)
}

func (e ResendVerificationMessage) Type() string { return "entree.identity.verify.resend" }

// ResendVerificationHandler mails a new activation link. Refusals such as
// the cooldown are reported as not sent.
type ResendVerificationHandler struct {
	auth *Authority
}

func NewResendVerificationHandler(auth *Authority) *ResendVerificationHandler {
	return &ResendVerificationHandler{auth: auth}
}

func (h *ResendVerificationHandler) Execute(ctx context.Context, event ResendVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during verification resend",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ResendVerificationHandler) execute(ctx context.Context, event ResendVerificationMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if event.Identity == nil {
		return ErrIdentityNotFound
	}

	sent, err := h.auth.Mailer().SendActivation(ctx, event.Identity, nil)
	if err != nil {
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) || richErr.Category != goerrors.CategoryValidation {
			return richError(err, "failed to send activation")
		}
		h.auth.Logger().Info("activation not sent to %s: %s", event.Identity.Email, richErr.Message)
		sent = false
	}

	if event.OnResponse != nil {
		event.OnResponse(sent)
	}

	return nil
}

// lookupLinkToken resolves the email and token segments of a mailed link
func lookupLinkToken(ctx context.Context, tokens *TokenIssuer, encodedEmail, value string, tokenType TokenType) (*LoginToken, error) {
	email, err := DecodeEmail(encodedEmail)
	if err != nil || email == "" {
		return nil, ErrTokenNotFound
	}

	token, err := tokens.LookupForEmail(ctx, email, value, tokenType)
	if err != nil {
		return nil, richError(err, "failed to look up token")
	}
	return token, nil
}
