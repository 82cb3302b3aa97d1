package entree

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type PasswordRecoveryRequestMessage struct {
	Email string `json:"email"`
}

func (e PasswordRecoveryRequestMessage) Type() string { return "entree.password.recovery" }

func (e PasswordRecoveryRequestMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, validation.Length(3, 100), is.Email),
	)
}

// PasswordRecoveryRequestHandler mails a password reset link
type PasswordRecoveryRequestHandler struct {
	auth *Authority
}

func NewPasswordRecoveryRequestHandler(auth *Authority) *PasswordRecoveryRequestHandler {
	return &PasswordRecoveryRequestHandler{auth: auth}
}

func (h *PasswordRecoveryRequestHandler) Execute(ctx context.Context, event PasswordRecoveryRequestMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password recovery request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *PasswordRecoveryRequestHandler) execute(ctx context.Context, event PasswordRecoveryRequestMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid recovery request")
	}

	identity, err := h.auth.Repo().Identities().GetByEmail(ctx, event.Email)
	if err != nil {
		if isNotFound(err) {
			return goerrors.New("given email is not attached to any account", goerrors.CategoryValidation).
				WithTextCode(TextCodeIdentityNotFound)
		}
		return richError(err, "failed to load identity")
	}

	sent, err := h.auth.Mailer().SendPasswordReset(ctx, identity)
	if err != nil {
		return richError(err, "failed to send password reset")
	}

	if !sent {
		return ErrMailNotSent
	}

	return nil
}

type PasswordResetMessage struct {
	// Email is base64 encoded as found in the reset link
	Email           string `json:"email"`
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (e PasswordResetMessage) Type() string { return "entree.password.reset" }

func (e PasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Password, validation.Required),
		validation.Field(&e.ConfirmPassword, validation.By(ValidateStringEquals(e.Password))),
	)
}

// PasswordResetHandler sets a new password using a RESET token. Every
// session of the identity is closed and the token consumed.
type PasswordResetHandler struct {
	auth *Authority
}

func NewPasswordResetHandler(auth *Authority) *PasswordResetHandler {
	return &PasswordResetHandler{auth: auth}
}

func (h *PasswordResetHandler) Execute(ctx context.Context, event PasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset",
		)
	default:
		return h.execute(ctx, event)
	}
}

// CheckToken reports whether a reset link is still usable
func (h *PasswordResetHandler) CheckToken(ctx context.Context, encodedEmail, token string) error {
	_, err := lookupLinkToken(ctx, h.auth.Tokens(), encodedEmail, token, TokenReset)
	return err
}

func (h *PasswordResetHandler) execute(ctx context.Context, event PasswordResetMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	token, err := lookupLinkToken(ctx, h.auth.Tokens(), event.Email, event.Token, TokenReset)
	if err != nil {
		return err
	}

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password")
	}

	hash, err := HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	repo := h.auth.Repo()
	err = repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := repo.Identities().SetPasswordTx(ctx, tx, token.IdentityID, hash); err != nil {
			return err
		}

		if _, err := repo.Tokens().DeleteForIdentityTx(ctx, tx, token.IdentityID, TokenAuth, ""); err != nil {
			return err
		}

		return repo.Tokens().DeleteTx(ctx, tx, token)
	})
	if err != nil {
		return richError(err, "failed to reset password")
	}

	recordActivity(ctx, h.auth.Activity(), h.auth.Logger(), ActivityEvent{
		EventType:  ActivityEventPasswordReset,
		IdentityID: token.IdentityID.String(),
	})

	return nil
}

type PasswordChangeMessage struct {
	Identity        *Identity
	Session         *Session
	OldPassword     string `json:"old_password"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (e PasswordChangeMessage) Type() string { return "entree.password.change" }

func (e PasswordChangeMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.OldPassword, validation.Required),
		validation.Field(&e.Password, validation.Required),
		validation.Field(&e.ConfirmPassword, validation.By(ValidateStringEquals(e.Password))),
	)
}

// PasswordChangeHandler replaces the password of a logged in identity and
// closes its other sessions
type PasswordChangeHandler struct {
	auth *Authority
}

func NewPasswordChangeHandler(auth *Authority) *PasswordChangeHandler {
	return &PasswordChangeHandler{auth: auth}
}

func (h *PasswordChangeHandler) Execute(ctx context.Context, event PasswordChangeMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password change",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *PasswordChangeHandler) execute(ctx context.Context, event PasswordChangeMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if event.Identity == nil || event.Session == nil {
		return ErrUnableToFindSession
	}

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password change")
	}

	if err := ComparePasswordAndHash(event.OldPassword, event.Identity.PasswordHash); err != nil {
		return goerrors.New("old password does not match", goerrors.CategoryValidation).
			WithTextCode(TextCodeInvalidCredentials)
	}

	hash, err := HashPassword(event.Password)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	repo := h.auth.Repo()
	err = repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := repo.Tokens().DeleteForIdentityTx(ctx, tx, event.Identity.ID, TokenAuth, event.Session.Token); err != nil {
			return err
		}
		return repo.Identities().SetPasswordTx(ctx, tx, event.Identity.ID, hash)
	})
	if err != nil {
		return richError(err, "failed to change password")
	}

	event.Identity.PasswordHash = hash

	recordActivity(ctx, h.auth.Activity(), h.auth.Logger(), ActivityEvent{
		EventType:  ActivityEventPasswordChanged,
		IdentityID: event.Identity.ID.String(),
	})

	return nil
}
