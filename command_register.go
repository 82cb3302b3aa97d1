package entree

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

type RegisterIdentityMessage struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	SiteID          int64  `json:"site_id"`
	NextURL         string `json:"next_url"`
	OnResponse      func(resp *RegisterIdentityResponse)
}

func (e RegisterIdentityMessage) Type() string { return "entree.identity.register" }

func (e RegisterIdentityMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&e.Password, validation.Required),
		validation.Field(&e.ConfirmPassword, validation.By(ValidateStringEquals(e.Password))),
	)
}

type RegisterIdentityResponse struct {
	Login    *LoginResult
	MailSent bool
}

// RegisterIdentityHandler creates an inactive identity, mails the
// activation link and logs the new identity in
type RegisterIdentityHandler struct {
	auth *Authority
}

func NewRegisterIdentityHandler(auth *Authority) *RegisterIdentityHandler {
	return &RegisterIdentityHandler{auth: auth}
}

func (h *RegisterIdentityHandler) Execute(ctx context.Context, event RegisterIdentityMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during identity registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterIdentityHandler) execute(ctx context.Context, event RegisterIdentityMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration")
	}

	if event.SiteID != ResidentSite {
		if _, err := h.auth.Repo().Sites().GetByID(ctx, event.SiteID); err != nil {
			return richError(err, "failed to load origin site")
		}
	}

	identity, err := createIdentity(ctx, h.auth.Repo(), event.Email, event.Password, false, false)
	if err != nil {
		return err
	}

	sent, err := h.auth.Mailer().SendActivation(ctx, identity, &TokenData{
		OriginSite: event.SiteID,
		NextURL:    event.NextURL,
	})
	if err != nil {
		h.auth.Logger().Warn("activation mail for %s not sent: %v", identity.Email, err)
	}

	recordActivity(ctx, h.auth.Activity(), h.auth.Logger(), ActivityEvent{
		EventType:  ActivityEventRegistered,
		IdentityID: identity.ID.String(),
		SiteID:     event.SiteID,
		Metadata:   map[string]any{"mail_sent": sent},
	})

	result, err := h.auth.EntreeLogin(ctx, identity, ResidentSite, "")
	if err != nil {
		return richError(err, "failed to log in")
	}

	if event.OnResponse != nil {
		event.OnResponse(&RegisterIdentityResponse{Login: result, MailSent: sent})
	}

	return nil
}

type CreateIdentityMessage struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Active     bool   `json:"active"`
	UseHashid  bool   `json:"use_hashid"`
	OnResponse func(identity *Identity)
}

func (e CreateIdentityMessage) Type() string { return "entree.identity.create" }

func (e CreateIdentityMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
	)
}

// CreateIdentityHandler creates identities from the admin tooling. A blank
// password leaves the identity with an unusable one.
type CreateIdentityHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
}

func NewCreateIdentityHandler(repo RepositoryManager) *CreateIdentityHandler {
	return &CreateIdentityHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (h *CreateIdentityHandler) WithActivitySink(sink ActivitySink) *CreateIdentityHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *CreateIdentityHandler) WithLogger(logger Logger) *CreateIdentityHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *CreateIdentityHandler) Execute(ctx context.Context, event CreateIdentityMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during identity creation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *CreateIdentityHandler) execute(ctx context.Context, event CreateIdentityMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid identity")
	}

	identity, err := createIdentity(ctx, h.repo, event.Email, event.Password, event.Active, event.UseHashid)
	if err != nil {
		return err
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType:  ActivityEventIdentityCreated,
		IdentityID: identity.ID.String(),
	})

	if event.OnResponse != nil {
		event.OnResponse(identity)
	}

	return nil
}

func createIdentity(ctx context.Context, repo RepositoryManager, email, password string, active, useHashid bool) (*Identity, error) {
	identity := &Identity{
		Email:        NormalizeEmail(email),
		IsActive:     active,
		MailVerified: active,
	}

	if password == "" {
		identity.PasswordHash = RandomPasswordHash()
	} else {
		hash, err := HashPassword(password)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password provided")
		}
		identity.PasswordHash = hash
	}

	if useHashid {
		if id, err := hashid.NewUUID(identity.Email); err == nil {
			identity.ID = id
		}
	}

	err := repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := repo.Identities().GetByEmailTx(ctx, tx, identity.Email); err == nil {
			return ErrEmailTaken
		} else if !isNotFound(err) {
			return err
		}

		var err error
		identity, err = repo.Identities().RegisterTx(ctx, tx, identity)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrEmailTaken
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, richError(err, "could not create identity")
	}

	return identity, nil
}

// ValidateStringEquals checks a confirmation field against its original
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return ErrPasswordMismatch
		}
		return nil
	}
}
