package entree

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

var slugRule = regexp.MustCompile(`^[a-z0-9_-]+$`)

type CreateSiteMessage struct {
	Title      string `json:"title"`
	URL        string `json:"url"`
	Secret     string `json:"secret"`
	Active     bool   `json:"active"`
	Default    bool   `json:"default"`
	OnResponse func(site *EntreeSite)
}

func (e CreateSiteMessage) Type() string { return "entree.site.create" }

func (e CreateSiteMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Title, validation.Required, validation.Length(1, 100)),
		validation.Field(&e.URL, validation.Required, is.URL),
	)
}

// CreateSiteHandler registers a relying site. A blank secret is generated.
type CreateSiteHandler struct {
	repo   RepositoryManager
	logger Logger
}

func NewCreateSiteHandler(repo RepositoryManager) *CreateSiteHandler {
	return &CreateSiteHandler{repo: repo, logger: defLogger{}}
}

func (h *CreateSiteHandler) WithLogger(logger Logger) *CreateSiteHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *CreateSiteHandler) Execute(ctx context.Context, event CreateSiteMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during site creation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *CreateSiteHandler) execute(ctx context.Context, event CreateSiteMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid site")
	}

	secret := event.Secret
	if secret == "" {
		var err error
		if secret, err = GenerateSecret(); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate site secret")
		}
	}

	site := &EntreeSite{
		Title:     strings.TrimSpace(event.Title),
		URL:       strings.TrimRight(event.URL, "/"),
		IsActive:  event.Active,
		Secret:    secret,
		IsDefault: event.Default,
	}

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		site, err = h.repo.Sites().CreateTx(ctx, tx, site)
		return err
	})
	if err != nil {
		return richError(err, "could not create site")
	}

	h.logger.Info("site %d created for %s", site.ID, site.URL)

	if event.OnResponse != nil {
		event.OnResponse(site)
	}
	return nil
}

type SetDefaultSiteMessage struct {
	SiteID int64 `json:"site_id"`
}

func (e SetDefaultSiteMessage) Type() string { return "entree.site.default" }

// SetDefaultSiteHandler makes one site the default, clearing the others
type SetDefaultSiteHandler struct {
	repo RepositoryManager
}

func NewSetDefaultSiteHandler(repo RepositoryManager) *SetDefaultSiteHandler {
	return &SetDefaultSiteHandler{repo: repo}
}

func (h *SetDefaultSiteHandler) Execute(ctx context.Context, event SetDefaultSiteMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled while setting default site",
		)
	default:
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()

		err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return h.repo.Sites().SetDefaultTx(ctx, tx, event.SiteID)
		})
		if err != nil {
			return richError(err, "could not set default site")
		}
		return nil
	}
}

type CreatePropertyMessage struct {
	SiteID     int64        `json:"site_id"`
	Name       string       `json:"name"`
	Slug       string       `json:"slug"`
	ValueType  PropertyType `json:"value_type"`
	Required   bool         `json:"required"`
	Unique     bool         `json:"unique"`
	OnResponse func(prop *SiteProperty)
}

func (e CreatePropertyMessage) Type() string { return "entree.property.create" }

func (e CreatePropertyMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&e.Slug, validation.Required, validation.Length(1, 50), validation.Match(slugRule)),
		validation.Field(&e.ValueType, validation.In(PropertyString, PropertyInteger, PropertyBoolean)),
	)
}

// CreatePropertyHandler defines a profile attribute for a site, or a
// resident one when SiteID is ResidentSite
type CreatePropertyHandler struct {
	profiles *ProfileRegistry
}

func NewCreatePropertyHandler(profiles *ProfileRegistry) *CreatePropertyHandler {
	return &CreatePropertyHandler{profiles: profiles}
}

func (h *CreatePropertyHandler) Execute(ctx context.Context, event CreatePropertyMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during property creation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *CreatePropertyHandler) execute(ctx context.Context, event CreatePropertyMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid property")
	}

	prop, err := h.profiles.CreateProperty(ctx, &SiteProperty{
		Name:       event.Name,
		Slug:       event.Slug,
		SiteID:     event.SiteID,
		ValueType:  event.ValueType,
		IsRequired: event.Required,
		IsUnique:   event.Unique,
	})
	if err != nil {
		return richError(err, "could not create property")
	}

	if event.OnResponse != nil {
		event.OnResponse(prop)
	}
	return nil
}

type DeletePropertyMessage struct {
	SiteID int64  `json:"site_id"`
	Slug   string `json:"slug"`
}

func (e DeletePropertyMessage) Type() string { return "entree.property.delete" }

// DeletePropertyHandler removes a property and its stored values
type DeletePropertyHandler struct {
	profiles *ProfileRegistry
}

func NewDeletePropertyHandler(profiles *ProfileRegistry) *DeletePropertyHandler {
	return &DeletePropertyHandler{profiles: profiles}
}

func (h *DeletePropertyHandler) Execute(ctx context.Context, event DeletePropertyMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during property deletion",
		)
	default:
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()

		if err := h.profiles.DeleteProperty(ctx, event.SiteID, event.Slug); err != nil {
			return richError(err, "could not delete property")
		}
		return nil
	}
}

// GenerateSecret returns a random hex secret for a new site
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
