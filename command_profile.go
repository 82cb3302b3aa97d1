package entree

import (
	"context"
	"maps"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// TextCodeInvalidProfile marks a profile update rejected field by field
const TextCodeInvalidProfile = "INVALID_PROFILE"

type ProfileFetchMessage struct {
	SiteID     string `json:"site_id" form:"site_id"`
	Token      string `json:"token" form:"token"`
	Checksum   string `json:"checksum" form:"checksum"`
	OnResponse func(data map[string]any)
}

func (e ProfileFetchMessage) Type() string { return "entree.profile.fetch" }

// ProfileFetchHandler answers relying sites asking for the profile bound
// to a token. Every rejection is a 403 error with a text code.
type ProfileFetchHandler struct {
	auth *Authority
}

func NewProfileFetchHandler(auth *Authority) *ProfileFetchHandler {
	return &ProfileFetchHandler{auth: auth}
}

func (h *ProfileFetchHandler) Execute(ctx context.Context, event ProfileFetchMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during profile fetch",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ProfileFetchHandler) execute(ctx context.Context, event ProfileFetchMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	data, err := h.fetch(ctx, event)
	if err != nil {
		h.auth.Metrics().ProfileFetch(OutcomeDenied)
		return err
	}

	h.auth.Metrics().ProfileFetch(OutcomeSuccess)

	if event.OnResponse != nil {
		event.OnResponse(data)
	}
	return nil
}

func (h *ProfileFetchHandler) fetch(ctx context.Context, event ProfileFetchMessage) (map[string]any, error) {
	siteID, err := strconv.ParseInt(strings.TrimSpace(event.SiteID), 10, 64)
	if err != nil {
		return nil, forbidden("invalid site id", TextCodeSiteNotFound)
	}

	site, err := h.auth.Repo().Sites().GetByID(ctx, siteID)
	if err != nil {
		if IsSiteNotFound(err) {
			h.auth.Logger().Error("requested site %d does not exist", siteID)
			return nil, forbidden("invalid site id", TextCodeSiteNotFound)
		}
		return nil, richError(err, "failed to load site")
	}

	if !site.IsActive {
		return nil, ErrSiteInactive
	}

	if !VerifyChecksum(strconv.FormatInt(siteID, 10)+":"+event.Token, site.Secret, ChecksumLength, event.Checksum) {
		h.auth.Logger().Error("invalid token checksum for site %d", siteID)
		return nil, ErrInvalidChecksum
	}

	token, err := h.auth.Tokens().Lookup(ctx, event.Token, TokenAuth)
	if err != nil {
		if HasTextCode(err, TextCodeTokenNotFound) {
			return nil, forbidden("invalid token", TextCodeTokenNotFound)
		}
		return nil, err
	}

	identity, err := h.auth.Repo().Identities().GetByID(ctx, token.IdentityID.String())
	if err != nil {
		if isNotFound(err) {
			return nil, forbidden("invalid token", TextCodeTokenNotFound)
		}
		return nil, richError(err, "failed to load identity")
	}

	data, err := h.auth.Profiles().GetData(ctx, identity, site.ID, true, false)
	if err != nil {
		return nil, err
	}

	maps.Copy(data, identity.BasicData())
	return data, nil
}

type ProfileUpdateMessage struct {
	Identity   *Identity
	SiteID     int64
	Values     map[string]any
	OnResponse func(resp *ProfileUpdateResponse)
}

func (e ProfileUpdateMessage) Type() string { return "entree.profile.update" }

type ProfileUpdateResponse struct {
	// Errors maps property slugs to the reason their value was rejected
	Errors    map[string]string
	Activated bool
}

// ProfileUpdateHandler stores the profile form of a site. Each value is
// written on its own so a taken unique value only rejects its field. The
// profile is activated once every field is accepted.
type ProfileUpdateHandler struct {
	auth *Authority
}

func NewProfileUpdateHandler(auth *Authority) *ProfileUpdateHandler {
	return &ProfileUpdateHandler{auth: auth}
}

func (h *ProfileUpdateHandler) Execute(ctx context.Context, event ProfileUpdateMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during profile update",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ProfileUpdateHandler) execute(ctx context.Context, event ProfileUpdateMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if event.Identity == nil {
		return ErrUnableToFindSession
	}

	if _, err := h.auth.Repo().Sites().GetByID(ctx, event.SiteID); err != nil {
		return richError(err, "failed to load site")
	}

	props, err := h.auth.Profiles().SiteProperties(ctx, event.SiteID, true)
	if err != nil {
		return err
	}

	resp := &ProfileUpdateResponse{Errors: map[string]string{}}

	for _, prop := range props {
		raw, ok := event.Values[prop.Slug]
		if !ok && prop.ValueType != PropertyBoolean {
			if prop.IsRequired {
				resp.Errors[prop.Slug] = "this field is required"
			}
			continue
		}

		if isBlank(raw) {
			if prop.IsRequired {
				resp.Errors[prop.Slug] = "this field is required"
				continue
			}
			if prop.ValueType == PropertyInteger {
				continue
			}
		}

		value, err := ParseValue(prop.ValueType, raw)
		if err != nil {
			resp.Errors[prop.Slug] = errorMessage(err)
			continue
		}

		if err := h.auth.Profiles().SetValue(ctx, event.Identity, prop, value); err != nil {
			if HasTextCode(err, TextCodeValueTaken) {
				resp.Errors[prop.Slug] = ErrValueTaken.Message
				continue
			}
			return richError(err, "failed to store profile value")
		}
	}

	if len(resp.Errors) == 0 {
		activated, err := h.auth.Profiles().Activate(ctx, event.Identity, event.SiteID)
		if err != nil {
			return richError(err, "failed to activate profile")
		}
		resp.Activated = activated

		if activated {
			recordActivity(ctx, h.auth.Activity(), h.auth.Logger(), ActivityEvent{
				EventType:  ActivityEventProfileActivated,
				IdentityID: event.Identity.ID.String(),
				SiteID:     event.SiteID,
			})
		}
	}

	recordActivity(ctx, h.auth.Activity(), h.auth.Logger(), ActivityEvent{
		EventType:  ActivityEventProfileUpdated,
		IdentityID: event.Identity.ID.String(),
		SiteID:     event.SiteID,
		Metadata:   map[string]any{"rejected": len(resp.Errors)},
	})

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	if len(resp.Errors) > 0 {
		fields := make(map[string]any, len(resp.Errors))
		for k, v := range resp.Errors {
			fields[k] = v
		}
		return goerrors.New("profile contains invalid values", goerrors.CategoryValidation).
			WithTextCode(TextCodeInvalidProfile).
			WithMetadata(fields)
	}

	return nil
}

func isBlank(v any) bool {
	switch s := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(s) == ""
	}
	return false
}

func errorMessage(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Message
	}
	return err.Error()
}
