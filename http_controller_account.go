package entree

import (
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

// PasswordChangeRequest holds the password change form
type PasswordChangeRequest struct {
	OldPassword     string `form:"old_password" json:"old_password"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

func (r PasswordChangeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OldPassword, validation.Required),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthorityController) PasswordChangeShow(ctx router.Context) error {
	return ctx.Render(a.Views.PasswordChange, router.ViewContext{
		"errors": map[string]string{},
	})
}

func (a *AuthorityController) PasswordChangePost(ctx router.Context) error {
	identity, _ := GetRouterIdentity(ctx)
	session, _ := GetRouterSession(ctx)

	payload := new(PasswordChangeRequest)
	if err := ctx.Bind(payload); err != nil {
		return ctx.Status(http.StatusBadRequest).Render(a.Views.PasswordChange, router.ViewContext{
			"errors": map[string]string{"form": "Failed to parse form"},
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.Render(a.Views.PasswordChange, router.ViewContext{
			"validation": validationErrors(err),
		})
	}

	change := NewPasswordChangeHandler(a.Auth)
	err := change.Execute(ctx.Context(), PasswordChangeMessage{
		Identity:        identity,
		Session:         session,
		OldPassword:     payload.OldPassword,
		Password:        payload.Password,
		ConfirmPassword: payload.ConfirmPassword,
	})
	if err != nil {
		return ctx.Render(a.Views.PasswordChange, router.ViewContext{
			"errors": map[string]string{"old_password": errorMessage(err)},
		})
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Password successfully changed",
	}).Redirect(a.Routes.Profile, http.StatusSeeOther)
}

// PasswordRecoveryRequest holds the email asking for a reset link
type PasswordRecoveryRequest struct {
	Email string `form:"email" json:"email"`
}

func (r PasswordRecoveryRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *AuthorityController) PasswordRecoveryShow(ctx router.Context) error {
	return ctx.Render(a.Views.PasswordRecovery, router.ViewContext{
		"errors": map[string]string{},
	})
}

func (a *AuthorityController) PasswordRecoveryPost(ctx router.Context) error {
	payload := new(PasswordRecoveryRequest)
	if err := ctx.Bind(payload); err != nil {
		return ctx.Status(http.StatusBadRequest).Render(a.Views.PasswordRecovery, router.ViewContext{
			"errors": map[string]string{"form": "Failed to parse form"},
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.Render(a.Views.PasswordRecovery, router.ViewContext{
			"record":     payload,
			"validation": validationErrors(err),
		})
	}

	recovery := NewPasswordRecoveryRequestHandler(a.Auth)
	if err := recovery.Execute(ctx.Context(), PasswordRecoveryRequestMessage{Email: payload.Email}); err != nil {
		return ctx.Render(a.Views.PasswordRecovery, router.ViewContext{
			"record": payload,
			"errors": map[string]string{"email": errorMessage(err)},
		})
	}

	return ctx.Redirect(a.Routes.PasswordRecoveryFinish, http.StatusSeeOther)
}

func (a *AuthorityController) PasswordRecoveryFinish(ctx router.Context) error {
	return ctx.Render(a.Views.PasswordRecoveryFinish, router.ViewContext{})
}

// PasswordResetRequest holds the new password sent with a reset link
type PasswordResetRequest struct {
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

func (r PasswordResetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthorityController) invalidResetLink(ctx router.Context) error {
	return flash.WithError(ctx, router.ViewContext{
		"system_message": "The password reset link is invalid or expired",
	}).Redirect(a.Routes.PasswordRecovery, http.StatusFound)
}

func (a *AuthorityController) PasswordResetShow(ctx router.Context) error {
	email, token := ctx.Param("email", ""), ctx.Param("token", "")

	reset := NewPasswordResetHandler(a.Auth)
	if err := reset.CheckToken(ctx.Context(), email, token); err != nil {
		return a.invalidResetLink(ctx)
	}

	return ctx.Render(a.Views.PasswordReset, router.ViewContext{
		"email":  email,
		"token":  token,
		"errors": map[string]string{},
	})
}

func (a *AuthorityController) PasswordResetPost(ctx router.Context) error {
	email, token := ctx.Param("email", ""), ctx.Param("token", "")

	payload := new(PasswordResetRequest)
	if err := ctx.Bind(payload); err != nil {
		return ctx.Status(http.StatusBadRequest).Render(a.Views.PasswordReset, router.ViewContext{
			"email":  email,
			"token":  token,
			"errors": map[string]string{"form": "Failed to parse form"},
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.Render(a.Views.PasswordReset, router.ViewContext{
			"email":      email,
			"token":      token,
			"validation": validationErrors(err),
		})
	}

	reset := NewPasswordResetHandler(a.Auth)
	err := reset.Execute(ctx.Context(), PasswordResetMessage{
		Email:           email,
		Token:           token,
		Password:        payload.Password,
		ConfirmPassword: payload.ConfirmPassword,
	})
	if err != nil {
		if HasTextCode(err, TextCodeTokenNotFound) {
			return a.invalidResetLink(ctx)
		}
		return ctx.Render(a.Views.PasswordReset, router.ViewContext{
			"email":  email,
			"token":  token,
			"errors": map[string]string{"password": errorMessage(err)},
		})
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Password successfully changed, you can log in now",
	}).Redirect(a.Routes.Login, http.StatusSeeOther)
}

// IframeLogin exposes the session token to the pages of active sites
func (a *AuthorityController) IframeLogin(ctx router.Context) error {
	domains, err := a.Auth.AllowedDomains(ctx.Context())
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	token := ""
	if session, ok := GetRouterSession(ctx); ok {
		token = session.Token
	}

	return ctx.Render(a.Views.IframeLogin, router.ViewContext{
		"allowed_domains": domains,
		"user_token":      token,
	})
}

// ShowAPI prints the client settings of a site
func (a *AuthorityController) ShowAPI(ctx router.Context) error {
	siteID, err := siteParam(ctx)
	if err != nil {
		return notFound(ctx)
	}

	var id *int64
	if siteID != ResidentSite {
		id = &siteID
	}

	settings, err := a.Auth.ClientSettings(ctx.Context(), id)
	if err != nil {
		if IsSiteNotFound(err) {
			return notFound(ctx)
		}
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, settings)
}

// Profile lists the active sites and the ones the identity joined
func (a *AuthorityController) Profile(ctx router.Context) error {
	identity, _ := GetRouterIdentity(ctx)

	sites, err := a.Auth.Repo().Sites().ListActive(ctx.Context())
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	joined, err := a.Auth.Repo().Profiles().ActiveSiteIDs(ctx.Context(), identity.ID)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	resident, err := a.Auth.Profiles().GetData(ctx.Context(), identity, ResidentSite, false, true)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.Render(a.Views.Profile, router.ViewContext{
		"identity":     identity,
		"sites":        sites,
		"active_sites": joined,
		"resident":     resident,
	})
}

func (a *AuthorityController) ProfileEditShow(ctx router.Context) error {
	identity, _ := GetRouterIdentity(ctx)
	siteID, site, err := a.profileSite(ctx)
	if err != nil {
		return notFound(ctx)
	}

	data, err := a.Auth.Profiles().GetData(ctx.Context(), identity, siteID, true, true)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return a.renderProfileEdit(ctx, site, data, map[string]string{})
}

func (a *AuthorityController) ProfileEditPost(ctx router.Context) error {
	identity, _ := GetRouterIdentity(ctx)
	siteID, site, err := a.profileSite(ctx)
	if err != nil {
		return notFound(ctx)
	}

	values, err := formValues(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, ErrInvalidPayload)
	}
	a.debug("profile update", values)

	var res *ProfileUpdateResponse
	update := NewProfileUpdateHandler(a.Auth)
	err = update.Execute(ctx.Context(), ProfileUpdateMessage{
		Identity: identity,
		SiteID:   siteID,
		Values:   values,
		OnResponse: func(resp *ProfileUpdateResponse) {
			res = resp
		},
	})
	if err != nil {
		if res == nil {
			return a.ErrorHandler(ctx, err)
		}
		return a.renderProfileEdit(ctx, site, values, res.Errors)
	}

	next := a.Routes.Profile
	if encoded := ctx.Param("next", ""); encoded != "" {
		next = a.Auth.NextURL(ctx.Context(), siteID, encoded)
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Changes successfully saved",
	}).Redirect(next, http.StatusSeeOther)
}

func (a *AuthorityController) profileSite(ctx router.Context) (int64, *EntreeSite, error) {
	siteID, err := siteParam(ctx)
	if err != nil || siteID == ResidentSite {
		return 0, nil, ErrSiteNotFound
	}

	site, err := a.Auth.Repo().Sites().GetByID(ctx.Context(), siteID)
	if err != nil {
		return 0, nil, err
	}

	if !site.IsActive {
		return 0, nil, ErrSiteInactive
	}
	return siteID, site, nil
}

func (a *AuthorityController) renderProfileEdit(ctx router.Context, site *EntreeSite, data map[string]any, errs map[string]string) error {
	props, err := a.Auth.Profiles().SiteProperties(ctx.Context(), site.ID, true)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	fields := make([]ProfileField, 0, len(props))
	for _, prop := range props {
		fields = append(fields, ProfileField{
			Name:     prop.Name,
			Slug:     prop.Slug,
			Type:     prop.ValueType,
			Required: prop.IsRequired,
			Value:    data[prop.Slug],
			Error:    errs[prop.Slug],
		})
	}

	return ctx.Render(a.Views.ProfileEdit, router.ViewContext{
		"site":       site,
		"next":       ctx.Param("next", ""),
		"properties": props,
		"fields":     fields,
		"record":     data,
		"errors":     errs,
	})
}

// ProfileField is a property paired with its current value, views can
// not index maps by a variable key
type ProfileField struct {
	Name     string
	Slug     string
	Type     PropertyType
	Required bool
	Value    any
	Error    string
}

// formValues reads the profile form. Field names are property slugs so
// the payload can not be bound to a struct.
func formValues(ctx router.Context) (map[string]any, error) {
	return parseFormBody(ctx.Body(), ctx.Header("Content-Type"))
}

func parseFormBody(body []byte, contentType string) (map[string]any, error) {
	out := map[string]any{}
	if len(body) == 0 {
		return out, nil
	}

	if strings.Contains(contentType, "application/json") {
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}

	for key, vals := range form {
		if key == "_token" || len(vals) == 0 {
			continue
		}
		// checkboxes post a hidden fallback before the checked value
		if slices.Contains(vals, "on") {
			out[key] = "on"
			continue
		}
		out[key] = vals[len(vals)-1]
	}
	return out, nil
}

// ProfileFetch answers relying sites, failures are a plain 403
func (a *AuthorityController) ProfileFetch(ctx router.Context) error {
	req := ProfileFetchMessage{
		SiteID:   ctx.Query("site_id", ""),
		Token:    ctx.Query("token", ""),
		Checksum: ctx.Query("checksum", ""),
	}

	if ctx.Method() == http.MethodPost {
		if err := ctx.Bind(&req); err != nil {
			return ctx.Status(http.StatusForbidden).SendString("Forbidden")
		}
	}

	var data map[string]any
	req.OnResponse = func(resp map[string]any) {
		data = resp
	}

	fetch := NewProfileFetchHandler(a.Auth)
	if err := fetch.Execute(ctx.Context(), req); err != nil {
		a.Logger.Debug("profile fetch refused: %v", err)
		return ctx.Status(http.StatusForbidden).SendString(errorMessage(err))
	}

	return ctx.JSON(http.StatusOK, data)
}
