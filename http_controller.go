package entree

import (
	"net/http"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

// RegisterAuthorityRoutes mounts every authority page on app
func RegisterAuthorityRoutes[T any](app router.Router[T], auth *Authority, auther *RouteAuthenticator, opts ...AuthorityControllerOption) *AuthorityController {
	c := NewAuthorityController(auth, auther, opts...)
	r := c.Routes
	required := auther.AuthRequired()

	// recovery shares the login prefix and has to match first
	app.Get(r.LoginRecovery+":site/", c.RecoveryLogin).SetName("login-recovery.get")
	app.Post(r.LoginRecovery+":site/", c.RecoveryLogin).SetName("login-recovery.post")

	app.Get(r.Login, c.LoginShow).SetName("login.get")
	app.Get(r.Login+":site/", c.LoginShow).SetName("login.site.get")
	app.Get(r.Login+":site/:next/", c.LoginShow).SetName("login.next.get")
	app.Post(r.Login+":site/", c.LoginPost).SetName("login.site.post")
	app.Post(r.Login+":site/:next/", c.LoginPost).SetName("login.next.post")

	app.Get(r.Logout, c.Logout).SetName("logout.get")
	app.Get(r.Logout+":site/", c.Logout).SetName("logout.site.get")
	app.Get(r.Logout+":site/:next/", c.Logout).SetName("logout.next.get")

	app.Get(r.Register+":site/", c.RegisterShow).SetName("register.get")
	app.Get(r.Register+":site/:next/", c.RegisterShow).SetName("register.next.get")
	app.Post(r.Register+":site/", c.RegisterPost).SetName("register.post")
	app.Post(r.Register+":site/:next/", c.RegisterPost).SetName("register.next.post")

	app.Get(r.Verify, c.VerifyNotice, required).SetName("verify.get")
	app.Get(r.VerifyResend, c.VerifyResend, required).SetName("verify-resend.get")
	app.Post(r.VerifyResend, c.VerifyResend, required).SetName("verify-resend.post")
	app.Get(r.Verify+":email/:token/", c.Verify).SetName("verify.token.get")

	app.Get(r.PasswordChange, c.PasswordChangeShow, required).SetName("pwd-change.get")
	app.Post(r.PasswordChange, c.PasswordChangePost, required).SetName("pwd-change.post")

	app.Get(r.PasswordRecovery, c.PasswordRecoveryShow).SetName("pwd-recovery.get")
	app.Post(r.PasswordRecovery, c.PasswordRecoveryPost).SetName("pwd-recovery.post")
	app.Get(r.PasswordRecoveryFinish, c.PasswordRecoveryFinish).SetName("pwd-recovery-finish.get")
	app.Get(r.PasswordRecoveryFinish+":email/:token/", c.PasswordResetShow).SetName("pwd-reset.get")
	app.Post(r.PasswordRecoveryFinish+":email/:token/", c.PasswordResetPost).SetName("pwd-reset.post")

	app.Get(r.IframeLogin, c.IframeLogin).SetName("iframe-login.get")
	app.Get(r.APIShow, c.ShowAPI).SetName("api-show.get")
	app.Get(r.APIShow+":site/", c.ShowAPI).SetName("api-show.site.get")

	app.Get(r.Profile, c.Profile, required).SetName("profile.get")
	app.Get(r.ProfileEdit+":site/", c.ProfileEditShow, required).SetName("profile-edit.get")
	app.Get(r.ProfileEdit+":site/:next/", c.ProfileEditShow, required).SetName("profile-edit.next.get")
	app.Post(r.ProfileEdit+":site/", c.ProfileEditPost, required).SetName("profile-edit.post")
	app.Post(r.ProfileEdit+":site/:next/", c.ProfileEditPost, required).SetName("profile-edit.next.post")
	var fetchMw []router.MiddlewareFunc
	if c.FetchLimiter != nil {
		fetchMw = append(fetchMw, c.FetchLimiter)
	}
	app.Get(r.ProfileFetch, c.ProfileFetch, fetchMw...).SetName("profile-fetch.get")
	app.Post(r.ProfileFetch, c.ProfileFetch, fetchMw...).SetName("profile-fetch.post")

	return c
}

type AuthorityRoutes struct {
	Login                  string
	LoginRecovery          string
	Logout                 string
	Register               string
	Verify                 string
	VerifyResend           string
	PasswordChange         string
	PasswordRecovery       string
	PasswordRecoveryFinish string
	IframeLogin            string
	APIShow                string
	Profile                string
	ProfileEdit            string
	ProfileFetch           string
}

type AuthorityViews struct {
	Login                  string
	PostLogin              string
	DeleteToken            string
	Register               string
	VerifyNotice           string
	PasswordChange         string
	PasswordRecovery       string
	PasswordRecoveryFinish string
	PasswordReset          string
	IframeLogin            string
	Profile                string
	ProfileEdit            string
}

// AuthorityController serves the authority pages
type AuthorityController struct {
	Debug        bool
	Logger       Logger
	Auth         *Authority
	Auther       *RouteAuthenticator
	Routes       *AuthorityRoutes
	Views        *AuthorityViews
	ErrorHandler func(router.Context, error) error
	// FetchLimiter guards the server to server profile fetch
	FetchLimiter router.MiddlewareFunc
}

type AuthorityControllerOption func(*AuthorityController) *AuthorityController

// WithControllerDebug dumps payloads to the logger
func WithControllerDebug(debug bool) AuthorityControllerOption {
	return func(c *AuthorityController) *AuthorityController {
		c.Debug = debug
		return c
	}
}

func WithControllerViews(views *AuthorityViews) AuthorityControllerOption {
	return func(c *AuthorityController) *AuthorityController {
		if views != nil {
			c.Views = views
		}
		return c
	}
}

func WithControllerLogger(logger Logger) AuthorityControllerOption {
	return func(c *AuthorityController) *AuthorityController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerFetchLimiter(mw router.MiddlewareFunc) AuthorityControllerOption {
	return func(c *AuthorityController) *AuthorityController {
		c.FetchLimiter = mw
		return c
	}
}

// FetchSiteKey buckets profile fetches by the calling site
func FetchSiteKey(ctx router.Context) string {
	if site := ctx.Query("site_id", ""); site != "" {
		return site
	}
	return ctx.FormValue("site_id")
}

func NewAuthorityController(auth *Authority, auther *RouteAuthenticator, opts ...AuthorityControllerOption) *AuthorityController {
	if auth == nil {
		panic("Missing Authority in authority controller...")
	}

	if auther == nil {
		panic("Missing RouteAuthenticator in authority controller...")
	}

	c := &AuthorityController{
		Debug:        auth.Config().GetDebug(),
		Logger:       auth.Logger(),
		Auth:         auth,
		Auther:       auther,
		ErrorHandler: auther.ErrorHandler,
		Routes: &AuthorityRoutes{
			Login:                  RouteLogin,
			LoginRecovery:          RouteLoginRecovery,
			Logout:                 RouteLogout,
			Register:               RouteRegister,
			Verify:                 RouteVerify,
			VerifyResend:           RouteVerifyResend,
			PasswordChange:         RoutePasswordChange,
			PasswordRecovery:       RoutePasswordRecovery,
			PasswordRecoveryFinish: RoutePasswordRecoveryFinish,
			IframeLogin:            RouteIframeLogin,
			APIShow:                RouteAPIShow,
			Profile:                RouteProfile,
			ProfileEdit:            RouteProfileEdit,
			ProfileFetch:           RouteProfileFetch,
		},
		Views: &AuthorityViews{
			Login:                  "login",
			PostLogin:              "post_login",
			DeleteToken:            "delete_token",
			Register:               "register",
			VerifyNotice:           "verify_notice",
			PasswordChange:         "password_change",
			PasswordRecovery:       "password_recovery",
			PasswordRecoveryFinish: "password_recovery_finish",
			PasswordReset:          "password_reset",
			IframeLogin:            "iframe_login",
			Profile:                "profile",
			ProfileEdit:            "profile_edit",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	return c
}

// siteParam reads the :site route parameter, zero when absent
func siteParam(ctx router.Context) (int64, error) {
	raw := ctx.Param("site", "")
	if raw == "" {
		return ResidentSite, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrSiteNotFound
	}
	return id, nil
}

func isAjax(ctx router.Context) bool {
	return strings.EqualFold(ctx.Header("X-Requested-With"), "XMLHttpRequest")
}

func (a *AuthorityController) debug(label string, payload any) {
	if a.Debug {
		a.Logger.Debug("%s: %s", label, print.MaybePrettyJSON(payload))
	}
}

// validationErrors flattens ozzo field errors for templates
func validationErrors(err error) map[string]string {
	out := map[string]string{}
	if errs, ok := err.(validation.Errors); ok {
		for field, fieldErr := range errs {
			out[field] = fieldErr.Error()
		}
		return out
	}
	out["form"] = err.Error()
	return out
}

// notFound answers requests for sites that do not exist
func notFound(ctx router.Context) error {
	return ctx.Status(http.StatusNotFound).SendString("Not Found")
}

func (a *AuthorityController) LoginShow(ctx router.Context) error {
	siteID, err := siteParam(ctx)
	if err != nil {
		return notFound(ctx)
	}

	if siteID == ResidentSite {
		site, err := a.Auth.Repo().Sites().GetDefault(ctx.Context())
		if err != nil {
			return notFound(ctx)
		}
		return ctx.Redirect(SiteRoute(a.Routes.Login, site.ID, ""), http.StatusFound)
	}

	next := ctx.Param("next", "")
	if _, ok := GetRouterIdentity(ctx); ok {
		return ctx.Redirect(SiteRoute(a.Routes.ProfileEdit, siteID, next), http.StatusFound)
	}

	return ctx.Render(a.Views.Login, router.ViewContext{
		"site_id": siteID,
		"next":    next,
		"errors":  nil,
		"record":  nil,
	})
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthorityController) LoginPost(ctx router.Context) error {
	siteID, err := siteParam(ctx)
	if err != nil || siteID == ResidentSite {
		return notFound(ctx)
	}
	next := ctx.Param("next", "")

	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("login parse payload: %v", err)
		return ctx.Status(http.StatusBadRequest).Render(a.Views.Login, router.ViewContext{
			"site_id": siteID,
			"next":    next,
			"errors":  map[string]string{"form": "Failed to parse form"},
			"record":  payload,
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.Render(a.Views.Login, router.ViewContext{
			"site_id":    siteID,
			"next":       next,
			"record":     payload,
			"validation": validationErrors(err),
		})
	}

	var result *LoginResult
	login := NewLoginHandler(a.Auth)
	err = login.Execute(ctx.Context(), LoginMessage{
		Email:    payload.Email,
		Password: payload.Password,
		SiteID:   siteID,
		NextURL:  next,
		OnResponse: func(resp *LoginResult) {
			result = resp
		},
	})
	if err != nil {
		a.Logger.Info("login failed for %s: %v", NormalizeEmail(payload.Email), err)
		return ctx.Render(a.Views.Login, router.ViewContext{
			"site_id": siteID,
			"next":    next,
			"record":  payload,
			"errors":  map[string]string{"authentication": errorMessage(err)},
		})
	}

	a.Auther.Login(ctx, result)
	return a.renderPostLogin(ctx, result)
}

// renderPostLogin hands the token value to the browser so it can be kept
// for login recovery before following the next url
func (a *AuthorityController) renderPostLogin(ctx router.Context, result *LoginResult) error {
	return ctx.Render(a.Views.PostLogin, router.ViewContext{
		"next_url":   result.NextURL,
		"user_token": result.Token.Value,
	})
}

// RecoveryLogin logs a browser back in with the token value it kept
func (a *AuthorityController) RecoveryLogin(ctx router.Context) error {
	siteID, err := siteParam(ctx)
	if err != nil || siteID == ResidentSite {
		return notFound(ctx)
	}

	token := ctx.Query("token", "")
	if token == "" {
		payload := struct {
			Token string `form:"token" json:"token"`
		}{}
		if err := ctx.Bind(&payload); err == nil {
			token = payload.Token
		}
	}

	var result *LoginResult
	recovery := NewRecoveryLoginHandler(a.Auth)
	err = recovery.Execute(ctx.Context(), RecoveryLoginMessage{
		Token:  token,
		SiteID: siteID,
		OnResponse: func(resp *LoginResult) {
			result = resp
		},
	})
	if err != nil {
		if !HasTextCode(err, TextCodeTokenNotFound) {
			return a.ErrorHandler(ctx, err)
		}
		return ctx.Render(a.Views.DeleteToken, router.ViewContext{
			"input_token": token,
			"next_url":    SiteRoute(a.Routes.Login, siteID, ""),
		})
	}

	a.Auther.Login(ctx, result)
	return a.renderPostLogin(ctx, result)
}

func (a *AuthorityController) Logout(ctx router.Context) error {
	siteID, err := siteParam(ctx)
	if err != nil {
		return notFound(ctx)
	}

	identity, _ := GetRouterIdentity(ctx)
	session, _ := GetRouterSession(ctx)

	redirect := a.Routes.Login
	logout := NewLogoutHandler(a.Auth)
	err = logout.Execute(ctx.Context(), LogoutMessage{
		Identity: identity,
		Session:  session,
		SiteID:   siteID,
		NextURL:  ctx.Param("next", ""),
		OnResponse: func(nextURL string) {
			redirect = nextURL
		},
	})
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	a.Auther.Logout(ctx)
	return ctx.Redirect(redirect, http.StatusFound)
}

func (a *AuthorityController) RegisterShow(ctx router.Context) error {
	siteID, err := siteParam(ctx)
	if err != nil || siteID == ResidentSite {
		return notFound(ctx)
	}

	next := ctx.Param("next", "")
	if _, ok := GetRouterIdentity(ctx); ok {
		return ctx.Redirect(SiteRoute(a.Routes.ProfileEdit, siteID, next), http.StatusFound)
	}

	return ctx.Render(a.Views.Register, router.ViewContext{
		"site_id": siteID,
		"next":    next,
		"errors":  map[string]string{},
		"record":  RegistrationRequest{},
	})
}

// RegistrationRequest is the form payload
type RegistrationRequest struct {
	Email           string `form:"email" json:"email"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r RegistrationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthorityController) RegisterPost(ctx router.Context) error {
	siteID, err := siteParam(ctx)
	if err != nil || siteID == ResidentSite {
		return notFound(ctx)
	}
	next := ctx.Param("next", "")

	payload := new(RegistrationRequest)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("register parse payload: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(http.StatusBadRequest).Render(a.Views.Register, router.ViewContext{
			"site_id": siteID,
			"next":    next,
			"errors":  map[string]string{"form": "Failed to parse form"},
			"record":  payload,
		})
	}

	if err := payload.Validate(); err != nil {
		return ctx.Render(a.Views.Register, router.ViewContext{
			"site_id":    siteID,
			"next":       next,
			"record":     payload,
			"validation": validationErrors(err),
		})
	}

	var res *RegisterIdentityResponse
	register := NewRegisterIdentityHandler(a.Auth)
	err = register.Execute(ctx.Context(), RegisterIdentityMessage{
		Email:           payload.Email,
		Password:        payload.Password,
		ConfirmPassword: payload.ConfirmPassword,
		SiteID:          siteID,
		NextURL:         next,
		OnResponse: func(resp *RegisterIdentityResponse) {
			res = resp
		},
	})
	if err != nil {
		a.Logger.Info("registration failed: %v", err)
		return ctx.Render(a.Views.Register, router.ViewContext{
			"site_id": siteID,
			"next":    next,
			"record":  payload,
			"errors":  map[string]string{"email": errorMessage(err)},
		})
	}

	a.debug("registration", res)
	a.Auther.Login(ctx, res.Login)

	return ctx.Redirect(a.Routes.Verify, http.StatusSeeOther)
}

// VerifyNotice asks a logged in identity to follow its activation link
func (a *AuthorityController) VerifyNotice(ctx router.Context) error {
	identity, _ := GetRouterIdentity(ctx)
	if identity.IsVerified() {
		return ctx.Redirect(a.Routes.Profile, http.StatusFound)
	}

	return ctx.Render(a.Views.VerifyNotice, router.ViewContext{
		"identity":     identity,
		"invalid_link": false,
	})
}

func (a *AuthorityController) Verify(ctx router.Context) error {
	var result *LoginResult
	verify := NewVerifyIdentityHandler(a.Auth)
	err := verify.Execute(ctx.Context(), VerifyIdentityMessage{
		Email: ctx.Param("email", ""),
		Token: ctx.Param("token", ""),
		OnResponse: func(resp *LoginResult) {
			result = resp
		},
	})
	if err != nil {
		a.Logger.Info("verification link rejected: %v", err)
		identity, _ := GetRouterIdentity(ctx)
		return ctx.Render(a.Views.VerifyNotice, router.ViewContext{
			"identity":     identity,
			"invalid_link": true,
		})
	}

	a.Auther.Login(ctx, result)
	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Splendid! Your account successfully activated",
	}).Redirect(result.NextURL, http.StatusFound)
}

func (a *AuthorityController) VerifyResend(ctx router.Context) error {
	identity, _ := GetRouterIdentity(ctx)

	sent := false
	resend := NewResendVerificationHandler(a.Auth)
	err := resend.Execute(ctx.Context(), ResendVerificationMessage{
		Identity: identity,
		OnResponse: func(ok bool) {
			sent = ok
		},
	})
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if isAjax(ctx) {
		return ctx.JSON(http.StatusOK, map[string]any{"send_status": sent})
	}

	if sent {
		return flash.WithSuccess(ctx, router.ViewContext{
			"system_message": "Activation mail sent",
		}).Redirect(a.Routes.Verify, http.StatusFound)
	}

	return flash.WithError(ctx, router.ViewContext{
		"system_message": "Activation mail was not sent, try again later",
	}).Redirect(a.Routes.Verify, http.StatusFound)
}
