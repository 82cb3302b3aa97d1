package entree

import (
	"fmt"
	"strings"
)

// Authority routes, client sites build their redirects from these
const (
	RouteHome                   = "/"
	RouteLogin                  = "/login/"
	RouteLoginRecovery          = "/login/recovery/"
	RouteLogout                 = "/logout/"
	RouteRegister               = "/register/"
	RouteVerify                 = "/verify/"
	RouteVerifyResend           = "/verify/resend/"
	RoutePasswordChange         = "/password-change/"
	RoutePasswordRecovery       = "/password-recovery/"
	RoutePasswordRecoveryFinish = "/password-recovery/finish/"
	RouteIframeLogin            = "/iframe-login/"
	RouteAPIShow                = "/api/show/"
	RouteProfile                = "/profile/"
	RouteProfileEdit            = "/profile/edit/"
	RouteProfileFetch           = "/profile/fetch/"
)

// SiteRoute appends the site id and optional signed next url to route
func SiteRoute(route string, siteID int64, next string) string {
	out := fmt.Sprintf("%s%d/", route, siteID)
	if next = strings.Trim(next, "/"); next != "" {
		out += next + "/"
	}
	return out
}
