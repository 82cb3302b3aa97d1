package csrf

import "github.com/goliatone/go-router"

// RouteConfig configures the token bootstrap endpoint used by XHR forms
type RouteConfig struct {
	Path       string
	ContextKey string
	RouteName  string
	FieldName  string
	HeaderName string
}

// RegisterRoutes exposes the current token as JSON. The CSRF middleware
// must run before the handler.
func RegisterRoutes[T any](app router.Router[T], cfg ...RouteConfig) {
	conf := routeConfigDefault(cfg...)
	app.Get(conf.Path, tokenHandler(conf)).SetName(conf.RouteName)
}

func routeConfigDefault(cfg ...RouteConfig) RouteConfig {
	conf := RouteConfig{
		Path:       "/csrf/",
		ContextKey: DefaultContextKey,
		RouteName:  "entree.csrf",
		FieldName:  DefaultFormFieldName,
		HeaderName: DefaultHeaderName,
	}
	if len(cfg) == 0 {
		return conf
	}

	c := cfg[0]
	if c.Path != "" {
		conf.Path = c.Path
	}
	if c.ContextKey != "" {
		conf.ContextKey = c.ContextKey
	}
	if c.RouteName != "" {
		conf.RouteName = c.RouteName
	}
	if c.FieldName != "" {
		conf.FieldName = c.FieldName
	}
	if c.HeaderName != "" {
		conf.HeaderName = c.HeaderName
	}
	return conf
}

func tokenHandler(cfg RouteConfig) router.HandlerFunc {
	return func(ctx router.Context) error {
		token, _ := ctx.Locals(cfg.ContextKey).(string)
		if token == "" {
			return ctx.JSON(router.StatusUnauthorized, map[string]string{
				"error": ErrTokenMissing.Error(),
			})
		}

		ctx.SetHeader("Cache-Control", "no-store, max-age=0")

		return ctx.JSON(router.StatusOK, map[string]string{
			"token":       token,
			"field_name":  cfg.FieldName,
			"header_name": cfg.HeaderName,
		})
	}
}
