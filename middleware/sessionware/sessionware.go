// Package sessionware resolves an opaque session credential carried by a
// request into a principal and stores it in the router context.
package sessionware

import (
	"context"
	"errors"
	"strings"

	"github.com/goliatone/go-router"
)

var (
	defaultTokenLookup = "cookie:entree_session"
	// ErrSessionMissing is returned when no extractor found a credential
	ErrSessionMissing = errors.New("missing or malformed session")
)

// Principal is whatever the resolver produced for a valid session
type Principal interface {
	Subject() string
}

// SessionResolver turns a raw credential into a principal
type SessionResolver interface {
	ResolveSession(ctx context.Context, raw string) (Principal, error)
}

// ResolverFunc adapts a function to SessionResolver
type ResolverFunc func(ctx context.Context, raw string) (Principal, error)

func (f ResolverFunc) ResolveSession(ctx context.Context, raw string) (Principal, error) {
	return f(ctx, raw)
}

// ValidationListener runs after the session resolved, before the
// principal is stored. An error aborts the request through ErrorHandler.
type ValidationListener func(ctx router.Context, principal Principal) error

type Config struct {
	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler
	Resolver       SessionResolver
	ContextKey     string
	TokenLookup    string
	AuthScheme     string

	// Optional lets requests without any credential through untouched.
	// Credentials that fail to resolve still reach ErrorHandler.
	Optional bool

	ContextEnricher     func(c context.Context, principal Principal) context.Context
	ValidationListeners []ValidationListener

	// TemplateUserKey stores template data for the principal, built by
	// UserProvider when set.
	TemplateUserKey string
	UserProvider    func(Principal) (any, error)
}

func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := GetDefaultConfig(config...)
		extractors := cfg.getExtractors()
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			raw, err := ExtractRawTokenFromContext(ctx, extractors)
			if raw == "" || err != nil {
				if cfg.Optional {
					return ctx.Next()
				}
				return cfg.ErrorHandler(ctx, ErrSessionMissing)
			}

			principal, err := cfg.Resolver.ResolveSession(ctx.Context(), raw)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if err := cfg.runValidationListeners(ctx, principal); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, principal)

			if cfg.TemplateUserKey != "" {
				var templateUser any = principal
				if cfg.UserProvider != nil {
					if user, err := cfg.UserProvider(principal); err == nil {
						templateUser = user
					}
				}

				if userMap, ok := templateUser.(map[string]any); ok {
					ctx.LocalsMerge(cfg.TemplateUserKey, userMap)
				} else {
					ctx.Locals(cfg.TemplateUserKey, templateUser)
				}
			}

			if cfg.ContextEnricher != nil {
				ctx.SetContext(cfg.ContextEnricher(ctx.Context(), principal))
			}

			return cfg.SuccessHandler(ctx)
		}
	}
}

func ExtractRawTokenFromContext(ctx router.Context, extractors []Extractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c router.Context, err error) error {
			if errors.Is(err, ErrSessionMissing) {
				return c.Status(router.StatusBadRequest).SendString(ErrSessionMissing.Error())
			}
			return c.Status(router.StatusUnauthorized).SendString("Invalid or expired session")
		}
	}

	if cfg.Resolver == nil {
		panic("ENTREE: session middleware configuration: Resolver is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "principal"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	return cfg
}

func (cfg *Config) getExtractors() []Extractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func (cfg *Config) runValidationListeners(ctx router.Context, principal Principal) error {
	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(ctx, principal); err != nil {
			return err
		}
	}
	return nil
}

// Extractor pulls a raw credential out of a request
type Extractor func(c router.Context) (string, error)

// GetExtractors parses a lookup like "cookie:entree_session,header:Authorization"
func GetExtractors(tokenLookup string, authSchemes ...string) []Extractor {
	extractors := make([]Extractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 && authSchemes[0] != "" {
		authScheme = authSchemes[0]
	}

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.SplitN(strings.TrimSpace(rootPart), ":", 2)
		if len(parts) != 2 {
			continue
		}
		source, name := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

		switch source {
		case "header":
			extractors = append(extractors, fromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, fromQuery(name))
		case "param":
			extractors = append(extractors, fromParam(name))
		case "cookie":
			extractors = append(extractors, fromCookie(name))
		}
	}

	return extractors
}

func fromHeader(header string, authScheme string) Extractor {
	authScheme = strings.TrimSpace(authScheme)
	return func(c router.Context) (string, error) {
		a := c.GetString(header, "")
		l := len(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrSessionMissing
	}
}

func fromQuery(param string) Extractor {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrSessionMissing
		}
		return token, nil
	}
}

func fromParam(param string) Extractor {
	return func(c router.Context) (string, error) {
		token := c.Param(param, "")
		if token == "" {
			return "", ErrSessionMissing
		}
		return token, nil
	}
}

func fromCookie(name string) Extractor {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrSessionMissing
		}
		return token, nil
	}
}
