// Package csrf protects the authority forms. Tokens are either kept in a
// Storage keyed by session, or signed statelessly with SecureKey.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-router"
)

var (
	ErrTokenMismatch    = errors.New("CSRF token mismatch")
	ErrTokenMissing     = errors.New("CSRF token missing")
	ErrTokenExpired     = errors.New("CSRF token expired")
	ErrSecureKeyMissing = errors.New("CSRF secure key required for stateless mode")
)

// DefaultTokenLength is the nonce size in bytes
const DefaultTokenLength = 32

// DefaultTemplateHelpersKey is where helpers are merged for templates
const DefaultTemplateHelpersKey = "template_helpers"

// DefaultContextKey is where the token is stored in locals
const DefaultContextKey = "csrf_token"

// DefaultFormFieldName is the hidden form field carrying the token
const DefaultFormFieldName = "_token"

// DefaultHeaderName is the header carrying the token for XHR posts
const DefaultHeaderName = "X-CSRF-Token"

type Config struct {
	Skip        func(router.Context) bool
	TokenLength int
	ContextKey  string

	FormFieldName string
	HeaderName    string
	// TokenLookup is "form:_token,header:X-CSRF-Token" style
	TokenLookup string

	// SessionKey binds tokens to the caller. Defaults to the client IP.
	SessionKey func(router.Context) string

	// Storage switches to stored tokens, SecureKey is then unused
	Storage Storage

	ErrorHandler   router.ErrorHandler
	SuccessHandler router.HandlerFunc
	SafeMethods    []string
	Expiration     time.Duration
	SecureKey      []byte

	DisableTemplateHelpers bool
	TemplateHelpersKey     string
}

// Storage keeps one token per session key
type Storage interface {
	Get(key string) (string, error)
	Set(key string, value string, expiration time.Duration) error
	Delete(key string) error
}

type TokenExtractor func(router.Context) (string, error)

func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := configDefault(config...)

		return func(ctx router.Context) error {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return ctx.Next()
			}

			token, err := getOrGenerateToken(ctx, cfg)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, token)
			if !cfg.DisableTemplateHelpers {
				ctx.LocalsMerge(cfg.TemplateHelpersKey, TemplateHelpers(token, cfg.FormFieldName, cfg.HeaderName))
			}

			if slices.Contains(cfg.SafeMethods, strings.ToUpper(ctx.Method())) {
				return cfg.SuccessHandler(ctx)
			}

			if err := validateToken(ctx, cfg, token); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			return cfg.SuccessHandler(ctx)
		}
	}
}

func getOrGenerateToken(ctx router.Context, cfg Config) (string, error) {
	if cfg.Storage == nil {
		return generateStatelessToken(cfg, cfg.SessionKey(ctx), time.Now())
	}

	key := "csrf_" + cfg.SessionKey(ctx)
	if token, err := cfg.Storage.Get(key); err == nil && token != "" {
		return token, nil
	}

	nonce, err := randomBytes(cfg.TokenLength)
	if err != nil {
		return "", err
	}
	token := hex.EncodeToString(nonce)

	if err := cfg.Storage.Set(key, token, cfg.Expiration); err != nil {
		return "", err
	}
	return token, nil
}

func validateToken(ctx router.Context, cfg Config, expected string) error {
	received := extractToken(ctx, cfg)
	if received == "" {
		return ErrTokenMissing
	}

	if cfg.Storage != nil {
		if expected == "" || subtle.ConstantTimeCompare([]byte(received), []byte(expected)) != 1 {
			return ErrTokenMismatch
		}
		return nil
	}

	return validateStatelessToken(cfg, received, cfg.SessionKey(ctx), time.Now())
}

func randomBytes(n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

func sign(key []byte, payload string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// stateless tokens are base64(ts:nonce:session:hmac)
func generateStatelessToken(cfg Config, session string, now time.Time) (string, error) {
	if len(cfg.SecureKey) == 0 {
		return "", ErrSecureKeyMissing
	}

	nonce, err := randomBytes(cfg.TokenLength)
	if err != nil {
		return "", err
	}

	payload := fmt.Sprintf("%d:%s:%s", now.UTC().Unix(), hex.EncodeToString(nonce), session)
	token := payload + ":" + hex.EncodeToString(sign(cfg.SecureKey, payload))
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

func validateStatelessToken(cfg Config, token, session string, now time.Time) error {
	if len(cfg.SecureKey) == 0 {
		return ErrSecureKeyMissing
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenMismatch
	}

	// the session key may itself contain colons
	raw := string(decoded)
	last := strings.LastIndex(raw, ":")
	if last < 0 {
		return ErrTokenMismatch
	}
	payload, signatureHex := raw[:last], raw[last+1:]

	parts := strings.SplitN(payload, ":", 3)
	if len(parts) != 3 {
		return ErrTokenMismatch
	}

	timestamp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}

	signature, err := hex.DecodeString(signatureHex)
	if err != nil || !hmac.Equal(signature, sign(cfg.SecureKey, payload)) {
		return ErrTokenMismatch
	}

	if subtle.ConstantTimeCompare([]byte(parts[2]), []byte(session)) != 1 {
		return ErrTokenMismatch
	}

	if cfg.Expiration > 0 && now.UTC().After(time.Unix(timestamp, 0).Add(cfg.Expiration)) {
		return ErrTokenExpired
	}

	return nil
}

func extractToken(ctx router.Context, cfg Config) string {
	for _, extractor := range getExtractors(cfg.TokenLookup, cfg.FormFieldName, cfg.HeaderName) {
		if token, err := extractor(ctx); token != "" && err == nil {
			return token
		}
	}
	return ""
}

func getExtractors(tokenLookup, formField, header string) []TokenExtractor {
	if tokenLookup == "" {
		return []TokenExtractor{
			extractorFromForm(formField),
			extractorFromHeader(header),
		}
	}

	var extractors []TokenExtractor
	for _, part := range strings.Split(tokenLookup, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "form:"):
			extractors = append(extractors, extractorFromForm(strings.TrimPrefix(part, "form:")))
		case strings.HasPrefix(part, "header:"):
			extractors = append(extractors, extractorFromHeader(strings.TrimPrefix(part, "header:")))
		}
	}
	return extractors
}

func extractorFromForm(fieldName string) TokenExtractor {
	return func(ctx router.Context) (string, error) {
		return ctx.FormValue(fieldName), nil
	}
}

func extractorFromHeader(headerName string) TokenExtractor {
	return func(ctx router.Context) (string, error) {
		return ctx.GetString(headerName, ""), nil
	}
}

func ipSessionKey(ctx router.Context) string {
	return "ip_" + ctx.IP()
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenLength == 0 {
		cfg.TokenLength = DefaultTokenLength
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}

	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}

	if cfg.SessionKey == nil {
		cfg.SessionKey = ipSessionKey
	}

	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
	}

	if cfg.Expiration == 0 {
		cfg.Expiration = 24 * time.Hour
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.TemplateHelpersKey == "" {
		cfg.TemplateHelpersKey = DefaultTemplateHelpersKey
	}

	cfg.SecureKey = initializeSecureKey(cfg.SecureKey, cfg.Storage)

	return cfg
}

func defaultErrorHandler(ctx router.Context, err error) error {
	switch {
	case errors.Is(err, ErrTokenMissing):
		return ctx.Status(router.StatusBadRequest).SendString(ErrTokenMissing.Error())
	case errors.Is(err, ErrTokenMismatch), errors.Is(err, ErrTokenExpired):
		return ctx.Status(router.StatusForbidden).SendString(err.Error())
	default:
		return ctx.Status(router.StatusInternalServerError).SendString("CSRF validation error")
	}
}

func initializeSecureKey(current []byte, storage Storage) []byte {
	if storage != nil {
		return current
	}
	if len(current) > 0 {
		if len(current) < 32 {
			panic(fmt.Errorf("csrf: secure key must be at least 32 bytes, got %d", len(current)))
		}
		return current
	}
	key, err := randomBytes(32)
	if err != nil {
		panic(fmt.Errorf("csrf: unable to initialize secure key: %w", err))
	}
	return key
}

// TemplateHelpers are the values merged for templates on every request
func TemplateHelpers(token, fieldName, headerName string) map[string]any {
	return map[string]any{
		"csrf_token":       token,
		"csrf_field":       `<input type="hidden" name="` + fieldName + `" value="` + token + `">`,
		"csrf_meta":        `<meta name="csrf-token" content="` + token + `">`,
		"csrf_header_name": headerName,
	}
}
