package entree

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds the authority options
type Config interface {
	GetSecretKey() string
	GetSigningKey() string
	GetSessionCookie() string
	GetSessionExpiration() time.Duration
	GetIssuer() string
	GetPublicURL() string
	GetMailCooldown() time.Duration
	GetTokenTTL(tokenType TokenType) time.Duration
	GetDebug() bool
}

// IdentityStore is what an IdentityProvider needs from persistence
type IdentityStore interface {
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	TrackAttemptedLogin(ctx context.Context, identity *Identity) error
	TrackSuccessfulLogin(ctx context.Context, identity *Identity) error
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// Clock is used wherever token age matters
type Clock func() time.Time

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] ENTREE "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] ENTREE "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] ENTREE "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] ENTREE "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// NopLogger discards everything, handy in tests
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
