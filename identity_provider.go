package entree

import (
	"context"

	"github.com/goliatone/go-errors"
)

// IdentityProvider verifies credentials against an IdentityStore
type IdentityProvider struct {
	store   IdentityStore
	hasher  PasswordAuthenticator
	logger  Logger
	metrics Metrics
}

// MaxLoginAttempts is the maximun number of attempts an identity gets
// in a period
var MaxLoginAttempts = 5

// CoolDownPeriod is the period in which we enforce a cool down
var CoolDownPeriod = "24h"

// NewIdentityProvider will create a new IdentityProvider
func NewIdentityProvider(store IdentityStore) *IdentityProvider {
	return &IdentityProvider{
		store:   store,
		hasher:  BcryptHasher{},
		logger:  defLogger{},
		metrics: nopMetrics{},
	}
}

func (p *IdentityProvider) WithLogger(l Logger) *IdentityProvider {
	if l != nil {
		p.logger = l
	}
	return p
}

func (p *IdentityProvider) WithMetrics(m Metrics) *IdentityProvider {
	p.metrics = normalizeMetrics(m)
	return p
}

func (p *IdentityProvider) WithPasswordAuthenticator(h PasswordAuthenticator) *IdentityProvider {
	if h != nil {
		p.hasher = h
	}
	return p
}

// Authenticate finds the identity by email and checks password. Unknown
// emails and wrong passwords are indistinguishable to the caller.
func (p *IdentityProvider) Authenticate(ctx context.Context, email, password string) (*Identity, error) {
	identity, err := p.store.GetByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			p.metrics.LoginAttempt(OutcomeFailure)
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve identity during verification")
	}

	if identity.LoginAttemptAt != nil {
		expired, err := IsOutsideThresholdPeriod(*identity.LoginAttemptAt, CoolDownPeriod)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to calculate login attempt cooldown")
		}

		if expired {
			identity.LoginAttempts = 0
		}
	}

	if identity.LoginAttempts > MaxLoginAttempts {
		p.metrics.LoginAttempt(OutcomeLocked)
		return nil, ErrTooManyLoginAttempts
	}

	if err := p.hasher.ComparePasswordAndHash(password, identity.PasswordHash); err != nil {
		if err2 := p.store.TrackAttemptedLogin(ctx, identity); err2 != nil {
			return nil, errors.Wrap(err2, errors.CategoryInternal, "failed to track login attempt")
		}
		p.metrics.LoginAttempt(OutcomeFailure)
		return nil, ErrMismatchedHashAndPassword
	}

	if err := p.store.TrackSuccessfulLogin(ctx, identity); err != nil {
		p.logger.Error("failed to track successful login: %v", err)
	}

	p.metrics.LoginAttempt(OutcomeSuccess)
	return identity, nil
}
