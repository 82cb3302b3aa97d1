package entree

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// maxValueAttempts bounds the retries when a minted value collides
const maxValueAttempts = 5

// TokenIssuer mints, finds and retires login tokens
type TokenIssuer struct {
	repo    RepositoryManager
	secret  string
	ttl     func(TokenType) time.Duration
	now     Clock
	logger  Logger
	metrics Metrics
}

// NewTokenIssuer creates an issuer keyed by the authority secret
func NewTokenIssuer(repo RepositoryManager, cfg Config) *TokenIssuer {
	return &TokenIssuer{
		repo:    repo,
		secret:  cfg.GetSecretKey(),
		ttl:     cfg.GetTokenTTL,
		now:     time.Now,
		logger:  defLogger{},
		metrics: nopMetrics{},
	}
}

func (t *TokenIssuer) WithLogger(l Logger) *TokenIssuer {
	if l != nil {
		t.logger = l
	}
	return t
}

func (t *TokenIssuer) WithMetrics(m Metrics) *TokenIssuer {
	t.metrics = normalizeMetrics(m)
	return t
}

func (t *TokenIssuer) WithClock(c Clock) *TokenIssuer {
	if c != nil {
		t.now = c
	}
	return t
}

// TTL returns how long a token of tokenType stays valid after its last touch
func (t *TokenIssuer) TTL(tokenType TokenType) time.Duration {
	if t.ttl == nil {
		return 0
	}
	return t.ttl(tokenType)
}

// Create mints a new token for identity
func (t *TokenIssuer) Create(ctx context.Context, identity *Identity, tokenType TokenType, data TokenData) (*LoginToken, error) {
	var token *LoginToken
	err := t.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		token, err = t.CreateTx(ctx, tx, identity, tokenType, data)
		return err
	})
	return token, err
}

func (t *TokenIssuer) CreateTx(ctx context.Context, tx bun.IDB, identity *Identity, tokenType TokenType, data TokenData) (*LoginToken, error) {
	if !IsValidTokenType(tokenType) {
		return nil, ErrInvalidTokenType
	}

	if identity == nil {
		return nil, ErrIdentityNotFound
	}

	for range maxValueAttempts {
		value := CalcChecksum(identity.Email, t.secret+uuid.NewString(), ChecksumLength)

		exists, err := t.repo.Tokens().ValueExistsTx(ctx, tx, value)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check token value")
		}

		if exists {
			continue
		}

		token, err := t.repo.Tokens().CreateTx(ctx, tx, &LoginToken{
			IdentityID: identity.ID,
			Value:      value,
			Type:       tokenType,
			Touched:    t.now(),
			Data:       data,
		})
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store token")
		}

		token.Identity = identity
		t.metrics.TokenIssued(tokenType)
		return token, nil
	}

	return nil, goerrors.New("unable to mint a unique token value", goerrors.CategoryInternal)
}

// Obtain returns the live token of tokenType for identity, creating one
// when there is none. Extra tokens are deleted keeping the newest one.
func (t *TokenIssuer) Obtain(ctx context.Context, identity *Identity, tokenType TokenType) (*LoginToken, bool, error) {
	var token *LoginToken
	var created bool
	err := t.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		token, created, err = t.ObtainTx(ctx, tx, identity, tokenType)
		return err
	})
	return token, created, err
}

func (t *TokenIssuer) ObtainTx(ctx context.Context, tx bun.IDB, identity *Identity, tokenType TokenType) (*LoginToken, bool, error) {
	if !IsValidTokenType(tokenType) {
		return nil, false, ErrInvalidTokenType
	}

	tokens, err := t.repo.Tokens().FindForIdentityTx(ctx, tx, identity.ID, tokenType)
	if err != nil {
		return nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list tokens")
	}

	now := t.now()
	var keep *LoginToken
	for _, token := range tokens {
		if keep == nil && !token.IsExpired(t.TTL(tokenType), now) {
			keep = token
			continue
		}
		if err := t.repo.Tokens().DeleteTx(ctx, tx, token); err != nil {
			return nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete stale token")
		}
	}

	if keep != nil {
		keep.Identity = identity
		return keep, false, nil
	}

	token, err := t.CreateTx(ctx, tx, identity, tokenType, TokenData{})
	if err != nil {
		return nil, false, err
	}
	return token, true, nil
}

// Lookup finds a live token by value. Expired tokens are deleted and
// reported as not found, as are tokens of another type.
func (t *TokenIssuer) Lookup(ctx context.Context, value string, tokenType TokenType) (*LoginToken, error) {
	value = SanitizeToken(value)
	if value == "" {
		return nil, ErrTokenNotFound
	}

	token, err := t.repo.Tokens().GetByValue(ctx, value)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTokenNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve token")
	}

	if tokenType != "" && token.Type != tokenType {
		return nil, ErrTokenNotFound
	}

	if token.IsExpired(t.TTL(token.Type), t.now()) {
		if err := t.Delete(ctx, token); err != nil {
			t.logger.Warn("failed to delete expired token: %v", err)
		}
		return nil, ErrTokenNotFound
	}

	return token, nil
}

// LookupForEmail is Lookup that also requires the token to belong to email
func (t *TokenIssuer) LookupForEmail(ctx context.Context, email, value string, tokenType TokenType) (*LoginToken, error) {
	token, err := t.Lookup(ctx, value, tokenType)
	if err != nil {
		return nil, err
	}

	if token.Identity == nil || token.Identity.Email != NormalizeEmail(email) {
		return nil, ErrTokenNotFound
	}

	return token, nil
}

func (t *TokenIssuer) Touch(ctx context.Context, token *LoginToken) error {
	return t.inTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		return t.repo.Tokens().TouchTx(ctx, tx, token, t.now())
	})
}

func (t *TokenIssuer) SaveData(ctx context.Context, token *LoginToken) error {
	return t.inTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		return t.repo.Tokens().SaveDataTx(ctx, tx, token)
	})
}

func (t *TokenIssuer) Delete(ctx context.Context, token *LoginToken) error {
	return t.inTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		return t.repo.Tokens().DeleteTx(ctx, tx, token)
	})
}

// DeleteForIdentity removes every token of tokenType for identity but
// the one matching exceptValue.
func (t *TokenIssuer) DeleteForIdentity(ctx context.Context, identity *Identity, tokenType TokenType, exceptValue string) (int, error) {
	var n int
	err := t.inTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		var err error
		n, err = t.repo.Tokens().DeleteForIdentityTx(ctx, tx, identity.ID, tokenType, exceptValue)
		return err
	})
	return n, err
}

// PurgeExpired deletes tokens not touched within their TTL
func (t *TokenIssuer) PurgeExpired(ctx context.Context) (int, error) {
	total := 0
	now := t.now()
	for _, tokenType := range TokenTypes {
		ttl := t.TTL(tokenType)
		if ttl <= 0 {
			continue
		}
		n, err := t.repo.Tokens().DeleteTouchedBefore(ctx, tokenType, now.Add(-ttl))
		if err != nil {
			return total, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to purge expired tokens").
				WithMetadata(map[string]any{"token_type": tokenType})
		}
		total += n
	}
	return total, nil
}

func (t *TokenIssuer) inTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error {
	return t.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}
