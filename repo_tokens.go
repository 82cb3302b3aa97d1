package entree

import (
	"context"
	"time"

	"github.com/goliatone/go-entree/cache"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LoginTokens stores login tokens. Reads by value go through a cache
// that is invalidated whenever a token is deleted or modified.
type LoginTokens interface {
	CreateTx(ctx context.Context, tx bun.IDB, token *LoginToken) (*LoginToken, error)
	ValueExistsTx(ctx context.Context, tx bun.IDB, value string) (bool, error)
	GetByValue(ctx context.Context, value string) (*LoginToken, error)
	GetByValueTx(ctx context.Context, tx bun.IDB, value string) (*LoginToken, error)
	FindForIdentityTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, tokenType TokenType) ([]*LoginToken, error)
	TouchTx(ctx context.Context, tx bun.IDB, token *LoginToken, at time.Time) error
	SaveDataTx(ctx context.Context, tx bun.IDB, token *LoginToken) error
	DeleteTx(ctx context.Context, tx bun.IDB, token *LoginToken) error
	DeleteForIdentityTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, tokenType TokenType, exceptValue string) (int, error)
	DeleteTouchedBefore(ctx context.Context, tokenType TokenType, before time.Time) (int, error)
}

type loginTokens struct {
	db    *bun.DB
	cache *cache.Store[string, *LoginToken]
}

var _ LoginTokens = (*loginTokens)(nil)

// NewLoginTokensRepository creates the token store
func NewLoginTokensRepository(db *bun.DB, ttl time.Duration) LoginTokens {
	return &loginTokens{
		db:    db,
		cache: cache.New[string, *LoginToken](ttl),
	}
}

func (r *loginTokens) CreateTx(ctx context.Context, tx bun.IDB, token *LoginToken) (*LoginToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	if token.Touched.IsZero() {
		token.Touched = time.Now()
	}

	if _, err := tx.NewInsert().Model(token).Exec(ctx); err != nil {
		return nil, err
	}
	return token, nil
}

func (r *loginTokens) ValueExistsTx(ctx context.Context, tx bun.IDB, value string) (bool, error) {
	return tx.NewSelect().
		Model((*LoginToken)(nil)).
		Where("value = ?", value).
		Exists(ctx)
}

func (r *loginTokens) GetByValue(ctx context.Context, value string) (*LoginToken, error) {
	return r.cache.GetOrLoad(value, func() (*LoginToken, error) {
		return r.GetByValueTx(ctx, r.db, value)
	})
}

func (r *loginTokens) GetByValueTx(ctx context.Context, tx bun.IDB, value string) (*LoginToken, error) {
	token := &LoginToken{}
	err := tx.NewSelect().
		Model(token).
		Relation("Identity").
		Where("?TableAlias.value = ?", value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"token": value,
				})
		}
		return nil, err
	}
	return token, nil
}

// FindForIdentityTx returns the tokens of a type, newest touched first
func (r *loginTokens) FindForIdentityTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, tokenType TokenType) ([]*LoginToken, error) {
	var tokens []*LoginToken
	err := tx.NewSelect().
		Model(&tokens).
		Where("identity_id = ?", identityID).
		Where("token_type = ?", tokenType).
		Order("touched DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

func (r *loginTokens) TouchTx(ctx context.Context, tx bun.IDB, token *LoginToken, at time.Time) error {
	_, err := tx.NewUpdate().
		Model((*LoginToken)(nil)).
		Set("touched = ?", at).
		Where("id = ?", token.ID).
		Exec(ctx)
	if err != nil {
		return err
	}
	token.Touched = at
	r.cache.Delete(token.Value)
	return nil
}

func (r *loginTokens) SaveDataTx(ctx context.Context, tx bun.IDB, token *LoginToken) error {
	_, err := tx.NewUpdate().
		Model(token).
		Column("app_data").
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	r.cache.Delete(token.Value)
	return nil
}

func (r *loginTokens) DeleteTx(ctx context.Context, tx bun.IDB, token *LoginToken) error {
	if token == nil {
		return nil
	}
	_, err := tx.NewDelete().
		Model((*LoginToken)(nil)).
		Where("id = ?", token.ID).
		Exec(ctx)
	r.cache.Delete(token.Value)
	return err
}

// DeleteForIdentityTx removes the tokens of a type owned by an identity,
// keeping exceptValue when given.
func (r *loginTokens) DeleteForIdentityTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, tokenType TokenType, exceptValue string) (int, error) {
	var values []string
	q := tx.NewSelect().
		Model((*LoginToken)(nil)).
		Column("value").
		Where("identity_id = ?", identityID).
		Where("token_type = ?", tokenType)
	if exceptValue != "" {
		q = q.Where("value != ?", exceptValue)
	}
	if err := q.Scan(ctx, &values); err != nil {
		return 0, err
	}

	if len(values) == 0 {
		return 0, nil
	}

	_, err := tx.NewDelete().
		Model((*LoginToken)(nil)).
		Where("value IN (?)", bun.In(values)).
		Exec(ctx)

	for _, value := range values {
		r.cache.Delete(value)
	}

	if err != nil {
		return 0, err
	}
	return len(values), nil
}

// DeleteTouchedBefore purges tokens of a type not touched since before
func (r *loginTokens) DeleteTouchedBefore(ctx context.Context, tokenType TokenType, before time.Time) (int, error) {
	var values []string
	err := r.db.NewSelect().
		Model((*LoginToken)(nil)).
		Column("value").
		Where("token_type = ?", tokenType).
		Where("touched < ?", before).
		Scan(ctx, &values)
	if err != nil {
		return 0, err
	}

	if len(values) == 0 {
		return 0, nil
	}

	if _, err := r.db.NewDelete().
		Model((*LoginToken)(nil)).
		Where("value IN (?)", bun.In(values)).
		Exec(ctx); err != nil {
		return 0, err
	}

	for _, value := range values {
		r.cache.Delete(value)
	}

	return len(values), nil
}
