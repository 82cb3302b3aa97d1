package entree

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Identities is the identity store
type Identities interface {
	repository.Repository[*Identity]

	FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Identity, error)
	Register(ctx context.Context, identity *Identity) (*Identity, error)
	RegisterTx(ctx context.Context, tx bun.IDB, identity *Identity) (*Identity, error)
	Save(ctx context.Context, identity *Identity) error
	SaveTx(ctx context.Context, tx bun.IDB, identity *Identity) error
	SetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error

	TrackAttemptedLogin(ctx context.Context, identity *Identity) error
	TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, identity *Identity) error
	TrackSuccessfulLogin(ctx context.Context, identity *Identity) error
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, identity *Identity) error
}

// tokenRevoker is the slice of LoginTokens identities need
type tokenRevoker interface {
	DeleteForIdentityTx(ctx context.Context, tx bun.IDB, identityID uuid.UUID, tokenType TokenType, exceptValue string) (int, error)
}

type identities struct {
	repository.Repository[*Identity]
	db     *bun.DB
	tokens tokenRevoker
}

var (
	_ Identities                       = (*identities)(nil)
	_ repository.Repository[*Identity] = (*identities)(nil)
	_ IdentityStore                    = (*identities)(nil)
)

// NewIdentitiesRepository creates the identity store. tokens is used to
// revoke AUTH tokens of identities saved as inactive and may be nil.
func NewIdentitiesRepository(db *bun.DB, tokens tokenRevoker) Identities {
	repo := repository.NewRepository[*Identity](db, repository.ModelHandlers[*Identity]{
		NewRecord: func() *Identity { return &Identity{} },
		GetID: func(i *Identity) uuid.UUID {
			if i == nil {
				return uuid.Nil
			}
			return i.ID
		},
		SetID: func(i *Identity, id uuid.UUID) {
			if i != nil {
				i.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &identities{
		Repository: repo,
		db:         db,
		tokens:     tokens,
	}
}

func (r *identities) FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Identity, error) {
	record := &Identity{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"id": id.String(),
				})
		}
		return nil, err
	}
	return record, nil
}

func (r *identities) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	return r.GetByEmailTx(ctx, r.db, email)
}

func (r *identities) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Identity, error) {
	record := &Identity{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) || repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"email": email,
				})
		}
		return nil, err
	}
	return record, nil
}

func (r *identities) Register(ctx context.Context, identity *Identity) (*Identity, error) {
	return r.RegisterTx(ctx, r.db, identity)
}

func (r *identities) RegisterTx(ctx context.Context, tx bun.IDB, identity *Identity) (*Identity, error) {
	prepareIdentityDefaults(identity)
	return r.Repository.CreateTx(ctx, tx, identity)
}

func (r *identities) Save(ctx context.Context, identity *Identity) error {
	return r.SaveTx(ctx, r.db, identity)
}

// SaveTx persists the mutable identity columns. Inactive identities lose
// every AUTH token they hold.
func (r *identities) SaveTx(ctx context.Context, tx bun.IDB, identity *Identity) error {
	identity.Email = NormalizeEmail(identity.Email)
	now := time.Now()
	identity.UpdatedAt = &now

	res, err := tx.NewUpdate().
		Model(identity).
		Column("email", "password_hash", "is_active", "mail_verified", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": identity.ID.String(),
			})
	}

	if !identity.IsActive && r.tokens != nil {
		if _, err := r.tokens.DeleteForIdentityTx(ctx, tx, identity.ID, TokenAuth, ""); err != nil {
			return err
		}
	}

	return nil
}

func (r *identities) SetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	res, err := tx.NewUpdate().
		Model((*Identity)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func (r *identities) TrackAttemptedLogin(ctx context.Context, identity *Identity) error {
	return r.TrackAttemptedLoginTx(ctx, r.db, identity)
}

func (r *identities) TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, identity *Identity) error {
	now := time.Now()
	_, err := tx.NewUpdate().
		Model((*Identity)(nil)).
		Set("login_attempts = ?", identity.LoginAttempts+1).
		Set("login_attempt_at = ?", now).
		Where("id = ?", identity.ID).
		Exec(ctx)
	if err == nil {
		identity.LoginAttempts++
		identity.LoginAttemptAt = &now
	}
	return err
}

func (r *identities) TrackSuccessfulLogin(ctx context.Context, identity *Identity) error {
	return r.TrackSuccessfulLoginTx(ctx, r.db, identity)
}

func (r *identities) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, identity *Identity) error {
	loggedInAt := time.Now()
	_, err := tx.NewRaw(`
		UPDATE "identities"
		SET
			"loggedin_at" = ?,
			"login_attempt_at" = NULL,
			"login_attempts" = 0
		WHERE "id" = ?;
	`, loggedInAt, identity.ID).Exec(ctx)
	if err == nil {
		identity.LoggedInAt = &loggedInAt
		identity.LoginAttempts = 0
		identity.LoginAttemptAt = nil
	}
	return err
}

func prepareIdentityDefaults(record *Identity) {
	if record == nil {
		return
	}

	record.Email = NormalizeEmail(record.Email)

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.DateJoined.IsZero() {
		record.DateJoined = time.Now()
	}
}
