package client

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-entree/cache"
)

//go:embed data/sql/migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "data/sql/migrations"

// ErrUserNotFound is returned by stores that do not know a key
var ErrUserNotFound = errors.New("entree user not found", errors.CategoryNotFound).
	WithTextCode("USER_NOT_FOUND")

// UserStore keeps fetched users keyed by token
type UserStore interface {
	Get(ctx context.Context, key string) (*EntreeUser, error)
	Save(ctx context.Context, user *EntreeUser) (*EntreeUser, error)
	Delete(ctx context.Context, key string) error
}

// MigrationsTable tracks client migrations apart from the authority ones
const MigrationsTable = "entree_client_db_version"

// Migrate creates the user table
func Migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrationsFS, migrationsDir)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to open client migrations")
	}

	store, err := database.NewStore(database.DialectSQLite3, MigrationsTable)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to create migration store")
	}

	provider, err := goose.NewProvider("", db, fsys, goose.WithStore(store))
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to create migration provider")
	}

	if _, err := provider.Up(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to run client migrations")
	}
	return nil
}

// NewUser builds the local user out of fetched profile data
func NewUser(key string, data map[string]any, now time.Time) (*EntreeUser, error) {
	email, _ := data["email"].(string)
	if email == "" {
		return nil, errors.New("profile data carries no email", errors.CategoryValidation).
			WithTextCode("MISSING_EMAIL")
	}

	return &EntreeUser{
		Key:        key,
		Email:      email,
		IsActive:   true,
		DateJoined: now,
		Data:       data,
	}, nil
}

type bunUserStore struct {
	db    *bun.DB
	cache *cache.Store[string, *EntreeUser]
}

// NewBunUserStore persists users with bun, reads go through a cache
func NewBunUserStore(db *bun.DB, ttl time.Duration) UserStore {
	return &bunUserStore{
		db:    db,
		cache: cache.New[string, *EntreeUser](ttl),
	}
}

func (s *bunUserStore) Get(ctx context.Context, key string) (*EntreeUser, error) {
	return s.cache.GetOrLoad(key, func() (*EntreeUser, error) {
		user := &EntreeUser{}
		err := s.db.NewSelect().Model(user).Where(`?TableAlias."key" = ?`, key).Limit(1).Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrUserNotFound
			}
			return nil, err
		}
		return user, nil
	})
}

// Save inserts user or replaces the one stored under the same key
func (s *bunUserStore) Save(ctx context.Context, user *EntreeUser) (*EntreeUser, error) {
	_, err := s.db.NewInsert().
		Model(user).
		On(`CONFLICT ("key") DO UPDATE`).
		Set("email = EXCLUDED.email").
		Set("is_active = EXCLUDED.is_active").
		Set("app_data = EXCLUDED.app_data").
		Returning("id").
		Exec(ctx)
	s.cache.Delete(user.Key)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *bunUserStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().Model((*EntreeUser)(nil)).Where(`"key" = ?`, key).Exec(ctx)
	s.cache.Delete(key)
	return err
}

type memoryUserStore struct {
	users *cache.Store[string, *EntreeUser]
}

// NewMemoryUserStore keeps users in process for ttl
func NewMemoryUserStore(ttl time.Duration) UserStore {
	return &memoryUserStore{users: cache.New[string, *EntreeUser](ttl)}
}

func (s *memoryUserStore) Get(_ context.Context, key string) (*EntreeUser, error) {
	user, ok := s.users.Get(key)
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *memoryUserStore) Save(_ context.Context, user *EntreeUser) (*EntreeUser, error) {
	s.users.Set(user.Key, user)
	return user, nil
}

func (s *memoryUserStore) Delete(_ context.Context, key string) error {
	s.users.Delete(key)
	return nil
}
