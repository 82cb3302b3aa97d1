package client

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-entree"
)

func newBunStore(t *testing.T) UserStore {
	t.Helper()
	ctx := context.Background()

	db, err := entree.OpenDB(ctx, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db.DB))
	// applying twice is a no-op
	require.NoError(t, Migrate(ctx, db.DB))

	return NewBunUserStore(db, time.Minute)
}

func TestUserStores(t *testing.T) {
	stores := map[string]func(t *testing.T) UserStore{
		"bun": newBunStore,
		"memory": func(t *testing.T) UserStore {
			return NewMemoryUserStore(time.Minute)
		},
	}

	for name, build := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := build(t)

			_, err := store.Get(ctx, "missing")
			assert.True(t, errors.Is(err, ErrUserNotFound))

			user, err := NewUser("TOKEN1", map[string]any{"email": "neo@example.com", "level": "one"}, time.Now())
			require.NoError(t, err)

			_, err = store.Save(ctx, user)
			require.NoError(t, err)

			got, err := store.Get(ctx, "TOKEN1")
			require.NoError(t, err)
			assert.Equal(t, "neo@example.com", got.Email)
			assert.True(t, got.IsActive)
			level, _ := got.Get("level")
			assert.Equal(t, "one", level)

			// saving the same key replaces the profile
			updated, err := NewUser("TOKEN1", map[string]any{"email": "trinity@example.com"}, time.Now())
			require.NoError(t, err)
			_, err = store.Save(ctx, updated)
			require.NoError(t, err)

			got, err = store.Get(ctx, "TOKEN1")
			require.NoError(t, err)
			assert.Equal(t, "trinity@example.com", got.Email)

			require.NoError(t, store.Delete(ctx, "TOKEN1"))
			_, err = store.Get(ctx, "TOKEN1")
			assert.True(t, errors.Is(err, ErrUserNotFound))
		})
	}
}

func TestNewUserRequiresEmail(t *testing.T) {
	_, err := NewUser("TOKEN1", map[string]any{"nickname": "ghost"}, time.Now())
	require.Error(t, err)

	var richErr *errors.Error
	require.True(t, errors.As(err, &richErr))
	assert.Equal(t, errors.CategoryValidation, richErr.Category)
}

func TestEntreeUserString(t *testing.T) {
	var anon *EntreeUser
	assert.Equal(t, "EntreeUser anonymous", anon.String())
	_, ok := anon.Get("email")
	assert.False(t, ok)

	assert.Equal(t, "EntreeUser neo@example.com", (&EntreeUser{Email: "neo@example.com"}).String())
}
