package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-entree"
)

type adminRunner struct {
	t   *testing.T
	dsn string
}

func newAdminRunner(t *testing.T) *adminRunner {
	return &adminRunner{t: t, dsn: "file:" + filepath.Join(t.TempDir(), "entree.db")}
}

func (r *adminRunner) run(stdin string, args ...string) (string, error) {
	var out bytes.Buffer
	err := run(context.Background(), append([]string{"-dsn", r.dsn}, args...), strings.NewReader(stdin), &out)
	return out.String(), err
}

func (r *adminRunner) repo() entree.RepositoryManager {
	db, err := entree.OpenDB(context.Background(), r.dsn)
	require.NoError(r.t, err)
	r.t.Cleanup(func() { _ = db.Close() })
	return entree.NewRepositoryManager(db)
}

func TestAdmin_Usage(t *testing.T) {
	r := newAdminRunner(t)

	for _, args := range [][]string{{}, {"site"}, {"site", "remove"}, {"unknown", "list"}} {
		_, err := r.run("", args...)
		assert.ErrorIs(t, err, ErrUsage, args)
	}
}

func TestAdmin_IdentityCreate(t *testing.T) {
	r := newAdminRunner(t)

	out, err := r.run("neo@example.com\nsecret-pass\nsecret-pass\n", "identity", "create")
	require.NoError(t, err)
	assert.Contains(t, out, "created for neo@example.com")

	identity, err := r.repo().Identities().GetByEmail(context.Background(), "neo@example.com")
	require.NoError(t, err)
	assert.True(t, identity.IsActive)
	assert.NoError(t, entree.ComparePasswordAndHash("secret-pass", identity.PasswordHash))

	_, err = r.run("", "identity", "create", "-email", "neo@example.com", "-noinput")
	assert.ErrorIs(t, err, entree.ErrEmailTaken)
}

func TestAdmin_IdentityCreateMismatch(t *testing.T) {
	r := newAdminRunner(t)

	_, err := r.run("one-pass\nother-pass\n", "identity", "create", "-email", "neo@example.com")
	assert.ErrorIs(t, err, entree.ErrPasswordMismatch)
}

func TestAdmin_IdentityCreateNoInput(t *testing.T) {
	r := newAdminRunner(t)

	_, err := r.run("", "identity", "create", "-email", "trinity@example.com", "-noinput", "-hashid")
	require.NoError(t, err)

	identity, err := r.repo().Identities().GetByEmail(context.Background(), "trinity@example.com")
	require.NoError(t, err)
	assert.Error(t, entree.ComparePasswordAndHash("", identity.PasswordHash))
}

func TestAdmin_Sites(t *testing.T) {
	r := newAdminRunner(t)

	out, err := r.run("", "site", "add", "-title", "Shop", "-url", "https://shop.example.com/", "-secret", "shop-secret")
	require.NoError(t, err)
	assert.Contains(t, out, "site 1 created")
	assert.Contains(t, out, "shop-secret")

	_, err = r.run("", "site", "add", "-title", "Blog", "-url", "https://blog.example.com")
	require.NoError(t, err)

	_, err = r.run("", "site", "default", "-id", "2")
	require.NoError(t, err)

	out, err = r.run("", "site", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "https://shop.example.com")
	assert.Contains(t, out, "Blog")

	site, err := r.repo().Sites().GetDefault(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), site.ID)

	_, err = r.run("", "site", "add", "-title", "Broken", "-url", "not a url")
	assert.Error(t, err)
}

func TestAdmin_Properties(t *testing.T) {
	r := newAdminRunner(t)

	_, err := r.run("", "site", "add", "-title", "Shop", "-url", "https://shop.example.com")
	require.NoError(t, err)

	out, err := r.run("", "property", "add", "-site", "1", "-name", "Nickname", "-slug", "nickname", "-required")
	require.NoError(t, err)
	assert.Contains(t, out, "property nickname added to site 1")

	props, err := entree.NewProfileRegistry(r.repo(), 0).SiteProperties(context.Background(), 1, false)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.True(t, props[0].IsRequired)

	_, err = r.run("", "property", "add", "-site", "1", "-name", "Bad", "-slug", "Not A Slug")
	assert.Error(t, err)

	_, err = r.run("", "property", "delete", "-site", "1", "-slug", "nickname")
	require.NoError(t, err)

	props, err = entree.NewProfileRegistry(r.repo(), 0).SiteProperties(context.Background(), 1, false)
	require.NoError(t, err)
	assert.Empty(t, props)
}
