package entree

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuerCreateAndLookup(t *testing.T) {
	auth := newTestAuthority(t)
	ctx := context.Background()
	identity := createTestIdentity(t, auth.Authority, "oracle@example.com", "cookies", true)

	token, err := auth.Tokens().Create(ctx, identity, TokenAuth, TokenData{Session: "s1"})
	require.NoError(t, err)
	assert.Len(t, token.Value, ChecksumLength)

	found, err := auth.Tokens().Lookup(ctx, " "+token.Value+"\n", TokenAuth)
	require.NoError(t, err)
	assert.Equal(t, token.ID, found.ID)
	assert.Equal(t, "s1", found.Data.Session)

	_, err = auth.Tokens().Lookup(ctx, token.Value, TokenMail)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = auth.Tokens().LookupForEmail(ctx, "someone@example.com", token.Value, TokenAuth)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = auth.Tokens().Create(ctx, identity, "BOGUS", TokenData{})
	assert.ErrorIs(t, err, ErrInvalidTokenType)
}

func TestTokenIssuerObtainKeepsNewest(t *testing.T) {
	auth := newTestAuthority(t)
	ctx := context.Background()
	identity := createTestIdentity(t, auth.Authority, "seraph@example.com", "guard", true)

	first, created, err := auth.Tokens().Obtain(ctx, identity, TokenMail)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := auth.Tokens().Obtain(ctx, identity, TokenMail)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Value, again.Value)

	auth.advance(4 * 24 * time.Hour)

	fresh, created, err := auth.Tokens().Obtain(ctx, identity, TokenMail)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.Value, fresh.Value)
	assert.Len(t, tokensFor(t, auth.Authority, identity.ID, TokenMail), 1)
}

func TestTokenJanitorPurgesExpired(t *testing.T) {
	auth := newTestAuthority(t)
	ctx := context.Background()
	identity := createTestIdentity(t, auth.Authority, "niobe@example.com", "ship", true)

	_, err := auth.Tokens().Create(ctx, identity, TokenReset, TokenData{})
	require.NoError(t, err)
	_, err = auth.Tokens().Create(ctx, identity, TokenAuth, TokenData{})
	require.NoError(t, err)

	janitor := NewTokenJanitor(auth.Tokens(), time.Minute).WithLogger(NopLogger{})
	assert.Equal(t, 0, janitor.RunOnce(ctx))

	auth.advance(4 * 24 * time.Hour)
	assert.Equal(t, 1, janitor.RunOnce(ctx))

	assert.Empty(t, tokensFor(t, auth.Authority, identity.ID, TokenReset))
	assert.Len(t, tokensFor(t, auth.Authority, identity.ID, TokenAuth), 1)
}

func TestTokenJanitorRunStopsWithContext(t *testing.T) {
	auth := newTestAuthority(t)
	janitor := NewTokenJanitor(auth.Tokens(), time.Millisecond).WithLogger(NopLogger{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := janitor.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
