package ratelimit

import (
	"testing"
	"time"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLimiter_AllowPerKey(t *testing.T) {
	l := New(Config{Rate: rate.Limit(0.001), Burst: 2})

	assert.True(t, l.Allow("site-1"))
	assert.True(t, l.Allow("site-1"))
	assert.False(t, l.Allow("site-1"))

	assert.True(t, l.Allow("site-2"))
	assert.Equal(t, 2, l.Size())
}

func TestLimiter_Cleanup(t *testing.T) {
	now := time.Now()
	l := New(Config{CleanupInterval: time.Minute})
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(3 * time.Minute)
	l.Allow("fresh")

	l.cleanup()
	assert.Equal(t, 1, l.Size())
}

func TestLimiter_Middleware(t *testing.T) {
	var retry int
	var rejected []string
	l := New(Config{
		Rate:  rate.Limit(0.5),
		Burst: 1,
		KeyFunc: func(ctx router.Context) string {
			return "site-1"
		},
		ErrorHandler: func(ctx router.Context, retryAfter int) error {
			retry = retryAfter
			return nil
		},
		OnReject: func(key string) {
			rejected = append(rejected, key)
		},
	})
	noop := func(ctx router.Context) error { return nil }

	first := router.NewMockContext()
	require.NoError(t, l.Middleware()(noop)(first))
	assert.True(t, first.NextCalled)

	second := router.NewMockContext()
	require.NoError(t, l.Middleware()(noop)(second))
	assert.False(t, second.NextCalled)
	assert.Equal(t, 2, retry)
	assert.Equal(t, []string{"site-1"}, rejected)
}

func TestLimiter_EmptyKeyPasses(t *testing.T) {
	l := New(Config{Rate: rate.Limit(0.001), Burst: 1})
	noop := func(ctx router.Context) error { return nil }

	for i := 0; i < 3; i++ {
		ctx := router.NewMockContext()
		require.NoError(t, l.Middleware()(noop)(ctx))
		assert.True(t, ctx.NextCalled)
	}
}
