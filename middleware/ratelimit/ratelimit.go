// Package ratelimit throttles requests per key with token buckets
package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/goliatone/go-router"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

type Config struct {
	Rate            rate.Limit
	Burst           int
	CleanupInterval time.Duration
	// KeyFunc picks the bucket, requests with an empty key are not limited
	KeyFunc      func(router.Context) string
	ErrorHandler func(ctx router.Context, retryAfter int) error
	// OnReject is called with the key of every rejected request
	OnReject func(key string)
}

// DefaultConfig allows one request per second with bursts of 20
func DefaultConfig() Config {
	return Config{
		Rate:            rate.Limit(1),
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
	}
}

type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type Limiter struct {
	config   Config
	limiters *xsync.MapOf[string, *keyLimiter]
	now      func() time.Time
}

func New(config Config) *Limiter {
	def := DefaultConfig()
	if config.Rate <= 0 {
		config.Rate = def.Rate
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.ErrorHandler == nil {
		config.ErrorHandler = defaultErrorHandler
	}

	return &Limiter{
		config:   config,
		limiters: xsync.NewMapOf[string, *keyLimiter](),
		now:      time.Now,
	}
}

// Allow consumes a token from the bucket of key
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	kl, _ := l.limiters.Compute(key, func(old *keyLimiter, loaded bool) (*keyLimiter, bool) {
		if !loaded {
			old = &keyLimiter{limiter: rate.NewLimiter(l.config.Rate, l.config.Burst)}
		}
		old.lastAccess = now
		return old, false
	})
	return kl.limiter.AllowN(now, 1)
}

// Middleware rejects requests once their bucket is empty
func (l *Limiter) Middleware() router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			key := ""
			if l.config.KeyFunc != nil {
				key = l.config.KeyFunc(ctx)
			}
			if key == "" || l.Allow(key) {
				return ctx.Next()
			}
			if l.config.OnReject != nil {
				l.config.OnReject(key)
			}
			return l.config.ErrorHandler(ctx, l.retryAfter())
		}
	}
}

// Run drops idle buckets until ctx is done
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// Size is the number of tracked keys
func (l *Limiter) Size() int {
	return l.limiters.Size()
}

func (l *Limiter) cleanup() {
	ttl := l.config.CleanupInterval * 2
	now := l.now()
	l.limiters.Range(func(key string, kl *keyLimiter) bool {
		if now.Sub(kl.lastAccess) > ttl {
			l.limiters.Delete(key)
		}
		return true
	})
}

func (l *Limiter) retryAfter() int {
	sec := int(math.Ceil(1.0 / float64(l.config.Rate)))
	if sec < 1 {
		sec = 1
	}
	return sec
}

func defaultErrorHandler(ctx router.Context, retryAfter int) error {
	ctx.SetHeader("Retry-After", strconv.Itoa(retryAfter))
	return ctx.Status(http.StatusTooManyRequests).SendString("Too many requests")
}
