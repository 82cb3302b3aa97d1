package entree

import (
	"context"
	"time"
)

// DefaultJanitorInterval is how often expired tokens are purged
const DefaultJanitorInterval = time.Hour

// TokenJanitor periodically deletes expired tokens
type TokenJanitor struct {
	tokens   *TokenIssuer
	interval time.Duration
	logger   Logger
}

func NewTokenJanitor(tokens *TokenIssuer, interval time.Duration) *TokenJanitor {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	return &TokenJanitor{
		tokens:   tokens,
		interval: interval,
		logger:   defLogger{},
	}
}

func (j *TokenJanitor) WithLogger(l Logger) *TokenJanitor {
	if l != nil {
		j.logger = l
	}
	return j
}

// Run purges once and then on every tick until ctx is done
func (j *TokenJanitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		j.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce purges expired tokens and reports how many were removed
func (j *TokenJanitor) RunOnce(ctx context.Context) int {
	n, err := j.tokens.PurgeExpired(ctx)
	if err != nil {
		j.logger.Error("token purge failed: %v", err)
		return n
	}
	if n > 0 {
		j.logger.Info("purged %d expired tokens", n)
	}
	return n
}
