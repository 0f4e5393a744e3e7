package aggregate

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/Armin-kho/crypto-price-bot/internal/sources"
)

// RetryPolicy bounds how often a failed upstream batch is attempted.
// Only Unreachable and RateLimited errors are retried.
type RetryPolicy struct {
	Attempts   int           // total attempts, at least 1
	Backoff    time.Duration // first wait
	MaxBackoff time.Duration
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	eb := backoff.NewExponentialBackOff()
	if p.Backoff > 0 {
		eb.InitialInterval = p.Backoff
	}
	eb.MaxInterval = p.MaxBackoff
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = 10 * eb.InitialInterval
	}
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// run calls fn until it succeeds, returns a non-retryable error, or the policy is spent.
func (p RetryPolicy) run(ctx context.Context, log *zap.Logger, fn func() error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		var pe *sources.ProviderError
		if errors.As(err, &pe) && pe.Kind.Retryable() {
			log.Debug("upstream attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(op, p.backOff(ctx))
}
