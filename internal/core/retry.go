package core

import (
	"context"
	"errors"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"
)

// RetryPolicy bounds retries of external calls. Only rate-limit errors are retried.
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
	Logger   *zap.Logger
}

// DefaultRetryPolicy retries three times with exponential backoff capped at eight seconds
func DefaultRetryPolicy(logger *zap.Logger) RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Delay:    time.Second,
		MaxDelay: 8 * time.Second,
		Logger:   logger,
	}
}

// Do runs fn until it succeeds, fails with a non rate-limit error, or attempts run out.
// The returned error is the last error fn produced.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	delay := p.Delay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := p.MaxDelay
	if maxDelay < delay {
		maxDelay = delay
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	err := retry.Do(
		func() error {
			lastErr = fn()
			return lastErr
		},
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.MaxDelay(maxDelay),
		retry.MaxJitter(delay/10+time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("Rate limited, backing off",
				zap.String("operation", op),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrRateLimited)
		}),
	)
	if err == nil {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return err
}
