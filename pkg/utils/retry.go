package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds the exponential backoff applied to upstream calls.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	out := c
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = time.Second
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = 30 * time.Second
	}
	return out
}

// Retry runs op with bounded exponential backoff. Return Permanent(err) from
// op to stop immediately without further attempts. Context cancellation also
// stops retries.
func Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	cfg = cfg.withDefaults()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.BaseDelay
	eb.MaxInterval = cfg.MaxDelay
	eb.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(cfg.MaxAttempts-1)), ctx)
	return backoff.Retry(op, b)
}

// Permanent marks an error as non-retryable.
func Permanent(err error) error { return backoff.Permanent(err) }
