package fetch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default retry parameters for network operations.
const (
	DefaultMaxAttempts    = 3
	DefaultRetryBaseDelay = 2 * time.Second
)

// Retry runs op with bounded exponential backoff: at most maxAttempts
// executions starting at baseDelay. Wrap an error in backoff.Permanent to
// stop retrying early. This is the single retry boundary for the fetch
// engine and enrichment calls; errors never propagate past it as panics.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, op func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultRetryBaseDelay
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = baseDelay

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxAttempts-1)), ctx)
	return backoff.Retry(op, policy)
}

// Permanent marks err as non-retryable for Retry.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
