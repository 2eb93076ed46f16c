// Package retrier runs an operation with bounded exponential backoff.
// Waits are context-aware so a paused or cancelled upload never leaves a
// timer behind.
package retrier

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Config struct {
	// MaxRetries bounds the retries after the first attempt, so an
	// operation runs at most MaxRetries+1 times.
	MaxRetries uint64
	// Delay is the wait before the first retry. The wait before retry k
	// is Delay * 2^(k-1).
	Delay time.Duration
	// Notify, when set, observes every backoff wait with the attempt
	// error and the wait duration about to be taken.
	Notify func(err error, wait time.Duration)
}

// Do runs op until it succeeds, the retry budget is spent, or ctx is done.
// The first attempt starts immediately. Each attempt receives its own child
// context, cancelled as soon as the attempt returns. Cancelling ctx during
// a wait or an attempt stops the sequence and returns ctx.Err(); on an
// exhausted budget the last operation error is returned.
func Do(ctx context.Context, cfg Config, op func(context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.Delay
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = finalWait(cfg.Delay, cfg.MaxRetries)
	policy.MaxElapsedTime = 0

	attempt := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attemptCtx, done := context.WithCancel(ctx)
		err := op(attemptCtx)
		done()
		if err == nil {
			return nil
		}
		// An attempt aborted by pause or cancel is not a failure to
		// retry; surface the cancellation itself.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, cfg.MaxRetries), ctx)
	return backoff.RetryNotify(attempt, b, cfg.Notify)
}

// finalWait sizes the interval cap so doubling stays exact through the
// last possible retry.
func finalWait(delay time.Duration, maxRetries uint64) time.Duration {
	wait := delay
	for i := uint64(1); i < maxRetries; i++ {
		if wait > math.MaxInt64/2 {
			break
		}
		wait *= 2
	}
	return wait
}
