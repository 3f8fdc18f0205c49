package archive

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy describes the unbounded exponential backoff used for
// summarization. Losing an archived summary is treated as worse than a
// slow turn, so attempts never stop while the context is alive.
type RetryPolicy struct {
	// Base is the initial delay between attempts (default 2s).
	Base time.Duration

	// Cap is the maximum delay between attempts (default 60s).
	Cap time.Duration
}

// DefaultRetryPolicy matches the documented schedule: 2s doubling up to 60s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 2 * time.Second, Cap: 60 * time.Second}
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Base
	exp.Multiplier = 2
	exp.MaxInterval = p.Cap
	exp.MaxElapsedTime = 0 // unbounded
	exp.RandomizationFactor = 0
	exp.Reset()
	return exp
}

// Run retries op until it succeeds or ctx is cancelled. onFailure, if
// non-nil, is invoked after each failed attempt with the 1-based attempt
// number; callers use it to tell the user archiving is still in progress.
func (p RetryPolicy) Run(ctx context.Context, op func() error, onFailure func(attempt int, err error)) error {
	bo := p.newBackOff()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op()
		if err == nil {
			return nil
		}
		if onFailure != nil {
			onFailure(attempt, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.NextBackOff()):
		}
	}
}
