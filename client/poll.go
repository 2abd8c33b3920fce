package client

import (
	"context"
	"math/rand"
	"time"

	ivxp "github.com/ivxp/ivxp-go"
)

// PollOptions tunes the exponential backoff schedule.
type PollOptions struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Jitter       float64
}

// DefaultPollOptions matches the protocol defaults: 1s initial, 30s cap,
// 20 attempts, ±20% jitter.
func DefaultPollOptions() PollOptions {
	return PollOptions{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  20,
		Jitter:       0.2,
	}
}

func (o PollOptions) withDefaults() PollOptions {
	defaults := DefaultPollOptions()
	if o.InitialDelay <= 0 {
		o.InitialDelay = defaults.InitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = defaults.MaxDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaults.MaxAttempts
	}
	if o.Jitter < 0 {
		o.Jitter = defaults.Jitter
	}
	return o
}

// Predicate is one poll probe. done=false means "keep polling".
type Predicate[T any] func(ctx context.Context) (value T, done bool, err error)

// Poll invokes predicate under the backoff schedule
// delay_k = min(initial·2^k, max), perturbed by uniform jitter and floored at
// the initial delay. Cancellation is checked before every sleep and before
// every predicate call. Exhausting MaxAttempts fails with MAX_POLL_ATTEMPTS.
func Poll[T any](ctx context.Context, predicate Predicate[T], opts PollOptions) (T, error) {
	var zero T
	opts = opts.withDefaults()

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, ivxp.WrapError(ivxp.ErrCodeCancelled, "polling cancelled", err)
		}

		value, done, err := predicate(ctx)
		if err != nil {
			return zero, err
		}
		if done {
			return value, nil
		}

		delay := backoffDelay(attempt, opts)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ivxp.WrapError(ivxp.ErrCodeCancelled, "polling cancelled", ctx.Err())
		case <-timer.C:
		}
	}

	return zero, &ivxp.ProtocolError{
		Code:        ivxp.ErrCodeMaxPollAttempts,
		Message:     "polling gave up before the condition was met",
		Recoverable: true,
	}
}

// backoffDelay computes the attempt'th delay with jitter applied, clamped to
// [InitialDelay, MaxDelay].
func backoffDelay(attempt int, opts PollOptions) time.Duration {
	delay := opts.InitialDelay << uint(attempt)
	if delay > opts.MaxDelay || delay <= 0 { // <= 0 guards shift overflow
		delay = opts.MaxDelay
	}

	if opts.Jitter > 0 {
		spread := float64(delay) * opts.Jitter
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	if delay < opts.InitialDelay {
		delay = opts.InitialDelay
	}
	if delay > opts.MaxDelay {
		delay = opts.MaxDelay
	}
	return delay
}
