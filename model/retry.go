package model

import (
	"context"
	"math/rand"
	"time"

	"github.com/hupe1980/agentweave/logging"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 10 * time.Second
)

// RetryOption customizes a Retry decorator.
type RetryOption func(*Retry)

// WithMaxAttempts sets the total attempt budget (first call included).
func WithMaxAttempts(n int) RetryOption {
	return func(r *Retry) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the first backoff delay; it doubles each attempt.
func WithBaseDelay(d time.Duration) RetryOption {
	return func(r *Retry) {
		if d > 0 {
			r.baseDelay = d
		}
	}
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) RetryOption {
	return func(r *Retry) {
		if d > 0 {
			r.maxDelay = d
		}
	}
}

// WithRetryLogger attaches a logger for attempt diagnostics.
func WithRetryLogger(l logging.Logger) RetryOption {
	return func(r *Retry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Retry decorates a Model with bounded exponential backoff. Only retryable
// failures (timeouts, rate limits) consume extra attempts; malformed replies
// and cancellation surface immediately. Streams are retried only while
// establishing: once a delta has been relayed the stream is not restartable.
type Retry struct {
	inner       Model
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      logging.Logger
}

// NewRetry wraps a model with retry behavior.
func NewRetry(inner Model, optFns ...RetryOption) *Retry {
	r := &Retry{
		inner:       inner,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(r)
	}

	return r
}

// backoff returns the delay before the given attempt with 0-25% jitter.
func (r *Retry) backoff(attempt int) time.Duration {
	delay := r.baseDelay * (1 << attempt)
	if delay > r.maxDelay {
		delay = r.maxDelay
	}

	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))

	return delay + jitter
}

func (r *Retry) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(r.backoff(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Invoke implements Model.
func (r *Retry) Invoke(ctx context.Context, req Request) (*Result, error) {
	var lastErr error

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			r.logger.Warn("model.retry", "model", r.inner.Info().Name, "attempt", attempt+1, "error", lastErr)

			if err := r.wait(ctx, attempt-1); err != nil {
				return nil, err
			}
		}

		res, err := r.inner.Invoke(ctx, req)
		if err == nil {
			return res, nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

// InvokeStream implements Model. Establishment failures (an error before the
// first delta) are retried with the same budget; after the first relayed
// delta the stream runs to completion or fails permanently.
func (r *Retry) InvokeStream(ctx context.Context, req Request) (<-chan string, <-chan error) {
	out := make(chan string, 16)
	errOut := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errOut)

		var lastErr error

		for attempt := 0; attempt < r.maxAttempts; attempt++ {
			if attempt > 0 {
				r.logger.Warn("model.stream.retry", "model", r.inner.Info().Name, "attempt", attempt+1, "error", lastErr)

				if err := r.wait(ctx, attempt-1); err != nil {
					errOut <- err
					return
				}
			}

			started, err := r.relay(ctx, req, out)
			if err == nil {
				return
			}

			lastErr = err
			if started || !IsRetryable(err) {
				errOut <- err
				return
			}
		}

		errOut <- lastErr
	}()

	return out, errOut
}

// relay drives one streaming attempt. It reports whether any delta was
// forwarded and the stream error, if any.
func (r *Retry) relay(ctx context.Context, req Request, out chan<- string) (bool, error) {
	deltas, errs := r.inner.InvokeStream(ctx, req)

	started := false
	for d := range deltas {
		select {
		case <-ctx.Done():
			return started, ctx.Err()
		case out <- d:
			started = true
		}
	}

	if err := <-errs; err != nil {
		return started, err
	}

	return started, nil
}

// Info implements Model interface.
func (r *Retry) Info() Info { return r.inner.Info() }
