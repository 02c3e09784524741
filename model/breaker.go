package model

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/hupe1980/agentweave/logging"
)

// BreakerOption customizes a Breaker decorator.
type BreakerOption func(*breakerOptions)

type breakerOptions struct {
	consecutiveFailures uint32
	openTimeout         time.Duration
	maxHalfOpenRequests uint32
	logger              logging.Logger
}

// WithConsecutiveFailures sets how many consecutive failures trip the circuit.
func WithConsecutiveFailures(n uint32) BreakerOption {
	return func(o *breakerOptions) {
		if n > 0 {
			o.consecutiveFailures = n
		}
	}
}

// WithOpenTimeout sets how long the circuit stays open before probing.
func WithOpenTimeout(d time.Duration) BreakerOption {
	return func(o *breakerOptions) {
		if d > 0 {
			o.openTimeout = d
		}
	}
}

// WithBreakerLogger attaches a logger for state change diagnostics.
func WithBreakerLogger(l logging.Logger) BreakerOption {
	return func(o *breakerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Breaker decorates a Model with a circuit breaker so a persistently failing
// provider sheds load fast instead of queueing doomed calls. An open circuit
// surfaces as a retryable rate-limit classification.
type Breaker struct {
	inner Model
	cb    *gobreaker.CircuitBreaker[*Result]
}

// NewBreaker wraps a model with a circuit breaker.
func NewBreaker(inner Model, optFns ...BreakerOption) *Breaker {
	opts := breakerOptions{
		consecutiveFailures: 5,
		openTimeout:         30 * time.Second,
		maxHalfOpenRequests: 1,
		logger:              logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	logger := opts.logger

	settings := gobreaker.Settings{
		Name:        inner.Info().Name,
		MaxRequests: opts.maxHalfOpenRequests,
		Timeout:     opts.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.consecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("model.breaker.state", "model", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Cancellation says nothing about provider health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &Breaker{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[*Result](settings),
	}
}

// mapBreakerErr converts circuit rejections into the provider taxonomy.
func (b *Breaker) mapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &ProviderError{
			Provider: b.inner.Info().Provider,
			Kind:     KindRateLimited,
			Message:  "circuit breaker open",
			Err:      err,
		}
	}
	return err
}

// Invoke implements Model.
func (b *Breaker) Invoke(ctx context.Context, req Request) (*Result, error) {
	res, err := b.cb.Execute(func() (*Result, error) {
		return b.inner.Invoke(ctx, req)
	})
	if err != nil {
		return nil, b.mapBreakerErr(err)
	}

	return res, nil
}

// InvokeStream implements Model. The whole stream counts as one protected
// call: a rejection by an open circuit fails before any delta, and a stream
// error is recorded against the circuit on completion.
func (b *Breaker) InvokeStream(ctx context.Context, req Request) (<-chan string, <-chan error) {
	out := make(chan string, 16)
	errOut := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errOut)

		_, err := b.cb.Execute(func() (*Result, error) {
			deltas, errs := b.inner.InvokeStream(ctx, req)

			for d := range deltas {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case out <- d:
				}
			}

			if err := <-errs; err != nil {
				return nil, err
			}

			return &Result{Status: StatusComplete}, nil
		})
		if err != nil {
			errOut <- b.mapBreakerErr(err)
		}
	}()

	return out, errOut
}

// Info implements Model interface.
func (b *Breaker) Info() Info { return b.inner.Info() }
