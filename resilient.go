package resilience

import (
	"context"
	"log/slog"
)

// Resilient bundles one Retrier and one CircuitBreaker around a logical
// backend pairing. The circuit breaker owns admission and the retrier owns
// resilience of the admitted call: retries happen per circuit admission, so a
// single logical request can never reopen the breaker multiple times by
// retrying across circuit decisions.
//
// The breaker is created once per named pairing and lives as long as the
// Resilient that owns it.
type Resilient struct {
	name    string
	retrier *Retrier
	breaker *CircuitBreaker
}

// NewResilient creates a Resilient composition for the named backend pairing.
// Nil configs fall back to defaults; a non-nil logger is applied to both
// layers.
//
// Example:
//
//	res := resilience.NewResilient("audio-store", retryConfig, cbConfig, logger)
//	data, err := resilience.Execute(ctx, res, download, fallbackDownload)
func NewResilient(
	name string,
	retryConfig *RetryConfig,
	cbConfig *CircuitBreakerConfig,
	logger *slog.Logger,
) *Resilient {
	// Set logger on configs if provided
	if logger != nil {
		if retryConfig != nil {
			retryConfig.Logger = logger
		}
		if cbConfig != nil {
			cbConfig.Logger = logger
		}
	}

	retrier := NewRetrier(func(c *RetryConfig) {
		if retryConfig != nil {
			*c = *retryConfig
		}
		if logger != nil {
			c.Logger = logger
		}
	})

	breaker := NewCircuitBreaker(name, func(c *CircuitBreakerConfig) {
		if cbConfig != nil {
			*c = *cbConfig
		}
		if logger != nil {
			c.Logger = logger
		}
	})

	return &Resilient{
		name:    name,
		retrier: retrier,
		breaker: breaker,
	}
}

// Execute runs op through the composition: the circuit breaker admits the
// call, the retrier drives the admitted call to completion. A rejected call
// (open circuit or exhausted probe budget) goes straight to the fallback,
// bypassing retry and breaker wrapping; with a nil fallback the rejection
// surfaces as a circuit-open error naming the breaker.
//
// The wrapping is identical for every operation shape; nothing here
// special-cases uploads versus downloads versus listings.
func Execute[T any](ctx context.Context, res *Resilient, op Operation[T], fallback Fallback[T]) (T, error) {
	return Protect(ctx, res.breaker, func(ctx context.Context) (T, error) {
		return Do(ctx, res.retrier, op)
	}, fallback)
}

// Name returns the name of the backend pairing.
func (r *Resilient) Name() string {
	return r.name
}

// Breaker exposes the underlying circuit breaker for status inspection.
func (r *Resilient) Breaker() *CircuitBreaker {
	return r.breaker
}

// Retrier exposes the underlying retrier for stats inspection.
func (r *Resilient) Retrier() *Retrier {
	return r.retrier
}
