package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retrier executes operations with bounded retries and configurable backoff.
// Failures are classified as retryable or fatal by the configured
// ErrorClassifier; fatal failures short-circuit immediately regardless of the
// remaining attempt budget.
type Retrier struct {
	config     *RetryConfig
	logger     *slog.Logger
	classifier ErrorClassifier
	stats      *retryStats
}

// retryStats tracks retry operation statistics.
type retryStats struct {
	mu              sync.RWMutex
	totalAttempts   int64
	totalRetries    int64
	totalSuccesses  int64
	totalFailures   int64
	lastAttemptTime time.Time
	lastError       error
}

// NewRetrier creates a Retrier from the provided options.
//
// Example:
//
//	retrier := resilience.NewRetrier(
//	    resilience.WithMaxAttempts(5),
//	    resilience.WithExponentialBackoff(100*time.Millisecond, 5*time.Second),
//	)
func NewRetrier(opts ...RetryOption) *Retrier {
	config := DefaultRetryConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if config.ErrorClassifier == nil {
		config.ErrorClassifier = &KindClassifier{RetryableKinds: config.RetryableKinds}
	}

	return &Retrier{
		config:     config,
		logger:     config.Logger,
		classifier: config.ErrorClassifier,
		stats:      &retryStats{},
	}
}

// Do performs op with retry logic. Retryable failures are reattempted up to
// MaxAttempts total invocations using the configured backoff; the delay before
// retry n is min(MaxDelay, InitialDelay * Multiplier^(n-1)). On success the
// result is returned immediately. When attempts are exhausted the last
// observed failure is returned; a fatal failure is returned after a single
// invocation.
//
// Backoff waits suspend cooperatively on a timer and honor ctx cancellation.
func Do[T any](ctx context.Context, r *Retrier, op Operation[T]) (T, error) {
	var zero T

	// Handle zero or negative max attempts - don't make any requests
	if r.config.MaxAttempts <= 0 {
		return zero, errors.New("max attempts must be positive")
	}

	// Check if parent context is already done before attempting any requests
	select {
	case <-ctx.Done():
		r.logger.Warn("context already done before operation (expected condition)",
			"error", ctx.Err())
		return zero, ctx.Err()
	default:
	}

	var result T
	var attempts int

	backoff := r.backoffStrategy()

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++

		// Track attempt and calculate retries (attempts after the first)
		r.stats.mu.Lock()
		r.stats.totalAttempts++
		if attempts > 1 {
			r.stats.totalRetries++
		}
		r.stats.lastAttemptTime = time.Now()
		r.stats.mu.Unlock()

		// Check if parent context is done before each retry attempt
		select {
		case <-ctx.Done():
			r.logger.Warn("context done before retry attempt (expected condition)",
				"attempt", attempts,
				"error", ctx.Err())
			return ctx.Err()
		default:
		}

		// Try the operation
		value, err := op(ctx)
		if err == nil {
			if attempts > 1 {
				r.logger.Info("operation succeeded after retry",
					"attempts", attempts)
			}
			result = value
			return nil
		}

		// Check if error is retryable
		if !r.classifier.IsRetryable(err) {
			r.logger.Debug("non-retryable error, giving up",
				"error", err,
				"attempts", attempts)
			return err
		}

		// Log retry
		r.logger.Debug("retrying operation after delay",
			"attempt", attempts,
			"error", err)

		// Return retryable error to continue retry loop
		return retry.RetryableError(err)
	})
	if err != nil {
		r.logger.Warn("operation failed after retries",
			"attempts", attempts,
			"error", err)
		// Track failure
		r.stats.mu.Lock()
		r.stats.totalFailures++
		r.stats.lastError = err
		r.stats.mu.Unlock()
		return zero, err
	}

	// Track success
	r.stats.mu.Lock()
	r.stats.totalSuccesses++
	r.stats.mu.Unlock()

	return result, nil
}

// backoffStrategy returns the backoff for one Do invocation. Delays are
// deterministic: the retry contract promises the exact sequence
// InitialDelay * Multiplier^n clamped at MaxDelay, so no jitter is applied.
// Note: retry.Do counts the initial attempt, so MaxAttempts-1 is passed to
// WithMaxRetries.
func (r *Retrier) backoffStrategy() retry.Backoff {
	// Validate MaxAttempts to prevent overflow in conversions
	maxAttempts := r.config.MaxAttempts
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	if maxAttempts > 1000 { // Cap at reasonable upper bound
		maxAttempts = 1000
	}

	// Calculate retry attempts (subtract 1 because Do() counts initial attempt)
	maxRetries := maxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}

	switch r.config.Strategy {
	case RetryStrategyConstant:
		return retry.WithMaxRetries(
			uint64(maxRetries), // #nosec G115 - bounds checked above
			retry.BackoffFunc(func() (time.Duration, bool) {
				return r.config.InitialDelay, false
			}),
		)

	case RetryStrategyFibonacci:
		return retry.WithMaxRetries(
			uint64(maxRetries), // #nosec G115 - bounds checked above
			retry.WithCappedDuration(
				r.config.MaxDelay,
				retry.NewFibonacci(r.config.InitialDelay),
			),
		)

	default:
		return retry.WithMaxRetries(
			uint64(maxRetries), // #nosec G115 - bounds checked above
			retry.WithCappedDuration(
				r.config.MaxDelay,
				r.newConfigurableExponential(),
			),
		)
	}
}

// newConfigurableExponential creates an exponential backoff using the
// configured multiplier. Unlike retry.NewExponential which always doubles,
// this allows configurable growth rates. The delay for retry N (0-based) is
// InitialDelay * (Multiplier ^ N).
func (r *Retrier) newConfigurableExponential() retry.Backoff {
	// Get multiplier from config, default to 2.0 if not set or invalid
	multiplier := r.config.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	// For multiplier of exactly 2.0, use the optimized library implementation
	if multiplier == 2.0 {
		return retry.NewExponential(r.config.InitialDelay)
	}

	// For custom multipliers, implement custom backoff logic
	attempt := uint64(0)
	return retry.BackoffFunc(func() (time.Duration, bool) {
		// Calculate delay: InitialDelay * (Multiplier ^ attempt)
		delay := float64(r.config.InitialDelay)
		for i := uint64(0); i < attempt; i++ {
			delay *= multiplier
			// Prevent overflow
			if delay > float64(1<<63-1) {
				attempt++
				return time.Duration(1<<63 - 1), false
			}
		}
		attempt++
		return time.Duration(delay), false
	})
}

// RetryStats holds statistics about retry operations.
type RetryStats struct {
	// TotalAttempts is the total number of attempts made (including initial and retries)
	TotalAttempts int64

	// TotalRetries is the number of retry attempts (not including initial attempts)
	TotalRetries int64

	// TotalSuccesses is the number of successful operations
	TotalSuccesses int64

	// TotalFailures is the number of failed operations (after all retries exhausted)
	TotalFailures int64

	// LastAttemptTime is the time of the last attempt
	LastAttemptTime time.Time

	// LastError is the last error encountered (if any)
	LastError error
}

// GetRetryStats returns statistics about retry operations.
// This method is thread-safe and returns a snapshot of the current statistics.
func (r *Retrier) GetRetryStats() RetryStats {
	r.stats.mu.RLock()
	defer r.stats.mu.RUnlock()

	return RetryStats{
		TotalAttempts:   r.stats.totalAttempts,
		TotalRetries:    r.stats.totalRetries,
		TotalSuccesses:  r.stats.totalSuccesses,
		TotalFailures:   r.stats.totalFailures,
		LastAttemptTime: r.stats.lastAttemptTime,
		LastError:       r.stats.lastError,
	}
}
