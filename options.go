package resilience

import (
	"log/slog"
	"time"
)

// RetryStrategy defines the backoff strategy for retry operations.
type RetryStrategy string

const (
	// RetryStrategyExponential grows the delay by Multiplier each attempt.
	RetryStrategyExponential RetryStrategy = "exponential"

	// RetryStrategyConstant uses the same delay between all retries.
	RetryStrategyConstant RetryStrategy = "constant"

	// RetryStrategyFibonacci grows delays along the fibonacci sequence.
	RetryStrategyFibonacci RetryStrategy = "fibonacci"
)

// RetryConfig holds retry configuration options.
type RetryConfig struct {
	// ErrorClassifier determines which errors should trigger retries.
	// Default: KindClassifier over RetryableKinds
	ErrorClassifier ErrorClassifier

	// Logger for retry operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// Strategy defines the backoff strategy.
	// Default: RetryStrategyExponential
	Strategy RetryStrategy

	// RetryableKinds lists the failure kinds eligible for retry. Ignored when
	// a custom ErrorClassifier is set.
	// Default: timeout, connection, throttled, unavailable
	RetryableKinds []FailureKind

	// InitialDelay is the delay before the first retry.
	// Default: 1 second
	InitialDelay time.Duration

	// MaxDelay clamps the delay between retries (for exponential/fibonacci).
	// Default: 30 seconds
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier for the exponential strategy.
	// The delay before retry n is InitialDelay * (Multiplier ^ (n-1)),
	// clamped at MaxDelay.
	// Default: 2.0 (doubling)
	Multiplier float64

	// MaxAttempts is the maximum number of attempts (including the initial one).
	// Default: 3
	MaxAttempts int
}

// RetryOption is a functional option for configuring retry behavior.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the maximum number of attempts.
// The total number of invocations will be MaxAttempts (including the initial attempt).
//
// Example:
//
//	resilience.WithMaxAttempts(5) // Try up to 5 times total
func WithMaxAttempts(attempts int) RetryOption {
	return func(c *RetryConfig) {
		c.MaxAttempts = attempts
	}
}

// WithExponentialBackoff configures exponential backoff.
// Each retry delay is multiplied by the configured multiplier (default 2.0) up to maxDelay.
//
// Example:
//
//	resilience.WithExponentialBackoff(100*time.Millisecond, 5*time.Second)
//	// With default multiplier 2.0: 100ms, 200ms, 400ms, ..., 5s (capped)
func WithExponentialBackoff(initialDelay, maxDelay time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Strategy = RetryStrategyExponential
		c.InitialDelay = initialDelay
		c.MaxDelay = maxDelay
	}
}

// WithMultiplier sets the backoff multiplier for the exponential strategy.
//
// Example:
//
//	resilience.WithMultiplier(1.5) // 50% growth per retry
func WithMultiplier(multiplier float64) RetryOption {
	return func(c *RetryConfig) {
		c.Multiplier = multiplier
	}
}

// WithConstantBackoff configures a constant delay between retries.
//
// Example:
//
//	resilience.WithConstantBackoff(2 * time.Second)
func WithConstantBackoff(delay time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Strategy = RetryStrategyConstant
		c.InitialDelay = delay
		c.MaxDelay = delay
	}
}

// WithFibonacciBackoff configures fibonacci backoff.
// Delays follow the fibonacci sequence up to maxDelay.
//
// Example:
//
//	resilience.WithFibonacciBackoff(time.Second, 30*time.Second)
//	// Delays: 1s, 1s, 2s, 3s, 5s, 8s, 13s, 21s, 30s (capped)
func WithFibonacciBackoff(initialDelay, maxDelay time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Strategy = RetryStrategyFibonacci
		c.InitialDelay = initialDelay
		c.MaxDelay = maxDelay
	}
}

// WithRetryableKinds sets the failure kinds eligible for retry.
//
// Example:
//
//	resilience.WithRetryableKinds(resilience.FailureTimeout, resilience.FailureConnection)
func WithRetryableKinds(kinds ...FailureKind) RetryOption {
	return func(c *RetryConfig) {
		c.RetryableKinds = kinds
	}
}

// WithErrorClassifier sets a custom error classifier for retry decisions.
//
// Example:
//
//	classifier := &MyCustomClassifier{}
//	resilience.WithErrorClassifier(classifier)
func WithErrorClassifier(classifier ErrorClassifier) RetryOption {
	return func(c *RetryConfig) {
		c.ErrorClassifier = classifier
	}
}

// WithRetryLogger sets a custom logger for retry operations.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	resilience.WithRetryLogger(logger)
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(c *RetryConfig) {
		c.Logger = logger
	}
}

// DefaultRetryConfig returns retry configuration with sensible defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     3,
		Strategy:        RetryStrategyExponential,
		InitialDelay:    time.Second,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RetryableKinds:  DefaultRetryableKinds(),
		ErrorClassifier: nil, // built from RetryableKinds by NewRetrier
		Logger:          slog.Default(),
	}
}

// CircuitBreakerConfig holds circuit breaker configuration options.
type CircuitBreakerConfig struct {
	// OnStateChange is called whenever the circuit breaker changes state.
	// It runs inside the breaker's critical section, so keep it fast.
	OnStateChange func(name string, from, to CircuitBreakerState)

	// Logger for circuit breaker operations.
	// Default: slog.Default()
	Logger *slog.Logger

	// FailureThreshold is the number of consecutive failures in the closed
	// state that opens the circuit. Minimum 1.
	// Default: 5
	FailureThreshold uint32

	// SuccessThreshold is the number of consecutive successes in the half-open
	// state that closes the circuit. Minimum 1.
	// Default: 2
	SuccessThreshold uint32

	// Timeout is how long the circuit stays open before probing resumes.
	// Default: 30 seconds
	Timeout time.Duration

	// HalfOpenMaxProbes is the maximum number of concurrent probe calls
	// admitted in the half-open state. Excess calls are rejected exactly like
	// the open state. Minimum 1.
	// Default: 3
	HalfOpenMaxProbes uint32
}

// CircuitBreakerOption is a functional option for configuring circuit breaker behavior.
type CircuitBreakerOption func(*CircuitBreakerConfig)

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	// StateClosed means the circuit is closed and requests flow normally.
	StateClosed CircuitBreakerState = iota

	// StateHalfOpen means the circuit is testing if the service has recovered.
	StateHalfOpen

	// StateOpen means the circuit is open and requests are rejected immediately.
	StateOpen
)

// String returns the string representation of the circuit breaker state.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// WithFailureThreshold sets the consecutive-failure count that opens the circuit.
//
// Example:
//
//	resilience.WithFailureThreshold(3)
func WithFailureThreshold(threshold uint32) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.FailureThreshold = threshold
	}
}

// WithSuccessThreshold sets the consecutive-success count that closes the
// circuit from half-open.
//
// Example:
//
//	resilience.WithSuccessThreshold(2)
func WithSuccessThreshold(threshold uint32) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.SuccessThreshold = threshold
	}
}

// WithTimeout sets how long the circuit stays open before probing resumes.
//
// Example:
//
//	resilience.WithTimeout(60 * time.Second)
func WithTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Timeout = timeout
	}
}

// WithHalfOpenMaxProbes sets the concurrent probe budget in half-open state.
//
// Example:
//
//	resilience.WithHalfOpenMaxProbes(1)
func WithHalfOpenMaxProbes(probes uint32) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.HalfOpenMaxProbes = probes
	}
}

// WithStateChangeHandler sets a callback for circuit breaker state changes.
//
// Example:
//
//	resilience.WithStateChangeHandler(func(name string, from, to resilience.CircuitBreakerState) {
//	    log.Printf("Circuit %s changed from %s to %s", name, from, to)
//	})
func WithStateChangeHandler(fn func(name string, from, to CircuitBreakerState)) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.OnStateChange = fn
	}
}

// WithCircuitBreakerLogger sets a custom logger for circuit breaker operations.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	resilience.WithCircuitBreakerLogger(logger)
func WithCircuitBreakerLogger(logger *slog.Logger) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) {
		c.Logger = logger
	}
}

// DefaultCircuitBreakerConfig returns circuit breaker configuration with sensible defaults.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		FailureThreshold:  5,
		SuccessThreshold:  2,
		Timeout:           30 * time.Second,
		HalfOpenMaxProbes: 3,
		Logger:            slog.Default(),
	}
}
