package cache

import (
	"log/slog"
	"time"
)

// ProtectionConfig holds stampede protection configuration options.
type ProtectionConfig struct {
	// Logger for swallowed cache/lock errors and fetch outcomes.
	// Default: slog.Default()
	Logger *slog.Logger

	// LockTimeout is the TTL on the distributed lock entry. It bounds how long
	// a dead fetcher can block other instances.
	// Default: 30 seconds
	LockTimeout time.Duration

	// LockRetryDelay is the initial delay of the poll loop entered when the
	// distributed lock is held elsewhere. Subsequent polls back off
	// exponentially.
	// Default: 50 milliseconds
	LockRetryDelay time.Duration

	// MaxLockWaitRetries bounds the poll loop. Exhausting it yields a
	// definitive miss, never an error.
	// Default: 10
	MaxLockWaitRetries int

	// Beta scales the early-refresh deadline of the probabilistic expiration
	// variant: a value refreshes once now >= xfetch + delta*Beta. Smaller
	// values refresh more eagerly. Used when a call does not pass its own.
	// Default: 1.0
	Beta float64
}

// ProtectionOption is a functional option for configuring stampede protection.
type ProtectionOption func(*ProtectionConfig)

// WithLockTimeout sets the distributed lock TTL.
//
// Example:
//
//	cache.WithLockTimeout(10 * time.Second)
func WithLockTimeout(timeout time.Duration) ProtectionOption {
	return func(c *ProtectionConfig) {
		c.LockTimeout = timeout
	}
}

// WithLockRetryDelay sets the initial poll delay while another instance holds
// the distributed lock.
func WithLockRetryDelay(delay time.Duration) ProtectionOption {
	return func(c *ProtectionConfig) {
		c.LockRetryDelay = delay
	}
}

// WithMaxLockWaitRetries bounds how many times the poll loop re-reads the
// cache before reporting a miss.
func WithMaxLockWaitRetries(retries int) ProtectionOption {
	return func(c *ProtectionConfig) {
		c.MaxLockWaitRetries = retries
	}
}

// WithBeta sets the default early-refresh multiplier for
// GetWithProbabilisticExpiration.
func WithBeta(beta float64) ProtectionOption {
	return func(c *ProtectionConfig) {
		c.Beta = beta
	}
}

// WithProtectionLogger sets a custom logger for protection operations.
func WithProtectionLogger(logger *slog.Logger) ProtectionOption {
	return func(c *ProtectionConfig) {
		c.Logger = logger
	}
}

// DefaultProtectionConfig returns stampede protection configuration with
// sensible defaults.
func DefaultProtectionConfig() *ProtectionConfig {
	return &ProtectionConfig{
		LockTimeout:        30 * time.Second,
		LockRetryDelay:     50 * time.Millisecond,
		MaxLockWaitRetries: 10,
		Beta:               1.0,
		Logger:             slog.Default(),
	}
}
