package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	jperrors "github.com/JohnPlummer/jp-go-errors"
)

var (
	// ErrCircuitOpen is returned when a call is rejected because the circuit
	// is open and no fallback is configured.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when the half-open probe budget is
	// exhausted. Callers should treat it exactly like ErrCircuitOpen.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// CircuitBreaker is a three-state failure-isolation state machine guarding a
// named protected resource. Consecutive failures in the closed state open the
// circuit; after Timeout the next admitted call probes the resource in the
// half-open state, and consecutive probe successes close it again.
//
// All mutable state lives behind a single mutex so concurrent callers observe
// consistent transitions. A generation counter ties each admitted call to the
// period it was admitted in; a call completing after the breaker has since
// transitioned cannot disturb the new period's counters.
type CircuitBreaker struct {
	name   string
	config *CircuitBreakerConfig
	logger *slog.Logger

	mu              sync.Mutex
	state           CircuitBreakerState
	generation      uint64
	failureCount    uint32
	successCount    uint32
	halfOpenProbes  uint32
	lastFailureTime time.Time
}

// CircuitBreakerStatus is a read-only snapshot of a breaker's state and
// counters. Taking a snapshot never mutates the breaker; in particular it does
// not trigger the lazy open-to-half-open transition.
type CircuitBreakerStatus struct {
	// State is the raw state at snapshot time. An open circuit whose timeout
	// has elapsed still reads as open until the next call is admitted.
	State CircuitBreakerState `json:"state"`

	// FailureCount is the consecutive failures in the current period.
	FailureCount uint32 `json:"failure_count"`

	// SuccessCount is the consecutive half-open successes in the current period.
	SuccessCount uint32 `json:"success_count"`

	// HalfOpenProbes is the number of probe calls currently in flight.
	HalfOpenProbes uint32 `json:"half_open_probes"`

	// LastFailureTime is when the protected operation last failed.
	LastFailureTime time.Time `json:"last_failure_time"`
}

// NewCircuitBreaker creates a circuit breaker for the named resource.
// One breaker guards one protected resource for the process lifetime.
//
// Example:
//
//	breaker := resilience.NewCircuitBreaker("primary-storage",
//	    resilience.WithFailureThreshold(3),
//	    resilience.WithTimeout(30*time.Second),
//	)
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	config := DefaultCircuitBreakerConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	if config.HalfOpenMaxProbes == 0 {
		config.HalfOpenMaxProbes = 1
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: config.Logger,
		state:  StateClosed,
	}
}

// Name returns the name of the protected resource.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// Status returns a read-only snapshot of the breaker without mutating it.
func (b *CircuitBreaker) Status() CircuitBreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	return CircuitBreakerStatus{
		State:           b.state,
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		HalfOpenProbes:  b.halfOpenProbes,
		LastFailureTime: b.lastFailureTime,
	}
}

// Protect runs op through the circuit breaker b. When the circuit is open, or
// the half-open probe budget is exhausted, op is not invoked: the fallback is
// called directly if non-nil, otherwise a circuit-open error naming the
// breaker is returned. An admitted op's failure is recorded and then returned
// to the caller as-is, even when that failure is the one opening the circuit;
// only the next call observes the open state.
func Protect[T any](ctx context.Context, b *CircuitBreaker, op Operation[T], fallback Fallback[T]) (T, error) {
	var zero T

	generation, rejectErr := b.admit(time.Now())
	if rejectErr != nil {
		status := b.Status()
		b.logger.Warn("circuit breaker rejected call",
			"name", b.name,
			"error", rejectErr,
			"state", status.State.String(),
			"failure_count", status.FailureCount)

		if fallback != nil {
			return fallback(ctx)
		}
		return zero, jperrors.NewCircuitBreakerError(
			"call rejected",
			b.name,
			status.State.String(),
			jperrors.WithCause(rejectErr),
			jperrors.WithCounts(jperrors.CircuitCounts{
				Requests:             status.HalfOpenProbes,
				TotalSuccesses:       status.SuccessCount,
				TotalFailures:        status.FailureCount,
				ConsecutiveSuccesses: status.SuccessCount,
				ConsecutiveFailures:  status.FailureCount,
			}),
		)
	}

	defer func() {
		if e := recover(); e != nil {
			b.record(generation, false, time.Now())
			panic(e)
		}
	}()

	result, err := op(ctx)
	b.record(generation, err == nil, time.Now())
	if err != nil {
		b.logger.Debug("operation failed through circuit breaker",
			"name", b.name,
			"error", err)
		return zero, err
	}

	return result, nil
}

// admit decides whether a call may proceed. The open-to-half-open transition
// happens lazily here once Timeout has elapsed since the last failure.
// It returns the generation the call belongs to, or the rejection error.
func (b *CircuitBreaker) admit(now time.Time) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if now.Sub(b.lastFailureTime) < b.config.Timeout {
			return 0, ErrCircuitOpen
		}
		b.setState(StateHalfOpen, now)
	}

	if b.state == StateHalfOpen {
		if b.halfOpenProbes >= b.config.HalfOpenMaxProbes {
			return 0, ErrTooManyRequests
		}
		b.halfOpenProbes++
	}

	return b.generation, nil
}

// record applies the outcome of an admitted call. Outcomes from a previous
// generation are dropped: the transition that ended their period already
// reset the counters they would have updated.
func (b *CircuitBreaker) record(generation uint64, success bool, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if generation != b.generation {
		return
	}

	switch b.state {
	case StateClosed:
		if success {
			b.failureCount = 0
			return
		}
		b.failureCount++
		b.lastFailureTime = now
		if b.failureCount >= b.config.FailureThreshold {
			b.setState(StateOpen, now)
		}

	case StateHalfOpen:
		if b.halfOpenProbes > 0 {
			b.halfOpenProbes--
		}
		if success {
			b.successCount++
			if b.successCount >= b.config.SuccessThreshold {
				b.setState(StateClosed, now)
			}
			return
		}
		b.lastFailureTime = now
		b.setState(StateOpen, now)
	}
}

// setState transitions the breaker and resets all period counters.
// Callers must hold b.mu.
func (b *CircuitBreaker) setState(state CircuitBreakerState, now time.Time) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state
	b.generation++
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenProbes = 0

	b.logger.Warn("circuit breaker state changed",
		"name", b.name,
		"from", prev.String(),
		"to", state.String())

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, prev, state)
	}
}

// IsCircuitRejection reports whether err is a circuit-open or probe-budget
// rejection, unwrapping through any jp-go-errors wrapping.
func IsCircuitRejection(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}
