package resilience

import "time"

// HealthStatus represents the health status of a circuit breaker.
// It provides a strongly-typed alternative to map[string]interface{} for health checks.
type HealthStatus struct {
	// Healthy indicates whether the circuit breaker is in a healthy state.
	// True for closed and half-open states, false for open state.
	Healthy bool `json:"healthy"`

	// Status is a short string description of the state ("closed", "half-open", "open", "unknown").
	Status string `json:"status"`

	// State is the full string representation of the circuit breaker state.
	State string `json:"state"`

	// FailureCount is the number of consecutive failures in the current period.
	FailureCount uint32 `json:"failure_count"`

	// SuccessCount is the number of consecutive half-open successes.
	SuccessCount uint32 `json:"success_count"`

	// HalfOpenProbes is the number of probe calls currently in flight.
	HalfOpenProbes uint32 `json:"half_open_probes"`

	// LastFailureTime is when the protected operation last failed.
	LastFailureTime time.Time `json:"last_failure_time"`
}

// GetHealth returns the health status of the circuit breaker.
// Like Status, it never mutates the breaker.
func (b *CircuitBreaker) GetHealth() HealthStatus {
	status := b.Status()

	var healthy bool
	var short string

	switch status.State {
	case StateClosed:
		healthy = true
		short = "closed"
	case StateHalfOpen:
		healthy = true // Degraded but operational
		short = "half-open"
	case StateOpen:
		healthy = false
		short = "open"
	default:
		short = "unknown"
	}

	return HealthStatus{
		Healthy:         healthy,
		Status:          short,
		State:           status.State.String(),
		FailureCount:    status.FailureCount,
		SuccessCount:    status.SuccessCount,
		HalfOpenProbes:  status.HalfOpenProbes,
		LastFailureTime: status.LastFailureTime,
	}
}
