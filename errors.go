package resilience

import (
	"context"
	"errors"
	"fmt"

	pkgerrors "github.com/JohnPlummer/jp-go-errors"
)

// FailureKind is a closed classification of failures observed at a backend
// boundary. Retryability is a data-driven decision over this set rather than a
// structural check on error types, so backends in different protocols can share
// one retry policy.
type FailureKind string

const (
	// FailureTimeout is an I/O deadline expiring mid-call.
	FailureTimeout FailureKind = "timeout"

	// FailureConnection is a connection refused, reset, or dropped.
	FailureConnection FailureKind = "connection"

	// FailureThrottled is the backend shedding load (rate limit, slow-down).
	FailureThrottled FailureKind = "throttled"

	// FailureUnavailable is a transient server-side fault (5xx-style).
	FailureUnavailable FailureKind = "unavailable"

	// FailureNotFound is a missing key or object.
	FailureNotFound FailureKind = "not_found"

	// FailureBadRequest is a malformed or rejected request.
	FailureBadRequest FailureKind = "bad_request"

	// FailureInternal is an unexpected local fault (corrupt state, bad config).
	FailureInternal FailureKind = "internal"
)

// ErrorClassifier determines whether an error should trigger a retry.
// Implement this interface to customize retry behavior for your specific error types.
type ErrorClassifier interface {
	// IsRetryable returns true if the error represents a transient failure
	// that should be retried.
	IsRetryable(err error) bool
}

// ClassifiedError wraps an error with its failure kind. Backend adapters attach
// kinds at the boundary so the retry layer never inspects protocol details.
type ClassifiedError struct {
	Err  error
	Kind FailureKind
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// NewClassifiedError tags err with a failure kind. A nil err returns nil.
//
// Example:
//
//	if resp.StatusCode == http.StatusServiceUnavailable {
//	    return resilience.NewClassifiedError(resilience.FailureUnavailable, err)
//	}
func NewClassifiedError(kind FailureKind, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: kind, Err: err}
}

// KindOf extracts the failure kind from an error chain. The second return is
// false when no ClassifiedError is present and no fallback signal applies.
// Timeouts reported through jp-go-errors or net.Error-style interfaces classify
// as FailureTimeout even without an explicit tag.
func KindOf(err error) (FailureKind, bool) {
	if err == nil {
		return "", false
	}

	var cerr *ClassifiedError
	if errors.As(err, &cerr) {
		return cerr.Kind, true
	}

	if pkgerrors.IsTimeout(err) {
		return FailureTimeout, true
	}

	// net.Error and friends expose Timeout() without a concrete type.
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return FailureTimeout, true
	}

	return "", false
}

// KindClassifier classifies retryability by failure kind membership.
// An error with no extractable kind is treated as fatal: the closed-set
// contract requires backends to tag everything transient.
type KindClassifier struct {
	// RetryableKinds lists the failure kinds eligible for retry.
	// Defaults to timeout, connection, throttled, unavailable if nil.
	RetryableKinds []FailureKind
}

// NewKindClassifier creates a KindClassifier with the default retryable set:
// timeout, connection, throttled, unavailable.
func NewKindClassifier() *KindClassifier {
	return &KindClassifier{
		RetryableKinds: DefaultRetryableKinds(),
	}
}

// IsRetryable implements ErrorClassifier over failure kinds.
func (c *KindClassifier) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are NOT retryable - if the parent context is exceeded or
	// canceled, retrying with the same context will fail immediately. Check
	// these FIRST, as context.DeadlineExceeded also reports Timeout() true.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	kind, ok := KindOf(err)
	if !ok {
		return false
	}

	return containsKind(c.retryableKinds(), kind)
}

// retryableKinds returns the configured kinds or defaults.
func (c *KindClassifier) retryableKinds() []FailureKind {
	if c.RetryableKinds != nil {
		return c.RetryableKinds
	}
	return DefaultRetryableKinds()
}

// DefaultRetryableKinds returns the failure kinds retried out of the box:
// timeout, connection, throttled, unavailable. Not-found and bad-request are
// deliberately absent; retrying those burns attempts on a deterministic answer.
func DefaultRetryableKinds() []FailureKind {
	return []FailureKind{FailureTimeout, FailureConnection, FailureThrottled, FailureUnavailable}
}

// DefaultErrorClassifier provides reasonable defaults for most use cases.
// It retries timeouts, connection faults, throttling, and transient
// unavailability; everything else surfaces immediately.
func DefaultErrorClassifier() ErrorClassifier {
	return NewKindClassifier()
}

// containsKind checks if a kind is in the list.
func containsKind(kinds []FailureKind, kind FailureKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ParseFailureKinds converts kind names into FailureKind values, rejecting
// names outside the closed set. Used by the config package to accept
// comma-separated kind lists from the environment.
func ParseFailureKinds(names []string) ([]FailureKind, error) {
	kinds := make([]FailureKind, 0, len(names))
	for _, name := range names {
		kind := FailureKind(name)
		switch kind {
		case FailureTimeout, FailureConnection, FailureThrottled, FailureUnavailable,
			FailureNotFound, FailureBadRequest, FailureInternal:
			kinds = append(kinds, kind)
		default:
			return nil, fmt.Errorf("unknown failure kind %q", name)
		}
	}
	return kinds, nil
}
