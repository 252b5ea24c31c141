// Package resilience provides generic retry, circuit breaker, and
// primary/fallback composition patterns for building resilient backends.
// It supports any operation result type using Go generics and integrates with
// jp-go-errors for standardized error handling.
package resilience

import (
	"context"
)

// Operation is a unit of work protected by the resilience layer. The context
// should be used to control timeouts and cancellation; implementations must
// return promptly once it is done.
//
// Operations are closures over their inputs, which keeps the resilience layer
// generic over operation shape: an upload, a download, and a metadata lookup
// are all wrapped identically.
//
// Example:
//
//	op := func(ctx context.Context) ([]byte, error) {
//	    return backend.Download(ctx, "tracks/123.ogg")
//	}
//	data, err := resilience.Execute(ctx, res, op, nil)
type Operation[T any] func(ctx context.Context) (T, error)

// Fallback produces a substitute result when the primary path is unavailable
// (circuit open or probe budget exhausted). It is invoked directly, without
// retry or circuit breaker wrapping, so a struggling primary cannot also stall
// the fallback path. A nil Fallback means rejections surface as errors.
type Fallback[T any] func(ctx context.Context) (T, error)
