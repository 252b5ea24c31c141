// Package storage defines the object-backend boundary consumed by the
// streaming services and a resilient façade over it. Adapters tag every error
// with a failure kind at the boundary so retry classification upstream stays a
// pure data decision.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	resilience "github.com/noteflow/go-resilience"
)

// ErrNotFound reports a key absent from the backend.
var ErrNotFound = errors.New("object not found")

// ErrUnavailable reports a backend that refused the call before it ran,
// typically an open circuit with no fallback configured.
var ErrUnavailable = errors.New("storage backend unavailable")

// FileMetadata describes a stored object without its content.
type FileMetadata struct {
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string
}

// Backend is the object-store capability. Primary and fallback tiers are
// consumed through the same interface; implementations must return errors
// classifiable via resilience.KindOf.
type Backend interface {
	// Upload stores data under key and returns the object's URL.
	Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error)

	// Download returns the object's content.
	Download(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Metadata returns the object's metadata without its content.
	Metadata(ctx context.Context, key string) (FileMetadata, error)

	// ListFiles returns up to maxKeys object keys under prefix. A
	// non-positive maxKeys lists everything.
	ListFiles(ctx context.Context, prefix string, maxKeys int) ([]string, error)
}

// notFoundError builds the tagged not-found error shared by all adapters.
// errors.Is(err, ErrNotFound) holds and resilience.KindOf reports
// FailureNotFound.
func notFoundError(key string) error {
	return resilience.NewClassifiedError(resilience.FailureNotFound,
		fmt.Errorf("object %q: %w", key, ErrNotFound))
}
