package storage

import (
	"context"
	"fmt"
	"log/slog"

	resilience "github.com/noteflow/go-resilience"
)

// ResilientBackend wraps a primary Backend with retry and circuit breaking,
// optionally serving from a fallback Backend when the primary's circuit
// rejects a call. Every Backend method goes through the same composition;
// no method carries its own resilience logic.
//
// The breaker belongs to this primary/fallback pairing and lives as long as
// the ResilientBackend that owns it.
type ResilientBackend struct {
	primary  Backend
	fallback Backend
	res      *resilience.Resilient
	logger   *slog.Logger
}

// NewResilientBackend composes retry and circuit breaking around primary.
// fallback may be nil; a rejected call then surfaces as ErrUnavailable
// wrapping the circuit-open error. Nil configs fall back to defaults.
//
// Example:
//
//	backend := storage.NewResilientBackend("audio-store", minioBackend, memoryBackend,
//	    retryConfig, cbConfig, logger)
//	data, err := backend.Download(ctx, "tracks/42.flac")
func NewResilientBackend(
	name string,
	primary Backend,
	fallback Backend,
	retryConfig *resilience.RetryConfig,
	cbConfig *resilience.CircuitBreakerConfig,
	logger *slog.Logger,
) *ResilientBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResilientBackend{
		primary:  primary,
		fallback: fallback,
		res:      resilience.NewResilient(name, retryConfig, cbConfig, logger),
		logger:   logger,
	}
}

// Name returns the name of the backend pairing.
func (b *ResilientBackend) Name() string {
	return b.res.Name()
}

// Breaker exposes the pairing's circuit breaker for status inspection.
func (b *ResilientBackend) Breaker() *resilience.CircuitBreaker {
	return b.res.Breaker()
}

// Retrier exposes the pairing's retrier for stats inspection.
func (b *ResilientBackend) Retrier() *resilience.Retrier {
	return b.res.Retrier()
}

// execute runs one backend operation through the composition. With a fallback
// configured, a rejected call runs the same operation against the fallback
// tier, untouched by retry or the breaker. Without one, rejection surfaces as
// ErrUnavailable wrapping the circuit-open error.
func execute[T any](ctx context.Context, b *ResilientBackend, op func(Backend) resilience.Operation[T]) (T, error) {
	var fallback resilience.Fallback[T]
	if b.fallback != nil {
		fallback = func(ctx context.Context) (T, error) {
			b.logger.Debug("serving from fallback storage", "backend", b.res.Name())
			return op(b.fallback)(ctx)
		}
	}

	value, err := resilience.Execute(ctx, b.res, op(b.primary), fallback)
	if err != nil && resilience.IsCircuitRejection(err) {
		return value, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return value, err
}

// Upload implements Backend.
func (b *ResilientBackend) Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error) {
	return execute(ctx, b, func(backend Backend) resilience.Operation[string] {
		return func(ctx context.Context) (string, error) {
			return backend.Upload(ctx, key, data, contentType, metadata)
		}
	})
}

// Download implements Backend.
func (b *ResilientBackend) Download(ctx context.Context, key string) ([]byte, error) {
	return execute(ctx, b, func(backend Backend) resilience.Operation[[]byte] {
		return func(ctx context.Context) ([]byte, error) {
			return backend.Download(ctx, key)
		}
	})
}

// Delete implements Backend.
func (b *ResilientBackend) Delete(ctx context.Context, key string) error {
	_, err := execute(ctx, b, func(backend Backend) resilience.Operation[struct{}] {
		return func(ctx context.Context) (struct{}, error) {
			return struct{}{}, backend.Delete(ctx, key)
		}
	})
	return err
}

// Exists implements Backend.
func (b *ResilientBackend) Exists(ctx context.Context, key string) (bool, error) {
	return execute(ctx, b, func(backend Backend) resilience.Operation[bool] {
		return func(ctx context.Context) (bool, error) {
			return backend.Exists(ctx, key)
		}
	})
}

// Metadata implements Backend.
func (b *ResilientBackend) Metadata(ctx context.Context, key string) (FileMetadata, error) {
	return execute(ctx, b, func(backend Backend) resilience.Operation[FileMetadata] {
		return func(ctx context.Context) (FileMetadata, error) {
			return backend.Metadata(ctx, key)
		}
	})
}

// ListFiles implements Backend.
func (b *ResilientBackend) ListFiles(ctx context.Context, prefix string, maxKeys int) ([]string, error) {
	return execute(ctx, b, func(backend Backend) resilience.Operation[[]string] {
		return func(ctx context.Context) ([]string, error) {
			return backend.ListFiles(ctx, prefix, maxKeys)
		}
	})
}
