package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	resilience "github.com/noteflow/go-resilience"
)

// MinIOConfig holds connection settings for a MinIO or S3-compatible endpoint.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinIO adapts a MinIO/S3 bucket to the Backend interface. Every error leaves
// tagged with a failure kind derived from the S3 error code, the HTTP status,
// or the transport failure.
type MinIO struct {
	client *minio.Client
	bucket string
	region string
	logger *slog.Logger
}

// NewMinIO creates a MinIO-backed Backend. The bucket is not created here;
// call EnsureBucket during startup when the deployment owns it.
func NewMinIO(cfg MinIOConfig, logger *slog.Logger) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
		// Retrying belongs to the resilient façade; the SDK's internal
		// retries would compound with it.
		MaxRetries: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MinIO{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		logger: logger,
	}, nil
}

// EnsureBucket creates the configured bucket if it does not exist.
func (m *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return m.classify("bucket check", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		return m.classify("bucket create", m.bucket, err)
	}
	m.logger.Info("created storage bucket", "bucket", m.bucket)
	return nil
}

// Upload implements Backend.
func (m *MinIO) Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error) {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return "", m.classify("upload", key, err)
	}
	return m.client.EndpointURL().JoinPath(m.bucket, key).String(), nil
}

// Download implements Backend.
func (m *MinIO) Download(ctx context.Context, key string) ([]byte, error) {
	object, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.classify("download", key, err)
	}
	defer object.Close()

	// GetObject is lazy; missing keys surface on the first read.
	data, err := io.ReadAll(object)
	if err != nil {
		return nil, m.classify("download", key, err)
	}
	return data, nil
}

// Delete implements Backend. S3 deletes are idempotent, so a missing key is
// not an error.
func (m *MinIO) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return m.classify("delete", key, err)
	}
	return nil
}

// Exists implements Backend.
func (m *MinIO) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, m.classify("exists", key, err)
	}
	return true, nil
}

// Metadata implements Backend.
func (m *MinIO) Metadata(ctx context.Context, key string) (FileMetadata, error) {
	info, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return FileMetadata{}, m.classify("metadata", key, err)
	}
	return FileMetadata{
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
		ETag:         info.ETag,
	}, nil
}

// ListFiles implements Backend.
func (m *MinIO) ListFiles(ctx context.Context, prefix string, maxKeys int) ([]string, error) {
	keys := []string{}
	for object := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, m.classify("list", prefix, object.Err)
		}
		keys = append(keys, object.Key)
		if maxKeys > 0 && len(keys) == maxKeys {
			break
		}
	}
	return keys, nil
}

// classify tags err with the failure kind the S3 response implies. Context
// cancellation passes through untouched so it never reads as retryable.
func (m *MinIO) classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return resilience.NewClassifiedError(resilience.FailureTimeout,
			fmt.Errorf("%s %q: %w", op, key, err))
	}

	resp := minio.ToErrorResponse(err)
	var kind resilience.FailureKind
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket":
		return notFoundError(key)
	case resp.Code == "SlowDown" || resp.StatusCode == http.StatusTooManyRequests:
		kind = resilience.FailureThrottled
	case resp.StatusCode >= http.StatusInternalServerError:
		kind = resilience.FailureUnavailable
	case resp.StatusCode >= http.StatusBadRequest:
		kind = resilience.FailureBadRequest
	default:
		// No S3 response at all means the transport failed.
		kind = resilience.FailureConnection
	}
	return resilience.NewClassifiedError(kind, fmt.Errorf("%s %q: %w", op, key, err))
}
