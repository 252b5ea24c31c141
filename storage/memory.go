package storage

import (
	"bytes"
	"context"
	"crypto/md5" // #nosec G501 - etag checksum, mirrors the S3 convention
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Backend. It backs tests and serves as a last-resort
// fallback tier holding recently uploaded objects.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
	etag        string
}

// NewMemory creates an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memoryObject)}
}

// Upload implements Backend. The returned URL uses the mem scheme.
func (m *Memory) Upload(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = memoryObject{
		data:        bytes.Clone(data),
		contentType: contentType,
		metadata:    maps.Clone(metadata),
		modified:    time.Now(),
		etag:        fmt.Sprintf("%x", md5.Sum(data)), // #nosec G401
	}
	return "mem://" + key, nil
}

// Download implements Backend.
func (m *Memory) Download(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	object, ok := m.objects[key]
	if !ok {
		return nil, notFoundError(key)
	}
	return bytes.Clone(object.data), nil
}

// Delete implements Backend. Deleting a missing key succeeds.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Exists implements Backend.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

// Metadata implements Backend.
func (m *Memory) Metadata(ctx context.Context, key string) (FileMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	object, ok := m.objects[key]
	if !ok {
		return FileMetadata{}, notFoundError(key)
	}
	return FileMetadata{
		Size:         int64(len(object.data)),
		ContentType:  object.contentType,
		LastModified: object.modified,
		ETag:         object.etag,
	}, nil
}

// ListFiles implements Backend. Keys come back sorted for deterministic
// listings.
func (m *Memory) ListFiles(ctx context.Context, prefix string, maxKeys int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	if maxKeys > 0 && len(keys) > maxKeys {
		keys = keys[:maxKeys]
	}
	return keys, nil
}

// Len reports the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
