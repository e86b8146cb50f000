// Package storage holds the blob stores that keep audio and cover files.
package storage

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"musicbox/internal/config"
)

// ErrNotFound is returned by Open when the key does not exist.
var ErrNotFound = errors.New("blob not found")

// ErrInvalidKey rejects keys that could escape the store root.
var ErrInvalidKey = errors.New("invalid blob key")

// BlobStore is the object storage capability the catalog consumes.
type BlobStore interface {
	// Put stores data under key and returns its public URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Delete removes key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error
	// Open streams a stored blob.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// URL derives the public URL of key without touching the store.
	URL(key string) string
	// Name identifies the backend in logs and health output.
	Name() string
}

// PublicURL joins base and key, escaping each path segment of key.
func PublicURL(base, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/")
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return errors.Wrap(ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return errors.Wrap(ErrInvalidKey, key)
		}
	}
	return nil
}

// NewFromConfig builds the configured backend.
func NewFromConfig(ctx context.Context, cfg config.StorageConfig) (BlobStore, error) {
	switch cfg.Backend {
	case "disk":
		return NewDiskStore(cfg.Disk.Root, cfg.Disk.PublicBaseURL)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	case "memory":
		return NewMemoryStore(cfg.Disk.PublicBaseURL), nil
	default:
		return nil, errors.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
