// Package storage stores dataset objects in S3-compatible object storage or
// on the local filesystem.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ahnjh51-tft/deepguard-v1/internal/config"
)

// ObjectStore is the destination for ingested dataset images and thumbnails.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns the keys of all objects under the prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// SignedURL returns a time-limited URL for reading the object.
	SignedURL(ctx context.Context, key string, expires time.Duration) (string, error)
	// Bucket identifies the store in catalog rows and manifests.
	Bucket() string
}

// New creates an object store based on configuration.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalStore(cfg.Local.Dir)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
