// Package storage puts originals and variants into object storage and
// builds the URLs they are served from
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	ErrNotFound             = errors.New("object not found")
	ErrSignedURLUnsupported = errors.New("store can't sign urls")
)

// ObjectStore is the blob backend. Keys are flat, slash separated paths.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, keys ...string) error
	Fetch(ctx context.Context, key string, dst io.WriterAt) (int64, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Purger evicts URLs from the CDN edge
type Purger interface {
	Purge(ctx context.Context, urls []string) error
}

// StorageError wraps a failed store operation. Callers inside a job treat
// it as transient and let the job retry.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s failed, %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
