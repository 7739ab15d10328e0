package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"time"

	"github.com/spf13/afero"
)

// LocalStore keeps objects on a filesystem. The API serves them itself
// under the configured CDN base URL.
type LocalStore struct {
	fs   afero.Fs
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	return NewLocalStoreFs(afero.NewOsFs(), root)
}

// NewLocalStoreFs is used by tests with afero.NewMemMapFs
func NewLocalStoreFs(f afero.Fs, root string) (*LocalStore, error) {
	if err := f.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory, %w", err)
	}

	return &LocalStore{fs: f, root: root}, nil
}

func (s *LocalStore) path(key string) string {
	return path.Join(s.root, path.Clean("/"+key))
}

func (s *LocalStore) Put(ctx context.Context, key string, body io.Reader, _ int64, _ string) error {
	p := s.path(key)

	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return &StorageError{Op: "put", Key: key, Err: err}
	}

	f, err := s.fs.Create(p)
	if err != nil {
		return &StorageError{Op: "put", Key: key, Err: err}
	}
	defer f.Close()

	if _, err := io.Copy(f, readerWithContext(ctx, body)); err != nil {
		s.fs.Remove(p)
		return &StorageError{Op: "put", Key: key, Err: err}
	}

	return nil
}

func (s *LocalStore) Delete(_ context.Context, keys ...string) error {
	var errs []error

	for _, key := range keys {
		err := s.fs.Remove(s.path(key))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, &StorageError{Op: "delete", Key: key, Err: err})
		}
	}

	return errors.Join(errs...)
}

func (s *LocalStore) Fetch(ctx context.Context, key string, dst io.WriterAt) (int64, error) {
	f, err := s.fs.Open(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, &StorageError{Op: "fetch", Key: key, Err: ErrNotFound}
		}
		return 0, &StorageError{Op: "fetch", Key: key, Err: err}
	}
	defer f.Close()

	n, err := io.Copy(io.NewOffsetWriter(dst, 0), readerWithContext(ctx, f))
	if err != nil {
		return n, &StorageError{Op: "fetch", Key: key, Err: err}
	}

	return n, nil
}

func (s *LocalStore) SignedURL(context.Context, string, time.Duration) (string, error) {
	return "", ErrSignedURLUnsupported
}

// HTTPFileSystem exposes the store to gin's StaticFS
func (s *LocalStore) HTTPFileSystem() http.FileSystem {
	return afero.NewHttpFs(s.fs).Dir(s.root)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}

	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
