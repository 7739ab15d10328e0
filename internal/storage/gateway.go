package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	OriginalsPrefix = "originals"
	VariantsPrefix  = "variants"

	// maxPendingPurges bounds the retry list while the CDN is down, the
	// oldest URLs are dropped first
	maxPendingPurges = 5000
)

// Gateway is the only component that talks to object storage and the CDN
type Gateway struct {
	store   ObjectStore
	purger  Purger
	baseURL string
	timeout time.Duration

	mu            sync.Mutex
	pendingPurges []string
	pendingSet    map[string]struct{}
	maxPending    int
}

// NewGateway wraps store. purger may be nil when no CDN is configured.
func NewGateway(store ObjectStore, purger Purger, baseURL string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Gateway{
		store:   store,
		purger:  purger,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,

		pendingSet: map[string]struct{}{},
		maxPending: maxPendingPurges,
	}
}

func OriginalKey(filename string) string {
	return OriginalsPrefix + "/" + filename
}

func VariantKey(fileID, filename string) string {
	return VariantsPrefix + "/" + fileID + "/" + filename
}

// URL is the public CDN address of key
func (g *Gateway) URL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}

	return g.baseURL + "/" + strings.Join(parts, "/")
}

// Put uploads body under key and returns its CDN URL
func (g *Gateway) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.store.Put(ctx, key, body, size, contentType); err != nil {
		return "", err
	}

	zap.L().Debug("Stored object", zap.String("key", key), zap.Int64("size", size))

	return g.URL(key), nil
}

// PutFile uploads the file at p
func (g *Gateway) PutFile(ctx context.Context, key, p, contentType string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open file, %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("failed to stat file, %w", err)
	}

	u, err := g.Put(ctx, key, f, stat.Size(), contentType)
	if err != nil {
		return "", 0, err
	}

	return u, stat.Size(), nil
}

// Fetch downloads key into a temp file and returns its path. The caller
// removes the file.
func (g *Gateway) Fetch(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	f, err := os.CreateTemp("", "media-*"+extOf(key))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file, %w", err)
	}
	defer f.Close()

	if _, err := g.store.Fetch(ctx, key, f); err != nil {
		os.Remove(f.Name())
		return "", err
	}

	return f.Name(), nil
}

// Delete removes objects and purges their URLs from the CDN. Purge
// failures are logged and retried later, they never fail the delete.
func (g *Gateway) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	dctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.store.Delete(dctx, keys...); err != nil {
		return err
	}

	urls := make([]string, len(keys))
	for i, k := range keys {
		urls[i] = g.URL(k)
	}

	g.Purge(ctx, urls)

	return nil
}

// Purge evicts urls from the CDN on a best effort basis
func (g *Gateway) Purge(ctx context.Context, urls []string) {
	if g.purger == nil || len(urls) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.purger.Purge(ctx, urls); err != nil {
		zap.L().Warn("CDN purge failed, will retry", zap.Strings("urls", urls), zap.Error(err))

		g.queuePurges(urls)
	}
}

// queuePurges adds urls to the retry list once each
func (g *Gateway) queuePurges(urls []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, u := range urls {
		if _, ok := g.pendingSet[u]; ok {
			continue
		}

		g.pendingSet[u] = struct{}{}
		g.pendingPurges = append(g.pendingPurges, u)
	}

	if drop := len(g.pendingPurges) - g.maxPending; drop > 0 {
		for _, u := range g.pendingPurges[:drop] {
			delete(g.pendingSet, u)
		}

		g.pendingPurges = append([]string(nil), g.pendingPurges[drop:]...)

		zap.L().Warn("Dropped CDN purges, retry list is full", zap.Int("dropped", drop))
	}
}

// RetryPurges resubmits purges that failed earlier and returns how many
// URLs are still pending
func (g *Gateway) RetryPurges(ctx context.Context) int {
	g.mu.Lock()
	urls := g.pendingPurges
	g.pendingPurges = nil
	clear(g.pendingSet)
	g.mu.Unlock()

	if len(urls) > 0 {
		g.Purge(ctx, urls)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.pendingPurges)
}

// SignedURL returns a short lived URL for private objects. Stores without
// signing fall back to the plain CDN URL.
func (g *Gateway) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := g.store.SignedURL(ctx, key, ttl)
	if errors.Is(err, ErrSignedURLUnsupported) {
		return g.URL(key), nil
	}

	return u, err
}

func extOf(key string) string {
	i := strings.LastIndexByte(key, '.')
	if i < 0 || strings.ContainsRune(key[i:], '/') {
		return ""
	}

	return key[i:]
}
