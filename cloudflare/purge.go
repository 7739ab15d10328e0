package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	apiBase = "https://api.cloudflare.com/client/v4"
	// purge_cache accepts at most 30 files per request
	maxPurgeBatch = 30
)

// PurgeClient evicts cached URLs from a Cloudflare zone
type PurgeClient struct {
	ZoneID  string
	Token   string
	BaseURL string
	HTTP    *http.Client
}

func NewPurgeClient(zoneID, token string, timeout time.Duration) *PurgeClient {
	return &PurgeClient{
		ZoneID:  zoneID,
		Token:   token,
		BaseURL: apiBase,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type purgeRequest struct {
	Files []string `json:"files"`
}

type apiResponse struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *PurgeClient) Purge(ctx context.Context, urls []string) error {
	for start := 0; start < len(urls); start += maxPurgeBatch {
		batch := urls[start:min(start+maxPurgeBatch, len(urls))]

		if err := c.purgeBatch(ctx, batch); err != nil {
			return err
		}
	}

	return nil
}

func (c *PurgeClient) purgeBatch(ctx context.Context, urls []string) error {
	body, err := json.Marshal(purgeRequest{Files: urls})
	if err != nil {
		return fmt.Errorf("failed to marshal purge request, %w", err)
	}

	endpoint := fmt.Sprintf("%s/zones/%s/purge_cache", strings.TrimRight(c.BaseURL, "/"), c.ZoneID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create purge request, %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send purge request, %w", err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode purge response (status %d), %w", resp.StatusCode, err)
	}

	if !out.Success {
		msgs := make([]string, len(out.Errors))
		for i, e := range out.Errors {
			msgs[i] = fmt.Sprintf("%d: %s", e.Code, e.Message)
		}

		return errors.New("cloudflare purge rejected, " + strings.Join(msgs, "; "))
	}

	zap.L().Debug("Purged CDN cache", zap.Int("urls", len(urls)))

	return nil
}
