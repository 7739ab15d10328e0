package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Verdict is what the external scanner says about a file. Scores are in
// the 0-1 range.
type Verdict struct {
	IsClean       bool           `json:"is_clean"`
	NSFWScore     float64        `json:"nsfw_score"`
	ViolenceScore float64        `json:"violence_score"`
	Raw           map[string]any `json:"-"`
}

// MaxScore is the highest content score
func (v *Verdict) MaxScore() float64 {
	return max(v.NSFWScore, v.ViolenceScore)
}

type Classifier interface {
	Submit(ctx context.Context, fileID, url string) (*Verdict, error)
}

// HTTPClassifier posts the file URL to a scanning service and reads back
// a JSON verdict
type HTTPClassifier struct {
	URL    string
	APIKey string
	HTTP   *http.Client
}

func NewHTTPClassifier(url, apiKey string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPClassifier{
		URL:    url,
		APIKey: apiKey,
		HTTP:   &http.Client{Timeout: timeout},
	}
}

type submitRequest struct {
	FileID string `json:"file_id"`
	URL    string `json:"url"`
}

func (c *HTTPClassifier) Submit(ctx context.Context, fileID, url string) (*Verdict, error) {
	body, err := json.Marshal(submitRequest{FileID: fileID, URL: url})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal classifier request, %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier request, %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach classifier, %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read classifier response, %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("classifier responded with %d, %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	v := &Verdict{}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("failed to decode classifier response, %w", err)
	}

	if err := json.Unmarshal(raw, &v.Raw); err != nil {
		return nil, fmt.Errorf("failed to decode classifier response, %w", err)
	}

	return v, nil
}

// NopClassifier reports every file as clean. Used when no scanning
// service is configured.
type NopClassifier struct{}

func (NopClassifier) Submit(context.Context, string, string) (*Verdict, error) {
	return &Verdict{IsClean: true, Raw: map[string]any{"skipped": true}}, nil
}
