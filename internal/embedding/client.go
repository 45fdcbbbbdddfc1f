// Package embedding fetches visual embeddings for video cover images from an
// external vectorizer service. Absence of an embedding is a valid outcome
// that leaves a video unclustered, never a batch failure.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"crest/internal/config"
	"crest/internal/services"
)

// Vectorizer is the contract the pipeline depends on. Implementations return
// a nil vector at any position where no embedding could be produced.
type Vectorizer interface {
	VectorizeBatch(ctx context.Context, imageURLs []string) ([][]float32, error)
}

// Client is the HTTP implementation of Vectorizer.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ Vectorizer = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New creates an embedding client from configuration.
func New(cfg config.Embedding, opts ...Option) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("embedding base url required")
	}
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type batchRequest struct {
	ImageURLs []string `json:"image_urls"`
}

type batchResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// VectorizeBatch fetches embeddings for a list of cover URLs. The response is
// positional: result[i] belongs to imageURLs[i] and is nil when the service
// could not embed that image. An empty URL is skipped without a service call.
func (c *Client) VectorizeBatch(ctx context.Context, imageURLs []string) ([][]float32, error) {
	results := make([][]float32, len(imageURLs))

	targets := make([]string, 0, len(imageURLs))
	positions := make([]int, 0, len(imageURLs))
	for i, url := range imageURLs {
		if strings.TrimSpace(url) == "" {
			continue
		}
		targets = append(targets, url)
		positions = append(positions, i)
	}
	if len(targets) == 0 {
		return results, nil
	}

	body, err := json.Marshal(batchRequest{ImageURLs: targets})
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "embedding", "batch", "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings/batch-images", bytes.NewReader(body))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "embedding", "batch", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTimeout, "embedding", "batch", "request deadline exceeded", err)
		}
		return nil, services.Wrap(services.ErrUpstream, "embedding", "batch", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, services.Wrap(services.ErrUpstream, "embedding", "batch",
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	var decoded batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, services.Wrap(services.ErrUpstream, "embedding", "batch", "decode response", err)
	}
	if len(decoded.Embeddings) != len(targets) {
		return nil, services.Wrap(services.ErrUpstream, "embedding", "batch",
			fmt.Sprintf("expected %d embeddings, got %d", len(targets), len(decoded.Embeddings)), nil)
	}

	for i, emb := range decoded.Embeddings {
		if len(emb) == 0 {
			continue
		}
		results[positions[i]] = emb
	}
	return results, nil
}

// Vectorize fetches a single embedding; nil means the image could not be
// embedded.
func (c *Client) Vectorize(ctx context.Context, imageURL string) ([]float32, error) {
	results, err := c.VectorizeBatch(ctx, []string{imageURL})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}
