// Package collector talks to the external acquisition service that scrapes
// raw engagement records. The engine never scrapes directly; it sends keyword
// or URL targets and receives opaque records to normalize.
package collector

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
	"crest/internal/observation"
	"crest/internal/services"
)

// Mode selects between a fresh keyword search and an exact URL re-fetch.
type Mode string

const (
	// ModeDiscover runs a keyword or profile search and returns a superset.
	ModeDiscover Mode = "discover"
	// ModeReacquire fetches the exact URL list; unreachable URLs are simply
	// absent from the result rather than failing the call.
	ModeReacquire Mode = "reacquire"
)

// Service is the acquisition contract the pipeline and scheduler depend on.
// Partial results are valid: callers must handle fewer records than targets.
type Service interface {
	Discover(ctx context.Context, keywords []string, limit int) ([]observation.RawRecord, error)
	Reacquire(ctx context.Context, urls []string) ([]observation.RawRecord, error)
}

type collectRequest struct {
	Keywords  []string `json:"keywords,omitempty"`
	StartURLs []string `json:"startUrls,omitempty"`
	MaxItems  int      `json:"maxItems"`
	Mode      Mode     `json:"mode"`
}

type collectResponse struct {
	Items []observation.RawRecord `json:"items"`
}

// Client is the HTTP implementation of Service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Service = (*Client)(nil)

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

// New creates a collector client from configuration.
func New(cfg config.Collector, opts ...Option) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("collector base url required")
	}
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimSpace(cfg.APIToken),
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Discover runs a keyword search and returns up to limit raw records.
func (c *Client) Discover(ctx context.Context, keywords []string, limit int) ([]observation.RawRecord, error) {
	if len(keywords) == 0 {
		return nil, services.Wrap(services.ErrValidation, "collector", "discover", "no keywords given", nil)
	}
	return c.collect(ctx, "discover", collectRequest{
		Keywords: keywords,
		MaxItems: limit,
		Mode:     ModeDiscover,
	})
}

// Reacquire fetches current snapshots for an exact URL list. The result may
// cover only a subset of the targets.
func (c *Client) Reacquire(ctx context.Context, urls []string) ([]observation.RawRecord, error) {
	if len(urls) == 0 {
		return nil, services.Wrap(services.ErrValidation, "collector", "reacquire", "no urls given", nil)
	}
	return c.collect(ctx, "reacquire", collectRequest{
		StartURLs: urls,
		MaxItems:  len(urls),
		Mode:      ModeReacquire,
	})
}

func (c *Client) collect(ctx context.Context, operation string, payload collectRequest) ([]observation.RawRecord, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "collector", operation, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/collect", bytes.NewReader(body))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "collector", operation, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTimeout, "collector", operation, "request deadline exceeded", err)
		}
		return nil, services.Wrap(services.ErrUpstream, "collector", operation, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, services.Wrap(services.ErrUpstream, "collector", operation,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	var decoded collectResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, services.Wrap(services.ErrUpstream, "collector", operation, "decode response", err)
	}
	return decoded.Items, nil
}
