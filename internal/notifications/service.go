package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crest/internal/config"
)

const userAgent = "crest-notifier/1.0"

// Service delivers push notifications for rescan batch lifecycle events.
type Service interface {
	NotifyBatchReconciled(ctx context.Context, batchID string, reconciled, total int) error
	NotifyBatchFailed(ctx context.Context, batchID, reason string) error
	NotifyHighScore(ctx context.Context, platformID string, score float64) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyBatchReconciled(ctx context.Context, batchID string, reconciled, total int) error {
	message := fmt.Sprintf("Rescan batch %s reconciled %d of %d records", batchID, reconciled, total)
	data := payload{
		title:    "Crest - Rescan Complete",
		message:  message,
		tags:     []string{"crest", "rescan"},
		priority: "default",
	}
	if reconciled < total {
		data.title = "Crest - Rescan Partial"
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBatchFailed(ctx context.Context, batchID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown error"
	}
	data := payload{
		title:    "Crest - Rescan Failed",
		message:  fmt.Sprintf("Rescan batch %s failed: %s", batchID, reason),
		tags:     []string{"crest", "rescan", "error"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyHighScore(ctx context.Context, platformID string, score float64) error {
	data := payload{
		title:    "Crest - Trend Alert",
		message:  fmt.Sprintf("Video %s scored %.1f after reconciliation", platformID, score),
		tags:     []string{"crest", "trend"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Crest - Test",
		message:  "Notification system test",
		tags:     []string{"crest", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyBatchReconciled(context.Context, string, int, int) error { return nil }
func (noopService) NotifyBatchFailed(context.Context, string, string) error       { return nil }
func (noopService) NotifyHighScore(context.Context, string, float64) error        { return nil }
func (noopService) TestNotification(context.Context) error                        { return nil }
