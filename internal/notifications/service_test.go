package notifications_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"crest/internal/config"
	"crest/internal/notifications"
)

type captured struct {
	title    string
	priority string
	tags     string
	body     string
}

func newTestService(t *testing.T) (notifications.Service, *[]captured) {
	t.Helper()

	var mu sync.Mutex
	var requests []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, captured{
			title:    r.Header.Get("Title"),
			priority: r.Header.Get("Priority"),
			tags:     r.Header.Get("Tags"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	return notifications.NewService(&cfg), &requests
}

func TestNotifyBatchReconciled(t *testing.T) {
	svc, requests := newTestService(t)

	if err := svc.NotifyBatchReconciled(t.Context(), "batch-1", 5, 5); err != nil {
		t.Fatalf("NotifyBatchReconciled: %v", err)
	}
	if len(*requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(*requests))
	}
	req := (*requests)[0]
	if req.title != "Crest - Rescan Complete" {
		t.Fatalf("title = %q", req.title)
	}
	if req.priority != "" {
		t.Fatalf("default priority should send no header, got %q", req.priority)
	}
	if !strings.Contains(req.body, "5 of 5") {
		t.Fatalf("body = %q", req.body)
	}
}

func TestNotifyBatchPartialEscalatesPriority(t *testing.T) {
	svc, requests := newTestService(t)

	if err := svc.NotifyBatchReconciled(t.Context(), "batch-1", 3, 5); err != nil {
		t.Fatalf("NotifyBatchReconciled: %v", err)
	}
	req := (*requests)[0]
	if req.title != "Crest - Rescan Partial" {
		t.Fatalf("title = %q", req.title)
	}
	if req.priority != "high" {
		t.Fatalf("priority = %q", req.priority)
	}
}

func TestNotifyBatchFailed(t *testing.T) {
	svc, requests := newTestService(t)

	if err := svc.NotifyBatchFailed(t.Context(), "batch-1", "collector unreachable"); err != nil {
		t.Fatalf("NotifyBatchFailed: %v", err)
	}
	req := (*requests)[0]
	if !strings.Contains(req.body, "collector unreachable") {
		t.Fatalf("body = %q", req.body)
	}
	if !strings.Contains(req.tags, "error") {
		t.Fatalf("tags = %q", req.tags)
	}
}

func TestNtfyErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)

	if err := svc.TestNotification(t.Context()); err == nil {
		t.Fatal("expected error from non-2xx response")
	}
}

func TestNoopWithoutTopic(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)

	if err := svc.NotifyBatchFailed(t.Context(), "batch-1", "boom"); err != nil {
		t.Fatalf("noop service returned error: %v", err)
	}
}
