package embedding_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"crest/internal/config"
	"crest/internal/embedding"
	"crest/internal/services"
)

func newClient(t *testing.T, baseURL string) *embedding.Client {
	t.Helper()
	client, err := embedding.New(config.Embedding{BaseURL: baseURL, TimeoutSeconds: 5})
	if err != nil {
		t.Fatalf("embedding.New: %v", err)
	}
	return client
}

func TestVectorizeBatchKeepsPositions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string][]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req["image_urls"]) != 2 {
			t.Errorf("expected 2 targets after skipping blanks, got %v", req["image_urls"])
		}
		// Second target cannot be embedded.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": []any{[]float32{0.1, 0.2}, nil},
		})
	}))
	defer server.Close()

	urls := []string{"https://cdn.example.com/a.jpeg", "", "https://cdn.example.com/b.jpeg"}
	got, err := newClient(t, server.URL).VectorizeBatch(t.Context(), urls)
	if err != nil {
		t.Fatalf("VectorizeBatch: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected positional result of 3, got %d", len(got))
	}
	if got[0] == nil || got[0][0] != float32(0.1) {
		t.Fatalf("first embedding = %v", got[0])
	}
	if got[1] != nil {
		t.Fatalf("blank URL should stay nil, got %v", got[1])
	}
	if got[2] != nil {
		t.Fatalf("failed embedding should stay nil, got %v", got[2])
	}
}

func TestVectorizeBatchAllBlankSkipsCall(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	got, err := newClient(t, server.URL).VectorizeBatch(t.Context(), []string{"", ""})
	if err != nil {
		t.Fatalf("VectorizeBatch: %v", err)
	}
	if called {
		t.Fatal("no service call expected for blank targets")
	}
	if len(got) != 2 || got[0] != nil || got[1] != nil {
		t.Fatalf("expected nil placeholders, got %v", got)
	}
}

func TestServerErrorWrapsUpstream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newClient(t, server.URL).VectorizeBatch(t.Context(), []string{"https://cdn.example.com/a.jpeg"})
	if !errors.Is(err, services.ErrUpstream) {
		t.Fatalf("expected upstream marker, got %v", err)
	}
}

func TestCountMismatchIsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": []any{}})
	}))
	defer server.Close()

	_, err := newClient(t, server.URL).VectorizeBatch(t.Context(), []string{"https://cdn.example.com/a.jpeg"})
	if !errors.Is(err, services.ErrUpstream) {
		t.Fatalf("expected upstream marker, got %v", err)
	}
}
