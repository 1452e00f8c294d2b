package ouroboros

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// mockEmbedder implements Embedder for testing.
type mockEmbedder struct {
	embedding  []float32
	dimensions int
	err        error
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.embedding, nil
}

func (m *mockEmbedder) Dimensions() int {
	return m.dimensions
}

func TestEmbedderResolution(t *testing.T) {
	// Clear any global state
	SetEmbedder(nil)

	t.Run("explicit embedder takes precedence", func(t *testing.T) {
		explicit := &mockEmbedder{dimensions: 100}
		global := &mockEmbedder{dimensions: 200}
		SetEmbedder(global)
		defer SetEmbedder(nil)

		resolved, err := ResolveEmbedder(context.Background(), explicit)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resolved.Dimensions() != 100 {
			t.Errorf("expected explicit embedder, got dimensions %d", resolved.Dimensions())
		}
	})

	t.Run("context embedder second priority", func(t *testing.T) {
		ctxEmbedder := &mockEmbedder{dimensions: 150}
		global := &mockEmbedder{dimensions: 200}
		SetEmbedder(global)
		defer SetEmbedder(nil)

		ctx := WithEmbedder(context.Background(), ctxEmbedder)
		resolved, err := ResolveEmbedder(ctx, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resolved.Dimensions() != 150 {
			t.Errorf("expected context embedder, got dimensions %d", resolved.Dimensions())
		}
	})

	t.Run("global embedder fallback", func(t *testing.T) {
		global := &mockEmbedder{dimensions: 200}
		SetEmbedder(global)
		defer SetEmbedder(nil)

		resolved, err := ResolveEmbedder(context.Background(), nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resolved.Dimensions() != 200 {
			t.Errorf("expected global embedder, got dimensions %d", resolved.Dimensions())
		}
	})

	t.Run("no embedder returns error", func(t *testing.T) {
		SetEmbedder(nil)
		_, err := ResolveEmbedder(context.Background(), nil)
		if !errors.Is(err, ErrNoEmbedder) {
			t.Errorf("expected ErrNoEmbedder, got %v", err)
		}
	})
}

func TestEmbedderFromContext(t *testing.T) {
	embedder := &mockEmbedder{dimensions: 100}
	ctx := WithEmbedder(context.Background(), embedder)

	retrieved, ok := EmbedderFromContext(ctx)
	if !ok {
		t.Fatal("expected embedder in context")
	}
	if retrieved.Dimensions() != 100 {
		t.Errorf("wrong embedder retrieved: got dimensions %d", retrieved.Dimensions())
	}

	// Empty context
	_, ok = EmbedderFromContext(context.Background())
	if ok {
		t.Error("expected no embedder in empty context")
	}
}

func TestOpenAIEmbedderConfiguration(t *testing.T) {
	t.Run("default configuration", func(t *testing.T) {
		e := NewOpenAIEmbedder("test-key")
		if e.dimensions != DimensionsAda002 {
			t.Errorf("expected dimensions %d, got %d", DimensionsAda002, e.dimensions)
		}
		if e.model != ModelTextEmbeddingAda002 {
			t.Errorf("expected model %s, got %s", ModelTextEmbeddingAda002, e.model)
		}
	})

	t.Run("custom model", func(t *testing.T) {
		e := NewOpenAIEmbedder("test-key",
			WithEmbeddingModel(ModelTextEmbedding3Large, DimensionsTextEmbedding3L))
		if e.dimensions != DimensionsTextEmbedding3L {
			t.Errorf("expected dimensions %d, got %d", DimensionsTextEmbedding3L, e.dimensions)
		}
		if e.model != ModelTextEmbedding3Large {
			t.Errorf("expected model %s, got %s", ModelTextEmbedding3Large, e.model)
		}
	})

	t.Run("dimensions method", func(t *testing.T) {
		e := NewOpenAIEmbedder("test-key")
		if e.Dimensions() != DimensionsAda002 {
			t.Errorf("expected %d, got %d", DimensionsAda002, e.Dimensions())
		}
	})
}

// embeddingServer fakes the OpenAI embeddings endpoint and records request bodies.
func embeddingServer(t *testing.T, embedding []float64, status int) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var requests []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		requests = append(requests, body)

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  body["model"],
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": embedding},
			},
			"usage": map[string]any{"prompt_tokens": 3, "total_tokens": 3},
		})
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func TestOpenAIEmbedderEmbed(t *testing.T) {
	t.Run("converts response to float32", func(t *testing.T) {
		server, requests := embeddingServer(t, []float64{0.5, -0.25, 1}, http.StatusOK)
		e := NewOpenAIEmbedder("test-key",
			WithEmbedderBaseURL(server.URL+"/v1/"),
			WithEmbedderMaxRetries(0))

		got, err := e.Embed(context.Background(), "hello")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []float32{0.5, -0.25, 1}
		if len(got) != len(want) {
			t.Fatalf("expected %d dimensions, got %d", len(want), len(got))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("element %d: got %f, want %f", i, got[i], want[i])
			}
		}

		if len(*requests) != 1 {
			t.Fatalf("expected 1 request, got %d", len(*requests))
		}
		body := (*requests)[0]
		if body["input"] != "hello" {
			t.Errorf("expected input 'hello', got %v", body["input"])
		}
		if _, ok := body["dimensions"]; ok {
			t.Error("ada-002 requests must not carry dimensions")
		}
	})

	t.Run("sends dimensions for v3 models", func(t *testing.T) {
		server, requests := embeddingServer(t, []float64{1, 0}, http.StatusOK)
		e := NewOpenAIEmbedder("test-key",
			WithEmbeddingModel(ModelTextEmbedding3Small, 2),
			WithEmbedderBaseURL(server.URL+"/v1/"),
			WithEmbedderMaxRetries(0))

		if _, err := e.Embed(context.Background(), "hello"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		body := (*requests)[0]
		if body["model"] != ModelTextEmbedding3Small {
			t.Errorf("expected model %s, got %v", ModelTextEmbedding3Small, body["model"])
		}
		if dims, ok := body["dimensions"].(float64); !ok || dims != 2 {
			t.Errorf("expected dimensions 2, got %v", body["dimensions"])
		}
	})

	t.Run("server error", func(t *testing.T) {
		server, _ := embeddingServer(t, nil, http.StatusInternalServerError)
		e := NewOpenAIEmbedder("test-key",
			WithEmbedderBaseURL(server.URL+"/v1/"),
			WithEmbedderMaxRetries(0))

		if _, err := e.Embed(context.Background(), "hello"); err == nil {
			t.Error("expected error from failing server")
		}
	})
}
