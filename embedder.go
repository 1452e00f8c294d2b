package ouroboros

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector dimensions produced by this embedder.
	Dimensions() int
}

// ErrNoEmbedder is returned when no embedder is configured.
var ErrNoEmbedder = fmt.Errorf("no embedder configured")

// Global embedder state.
var (
	globalEmbedder   Embedder
	globalEmbedderMu sync.RWMutex
)

// SetEmbedder sets the global embedder instance.
func SetEmbedder(e Embedder) {
	globalEmbedderMu.Lock()
	defer globalEmbedderMu.Unlock()
	globalEmbedder = e
}

// GetEmbedder returns the global embedder instance.
func GetEmbedder() Embedder {
	globalEmbedderMu.RLock()
	defer globalEmbedderMu.RUnlock()
	return globalEmbedder
}

type embedderKey struct{}

// WithEmbedder returns a context with the given embedder.
func WithEmbedder(ctx context.Context, e Embedder) context.Context {
	return context.WithValue(ctx, embedderKey{}, e)
}

// EmbedderFromContext retrieves an embedder from context.
func EmbedderFromContext(ctx context.Context) (Embedder, bool) {
	e, ok := ctx.Value(embedderKey{}).(Embedder)
	return e, ok
}

// ResolveEmbedder finds an embedder using the resolution hierarchy:
// 1. Explicit embedder parameter (if non-nil)
// 2. Context embedder
// 3. Global embedder.
func ResolveEmbedder(ctx context.Context, explicit Embedder) (Embedder, error) {
	if explicit != nil {
		return explicit, nil
	}
	if e, ok := EmbedderFromContext(ctx); ok {
		return e, nil
	}
	if e := GetEmbedder(); e != nil {
		return e, nil
	}
	return nil, ErrNoEmbedder
}

// OpenAI embedding models and their dimensions.
const (
	ModelTextEmbeddingAda002  = "text-embedding-ada-002"
	ModelTextEmbedding3Small  = "text-embedding-3-small"
	ModelTextEmbedding3Large  = "text-embedding-3-large"
	DimensionsAda002          = 1536
	DimensionsTextEmbedding3S = 1536
	DimensionsTextEmbedding3L = 3072
)

// OpenAIEmbedder implements Embedder using the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
}

type openAIEmbedderConfig struct {
	model      string
	dimensions int
	options    []option.RequestOption
}

// OpenAIEmbedderOption configures an OpenAIEmbedder.
type OpenAIEmbedderOption func(*openAIEmbedderConfig)

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model string, dimensions int) OpenAIEmbedderOption {
	return func(c *openAIEmbedderConfig) {
		c.model = model
		c.dimensions = dimensions
	}
}

// WithEmbedderBaseURL sets a custom base URL (for proxies or compatible APIs).
func WithEmbedderBaseURL(url string) OpenAIEmbedderOption {
	return func(c *openAIEmbedderConfig) {
		c.options = append(c.options, option.WithBaseURL(url))
	}
}

// WithEmbedderHTTPClient sets a custom HTTP client.
func WithEmbedderHTTPClient(client *http.Client) OpenAIEmbedderOption {
	return func(c *openAIEmbedderConfig) {
		c.options = append(c.options, option.WithHTTPClient(client))
	}
}

// WithEmbedderMaxRetries sets how often the client retries a failed request.
func WithEmbedderMaxRetries(n int) OpenAIEmbedderOption {
	return func(c *openAIEmbedderConfig) {
		c.options = append(c.options, option.WithMaxRetries(n))
	}
}

// NewOpenAIEmbedder creates an OpenAI embedder with the given API key.
func NewOpenAIEmbedder(apiKey string, opts ...OpenAIEmbedderOption) *OpenAIEmbedder {
	cfg := &openAIEmbedderConfig{
		model:      ModelTextEmbeddingAda002,
		dimensions: DimensionsAda002,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, cfg.options...)
	return &OpenAIEmbedder{
		client:     openai.NewClient(reqOpts...),
		model:      cfg.model,
		dimensions: cfg.dimensions,
	}
}

// Embed generates an embedding for the given text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	}
	// ada-002 rejects an explicit dimensions parameter.
	if e.model != ModelTextEmbeddingAda002 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	raw := resp.Data[0].Embedding
	out := make([]float32, len(raw))
	for i, f := range raw {
		out[i] = float32(f)
	}
	return out, nil
}

// Dimensions returns the vector dimensions for this embedder.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

var _ Embedder = (*OpenAIEmbedder)(nil)
