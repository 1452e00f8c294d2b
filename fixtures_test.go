package ouroboros

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/zyn"
)

// tableEmbedder maps known texts to fixed vectors.
type tableEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	err      error

	mu    sync.Mutex
	calls []string
}

func (e *tableEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls = append(e.calls, text)
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	if e.fallback != nil {
		return e.fallback, nil
	}
	return nil, errors.New("no vector for " + text)
}

func (e *tableEmbedder) Dimensions() int {
	return 3
}

// loginEmbedder places authentication-related goals near each other.
func loginEmbedder() *tableEmbedder {
	return &tableEmbedder{
		vectors: map[string][]float32{
			"How to implement login functionality": {0.9, 0.3, 0.1},
			"Implement authentication":             {1, 0.2, 0},
			"Add user registration":                {0.6, 0.8, 0},
			"Deploy to production":                 {0, 0.1, 1},
		},
		fallback: []float32{0.3, 0.3, 0.3},
	}
}

// transformProvider answers zyn transform synapses with a fixed output.
type transformProvider struct {
	output string
	err    error

	mu       sync.Mutex
	calls    int
	messages []zyn.Message
}

func (p *transformProvider) Call(_ context.Context, messages []zyn.Message, _ float32) (*zyn.ProviderResponse, error) {
	p.mu.Lock()
	p.calls++
	p.messages = messages
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	body, err := json.Marshal(map[string]any{
		"output":     p.output,
		"confidence": 0.9,
		"changes":    []string{},
		"reasoning":  []string{},
	})
	if err != nil {
		return nil, err
	}
	return &zyn.ProviderResponse{
		Content: string(body),
		Usage:   zyn.TokenUsage{Prompt: 10, Completion: 5, Total: 15},
	}, nil
}

func (p *transformProvider) Name() string {
	return "transform"
}

func (p *transformProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestBranch(name string) Branch {
	return NewBranch(context.Background(), name, NewMapStore(), NewDataSource("memory://"+name))
}

// fixedClock returns a clock that can be advanced by tests.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T, embedder Embedder, opts ...EngineOption) (*Engine, *InMemoryEpisodeStore) {
	t.Helper()
	store := NewInMemoryEpisodeStore()
	base := []EngineOption{WithEngineEmbedder(embedder)}
	return NewEngine(store, append(base, opts...)...), store
}
