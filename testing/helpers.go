// Package ouroborostest provides test utilities for ouroboros.
package ouroborostest

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"math/rand"
	"sync"
	"testing"

	"github.com/zoobzio/ouroboros"
	"github.com/zoobzio/zyn"
)

// StaticEmbedder returns fixed vectors for known texts and a deterministic
// pseudo-random vector for anything else.
type StaticEmbedder struct {
	vectors    map[string][]float32
	dimensions int

	mu    sync.Mutex
	calls []string
}

// NewStaticEmbedder creates an embedder producing vectors of the given size.
func NewStaticEmbedder(dimensions int) *StaticEmbedder {
	return &StaticEmbedder{
		vectors:    make(map[string][]float32),
		dimensions: dimensions,
	}
}

// Set fixes the vector returned for text.
func (e *StaticEmbedder) Set(text string, vector []float32) *StaticEmbedder {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[text] = vector
	return e
}

// Embed implements ouroboros.Embedder.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, text)
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	r := rand.New(rand.NewSource(int64(h.Sum64())))
	v := make([]float32, e.dimensions)
	for i := range v {
		v[i] = r.Float32() + 0.01
	}
	return v, nil
}

// Dimensions implements ouroboros.Embedder.
func (e *StaticEmbedder) Dimensions() int {
	return e.dimensions
}

// Calls returns the texts embedded so far.
func (e *StaticEmbedder) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

var _ ouroboros.Embedder = (*StaticEmbedder)(nil)

// FailingStore wraps an EpisodeStore and fails the operations whose error is set.
type FailingStore struct {
	ouroboros.EpisodeStore

	PutErr       error
	QueryErr     error
	GetErr       error
	DeleteErr    error
	ListErr      error
	SetStatusErr error
}

// NewFailingStore wraps an in-memory store.
func NewFailingStore() *FailingStore {
	return &FailingStore{EpisodeStore: ouroboros.NewInMemoryEpisodeStore()}
}

// Put implements ouroboros.EpisodeStore.
func (s *FailingStore) Put(ctx context.Context, ep ouroboros.Episode) error {
	if s.PutErr != nil {
		return s.PutErr
	}
	return s.EpisodeStore.Put(ctx, ep)
}

// Query implements ouroboros.EpisodeStore.
func (s *FailingStore) Query(ctx context.Context, v ouroboros.Vector, topK int) ([]ouroboros.Match, error) {
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	return s.EpisodeStore.Query(ctx, v, topK)
}

// Get implements ouroboros.EpisodeStore.
func (s *FailingStore) Get(ctx context.Context, id string) (ouroboros.Episode, error) {
	if s.GetErr != nil {
		return ouroboros.Episode{}, s.GetErr
	}
	return s.EpisodeStore.Get(ctx, id)
}

// Delete implements ouroboros.EpisodeStore.
func (s *FailingStore) Delete(ctx context.Context, id string) error {
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	return s.EpisodeStore.Delete(ctx, id)
}

// List implements ouroboros.EpisodeStore.
func (s *FailingStore) List(ctx context.Context) ([]ouroboros.Episode, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return s.EpisodeStore.List(ctx)
}

// SetStatus implements ouroboros.EpisodeStore.
func (s *FailingStore) SetStatus(ctx context.Context, id string, status ouroboros.Status) error {
	if s.SetStatusErr != nil {
		return s.SetStatusErr
	}
	return s.EpisodeStore.SetStatus(ctx, id, status)
}

var _ ouroboros.EpisodeStore = (*FailingStore)(nil)

// TransformProvider answers zyn transform synapses with a fixed output.
type TransformProvider struct {
	Output string
	Err    error

	mu    sync.Mutex
	calls int
}

// Call implements ouroboros.Provider.
func (p *TransformProvider) Call(_ context.Context, _ []zyn.Message, _ float32) (*zyn.ProviderResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	body, err := json.Marshal(map[string]any{
		"output":     p.Output,
		"confidence": 0.9,
		"changes":    []string{},
		"reasoning":  []string{},
	})
	if err != nil {
		return nil, err
	}
	return &zyn.ProviderResponse{Content: string(body)}, nil
}

// Name implements ouroboros.Provider.
func (p *TransformProvider) Name() string {
	return "ouroborostest"
}

// Calls returns the number of provider calls.
func (p *TransformProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// NewTestBranch creates an empty branch on a fresh MapStore.
func NewTestBranch(t *testing.T, name string) ouroboros.Branch {
	t.Helper()
	return ouroboros.NewBranch(context.Background(), name, ouroboros.NewMapStore(), ouroboros.NewDataSource("memory://"+name))
}

// NewTestEngine creates an engine over a fresh in-memory store.
func NewTestEngine(t *testing.T, embedder ouroboros.Embedder, opts ...ouroboros.EngineOption) *ouroboros.Engine {
	t.Helper()
	base := []ouroboros.EngineOption{ouroboros.WithEngineEmbedder(embedder)}
	return ouroboros.NewEngine(ouroboros.NewInMemoryEpisodeStore(), append(base, opts...)...)
}

// RequireEventKinds asserts the branch's events have exactly these kinds, in order.
func RequireEventKinds(t *testing.T, b ouroboros.Branch, kinds ...string) {
	t.Helper()
	events := b.Events()
	if len(events) != len(kinds) {
		t.Fatalf("expected %d events, got %d", len(kinds), len(events))
	}
	for i, e := range events {
		if e.Kind != kinds[i] {
			t.Fatalf("event %d: expected kind %q, got %q", i, kinds[i], e.Kind)
		}
	}
}

// RequireLastEvent asserts the most recent event's kind and content.
func RequireLastEvent(t *testing.T, b ouroboros.Branch, kind, content string) {
	t.Helper()
	opt := b.LastEvent()
	if opt.IsNone() {
		t.Fatal("expected at least one event, branch is empty")
	}
	last := opt.GetOrDefault(ouroboros.Event{})
	if last.Kind != kind || last.Content != content {
		t.Fatalf("expected last event %s %q, got %s %q", kind, content, last.Kind, last.Content)
	}
}
