package ouroboros

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// EpisodeStore persists episodes for an Engine.
//
// Stores are shared, externally synchronized resources; the engine issues
// requests but adds no locking of its own. Implementations are addressed by
// an endpoint and a named collection.
type EpisodeStore interface {
	// Put persists a new episode.
	Put(ctx context.Context, ep Episode) error

	// Query ranks retrievable (non-dissolved) episodes by similarity to
	// vector and returns at most topK matches, best first.
	Query(ctx context.Context, vector Vector, topK int) ([]Match, error)

	// Get loads an episode by id. Unknown ids return ErrEpisodeNotFound.
	Get(ctx context.Context, id string) (Episode, error)

	// Delete removes an episode permanently.
	Delete(ctx context.Context, id string) error

	// List returns every stored episode, including dissolved ones.
	List(ctx context.Context) ([]Episode, error)

	// SetStatus changes the status flag of a stored episode.
	SetStatus(ctx context.Context, id string, status Status) error
}

// Match is a ranked episode id returned by EpisodeStore.Query.
type Match struct {
	ID         string
	Similarity float64
}

// rank scores the retrievable episodes against query and returns the best
// topK, highest similarity first. topK <= 0 returns every match.
func rank(query Vector, episodes []Episode, topK int) []Match {
	matches := make([]Match, 0, len(episodes))
	for _, ep := range episodes {
		if !ep.Retrievable() {
			continue
		}
		matches = append(matches, Match{ID: ep.ID, Similarity: Cosine(query, ep.Embedding)})
	}
	sortMatches(matches)
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// sortMatches orders by descending similarity, breaking ties by id so
// results are deterministic.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})
}

// InMemoryEpisodeStore is a process-local EpisodeStore.
// Reads return copies; callers cannot mutate stored episodes.
type InMemoryEpisodeStore struct {
	mu       sync.RWMutex
	episodes map[string]Episode
	order    []string
}

// NewInMemoryEpisodeStore creates an empty store.
func NewInMemoryEpisodeStore() *InMemoryEpisodeStore {
	return &InMemoryEpisodeStore{
		episodes: make(map[string]Episode),
	}
}

// Put stores ep. Storing an existing id is an error; episodes are immutable.
func (s *InMemoryEpisodeStore) Put(_ context.Context, ep Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.episodes[ep.ID]; exists {
		return fmt.Errorf("episode %s already stored", ep.ID)
	}
	s.episodes[ep.ID] = ep.clone()
	s.order = append(s.order, ep.ID)
	return nil
}

// Query ranks retrievable episodes by cosine similarity.
func (s *InMemoryEpisodeStore) Query(_ context.Context, vector Vector, topK int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]Episode, 0, len(s.episodes))
	for _, id := range s.order {
		all = append(all, s.episodes[id])
	}
	return rank(vector, all, topK), nil
}

// Get returns a copy of the episode.
func (s *InMemoryEpisodeStore) Get(_ context.Context, id string) (Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.episodes[id]
	if !ok {
		return Episode{}, fmt.Errorf("%w: %s", ErrEpisodeNotFound, id)
	}
	return ep.clone(), nil
}

// Delete removes the episode.
func (s *InMemoryEpisodeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.episodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrEpisodeNotFound, id)
	}
	delete(s.episodes, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns copies of all episodes in insertion order.
func (s *InMemoryEpisodeStore) List(_ context.Context) ([]Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Episode, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.episodes[id].clone())
	}
	return out, nil
}

// SetStatus updates the status flag.
func (s *InMemoryEpisodeStore) SetStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.episodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEpisodeNotFound, id)
	}
	ep.Status = status
	s.episodes[id] = ep
	return nil
}

// Len returns the number of stored episodes.
func (s *InMemoryEpisodeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.episodes)
}

var _ EpisodeStore = (*InMemoryEpisodeStore)(nil)
