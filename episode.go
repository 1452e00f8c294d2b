package ouroboros

import (
	"maps"
	"slices"
	"time"
)

// Status is the only mutable attribute of a stored episode.
type Status string

const (
	// StatusActive episodes are eligible for retrieval and consolidation.
	StatusActive Status = "active"
	// StatusConsolidated episodes survived consolidation and stay retrievable.
	StatusConsolidated Status = "consolidated"
	// StatusDissolved episodes are soft-deleted and excluded from retrieval.
	StatusDissolved Status = "dissolved"
)

// Outcome summarizes how an execution ended.
type Outcome struct {
	Success  bool          `json:"success"`
	Summary  string        `json:"summary"`
	Duration time.Duration `json:"duration"`
	Errors   []string      `json:"errors,omitempty"`
	// Quality scores the outcome in [0, 1]. Consolidation strategies rank by it.
	Quality float64 `json:"quality"`
}

// Execution describes what was attempted.
type Execution struct {
	Goal   string
	Input  string
	Output string
}

// Episode is a recorded past execution.
type Episode struct {
	ID        string            `json:"id"`
	Goal      string            `json:"goal"`
	Outcome   Outcome           `json:"outcome"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding Vector            `json:"embedding"`
	Status    Status            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// Metadata keys written by the engine.
const (
	MetaBranch     = "branch"
	MetaParent     = "parent_branch"
	MetaDataSource = "data_source"
	MetaInput      = "input"
	MetaOutput     = "output"
	MetaEventCount = "event_count"
)

// Retrievable reports whether the episode may be returned by similarity search.
func (e Episode) Retrievable() bool {
	return e.Status != StatusDissolved
}

// Age returns how long ago the episode was stored, relative to now.
func (e Episode) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// clone returns a copy that shares no mutable state with e.
func (e Episode) clone() Episode {
	e.Metadata = maps.Clone(e.Metadata)
	e.Embedding = slices.Clone(e.Embedding)
	e.Outcome.Errors = slices.Clone(e.Outcome.Errors)
	return e
}

// ScoredEpisode pairs an episode with its similarity to a query.
type ScoredEpisode struct {
	Episode    Episode
	Similarity float64
}
