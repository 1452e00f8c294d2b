package ouroboros

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
)

// Durability decides what happens when a memory read or write fails
// inside a memory-wrapped step.
type Durability int

const (
	// BestEffort ignores memory failures; the wrapped step's own result is returned.
	BestEffort Durability = iota
	// Required fails the wrapped step when its episode cannot be recalled or stored.
	Required
)

func (d Durability) String() string {
	switch d {
	case BestEffort:
		return "best-effort"
	case Required:
		return "required"
	default:
		return fmt.Sprintf("durability(%d)", int(d))
	}
}

// ParseDurability parses "best-effort" or "required".
func ParseDurability(s string) (Durability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "best-effort", "besteffort":
		return BestEffort, nil
	case "required":
		return Required, nil
	default:
		return BestEffort, fmt.Errorf("%w: unknown durability %q", ErrInvalidConfig, s)
	}
}

// Engine records executions as episodes and retrieves them by semantic
// similarity of their goals.
type Engine struct {
	store         EpisodeStore
	embedder      Embedder
	durability    Durability
	topK          int
	minSimilarity float64
	consolidation time.Duration
	now           func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineEmbedder sets the embedder. Without one, the engine resolves
// an embedder from the context or the global default.
func WithEngineEmbedder(e Embedder) EngineOption {
	return func(en *Engine) {
		en.embedder = e
	}
}

// WithDurability sets the memory failure policy for wrapped steps.
func WithDurability(d Durability) EngineOption {
	return func(en *Engine) {
		en.durability = d
	}
}

// WithRecallThreshold sets the minimum similarity used when wrapped steps
// recall episodes.
func WithRecallThreshold(min float64) EngineOption {
	return func(en *Engine) {
		en.minSimilarity = min
	}
}

// WithRecallLimit sets how many episodes wrapped steps recall when they
// do not ask for a specific number.
func WithRecallLimit(k int) EngineOption {
	return func(en *Engine) {
		en.topK = k
	}
}

// WithConsolidationAge sets the age threshold used by Consolidate.
func WithConsolidationAge(d time.Duration) EngineOption {
	return func(en *Engine) {
		en.consolidation = d
	}
}

// WithClock overrides the time source used to stamp and age episodes.
func WithClock(now func() time.Time) EngineOption {
	return func(en *Engine) {
		en.now = now
	}
}

// NewEngine creates an engine over store.
func NewEngine(store EpisodeStore, opts ...EngineOption) *Engine {
	e := &Engine{
		store:         store,
		durability:    DefaultDurability,
		topK:          DefaultTopK,
		minSimilarity: DefaultMinSimilarity,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the backing episode store.
func (e *Engine) Store() EpisodeStore {
	return e.store
}

// Durability returns the configured failure policy.
func (e *Engine) Durability() Durability {
	return e.durability
}

// Close releases the backing store when it holds resources.
func (e *Engine) Close() error {
	if c, ok := e.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// StoreEpisode embeds the execution goal and persists a new episode.
// Every call produces a fresh id.
func (e *Engine) StoreEpisode(ctx context.Context, branch Branch, exec Execution, outcome Outcome, metadata map[string]string) Result[Episode, ErrorInfo] {
	const op = "store-episode"

	if strings.TrimSpace(exec.Goal) == "" {
		return Failure[Episode](e.fail(ctx, op, exec, Validation("episode goal is required")))
	}

	vec, err := e.embed(ctx, exec.Goal)
	if err != nil {
		return Failure[Episode](e.fail(ctx, op, exec.Goal, err))
	}

	meta := maps.Clone(metadata)
	if meta == nil {
		meta = make(map[string]string)
	}
	if branch.Name() != "" {
		meta[MetaBranch] = branch.Name()
		meta[MetaEventCount] = strconv.Itoa(branch.Len())
	}
	if branch.Parent() != "" {
		meta[MetaParent] = branch.Parent()
	}
	if uri := branch.DataSource().URI(); uri != "" {
		meta[MetaDataSource] = uri
	}
	if exec.Input != "" {
		meta[MetaInput] = exec.Input
	}
	if exec.Output != "" {
		meta[MetaOutput] = exec.Output
	}

	ep := Episode{
		ID:        uuid.New().String(),
		Goal:      exec.Goal,
		Outcome:   outcome,
		Metadata:  meta,
		Embedding: vec,
		Status:    StatusActive,
		CreatedAt: e.now(),
	}
	ep = ep.clone()

	if err := e.store.Put(ctx, ep); err != nil {
		return Failure[Episode](e.fail(ctx, op, exec.Goal, e.external(ctx, "put episode", err)))
	}

	capitan.Emit(ctx, EpisodeStored,
		FieldEpisodeID.Field(ep.ID),
		FieldGoal.Field(ep.Goal),
		FieldOutcome.Field(outcomeLabel(ep.Outcome)),
	)
	return Success[Episode, ErrorInfo](ep)
}

// RetrieveSimilarEpisodes returns at most topK episodes whose goal
// similarity to query is at least minSimilarity, best first.
// No matches is an empty success, not a failure.
func (e *Engine) RetrieveSimilarEpisodes(ctx context.Context, query string, topK int, minSimilarity float64) Result[[]ScoredEpisode, ErrorInfo] {
	const op = "retrieve-similar-episodes"

	switch {
	case strings.TrimSpace(query) == "":
		return Failure[[]ScoredEpisode](e.fail(ctx, op, query, Validation("query is required")))
	case topK <= 0:
		return Failure[[]ScoredEpisode](e.fail(ctx, op, query, Validation("top-k must be positive, got %d", topK)))
	case math.IsNaN(minSimilarity) || minSimilarity < 0 || minSimilarity > 1:
		return Failure[[]ScoredEpisode](e.fail(ctx, op, query, Validation("min similarity must be within [0, 1], got %v", minSimilarity)))
	}

	vec, err := e.embed(ctx, query)
	if err != nil {
		return Failure[[]ScoredEpisode](e.fail(ctx, op, query, err))
	}

	matches, err := e.store.Query(ctx, vec, topK)
	if err != nil {
		return Failure[[]ScoredEpisode](e.fail(ctx, op, query, e.external(ctx, "query episodes", err)))
	}

	found := make([]ScoredEpisode, 0, len(matches))
	for _, m := range matches {
		ep, err := e.store.Get(ctx, m.ID)
		if err != nil {
			// The store is eventually consistent; a match may vanish before it is loaded.
			if errors.Is(err, ErrEpisodeNotFound) {
				continue
			}
			return Failure[[]ScoredEpisode](e.fail(ctx, op, query, e.external(ctx, "get episode", err)))
		}
		if !ep.Retrievable() {
			continue
		}
		sim := Cosine(vec, ep.Embedding)
		if sim < minSimilarity {
			continue
		}
		found = append(found, ScoredEpisode{Episode: ep, Similarity: sim})
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].Similarity != found[j].Similarity {
			return found[i].Similarity > found[j].Similarity
		}
		return found[i].Episode.ID < found[j].Episode.ID
	})
	if len(found) > topK {
		found = found[:topK]
	}

	capitan.Emit(ctx, EpisodesRetrieved,
		FieldQuery.Field(query),
		FieldTopK.Field(topK),
		FieldMinSimilarity.Field(float32(minSimilarity)),
		FieldResultCount.Field(len(found)),
	)
	return Success[[]ScoredEpisode, ErrorInfo](found)
}

// ConsolidateMemories applies strategy to the episodes at least
// ageThreshold old. Decisions naming younger or unknown episodes are
// skipped, so no strategy can touch an episode before it has aged.
func (e *Engine) ConsolidateMemories(ctx context.Context, ageThreshold time.Duration, strategy ConsolidationStrategy) Result[ConsolidationReport, ErrorInfo] {
	const op = "consolidate-memories"

	if strategy == nil {
		return Failure[ConsolidationReport](e.fail(ctx, op, ageThreshold, Validation("consolidation strategy is required")))
	}
	if ageThreshold < 0 {
		return Failure[ConsolidationReport](e.fail(ctx, op, ageThreshold, Validation("age threshold must not be negative, got %s", ageThreshold)))
	}

	all, err := e.store.List(ctx)
	if err != nil {
		return Failure[ConsolidationReport](e.fail(ctx, op, ageThreshold, e.external(ctx, "list episodes", err)))
	}

	now := e.now()
	eligible := make(map[string]bool)
	var aged []Episode
	for _, ep := range all {
		if ep.Age(now) >= ageThreshold {
			eligible[ep.ID] = true
			aged = append(aged, ep.clone())
		}
	}

	report := ConsolidationReport{
		Strategy: strategy.Name(),
		Examined: len(all),
		Aged:     len(aged),
	}

	decided := make(map[string]bool)
	for _, d := range strategy.Plan(aged, all) {
		if ctx.Err() != nil {
			return Failure[ConsolidationReport](e.fail(ctx, op, ageThreshold, cancelled(ctx, op)))
		}
		if !eligible[d.ID] || decided[d.ID] {
			report.Skipped++
			continue
		}

		var err error
		switch d.Action {
		case ActionKeep:
			report.Kept++
		case ActionConsolidate:
			err = e.store.SetStatus(ctx, d.ID, StatusConsolidated)
			report.Consolidated++
		case ActionDissolve:
			err = e.store.SetStatus(ctx, d.ID, StatusDissolved)
			report.Dissolved++
		case ActionPrune:
			err = e.store.Delete(ctx, d.ID)
			report.Pruned++
		default:
			// Unrecognized actions leave the episode untouched but count
			// as skipped, never as kept.
			decided[d.ID] = true
			report.Skipped++
			continue
		}
		if err != nil {
			return Failure[ConsolidationReport](e.fail(ctx, op, d.ID, e.external(ctx, string(d.Action)+" episode", err)))
		}
		decided[d.ID] = true
	}
	// Aged episodes the strategy did not mention are kept as they are.
	report.Kept += len(aged) - len(decided)

	capitan.Emit(ctx, MemoryConsolidated,
		FieldStrategy.Field(report.Strategy),
		FieldExamined.Field(report.Examined),
		FieldPruned.Field(report.Pruned),
		FieldConsolidated.Field(report.Consolidated),
		FieldDissolved.Field(report.Dissolved),
	)
	return Success[ConsolidationReport, ErrorInfo](report)
}

// Consolidate runs ConsolidateMemories with the engine's configured age threshold.
func (e *Engine) Consolidate(ctx context.Context, strategy ConsolidationStrategy) Result[ConsolidationReport, ErrorInfo] {
	return e.ConsolidateMemories(ctx, e.consolidation, strategy)
}

func (e *Engine) embed(ctx context.Context, text string) (Vector, error) {
	embedder, err := ResolveEmbedder(ctx, e.embedder)
	if err != nil {
		return nil, External("resolve embedder", err)
	}
	vec, err := embedder.Embed(ctx, text)
	if err != nil {
		return nil, e.external(ctx, "embed", err)
	}
	if len(vec) == 0 {
		return nil, External("embed", errors.New("embedder returned an empty vector"))
	}
	return Vector(vec), nil
}

// external classifies a collaborator failure, keeping cancellation distinct.
func (e *Engine) external(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil || IsCancelled(err) {
		return fmt.Errorf("%w: %s: %w", ErrCancelled, op, err)
	}
	return External(op, err)
}

func (e *Engine) fail(ctx context.Context, op string, input any, err error) ErrorInfo {
	info := NewErrorInfo(op, input, err)
	capitan.Error(context.WithoutCancel(ctx), MemoryFailed,
		FieldOperation.Field(op),
		FieldError.Field(err),
	)
	return info
}

func outcomeLabel(o Outcome) string {
	if o.Success {
		return "success"
	}
	return "failure"
}
