package ouroboros

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
	"github.com/zoobzio/zyn"
)

// Seek recalls past episodes similar to a query and records them on the
// branch as recall events, optionally followed by an LLM synthesis of the
// results.
type Seek struct {
	identity      pipz.Identity
	key           string
	query         string
	engine        *Engine
	limit         int
	minSimilarity float64
	synthesize    bool
	temperature   float32
	provider      Provider
}

// NewSeek creates a new semantic recall primitive backed by engine.
func NewSeek(key, query string, engine *Engine) *Seek {
	return &Seek{
		identity:      pipz.NewIdentity(key, "Recalls similar episodes onto the branch"),
		key:           key,
		query:         query,
		engine:        engine,
		limit:         engine.topK,
		minSimilarity: engine.minSimilarity,
		temperature:   DefaultReasoningTemperature,
	}
}

// WithLimit sets the maximum number of episodes to recall.
func (s *Seek) WithLimit(limit int) *Seek {
	s.limit = limit
	return s
}

// WithMinSimilarity sets the recall threshold.
func (s *Seek) WithMinSimilarity(min float64) *Seek {
	s.minSimilarity = min
	return s
}

// WithSynthesis enables an LLM summary of the recalled episodes.
func (s *Seek) WithSynthesis() *Seek {
	s.synthesize = true
	return s
}

// WithTemperature sets the temperature for the synthesis step.
func (s *Seek) WithTemperature(temp float32) *Seek {
	s.temperature = temp
	return s
}

// WithProvider sets a specific provider for synthesis.
func (s *Seek) WithProvider(p Provider) *Seek {
	s.provider = p
	return s
}

// Process implements pipz.Chainable[Branch].
func (s *Seek) Process(ctx context.Context, b Branch) (Branch, error) {
	start := time.Now()

	capitan.Emit(ctx, StepStarted,
		FieldStepName.Field(s.key),
		FieldBranch.Field(b.Name()),
		FieldQuery.Field(s.query),
		FieldTopK.Field(s.limit),
	)

	recalled := s.engine.RetrieveSimilarEpisodes(ctx, s.query, s.limit, s.minSimilarity)
	if recalled.IsFailure() {
		info := failureOf(recalled)
		s.emitFailed(ctx, b, start, info)
		return b, fmt.Errorf("seek: %w", info)
	}
	episodes := recalled.GetOrDefault(nil)

	out := b
	var digest strings.Builder
	for i, se := range episodes {
		content := fmt.Sprintf("%s (%s)", se.Episode.Goal, se.Episode.Outcome.Summary)
		out = out.Record(EventRecall, s.key, content, map[string]string{
			"episode_id": se.Episode.ID,
			"similarity": strconv.FormatFloat(se.Similarity, 'f', 4, 64),
			"success":    strconv.FormatBool(se.Episode.Outcome.Success),
		})

		fmt.Fprintf(&digest, "--- Episode %d ---\n", i+1)
		fmt.Fprintf(&digest, "Goal: %s\n", se.Episode.Goal)
		fmt.Fprintf(&digest, "Outcome: %s (success=%t, quality=%.2f)\n",
			se.Episode.Outcome.Summary, se.Episode.Outcome.Success, se.Episode.Outcome.Quality)
		for _, e := range se.Episode.Outcome.Errors {
			fmt.Fprintf(&digest, "Error: %s\n", e)
		}
		digest.WriteString("\n")
	}

	if s.synthesize && len(episodes) > 0 {
		summary, err := s.synthesizeResults(ctx, digest.String())
		if err != nil {
			s.emitFailed(ctx, b, start, err)
			return b, fmt.Errorf("seek: %w", err)
		}
		out = out.Record(EventRecall, s.key, summary, map[string]string{
			"query":     s.query,
			"synthesis": "true",
		})
	}

	capitan.Emit(ctx, StepCompleted,
		FieldStepName.Field(s.key),
		FieldBranch.Field(out.Name()),
		FieldStepDuration.Field(time.Since(start)),
		FieldResultCount.Field(len(episodes)),
	)

	return out, nil
}

func (s *Seek) synthesizeResults(ctx context.Context, results string) (string, error) {
	provider, err := ResolveProvider(ctx, s.provider)
	if err != nil {
		return "", err
	}

	return fireTransform(ctx, provider, "Synthesize recalled episodes into guidance", zyn.TransformInput{
		Text:        results,
		Context:     fmt.Sprintf("Query: %s\n\nSummarize what these past attempts teach about the query.", s.query),
		Style:       "concise, factual guidance highlighting what worked and what failed",
		Temperature: s.temperature,
	})
}

func (s *Seek) emitFailed(ctx context.Context, b Branch, start time.Time, err error) {
	capitan.Error(context.WithoutCancel(ctx), StepFailed,
		FieldStepName.Field(s.key),
		FieldBranch.Field(b.Name()),
		FieldStepDuration.Field(time.Since(start)),
		FieldError.Field(err),
	)
}

// Identity implements pipz.Chainable[Branch].
func (s *Seek) Identity() pipz.Identity {
	return s.identity
}

// Schema implements pipz.Chainable[Branch].
func (s *Seek) Schema() pipz.Node {
	return pipz.Node{Identity: s.identity, Type: "seek"}
}

// Close implements pipz.Chainable[Branch].
func (s *Seek) Close() error {
	return nil
}
