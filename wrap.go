package ouroboros

import (
	"context"
	"strings"
	"time"
)

type recalledKey struct{}

// WithRecalled returns a context carrying recalled episodes.
func WithRecalled(ctx context.Context, episodes []ScoredEpisode) context.Context {
	return context.WithValue(ctx, recalledKey{}, episodes)
}

// RecalledFromContext returns the episodes recalled for the running
// memory-wrapped step, if any were retrieved.
func RecalledFromContext(ctx context.Context) ([]ScoredEpisode, bool) {
	eps, ok := ctx.Value(recalledKey{}).([]ScoredEpisode)
	return eps, ok
}

// WrapWithMemory decorates s with episodic memory. For each invocation it
//  1. recalls up to topK episodes similar to goal(in) and exposes them via RecalledFromContext
//  2. runs s
//  3. stores exactly one episode describing the input, output, and outcome
//  4. returns the result of s unchanged
//
// The wrapped step has the same input and output types as s and composes
// with Then the same way. Memory failures are governed by the engine's
// Durability. Cancelled runs store nothing. A topK of zero uses the
// engine's recall limit. When goal returns a blank string the step name
// stands in as the goal, so every run is still recalled and stored.
func WrapWithMemory[In, Out any](engine *Engine, s Step[In, Out], goal func(In) string, topK int) Step[In, Out] {
	return Step[In, Out]{
		name:  s.name,
		entry: s.entry,
		mode:  widen(s.mode, ModeAsync),
		run: func(ctx context.Context, in In, env Env) (Out, Log, error) {
			var zero Out
			if ctx.Err() != nil {
				return zero, nil, cancelled(ctx, s.entry)
			}

			g := goal(in)
			if strings.TrimSpace(g) == "" {
				g = s.name
			}
			k := topK
			if k <= 0 {
				k = engine.topK
			}
			recalled := engine.RetrieveSimilarEpisodes(ctx, g, k, engine.minSimilarity)
			if recalled.IsFailure() {
				info := failureOf(recalled)
				if info.Kind == KindCancelled {
					return zero, nil, info
				}
				if engine.durability == Required {
					return zero, nil, &StepError{Step: s.name, Input: snapshot(in), Err: info}
				}
			}
			runCtx := MatchResult(recalled,
				func(eps []ScoredEpisode) context.Context { return WithRecalled(ctx, eps) },
				func(ErrorInfo) context.Context { return ctx },
			)

			start := time.Now()
			out, log, err := s.RunWith(runCtx, in, env)
			if err != nil && IsCancelled(err) {
				return zero, log, err
			}

			outcome := Outcome{
				Success:  err == nil,
				Summary:  "completed",
				Duration: time.Since(start),
				Quality:  1,
			}
			exec := Execution{Goal: g, Input: snapshot(in)}
			if err != nil {
				outcome.Summary = "failed"
				outcome.Errors = []string{err.Error()}
				outcome.Quality = 0
			} else {
				exec.Output = snapshot(out)
			}

			branch, _ := any(in).(Branch)
			stored := engine.StoreEpisode(ctx, branch, exec, outcome, map[string]string{"step": s.name})
			if err != nil {
				return out, log, err
			}
			if stored.IsFailure() && engine.durability == Required {
				return zero, log, &StepError{Step: s.name, Input: snapshot(in), Err: failureOf(stored)}
			}
			return out, log, nil
		},
	}
}

func failureOf[T any](r Result[T, ErrorInfo]) ErrorInfo {
	return MatchResult(r,
		func(T) ErrorInfo { return ErrorInfo{} },
		func(info ErrorInfo) ErrorInfo { return info },
	)
}
