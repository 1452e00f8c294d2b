package ouroboros

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
)

// Pipeline is a fluent builder for branch pipelines.
//
// Example:
//
//	p := ouroboros.NewPipeline("triage").
//	    Step(classify).
//	    Retry(3).
//	    Use(ouroboros.NewReason("plan", "Propose the next action")).
//	    Timeout(30 * time.Second)
//	result := p.Execute(ctx, branch)
type Pipeline struct {
	name  string
	env   Env
	links []link
}

type link struct {
	name  string
	build func(env Env) pipz.Chainable[Branch]
}

// NewPipeline creates an empty pipeline. An empty pipeline returns its
// input branch unchanged.
func NewPipeline(name string) *Pipeline {
	return &Pipeline{name: name}
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// WithEnv sets the shared context passed to every Step in the pipeline.
func (p *Pipeline) WithEnv(env Env) *Pipeline {
	p.env = env
	return p
}

// Step appends a typed step. Its trace log is recorded on the branch as
// EventTrace events.
func (p *Pipeline) Step(s Step[Branch, Branch]) *Pipeline {
	return p.add(s.Name(), func(env Env) pipz.Chainable[Branch] {
		return &stepProcessor{
			identity: pipz.NewIdentity(s.Name(), "Typed step over a branch"),
			step:     s,
			env:      env,
		}
	})
}

// Use appends any branch chainable.
func (p *Pipeline) Use(c pipz.Chainable[Branch]) *Pipeline {
	return p.add(c.Identity().Name(), func(Env) pipz.Chainable[Branch] {
		return c
	})
}

// Do appends a fallible function over the branch.
func (p *Pipeline) Do(name string, fn func(context.Context, Branch) (Branch, error)) *Pipeline {
	return p.Use(Process(name, fn))
}

// Transform appends an infallible function over the branch.
func (p *Pipeline) Transform(name string, fn func(context.Context, Branch) Branch) *Pipeline {
	return p.Use(Update(name, fn))
}

// Effect appends an observer that does not change the branch.
func (p *Pipeline) Effect(name string, fn func(context.Context, Branch) error) *Pipeline {
	return p.Use(Effect(name, fn))
}

// Remember appends s wrapped with episodic memory.
func (p *Pipeline) Remember(engine *Engine, s Step[Branch, Branch], goal func(Branch) string, topK int) *Pipeline {
	return p.Step(WrapWithMemory(engine, s, goal, topK))
}

// Retry retries the most recently added link.
func (p *Pipeline) Retry(attempts int) *Pipeline {
	return p.wrapLast(func(name string, inner pipz.Chainable[Branch]) pipz.Chainable[Branch] {
		return Retry(name+"-retry", inner, attempts)
	})
}

// Backoff retries the most recently added link with exponential backoff.
func (p *Pipeline) Backoff(attempts int, baseDelay time.Duration) *Pipeline {
	return p.wrapLast(func(name string, inner pipz.Chainable[Branch]) pipz.Chainable[Branch] {
		return Backoff(name+"-backoff", inner, attempts, baseDelay)
	})
}

// Timeout bounds the most recently added link.
func (p *Pipeline) Timeout(d time.Duration) *Pipeline {
	return p.wrapLast(func(name string, inner pipz.Chainable[Branch]) pipz.Chainable[Branch] {
		return Timeout(name+"-timeout", inner, d)
	})
}

// Fallback tries alternatives when the most recently added link fails.
func (p *Pipeline) Fallback(alternatives ...pipz.Chainable[Branch]) *Pipeline {
	return p.wrapLast(func(name string, inner pipz.Chainable[Branch]) pipz.Chainable[Branch] {
		return Fallback(name+"-fallback", append([]pipz.Chainable[Branch]{inner}, alternatives...)...)
	})
}

// When runs the most recently added link only if predicate holds.
func (p *Pipeline) When(predicate func(context.Context, Branch) bool) *Pipeline {
	return p.wrapLast(func(name string, inner pipz.Chainable[Branch]) pipz.Chainable[Branch] {
		return Filter(name+"-when", predicate, inner)
	})
}

// Build assembles the pipeline into a single chainable.
func (p *Pipeline) Build() pipz.Chainable[Branch] {
	processors := make([]pipz.Chainable[Branch], len(p.links))
	for i, l := range p.links {
		processors[i] = l.build(p.env)
	}
	return Sequence(p.name, processors...)
}

// Run executes the pipeline. On failure the input branch is returned
// alongside the error; no partially processed branch escapes.
func (p *Pipeline) Run(ctx context.Context, b Branch) (Branch, error) {
	if ctx.Err() != nil {
		return b, cancelled(ctx, p.name)
	}

	start := time.Now()
	capitan.Emit(ctx, PipelineStarted,
		FieldPipeline.Field(p.name),
		FieldBranch.Field(b.Name()),
		FieldEventCount.Field(b.Len()),
	)

	out := b
	var err error
	if len(p.links) > 0 {
		out, err = p.Build().Process(ctx, b)
	}

	if err != nil {
		if ctx.Err() != nil && !IsCancelled(err) {
			err = fmt.Errorf("%w: pipeline %q: %w", ErrCancelled, p.name, err)
		}
		// A cancelled ctx would drop the event.
		capitan.Error(context.WithoutCancel(ctx), PipelineFailed,
			FieldPipeline.Field(p.name),
			FieldBranch.Field(b.Name()),
			FieldStepDuration.Field(time.Since(start)),
			FieldError.Field(err),
		)
		return b, err
	}

	capitan.Emit(ctx, PipelineCompleted,
		FieldPipeline.Field(p.name),
		FieldBranch.Field(out.Name()),
		FieldEventCount.Field(out.Len()),
		FieldStepDuration.Field(time.Since(start)),
	)
	return out, nil
}

// Execute runs the pipeline and reports the outcome as a Result.
func (p *Pipeline) Execute(ctx context.Context, b Branch) Result[Branch, ErrorInfo] {
	out, err := p.Run(ctx, b)
	if err != nil {
		return Failure[Branch](NewErrorInfo(p.name, b, err))
	}
	return Success[Branch, ErrorInfo](out)
}

// AsStep exposes the pipeline as an async step so it composes with Then.
func (p *Pipeline) AsStep() Step[Branch, Branch] {
	return leaf(p.name, ModeAsync, func(ctx context.Context, b Branch, _ Env) (Branch, Log, error) {
		out, err := p.Run(ctx, b)
		return out, nil, err
	})
}

func (p *Pipeline) add(name string, build func(Env) pipz.Chainable[Branch]) *Pipeline {
	p.links = append(p.links, link{name: name, build: build})
	return p
}

func (p *Pipeline) wrapLast(wrap func(name string, inner pipz.Chainable[Branch]) pipz.Chainable[Branch]) *Pipeline {
	if len(p.links) == 0 {
		return p
	}
	last := p.links[len(p.links)-1]
	p.links[len(p.links)-1] = link{
		name: last.name,
		build: func(env Env) pipz.Chainable[Branch] {
			return wrap(last.name, last.build(env))
		},
	}
	return p
}

// stepProcessor adapts a typed Step to pipz.
type stepProcessor struct {
	identity pipz.Identity
	step     Step[Branch, Branch]
	env      Env
}

// Process implements pipz.Chainable[Branch].
func (s *stepProcessor) Process(ctx context.Context, b Branch) (Branch, error) {
	out, log, err := s.step.RunWith(ctx, b, s.env)
	if err != nil {
		return b, err
	}
	for _, line := range log {
		out = out.Record(EventTrace, s.step.Name(), line, nil)
	}
	return out, nil
}

// Identity implements pipz.Chainable[Branch].
func (s *stepProcessor) Identity() pipz.Identity {
	return s.identity
}

// Schema implements pipz.Chainable[Branch].
func (s *stepProcessor) Schema() pipz.Node {
	return pipz.Node{Identity: s.identity, Type: "step"}
}

// Close implements pipz.Chainable[Branch].
func (s *stepProcessor) Close() error {
	return nil
}
