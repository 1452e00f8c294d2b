package ouroboros

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
	"github.com/zoobzio/zyn"
)

// Reflect summarizes a branch's events into a single reflection event.
// This lets a long-running branch step back and compress its own history.
type Reflect struct {
	identity    pipz.Identity
	key         string
	prompt      string
	kinds       []string
	temperature float32
	provider    Provider
}

// NewReflect creates a new reflect primitive.
//
// The primitive:
//  1. Gathers events from the branch (optionally only some kinds)
//  2. Renders them to text
//  3. Summarizes via LLM transform synapse
//  4. Records the summary as an EventReflection
//
// Example:
//
//	reflect := ouroboros.NewReflect("consolidated_context").
//	    WithPrompt("Synthesize all findings into key insights and next steps")
//	branch, _ = reflect.Process(ctx, branch)
func NewReflect(key string) *Reflect {
	return &Reflect{
		identity:    pipz.NewIdentity(key, "Summarizes branch history into a reflection"),
		key:         key,
		prompt:      "Synthesize the branch history into key insights, decisions made, and important findings",
		temperature: DefaultReflectionTemperature,
	}
}

// Process implements pipz.Chainable[Branch].
func (r *Reflect) Process(ctx context.Context, b Branch) (Branch, error) {
	start := time.Now()

	provider, err := ResolveProvider(ctx, r.provider)
	if err != nil {
		return b, fmt.Errorf("reflect: %w", err)
	}

	events := r.gather(b)

	capitan.Emit(ctx, StepStarted,
		FieldStepName.Field(r.key),
		FieldBranch.Field(b.Name()),
		FieldEventCount.Field(len(events)),
	)

	if len(events) == 0 {
		err := Validation("no events to reflect on")
		r.emitFailed(ctx, b, start, err)
		return b, fmt.Errorf("reflect: %w", err)
	}

	reflection, err := fireTransform(ctx, provider, r.prompt, zyn.TransformInput{
		Text:        RenderEvents(events),
		Style:       r.prompt,
		Temperature: r.temperature,
	})
	if err != nil {
		r.emitFailed(ctx, b, start, err)
		return b, fmt.Errorf("reflect: %w", err)
	}

	out := b.Record(EventReflection, r.key, reflection, map[string]string{
		"source_event_count": fmt.Sprintf("%d", len(events)),
	})

	capitan.Emit(ctx, StepCompleted,
		FieldStepName.Field(r.key),
		FieldBranch.Field(out.Name()),
		FieldStepDuration.Field(time.Since(start)),
		FieldEventCount.Field(out.Len()),
	)

	return out, nil
}

func (r *Reflect) gather(b Branch) []Event {
	events := b.Events()
	if len(r.kinds) == 0 {
		return events
	}
	return slices.DeleteFunc(events, func(e Event) bool {
		return !slices.Contains(r.kinds, e.Kind)
	})
}

func (r *Reflect) emitFailed(ctx context.Context, b Branch, start time.Time, err error) {
	capitan.Error(context.WithoutCancel(ctx), StepFailed,
		FieldStepName.Field(r.key),
		FieldBranch.Field(b.Name()),
		FieldStepDuration.Field(time.Since(start)),
		FieldError.Field(err),
	)
}

// Identity implements pipz.Chainable[Branch].
func (r *Reflect) Identity() pipz.Identity {
	return r.identity
}

// Schema implements pipz.Chainable[Branch].
func (r *Reflect) Schema() pipz.Node {
	return pipz.Node{Identity: r.identity, Type: "reflect"}
}

// Close implements pipz.Chainable[Branch].
func (r *Reflect) Close() error {
	return nil
}

// Builder methods

// WithPrompt sets a custom reflection prompt.
func (r *Reflect) WithPrompt(prompt string) *Reflect {
	r.prompt = prompt
	return r
}

// WithKinds limits reflection to events of the given kinds.
func (r *Reflect) WithKinds(kinds ...string) *Reflect {
	r.kinds = kinds
	return r
}

// WithTemperature sets the LLM temperature.
func (r *Reflect) WithTemperature(temp float32) *Reflect {
	r.temperature = temp
	return r
}

// WithProvider sets the provider for the LLM call.
func (r *Reflect) WithProvider(p Provider) *Reflect {
	r.provider = p
	return r
}
