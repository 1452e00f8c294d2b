package ouroboros

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
	"github.com/zoobzio/zyn"
)

// Reason asks the LLM to reason over the branch history with a prompt and
// records the answer as a reasoning event.
type Reason struct {
	identity    pipz.Identity
	key         string
	prompt      string
	style       string
	temperature float32
	provider    Provider
}

// NewReason creates a new reasoning primitive.
//
// Output Events:
//   - EventReasoning from source {key}, with the prompt in metadata
func NewReason(key, prompt string) *Reason {
	return &Reason{
		identity:    pipz.NewIdentity(key, "Reasons over the branch history"),
		key:         key,
		prompt:      prompt,
		style:       "clear, step-by-step reasoning ending in a concrete answer",
		temperature: DefaultReasoningTemperature,
	}
}

// Process implements pipz.Chainable[Branch].
func (r *Reason) Process(ctx context.Context, b Branch) (Branch, error) {
	start := time.Now()

	provider, err := ResolveProvider(ctx, r.provider)
	if err != nil {
		return b, fmt.Errorf("reason: %w", err)
	}

	capitan.Emit(ctx, StepStarted,
		FieldStepName.Field(r.key),
		FieldBranch.Field(b.Name()),
		FieldEventCount.Field(b.Len()),
	)

	history := RenderEvents(b.Events())
	if history == "" {
		history = "(no prior events)"
	}

	answer, err := fireTransform(ctx, provider, r.prompt, zyn.TransformInput{
		Text:        history,
		Context:     r.prompt,
		Style:       r.style,
		Temperature: r.temperature,
	})
	if err != nil {
		r.emitFailed(ctx, b, start, err)
		return b, fmt.Errorf("reason: %w", err)
	}

	out := b.Record(EventReasoning, r.key, answer, map[string]string{
		"prompt": r.prompt,
	})

	capitan.Emit(ctx, StepCompleted,
		FieldStepName.Field(r.key),
		FieldBranch.Field(out.Name()),
		FieldStepDuration.Field(time.Since(start)),
		FieldEventCount.Field(out.Len()),
	)

	return out, nil
}

func (r *Reason) emitFailed(ctx context.Context, b Branch, start time.Time, err error) {
	capitan.Error(context.WithoutCancel(ctx), StepFailed,
		FieldStepName.Field(r.key),
		FieldBranch.Field(b.Name()),
		FieldStepDuration.Field(time.Since(start)),
		FieldError.Field(err),
	)
}

// Identity implements pipz.Chainable[Branch].
func (r *Reason) Identity() pipz.Identity {
	return r.identity
}

// Schema implements pipz.Chainable[Branch].
func (r *Reason) Schema() pipz.Node {
	return pipz.Node{Identity: r.identity, Type: "reason"}
}

// Close implements pipz.Chainable[Branch].
func (r *Reason) Close() error {
	return nil
}

// WithStyle sets the answer style hint.
func (r *Reason) WithStyle(style string) *Reason {
	r.style = style
	return r
}

// WithTemperature sets the LLM temperature.
func (r *Reason) WithTemperature(temp float32) *Reason {
	r.temperature = temp
	return r
}

// WithProvider sets the provider for the LLM call.
func (r *Reason) WithProvider(p Provider) *Reason {
	r.provider = p
	return r
}
