package ouroboros

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zoobzio/capitan"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/zoobzio/ouroboros")

// Mode is the declared execution shape of a Step.
// Modes are ordered: composing two steps yields the wider of the two.
type Mode int

const (
	// ModeSync steps run to completion without suspension.
	ModeSync Mode = iota
	// ModeAsync steps may suspend on external calls and honor cancellation.
	ModeAsync
	// ModeContextual steps additionally read the shared Env and emit a Log.
	ModeContextual
)

func (m Mode) String() string {
	switch m {
	case ModeSync:
		return "sync"
	case ModeAsync:
		return "async"
	case ModeContextual:
		return "contextual"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func widen(a, b Mode) Mode {
	if a > b {
		return a
	}
	return b
}

// runFunc is the widest step shape. Every mode is stored in this form.
type runFunc[In, Out any] func(context.Context, In, Env) (Out, Log, error)

// Step is a typed unit of work from In to Out with a declared Mode.
// Steps are values; composing them never modifies the operands.
type Step[In, Out any] struct {
	name  string
	entry string // first leaf executed, used to name cancellation points
	mode  Mode
	run   runFunc[In, Out]
}

// Transform creates a synchronous step from an infallible function.
func Transform[In, Out any](name string, fn func(In) Out) Step[In, Out] {
	return leaf(name, ModeSync, func(_ context.Context, in In, _ Env) (Out, Log, error) {
		return fn(in), nil, nil
	})
}

// Do creates a synchronous step from a function that may fail.
func Do[In, Out any](name string, fn func(In) (Out, error)) Step[In, Out] {
	return leaf(name, ModeSync, func(_ context.Context, in In, _ Env) (Out, Log, error) {
		out, err := fn(in)
		return out, nil, err
	})
}

// Async creates a step that may suspend. The step is not started when
// ctx is already done, and fn is expected to abandon work when it ends.
func Async[In, Out any](name string, fn func(context.Context, In) (Out, error)) Step[In, Out] {
	return leaf(name, ModeAsync, func(ctx context.Context, in In, _ Env) (Out, Log, error) {
		out, err := fn(ctx, in)
		return out, nil, err
	})
}

// Contextual creates a step that reads the shared Env and appends to the trace Log.
func Contextual[In, Out any](name string, fn func(context.Context, In, Env) (Out, Log, error)) Step[In, Out] {
	return leaf(name, ModeContextual, fn)
}

// Identity returns the pass-through step.
func Identity[T any]() Step[T, T] {
	return Step[T, T]{
		name:  "identity",
		entry: "identity",
		mode:  ModeSync,
		run: func(_ context.Context, in T, _ Env) (T, Log, error) {
			return in, nil, nil
		},
	}
}

func leaf[In, Out any](name string, mode Mode, fn runFunc[In, Out]) Step[In, Out] {
	return Step[In, Out]{
		name:  name,
		entry: name,
		mode:  mode,
		run:   observe(name, mode, fn),
	}
}

// Name returns the step name. Composite steps join their parts with " -> ".
func (s Step[In, Out]) Name() string {
	return s.name
}

// Mode returns the declared execution mode.
func (s Step[In, Out]) Mode() Mode {
	return s.mode
}

// Named returns a copy of the step under a different name.
func (s Step[In, Out]) Named(name string) Step[In, Out] {
	s.name = name
	return s
}

// Run executes the step with an empty Env, discarding the trace Log.
func (s Step[In, Out]) Run(ctx context.Context, in In) (Out, error) {
	out, _, err := s.RunWith(ctx, in, Env{})
	return out, err
}

// RunWith executes the step against env and returns its trace Log.
func (s Step[In, Out]) RunWith(ctx context.Context, in In, env Env) (Out, Log, error) {
	if s.run == nil {
		var zero Out
		return zero, nil, Validation("step %q is not initialized", s.name)
	}
	return s.run(ctx, in, env)
}

// Apply runs a synchronous step without a context.
// Steps that may suspend are never demoted and return ErrNotSync.
func (s Step[In, Out]) Apply(in In) (Out, error) {
	if s.mode != ModeSync {
		var zero Out
		return zero, fmt.Errorf("%w: %q is %s", ErrNotSync, s.name, s.mode)
	}
	return s.Run(context.Background(), in)
}

// Then composes two steps sequentially. The result has the wider mode of
// the two, concatenates their logs, and stops at the first error.
// The second step does not start once ctx is done.
func Then[A, B, C any](first Step[A, B], second Step[B, C]) Step[A, C] {
	return Step[A, C]{
		name:  joinNames(first.name, second.name),
		entry: first.entry,
		mode:  widen(first.mode, second.mode),
		run: func(ctx context.Context, in A, env Env) (C, Log, error) {
			var zero C
			mid, log, err := first.RunWith(ctx, in, env)
			if err != nil {
				return zero, log, err
			}
			if ctx.Err() != nil {
				return zero, log, cancelled(ctx, second.entry)
			}
			out, next, err := second.RunWith(ctx, mid, env)
			return out, log.Concat(next), err
		},
	}
}

// Chain composes homogeneous steps left to right.
// Zero steps yield Identity.
func Chain[T any](steps ...Step[T, T]) Step[T, T] {
	if len(steps) == 0 {
		return Identity[T]()
	}
	out := steps[0]
	for _, s := range steps[1:] {
		out = Then(out, s)
	}
	return out
}

// Map post-processes a step's output with a pure function.
// The mode is unchanged.
func Map[In, Out, R any](s Step[In, Out], f func(Out) R) Step[In, R] {
	return Step[In, R]{
		name:  s.name,
		entry: s.entry,
		mode:  s.mode,
		run: func(ctx context.Context, in In, env Env) (R, Log, error) {
			out, log, err := s.RunWith(ctx, in, env)
			if err != nil {
				var zero R
				return zero, log, err
			}
			return f(out), log, nil
		},
	}
}

// ToAsync lifts a step to at least ModeAsync. The lifted step observes
// cancellation before starting; otherwise its behavior is unchanged.
func ToAsync[In, Out any](s Step[In, Out]) Step[In, Out] {
	return Step[In, Out]{
		name:  s.name,
		entry: s.entry,
		mode:  widen(s.mode, ModeAsync),
		run: func(ctx context.Context, in In, env Env) (Out, Log, error) {
			if ctx.Err() != nil {
				var zero Out
				return zero, nil, cancelled(ctx, s.entry)
			}
			return s.RunWith(ctx, in, env)
		},
	}
}

// Try converts errors and panics raised by s into a Failure value.
// Cancellation is not a failure and still propagates as an error.
func Try[In, Out any](s Step[In, Out]) Step[In, Result[Out, ErrorInfo]] {
	return Step[In, Result[Out, ErrorInfo]]{
		name:  s.name,
		entry: s.entry,
		mode:  s.mode,
		run: func(ctx context.Context, in In, env Env) (res Result[Out, ErrorInfo], log Log, err error) {
			defer func() {
				if r := recover(); r != nil {
					res = Failure[Out](ErrorInfo{
						Kind:    KindExecution,
						Step:    s.name,
						Message: fmt.Sprint(r),
						Input:   snapshot(in),
						Err:     fmt.Errorf("panic: %v", r),
					})
					err = nil
				}
			}()

			out, log, runErr := s.RunWith(ctx, in, env)
			if runErr != nil {
				if IsCancelled(runErr) {
					return res, log, runErr
				}
				return Failure[Out](NewErrorInfo(s.name, in, runErr)), log, nil
			}
			return Success[Out, ErrorInfo](out), log, nil
		},
	}
}

// TryOption wraps the output of s in an Option, using present to decide
// whether the value counts. Errors still propagate.
func TryOption[In, Out any](s Step[In, Out], present func(Out) bool) Step[In, Option[Out]] {
	return Step[In, Option[Out]]{
		name:  s.name,
		entry: s.entry,
		mode:  s.mode,
		run: func(ctx context.Context, in In, env Env) (Option[Out], Log, error) {
			out, log, err := s.RunWith(ctx, in, env)
			if err != nil {
				return None[Out](), log, err
			}
			return OptionOf(out, present(out)), log, nil
		},
	}
}

// ThenResult composes two Result-returning steps. A Failure from the
// first step short-circuits: the second never runs.
func ThenResult[A, B, C, E any](first Step[A, Result[B, E]], second Step[B, Result[C, E]]) Step[A, Result[C, E]] {
	return Then(first, Step[Result[B, E], Result[C, E]]{
		name:  second.name,
		entry: second.entry,
		mode:  second.mode,
		run: func(ctx context.Context, r Result[B, E], env Env) (Result[C, E], Log, error) {
			if !r.ok {
				return Failure[C](r.err), nil, nil
			}
			return second.RunWith(ctx, r.value, env)
		},
	})
}

// ThenOption composes two Option-returning steps. None short-circuits
// without an error.
func ThenOption[A, B, C any](first Step[A, Option[B]], second Step[B, Option[C]]) Step[A, Option[C]] {
	return Then(first, Step[Option[B], Option[C]]{
		name:  second.name,
		entry: second.entry,
		mode:  second.mode,
		run: func(ctx context.Context, o Option[B], env Env) (Option[C], Log, error) {
			if !o.ok {
				return None[C](), nil, nil
			}
			return second.RunWith(ctx, o.value, env)
		},
	})
}

// observe wraps a leaf with lifecycle signals, a trace span, cancellation
// handling, and StepError reporting.
func observe[In, Out any](name string, mode Mode, fn runFunc[In, Out]) runFunc[In, Out] {
	return func(ctx context.Context, in In, env Env) (Out, Log, error) {
		var zero Out
		if mode != ModeSync && ctx.Err() != nil {
			capitan.Emit(context.WithoutCancel(ctx), StepCancelled,
				FieldStepName.Field(name),
				FieldStepMode.Field(mode.String()),
			)
			return zero, nil, cancelled(ctx, name)
		}

		ctx, span := tracer.Start(ctx, name, trace.WithAttributes(
			attribute.String("ouroboros.step.name", name),
			attribute.String("ouroboros.step.mode", mode.String()),
		))
		defer span.End()

		start := time.Now()
		capitan.Emit(ctx, StepStarted,
			FieldStepName.Field(name),
			FieldStepMode.Field(mode.String()),
		)

		out, log, err := fn(ctx, in, env)
		duration := time.Since(start)

		if err != nil {
			if IsCancelled(err) || ctx.Err() != nil {
				if !errors.Is(err, ErrCancelled) {
					err = fmt.Errorf("%w: step %q: %w", ErrCancelled, name, err)
				}
				span.SetStatus(codes.Error, "cancelled")
				capitan.Emit(context.WithoutCancel(ctx), StepCancelled,
					FieldStepName.Field(name),
					FieldStepMode.Field(mode.String()),
					FieldStepDuration.Field(duration),
				)
				return zero, log, err
			}

			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			capitan.Error(ctx, StepFailed,
				FieldStepName.Field(name),
				FieldStepMode.Field(mode.String()),
				FieldStepDuration.Field(duration),
				FieldError.Field(err),
			)

			var se *StepError
			if !errors.As(err, &se) {
				err = &StepError{Step: name, Input: snapshot(in), Err: err}
			}
			return zero, log, err
		}

		capitan.Emit(ctx, StepCompleted,
			FieldStepName.Field(name),
			FieldStepMode.Field(mode.String()),
			FieldStepDuration.Field(duration),
		)
		return out, log, nil
	}
}

func joinNames(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " -> " + b
}
