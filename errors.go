package ouroboros

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Sentinel errors. Match with errors.Is.
var (
	// ErrValidation marks malformed input to a step.
	ErrValidation = errors.New("validation failed")

	// ErrExternal marks a failure of an external collaborator (embedder, store, LLM).
	ErrExternal = errors.New("external dependency failed")

	// ErrCancelled marks a run abandoned because its context was cancelled.
	// It is never reported as an execution failure.
	ErrCancelled = errors.New("cancelled")

	// ErrNotSync is returned by Step.Apply for steps that may suspend.
	ErrNotSync = errors.New("step is not synchronous")

	// ErrSharedStore is returned when a fork would share its parent's data store.
	ErrSharedStore = errors.New("fork must not share the parent data store")

	// ErrEpisodeNotFound is returned by episode stores for unknown ids.
	ErrEpisodeNotFound = errors.New("episode not found")

	// ErrInvalidConfig is returned for configuration that cannot be opened.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorKind classifies a failure.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindExecution  ErrorKind = "execution"
	KindExternal   ErrorKind = "external"
	KindCancelled  ErrorKind = "cancelled"
)

// ErrorInfo is the failure payload carried by Results produced by Try,
// the pipeline builder, and the memory engine.
type ErrorInfo struct {
	Kind    ErrorKind
	Step    string
	Message string
	Input   string
	Err     error
}

// Error implements error.
func (e ErrorInfo) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s failure in %q: %s", e.Kind, e.Step, e.Message)
}

// Unwrap returns the underlying error.
func (e ErrorInfo) Unwrap() error {
	return e.Err
}

// NewErrorInfo classifies err and captures the step identity and a
// snapshot of the input that triggered it.
func NewErrorInfo(step string, input any, err error) ErrorInfo {
	info := ErrorInfo{
		Kind:  Classify(err),
		Step:  step,
		Input: snapshot(input),
		Err:   err,
	}
	if err != nil {
		info.Message = err.Error()
	}

	// Prefer the identity of the leaf step that actually failed.
	var se *StepError
	if errors.As(err, &se) {
		info.Step = se.Step
		info.Input = se.Input
		info.Message = se.Err.Error()
	}
	return info
}

// Classify maps an error onto the failure taxonomy.
func Classify(err error) ErrorKind {
	switch {
	case IsCancelled(err):
		return KindCancelled
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrExternal):
		return KindExternal
	default:
		return KindExecution
	}
}

// IsCancelled reports whether err represents a planned cancellation
// rather than an execution failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Validation returns an error wrapping ErrValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// External wraps err from the named operation as an external-dependency failure.
func External(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternal, op, err)
}

// StepError reports an uncaught failure together with the step that
// raised it and a snapshot of its input.
type StepError struct {
	Step  string
	Input string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed on input %s: %v", e.Step, e.Input, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// cancelled builds the distinguished cancellation error for the step
// that was about to start (or was running) when ctx ended.
func cancelled(ctx context.Context, step string) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return fmt.Errorf("%w: step %q: %w", ErrCancelled, step, cause)
}

// snapshot renders a bounded diagnostic view of a step input.
func snapshot(v any) string {
	s := fmt.Sprintf("%+v", v)
	if len(s) <= DefaultSnapshotLimit {
		return s
	}
	// Cut on a rune boundary so the snapshot stays valid UTF-8.
	n := DefaultSnapshotLimit
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
