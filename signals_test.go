package ouroboros

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/capitan"
	capitantesting "github.com/zoobzio/capitan/testing"
)

// getStringField extracts a string field value from a captured event.
func getStringField(event capitantesting.CapturedEvent, keyName string) string {
	for _, f := range event.Fields {
		if f.Key().Name() == keyName {
			if v, ok := f.Value().(string); ok {
				return v
			}
		}
	}
	return ""
}

// getIntField extracts an int field value from a captured event.
func getIntField(event capitantesting.CapturedEvent, keyName string) (int, bool) {
	for _, f := range event.Fields {
		if f.Key().Name() == keyName {
			v, ok := f.Value().(int)
			return v, ok
		}
	}
	return 0, false
}

// findEvent returns the first captured event whose string field matches.
// Signals are global, so tests filter by their own identifiers.
func findEvent(events []capitantesting.CapturedEvent, keyName, value string) (capitantesting.CapturedEvent, bool) {
	for _, e := range events {
		if getStringField(e, keyName) == value {
			return e, true
		}
	}
	return capitantesting.CapturedEvent{}, false
}

// eventSource is satisfied by capitantesting's event capture.
type eventSource interface {
	Events() []capitantesting.CapturedEvent
}

// waitForEvent polls until an event with the matching field arrives.
func waitForEvent(capture eventSource, keyName, value string) (capitantesting.CapturedEvent, bool) {
	deadline := time.Now().Add(time.Second)
	for {
		if e, ok := findEvent(capture.Events(), keyName, value); ok {
			return e, true
		}
		if time.Now().After(deadline) {
			return capitantesting.CapturedEvent{}, false
		}
		time.Sleep(time.Millisecond)
	}
}

// TestStepLifecycleEvents verifies started and completed signals for a leaf step.
func TestStepLifecycleEvents(t *testing.T) {
	started := capitantesting.NewEventCapture()
	startListener := capitan.Hook(StepStarted, started.Handler())
	defer startListener.Close()

	completed := capitantesting.NewEventCapture()
	completedListener := capitan.Hook(StepCompleted, completed.Handler())
	defer completedListener.Close()

	step := Async("lifecycle-step", func(_ context.Context, n int) (int, error) { return n, nil })
	if _, err := step.Run(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s, ok := waitForEvent(started, FieldStepName.Name(), "lifecycle-step")
	if !ok {
		t.Fatal("expected StepStarted event")
	}
	if mode := getStringField(s, FieldStepMode.Name()); mode != "async" {
		t.Errorf("expected step_mode 'async', got %q", mode)
	}
	if _, ok := waitForEvent(completed, FieldStepName.Name(), "lifecycle-step"); !ok {
		t.Fatal("expected StepCompleted event")
	}
}

// TestStepFailedEvent verifies error handling emits failure events.
func TestStepFailedEvent(t *testing.T) {
	type failData struct {
		err      error
		severity capitan.Severity
	}

	var mu sync.Mutex
	var failed *failData

	listener := capitan.Hook(StepFailed, func(_ context.Context, e *capitan.Event) {
		name, _ := FieldStepName.From(e)
		if name != "failing-step" {
			return
		}
		stepErr, _ := FieldError.From(e)
		mu.Lock()
		failed = &failData{err: stepErr, severity: e.Severity()}
		mu.Unlock()
	})
	defer listener.Close()

	step := Do("failing-step", func(int) (int, error) { return 0, errors.New("nope") })
	if _, err := step.Run(context.Background(), 1); err == nil {
		t.Fatal("expected step to fail, but it succeeded")
	}

	// Wait for event.
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		got := failed != nil
		mu.Unlock()
		if got || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()

	if failed == nil {
		t.Fatal("expected StepFailed event")
	}
	if failed.err == nil {
		t.Error("expected error field to be present")
	}
	if failed.severity != capitan.SeverityError {
		t.Errorf("expected Error severity, got %v", failed.severity)
	}
}

// TestStepCancelledEvent verifies cancellation is reported separately from failure.
func TestStepCancelledEvent(t *testing.T) {
	cancelledCapture := capitantesting.NewEventCapture()
	cancelledListener := capitan.Hook(StepCancelled, cancelledCapture.Handler())
	defer cancelledListener.Close()

	failedCapture := capitantesting.NewEventCapture()
	failedListener := capitan.Hook(StepFailed, failedCapture.Handler())
	defer failedListener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	step := Async("cancelled-step", func(_ context.Context, n int) (int, error) { return n, nil })
	if _, err := step.Run(ctx, 1); !IsCancelled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	if _, ok := waitForEvent(cancelledCapture, FieldStepName.Name(), "cancelled-step"); !ok {
		t.Fatal("expected StepCancelled event")
	}
	if _, ok := findEvent(failedCapture.Events(), FieldStepName.Name(), "cancelled-step"); ok {
		t.Error("cancellation must not emit StepFailed")
	}
}

// TestEpisodeSignals verifies store and retrieve signals from the engine.
func TestEpisodeSignals(t *testing.T) {
	stored := capitantesting.NewEventCapture()
	storedListener := capitan.Hook(EpisodeStored, stored.Handler())
	defer storedListener.Close()

	retrieved := capitantesting.NewEventCapture()
	retrievedListener := capitan.Hook(EpisodesRetrieved, retrieved.Handler())
	defer retrievedListener.Close()

	engine, _ := newTestEngine(t, loginEmbedder())
	ctx := context.Background()

	res := engine.StoreEpisode(ctx, newTestBranch("signals"), Execution{Goal: "Implement authentication"},
		Outcome{Success: true, Quality: 0.95}, nil)
	if res.IsFailure() {
		t.Fatalf("store failed: %v", failureOf(res))
	}
	id := res.GetOrDefault(Episode{}).ID

	e, ok := waitForEvent(stored, FieldEpisodeID.Name(), id)
	if !ok {
		t.Fatal("expected EpisodeStored event")
	}
	if outcome := getStringField(e, FieldOutcome.Name()); outcome != "success" {
		t.Errorf("expected outcome 'success', got %q", outcome)
	}

	engine.RetrieveSimilarEpisodes(ctx, "How to implement login functionality", 5, 0.5)
	e, ok = waitForEvent(retrieved, FieldQuery.Name(), "How to implement login functionality")
	if !ok {
		t.Fatal("expected EpisodesRetrieved event")
	}
	if n, _ := getIntField(e, FieldResultCount.Name()); n != 1 {
		t.Errorf("expected result_count 1, got %d", n)
	}
}

// TestPipelineSignals verifies the pipeline completion signal.
func TestPipelineSignals(t *testing.T) {
	completed := capitantesting.NewEventCapture()
	listener := capitan.Hook(PipelineCompleted, completed.Handler())
	defer listener.Close()

	p := NewPipeline("signal-pipeline").Transform("mark", func(_ context.Context, b Branch) Branch {
		return b.Record(EventTrace, "mark", "done", nil)
	})
	if _, err := p.Run(context.Background(), newTestBranch("signal-branch")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e, ok := waitForEvent(completed, FieldPipeline.Name(), "signal-pipeline")
	if !ok {
		t.Fatal("expected PipelineCompleted event")
	}
	if n, _ := getIntField(e, FieldEventCount.Name()); n != 1 {
		t.Errorf("expected event_count 1, got %d", n)
	}
}

// TestCancelledPipelineSignals verifies failure signals survive a cancelled context.
func TestCancelledPipelineSignals(t *testing.T) {
	failed := capitantesting.NewEventCapture()
	listener := capitan.Hook(PipelineFailed, failed.Handler())
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewPipeline("cancelled-pipeline").
		Transform("stop", func(_ context.Context, b Branch) Branch {
			cancel()
			return b
		}).
		Step(Async("after-stop", func(_ context.Context, b Branch) (Branch, error) { return b, nil }))

	if _, err := p.Run(ctx, newTestBranch("cancelled-branch")); !IsCancelled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if _, ok := waitForEvent(failed, FieldPipeline.Name(), "cancelled-pipeline"); !ok {
		t.Fatal("expected PipelineFailed event for a cancelled run")
	}
}

// TestCancelledMemorySignals verifies MemoryFailed is delivered for cancelled operations.
func TestCancelledMemorySignals(t *testing.T) {
	failed := capitantesting.NewEventCapture()
	listener := capitan.Hook(MemoryFailed, failed.Handler())
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine, _ := newTestEngine(t, &tableEmbedder{err: context.Canceled})
	res := engine.RetrieveSimilarEpisodes(ctx, "cancelled-memory-query", 3, 0.5)
	if failureOf(res).Kind != KindCancelled {
		t.Fatalf("expected cancelled failure, got %+v", failureOf(res))
	}
	if _, ok := waitForEvent(failed, FieldOperation.Name(), "retrieve-similar-episodes"); !ok {
		t.Fatal("expected MemoryFailed event for a cancelled retrieval")
	}
}
