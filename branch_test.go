package ouroboros

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zoobzio/capitan"
	capitantesting "github.com/zoobzio/capitan/testing"
)

func recordN(b Branch, n int) Branch {
	for i := 0; i < n; i++ {
		b = b.Record(EventTrace, "test", string(rune('a'+i)), nil)
	}
	return b
}

func TestWithEventLeavesOriginalUnchanged(t *testing.T) {
	b := newTestBranch("main")
	next := b.Record(EventReasoning, "planner", "first", map[string]string{"k": "v"})

	if b.Len() != 0 {
		t.Errorf("original branch changed: %d events", b.Len())
	}
	if next.Len() != 1 {
		t.Fatalf("expected 1 event, got %d", next.Len())
	}

	e := next.LastEvent().GetOrDefault(Event{})
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Error("expected event id and timestamp to be filled in")
	}
	if e.Kind != EventReasoning || e.Source != "planner" || e.Content != "first" {
		t.Errorf("unexpected event %+v", e)
	}
}

func TestWithEventDoesNotShareBackingArray(t *testing.T) {
	base := recordN(newTestBranch("main"), 2)
	left := base.Record(EventTrace, "left", "L", nil)
	right := base.Record(EventTrace, "right", "R", nil)

	if left.Events()[2].Content != "L" || right.Events()[2].Content != "R" {
		t.Errorf("siblings share storage: left=%q right=%q",
			left.Events()[2].Content, right.Events()[2].Content)
	}
}

func TestEventsReturnsCopies(t *testing.T) {
	b := newTestBranch("main").Record(EventTrace, "s", "c", map[string]string{"k": "v"})

	events := b.Events()
	events[0].Content = "mutated"
	events[0].Metadata["k"] = "mutated"

	e := b.Events()[0]
	if e.Content != "c" || e.Metadata["k"] != "v" {
		t.Errorf("branch history was mutated through Events(): %+v", e)
	}
}

func TestForkScenario(t *testing.T) {
	ctx := context.Background()
	b := recordN(newTestBranch("main"), 3)

	f, err := b.Fork(ctx, "x", NewMapStore())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f = f.Record(EventTrace, "fork", "only in fork", nil)

	if b.Len() != 3 {
		t.Errorf("expected original to keep 3 events, got %d", b.Len())
	}
	if f.Len() != 4 {
		t.Errorf("expected fork to have 4 events, got %d", f.Len())
	}
	if f.Parent() != "main" || f.Name() != "x" {
		t.Errorf("unexpected fork identity: name=%q parent=%q", f.Name(), f.Parent())
	}

	// Appending to the original afterwards must not leak into the fork.
	b2 := b.Record(EventTrace, "main", "only in main", nil)
	if f.Len() != 4 || b2.Len() != 4 {
		t.Errorf("unexpected lengths after divergence: fork=%d main=%d", f.Len(), b2.Len())
	}
	if f.Events()[3].Content != "only in fork" || b2.Events()[3].Content != "only in main" {
		t.Error("forks observed each other's events")
	}
}

func TestForkPreservesOrder(t *testing.T) {
	b := recordN(newTestBranch("main"), 5)
	f, err := b.Fork(context.Background(), "copy", NewMapStore())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	orig, forked := b.Events(), f.Events()
	for i := range orig {
		if orig[i].ID != forked[i].ID {
			t.Errorf("event %d reordered: %s vs %s", i, orig[i].ID, forked[i].ID)
		}
	}
}

func TestForkRejectsSharedStore(t *testing.T) {
	b := newTestBranch("main")

	_, err := b.Fork(context.Background(), "x", b.Store())
	if !errors.Is(err, ErrSharedStore) {
		t.Errorf("expected ErrSharedStore, got %v", err)
	}
}

func TestForkValidation(t *testing.T) {
	b := newTestBranch("main")

	if _, err := b.Fork(context.Background(), "", NewMapStore()); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for empty name, got %v", err)
	}
	if _, err := b.Fork(context.Background(), "x", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for nil store, got %v", err)
	}
}

func TestForkKeepsDataSource(t *testing.T) {
	b := NewBranch(context.Background(), "main", NewMapStore(), NewDataSource("file:///data/input"))
	f, err := b.Fork(context.Background(), "x", NewMapStore())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.DataSource().URI() != "file:///data/input" {
		t.Errorf("expected data source to carry over, got %q", f.DataSource().URI())
	}
}

func TestEventsOfKind(t *testing.T) {
	b := newTestBranch("main").
		Record(EventReasoning, "a", "r1", nil).
		Record(EventTrace, "b", "t1", nil).
		Record(EventReasoning, "c", "r2", nil)

	got := b.EventsOfKind(EventReasoning)
	if len(got) != 2 || got[0].Content != "r1" || got[1].Content != "r2" {
		t.Errorf("unexpected reasoning events: %+v", got)
	}
	if newTestBranch("empty").LastEvent().IsSome() {
		t.Error("empty branch should have no last event")
	}
}

func TestBranchForkedSignal(t *testing.T) {
	capture := capitantesting.NewEventCapture()
	listener := capitan.Hook(BranchForked, capture.Handler())
	defer listener.Close()

	b := recordN(newTestBranch("signal-main"), 2)
	if _, err := b.Fork(context.Background(), "signal-fork", NewMapStore()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !capture.WaitForCount(1, time.Second) {
		t.Fatal("expected BranchForked event")
	}
	event, ok := findEvent(capture.Events(), FieldBranch.Name(), "signal-fork")
	if !ok {
		t.Fatal("no BranchForked event for signal-fork")
	}
	if got := getStringField(event, FieldParentBranch.Name()); got != "signal-main" {
		t.Errorf("expected parent 'signal-main', got %q", got)
	}
}

func TestMapStore(t *testing.T) {
	ctx := context.Background()
	s := NewMapStore()
	_ = s.Set(ctx, "b", "2")
	_ = s.Set(ctx, "a", "1")

	keys, _ := s.Keys(ctx)
	if strings.Join(keys, ",") != "a,b" {
		t.Errorf("expected sorted keys, got %v", keys)
	}

	clone := s.Clone()
	if clone.ID() == s.ID() {
		t.Error("clone must have a fresh identity")
	}
	_ = clone.Set(ctx, "a", "changed")
	if v, _, _ := s.Get(ctx, "a"); v != "1" {
		t.Errorf("clone writes leaked into original: %q", v)
	}
}

func TestCopyStore(t *testing.T) {
	ctx := context.Background()
	src := NewMapStore()
	_ = src.Set(ctx, "k", "v")

	dst, err := CopyStore(ctx, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dst.ID() == src.ID() {
		t.Error("copy must have a fresh identity")
	}
	if v, ok, _ := dst.Get(ctx, "k"); !ok || v != "v" {
		t.Errorf("expected copied value, got %q (%v)", v, ok)
	}
}

func TestRenderEvents(t *testing.T) {
	b := newTestBranch("main").
		Record(EventReasoning, "planner", "use cache", nil).
		Record(EventTrace, "fetch", "hit", nil)

	got := RenderEvents(b.Events())
	want := "[reasoning] planner: use cache\n[trace] fetch: hit\n"
	if got != want {
		t.Errorf("unexpected rendering:\n%s", got)
	}
	if RenderEvents(nil) != "" {
		t.Error("expected empty rendering for no events")
	}
}
