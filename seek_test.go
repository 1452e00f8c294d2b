package ouroboros

import (
	"context"
	"errors"
	"testing"
)

func seekEngine(t *testing.T) *Engine {
	t.Helper()
	engine, _ := newTestEngine(t, loginEmbedder())
	storeGoal(t, engine, "Implement authentication", true, 0.95)
	storeGoal(t, engine, "Add user registration", true, 0.85)
	storeGoal(t, engine, "Deploy to production", false, 0.3)
	return engine
}

func TestSeek_RecordsRecalledEpisodes(t *testing.T) {
	engine := seekEngine(t)
	b := newTestBranch("main")

	out, err := NewSeek("history", "How to implement login functionality", engine).Process(context.Background(), b)
	if err != nil {
		t.Fatalf("seek failed: %v", err)
	}

	recalls := out.EventsOfKind(EventRecall)
	if len(recalls) != 2 {
		t.Fatalf("expected 2 recall events, got %d", len(recalls))
	}
	if recalls[0].Metadata["success"] != "true" || recalls[0].Source != "history" {
		t.Errorf("unexpected recall event: %+v", recalls[0])
	}
	if recalls[0].Metadata["episode_id"] == "" {
		t.Error("expected episode id in metadata")
	}
	if recalls[0].Content != "Implement authentication ()" {
		t.Errorf("unexpected recall content %q", recalls[0].Content)
	}
	if b.Len() != 0 {
		t.Error("input branch must not change")
	}
}

func TestSeek_WithLimitAndThreshold(t *testing.T) {
	engine := seekEngine(t)

	out, err := NewSeek("history", "How to implement login functionality", engine).
		WithLimit(1).
		Process(context.Background(), newTestBranch("main"))
	if err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	if n := len(out.EventsOfKind(EventRecall)); n != 1 {
		t.Errorf("expected 1 recall with limit 1, got %d", n)
	}

	out, err = NewSeek("history", "How to implement login functionality", engine).
		WithMinSimilarity(0.99).
		Process(context.Background(), newTestBranch("main"))
	if err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	if n := len(out.EventsOfKind(EventRecall)); n != 0 {
		t.Errorf("expected no recalls above 0.99, got %d", n)
	}
}

func TestSeek_WithSynthesis(t *testing.T) {
	engine := seekEngine(t)
	provider := &transformProvider{output: "Reuse the authentication module"}

	out, err := NewSeek("history", "How to implement login functionality", engine).
		WithSynthesis().
		WithProvider(provider).
		Process(context.Background(), newTestBranch("main"))
	if err != nil {
		t.Fatalf("seek failed: %v", err)
	}

	recalls := out.EventsOfKind(EventRecall)
	if len(recalls) != 3 {
		t.Fatalf("expected 2 recalls plus a synthesis, got %d", len(recalls))
	}
	last := recalls[2]
	if last.Metadata["synthesis"] != "true" || last.Content != "Reuse the authentication module" {
		t.Errorf("unexpected synthesis event: %+v", last)
	}
	if provider.callCount() != 1 {
		t.Errorf("expected 1 provider call, got %d", provider.callCount())
	}
}

func TestSeek_SynthesisSkippedWithoutResults(t *testing.T) {
	engine, _ := newTestEngine(t, loginEmbedder())
	provider := &transformProvider{output: "unused"}

	out, err := NewSeek("history", "How to implement login functionality", engine).
		WithSynthesis().
		WithProvider(provider).
		Process(context.Background(), newTestBranch("main"))
	if err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	if out.Len() != 0 || provider.callCount() != 0 {
		t.Error("expected no events and no provider call for an empty store")
	}
}

func TestSeek_Failures(t *testing.T) {
	t.Run("invalid query", func(t *testing.T) {
		_, err := NewSeek("history", "", seekEngine(t)).Process(context.Background(), newTestBranch("main"))
		if !errors.Is(err, ErrValidation) {
			t.Errorf("expected validation failure, got %v", err)
		}
	})

	t.Run("embedder down", func(t *testing.T) {
		engine, _ := newTestEngine(t, &tableEmbedder{err: errors.New("offline")})
		_, err := NewSeek("history", "anything", engine).Process(context.Background(), newTestBranch("main"))
		if !errors.Is(err, ErrExternal) {
			t.Errorf("expected external failure, got %v", err)
		}
	})

	t.Run("synthesis fails", func(t *testing.T) {
		provider := &transformProvider{err: errors.New("rate limited")}
		b := newTestBranch("main")
		out, err := NewSeek("history", "How to implement login functionality", seekEngine(t)).
			WithSynthesis().
			WithProvider(provider).
			Process(context.Background(), b)
		if !errors.Is(err, ErrExternal) {
			t.Errorf("expected external failure, got %v", err)
		}
		if out.Len() != 0 {
			t.Error("failed seek must return the input branch")
		}
	})
}

func TestSeek_Defaults(t *testing.T) {
	engine, _ := newTestEngine(t, loginEmbedder(), WithRecallLimit(7), WithRecallThreshold(0.4))
	seek := NewSeek("history", "q", engine)
	if seek.limit != 7 || seek.minSimilarity != 0.4 {
		t.Errorf("expected engine defaults, got limit %d and threshold %v", seek.limit, seek.minSimilarity)
	}
	if seek.Schema().Type != "seek" {
		t.Errorf("expected schema type 'seek', got %q", seek.Schema().Type)
	}
}
