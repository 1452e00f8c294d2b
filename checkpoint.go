package ouroboros

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
)

// Checkpoint forks the current branch onto a fresh data store and records
// a checkpoint event on the fork. The original branch and its store are
// left untouched, so a later failure can resume from the parent.
type Checkpoint struct {
	identity pipz.Identity
	key      string
	newStore func(context.Context, Branch) (DataStore, error)
}

// NewCheckpoint creates a new checkpoint primitive.
//
// The fork is named "<branch>/<key>". By default its store is a copy of
// the parent's store; use WithStore to supply a different one.
//
// Example:
//
//	pipeline := ouroboros.NewPipeline("migration").
//	    Use(ouroboros.NewCheckpoint("before_write")).
//	    Step(applyChanges)
func NewCheckpoint(key string) *Checkpoint {
	return &Checkpoint{
		identity: pipz.NewIdentity(key, "Forks the branch onto a new data store"),
		key:      key,
		newStore: func(ctx context.Context, b Branch) (DataStore, error) {
			return CopyStore(ctx, b.Store())
		},
	}
}

// WithStore sets the function that provisions the fork's data store.
func (c *Checkpoint) WithStore(fn func(context.Context, Branch) (DataStore, error)) *Checkpoint {
	c.newStore = fn
	return c
}

// Process implements pipz.Chainable[Branch].
func (c *Checkpoint) Process(ctx context.Context, b Branch) (Branch, error) {
	start := time.Now()

	capitan.Emit(ctx, StepStarted,
		FieldStepName.Field(c.key),
		FieldBranch.Field(b.Name()),
		FieldEventCount.Field(b.Len()),
	)

	store, err := c.newStore(ctx, b)
	if err != nil {
		c.emitFailed(ctx, b, start, err)
		return b, fmt.Errorf("checkpoint: failed to provision store: %w", err)
	}

	fork, err := b.Fork(ctx, b.Name()+"/"+c.key, store)
	if err != nil {
		c.emitFailed(ctx, b, start, err)
		return b, fmt.Errorf("checkpoint: %w", err)
	}

	fork = fork.Record(EventCheckpoint, c.key, "checkpoint of "+b.Name(), map[string]string{
		"parent_branch": b.Name(),
		"parent_store":  storeID(b.Store()),
		"event_count":   fmt.Sprintf("%d", b.Len()),
	})

	capitan.Emit(ctx, StepCompleted,
		FieldStepName.Field(c.key),
		FieldBranch.Field(fork.Name()),
		FieldStepDuration.Field(time.Since(start)),
		FieldEventCount.Field(fork.Len()),
	)

	return fork, nil
}

func (c *Checkpoint) emitFailed(ctx context.Context, b Branch, start time.Time, err error) {
	capitan.Error(context.WithoutCancel(ctx), StepFailed,
		FieldStepName.Field(c.key),
		FieldBranch.Field(b.Name()),
		FieldStepDuration.Field(time.Since(start)),
		FieldError.Field(err),
	)
}

// Identity implements pipz.Chainable[Branch].
func (c *Checkpoint) Identity() pipz.Identity {
	return c.identity
}

// Schema implements pipz.Chainable[Branch].
func (c *Checkpoint) Schema() pipz.Node {
	return pipz.Node{Identity: c.identity, Type: "checkpoint"}
}

// Close implements pipz.Chainable[Branch].
func (c *Checkpoint) Close() error {
	return nil
}
