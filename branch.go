package ouroboros

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/capitan"
)

// Event kinds recorded by the built-in primitives.
const (
	EventReasoning  = "reasoning"
	EventReflection = "reflection"
	EventRecall     = "recall"
	EventTrace      = "trace"
	EventCheckpoint = "checkpoint"
)

// Event is one entry in a branch's history.
type Event struct {
	ID        string
	Kind      string
	Source    string
	Content   string
	Metadata  map[string]string
	Timestamp time.Time
}

// DataStore is the tracked key/value store owned by a branch.
// ID identifies the store instance; two branches never share one across a fork.
type DataStore interface {
	ID() string
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Keys(ctx context.Context) ([]string, error)
}

// DataSource is an opaque reference to where raw input artifacts live.
// The branch carries it but never inspects it.
type DataSource struct {
	uri string
}

// NewDataSource creates a DataSource for uri.
func NewDataSource(uri string) DataSource {
	return DataSource{uri: uri}
}

// URI returns the referenced location.
func (d DataSource) URI() string {
	return d.uri
}

// Branch is one immutable line of pipeline execution.
// Every method that changes it returns a new Branch.
type Branch struct {
	name       string
	parent     string
	events     []Event
	store      DataStore
	dataSource DataSource
}

// NewBranch creates an empty branch.
func NewBranch(ctx context.Context, name string, store DataStore, source DataSource) Branch {
	b := Branch{
		name:       name,
		store:      store,
		dataSource: source,
	}
	capitan.Emit(ctx, BranchCreated,
		FieldBranch.Field(name),
		FieldStoreID.Field(storeID(store)),
	)
	return b
}

// Name returns the branch name.
func (b Branch) Name() string { return b.name }

// Parent returns the name of the branch this one was forked from, or "".
func (b Branch) Parent() string { return b.parent }

// Store returns the branch's data store.
func (b Branch) Store() DataStore { return b.store }

// DataSource returns the external data source reference.
func (b Branch) DataSource() DataSource { return b.dataSource }

// Len returns the number of recorded events.
func (b Branch) Len() int { return len(b.events) }

// Events returns a copy of the event history in causal order.
func (b Branch) Events() []Event {
	out := make([]Event, len(b.events))
	for i, e := range b.events {
		out[i] = copyEvent(e)
	}
	return out
}

// EventsOfKind returns the events with the given kind, in order.
func (b Branch) EventsOfKind(kind string) []Event {
	var out []Event
	for _, e := range b.events {
		if e.Kind == kind {
			out = append(out, copyEvent(e))
		}
	}
	return out
}

// LastEvent returns the most recent event, if any.
func (b Branch) LastEvent() Option[Event] {
	if len(b.events) == 0 {
		return None[Event]()
	}
	return Some(copyEvent(b.events[len(b.events)-1]))
}

// WithEvent returns a new branch with e appended.
// The returned branch never shares backing storage with the receiver.
func (b Branch) WithEvent(e Event) Branch {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	events := make([]Event, len(b.events), len(b.events)+1)
	copy(events, b.events)
	b.events = append(events, copyEvent(e))
	return b
}

// Record is shorthand for WithEvent.
func (b Branch) Record(kind, source, content string, metadata map[string]string) Branch {
	return b.WithEvent(Event{
		Kind:     kind,
		Source:   source,
		Content:  content,
		Metadata: metadata,
	})
}

// Fork returns a new branch carrying a copy of the current history under
// newName and owning newStore. newStore must be a different store instance.
func (b Branch) Fork(ctx context.Context, newName string, newStore DataStore) (Branch, error) {
	if newName == "" {
		return Branch{}, Validation("fork requires a branch name")
	}
	if newStore == nil {
		return Branch{}, Validation("fork %q requires a data store", newName)
	}
	if b.store != nil && newStore.ID() == b.store.ID() {
		return Branch{}, fmt.Errorf("%w: %s", ErrSharedStore, newStore.ID())
	}

	fork := Branch{
		name:       newName,
		parent:     b.name,
		events:     slices.Clone(b.events),
		store:      newStore,
		dataSource: b.dataSource,
	}

	capitan.Emit(ctx, BranchForked,
		FieldBranch.Field(newName),
		FieldParentBranch.Field(b.name),
		FieldEventCount.Field(len(fork.events)),
		FieldStoreID.Field(newStore.ID()),
	)
	return fork, nil
}

// Clone returns an independent copy of the branch. It satisfies pipz.Cloner.
func (b Branch) Clone() Branch {
	b.events = slices.Clone(b.events)
	return b
}

// String renders a compact description used in diagnostics.
func (b Branch) String() string {
	return fmt.Sprintf("branch(%s, %d events)", b.name, len(b.events))
}

func copyEvent(e Event) Event {
	e.Metadata = maps.Clone(e.Metadata)
	return e
}

func storeID(s DataStore) string {
	if s == nil {
		return ""
	}
	return s.ID()
}

// MapStore is an in-process DataStore.
type MapStore struct {
	id   string
	data map[string]string
	mu   sync.RWMutex
}

// NewMapStore creates an empty store with a fresh identity.
func NewMapStore() *MapStore {
	return &MapStore{
		id:   uuid.New().String(),
		data: make(map[string]string),
	}
}

// ID returns the store identity.
func (s *MapStore) ID() string {
	return s.id
}

// Get returns the value for key.
func (s *MapStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

// Set stores value under key.
func (s *MapStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// Keys returns the stored keys in sorted order.
func (s *MapStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Clone returns a new store with a fresh identity holding a copy of the data.
func (s *MapStore) Clone() *MapStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &MapStore{
		id:   uuid.New().String(),
		data: maps.Clone(s.data),
	}
}

var _ DataStore = (*MapStore)(nil)

// RenderEvents formats events as plain text for LLM context.
func RenderEvents(events []Event) string {
	if len(events) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "[%s] %s: %s\n", e.Kind, e.Source, e.Content)
	}
	return b.String()
}

// CopyStore copies every key of src into a fresh MapStore.
func CopyStore(ctx context.Context, src DataStore) (*MapStore, error) {
	dst := NewMapStore()
	if src == nil {
		return dst, nil
	}
	keys, err := src.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list store keys: %w", err)
	}
	for _, k := range keys {
		v, ok, err := src.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("failed to read key %q: %w", k, err)
		}
		if ok {
			_ = dst.Set(ctx, k, v)
		}
	}
	return dst, nil
}
