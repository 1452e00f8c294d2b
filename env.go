package ouroboros

import "maps"

// Env is the read-only shared context threaded through contextual steps.
// It is passed explicitly and never mutated; With returns a new Env.
type Env struct {
	values map[string]any
}

// NewEnv creates an Env holding a copy of values.
func NewEnv(values map[string]any) Env {
	return Env{values: maps.Clone(values)}
}

// Get returns the value stored under key.
func (e Env) Get(key string) (any, bool) {
	v, ok := e.values[key]
	return v, ok
}

// String returns the value under key when it is a string, or "".
func (e Env) String(key string) string {
	s, _ := e.values[key].(string)
	return s
}

// With returns a new Env with key set to v. The receiver is unchanged.
func (e Env) With(key string, v any) Env {
	next := make(map[string]any, len(e.values)+1)
	maps.Copy(next, e.values)
	next[key] = v
	return Env{values: next}
}

// Len returns the number of entries.
func (e Env) Len() int {
	return len(e.values)
}

// Log is an append-only sequence of trace messages produced by
// contextual steps. Appending never aliases the receiver's storage.
type Log []string

// Append returns a new Log with msgs added at the end.
func (l Log) Append(msgs ...string) Log {
	if len(msgs) == 0 {
		return l
	}
	out := make(Log, 0, len(l)+len(msgs))
	out = append(out, l...)
	return append(out, msgs...)
}

// Concat returns a new Log holding l followed by other.
func (l Log) Concat(other Log) Log {
	return l.Append(other...)
}
