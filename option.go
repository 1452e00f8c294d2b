package ouroboros

// Option holds a value that may legitimately be absent.
// The zero Option is None.
type Option[T any] struct {
	value T
	ok    bool
}

// Some wraps v as a present Option.
func Some[T any](v T) Option[T] {
	return Option[T]{value: v, ok: true}
}

// None returns an absent Option.
func None[T any]() Option[T] {
	return Option[T]{}
}

// OptionOf returns Some(v) when present is true, otherwise None.
func OptionOf[T any](v T, present bool) Option[T] {
	if !present {
		return None[T]()
	}
	return Some(v)
}

// IsSome reports whether a value is present.
func (o Option[T]) IsSome() bool {
	return o.ok
}

// IsNone reports whether the value is absent.
func (o Option[T]) IsNone() bool {
	return !o.ok
}

// GetOrDefault returns the value, or fallback when absent.
func (o Option[T]) GetOrDefault(fallback T) T {
	if o.ok {
		return o.value
	}
	return fallback
}

// Match invokes exactly one of the handlers.
func (o Option[T]) Match(onSome func(T), onNone func()) {
	if o.ok {
		onSome(o.value)
		return
	}
	onNone()
}

// MatchOption folds an Option into a single value of type R.
func MatchOption[T, R any](o Option[T], onSome func(T) R, onNone func() R) R {
	if o.ok {
		return onSome(o.value)
	}
	return onNone()
}

// MapOption applies f to a present value. None passes through.
func MapOption[T, U any](o Option[T], f func(T) U) Option[U] {
	if !o.ok {
		return None[U]()
	}
	return Some(f(o.value))
}

// BindOption applies f to a present value and flattens the result.
func BindOption[T, U any](o Option[T], f func(T) Option[U]) Option[U] {
	if !o.ok {
		return None[U]()
	}
	return f(o.value)
}
