package ouroboros

// Result holds either a success value or a failure value, never both.
// The zero Result is a Failure carrying the zero value of E.
type Result[T, E any] struct {
	value T
	err   E
	ok    bool
}

// Success wraps v as a successful Result.
func Success[T, E any](v T) Result[T, E] {
	return Result[T, E]{value: v, ok: true}
}

// Failure wraps e as a failed Result.
//
// A Failure is a Failure regardless of its payload: an empty error
// string or a nil error value still reports IsFailure.
func Failure[T, E any](e E) Result[T, E] {
	return Result[T, E]{err: e}
}

// ResultOf bridges a conventional (value, error) pair into a Result.
func ResultOf[T any](v T, err error) Result[T, error] {
	if err != nil {
		return Failure[T](err)
	}
	return Success[T, error](v)
}

// IsSuccess reports whether the Result holds a success value.
func (r Result[T, E]) IsSuccess() bool {
	return r.ok
}

// IsFailure reports whether the Result holds a failure value.
func (r Result[T, E]) IsFailure() bool {
	return !r.ok
}

// GetOrDefault returns the success value, or fallback for a Failure.
func (r Result[T, E]) GetOrDefault(fallback T) T {
	if r.ok {
		return r.value
	}
	return fallback
}

// Match invokes exactly one of the handlers with the Result's payload.
func (r Result[T, E]) Match(onSuccess func(T), onFailure func(E)) {
	if r.ok {
		onSuccess(r.value)
		return
	}
	onFailure(r.err)
}

// MatchResult folds a Result into a single value of type R.
// Both branches must be supplied.
func MatchResult[T, E, R any](r Result[T, E], onSuccess func(T) R, onFailure func(E) R) R {
	if r.ok {
		return onSuccess(r.value)
	}
	return onFailure(r.err)
}

// MapResult applies f to a success value. Failures pass through unchanged.
func MapResult[T, U, E any](r Result[T, E], f func(T) U) Result[U, E] {
	if !r.ok {
		return Failure[U](r.err)
	}
	return Success[U, E](f(r.value))
}

// BindResult applies f to a success value and flattens the nested Result.
// Failures pass through without calling f.
func BindResult[T, U, E any](r Result[T, E], f func(T) Result[U, E]) Result[U, E] {
	if !r.ok {
		return Failure[U](r.err)
	}
	return f(r.value)
}

// MapFailure applies f to a failure value. Successes pass through unchanged.
func MapFailure[T, E, F any](r Result[T, E], f func(E) F) Result[T, F] {
	if r.ok {
		return Success[T, F](r.value)
	}
	return Failure[T](f(r.err))
}
