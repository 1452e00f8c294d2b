package ouroboros

import (
	"context"
	"time"

	"github.com/zoobzio/pipz"
)

// -----------------------------------------------------------------------------
// Adapter Functions - wrap functions to create Branch processors
// -----------------------------------------------------------------------------

// Process creates a branch processor from a function that can fail.
//
// Example:
//
//	tag := ouroboros.Process("tag-source", func(ctx context.Context, b ouroboros.Branch) (ouroboros.Branch, error) {
//	    if b.DataSource().URI() == "" {
//	        return b, ouroboros.Validation("branch %q has no data source", b.Name())
//	    }
//	    return b.Record("tag", "tag-source", b.DataSource().URI(), nil), nil
//	})
func Process(name string, fn func(context.Context, Branch) (Branch, error)) pipz.Chainable[Branch] {
	return pipz.Apply(pipz.NewIdentity(name, "Branch processor"), fn)
}

// Update creates a branch processor from a function that cannot fail.
func Update(name string, fn func(context.Context, Branch) Branch) pipz.Chainable[Branch] {
	return pipz.Transform(pipz.NewIdentity(name, "Branch update"), fn)
}

// Effect creates a processor that observes a branch without changing it.
// Use this for logging, metrics, or other observational operations.
func Effect(name string, fn func(context.Context, Branch) error) pipz.Chainable[Branch] {
	return pipz.Effect(pipz.NewIdentity(name, "Branch side effect"), fn)
}

// -----------------------------------------------------------------------------
// Sequential Connectors
// -----------------------------------------------------------------------------

// Sequence creates a sequential pipeline of branch processors.
// Each processor receives the branch produced by the previous one.
func Sequence(name string, processors ...pipz.Chainable[Branch]) *pipz.Sequence[Branch] {
	return pipz.NewSequence(pipz.NewIdentity(name, "Sequential branch pipeline"), processors...)
}

// Filter runs processor only when predicate returns true.
// Otherwise the branch passes through unchanged.
//
// Example:
//
//	onlyFresh := ouroboros.Filter("fresh-only",
//	    func(ctx context.Context, b ouroboros.Branch) bool {
//	        return b.Len() == 0
//	    },
//	    bootstrap,
//	)
func Filter(name string, predicate func(context.Context, Branch) bool, processor pipz.Chainable[Branch]) *pipz.Filter[Branch] {
	return pipz.NewFilter(pipz.NewIdentity(name, "Conditional branch processor"), predicate, processor)
}

// -----------------------------------------------------------------------------
// Error Handling Connectors
// -----------------------------------------------------------------------------

// Fallback tries each processor in order until one succeeds.
func Fallback(name string, processors ...pipz.Chainable[Branch]) *pipz.Fallback[Branch] {
	return pipz.NewFallback(pipz.NewIdentity(name, "Fallback chain"), processors...)
}

// Retry retries processor immediately, up to maxAttempts times.
// For delayed retries, use Backoff.
func Retry(name string, processor pipz.Chainable[Branch], maxAttempts int) *pipz.Retry[Branch] {
	return pipz.NewRetry(pipz.NewIdentity(name, "Immediate retry"), processor, maxAttempts)
}

// Backoff retries processor with exponential backoff starting at baseDelay.
//
// Example:
//
//	resilient := ouroboros.Backoff("embed-goal", recall, 5, time.Second)
func Backoff(name string, processor pipz.Chainable[Branch], maxAttempts int, baseDelay time.Duration) *pipz.Backoff[Branch] {
	return pipz.NewBackoff(pipz.NewIdentity(name, "Exponential backoff retry"), processor, maxAttempts, baseDelay)
}

// Timeout cancels processor once duration elapses.
func Timeout(name string, processor pipz.Chainable[Branch], duration time.Duration) *pipz.Timeout[Branch] {
	return pipz.NewTimeout(pipz.NewIdentity(name, "Time limit"), processor, duration)
}

// Handle invokes errorHandler when processor fails, for monitoring.
// The failure still propagates.
func Handle(name string, processor pipz.Chainable[Branch], errorHandler pipz.Chainable[*pipz.Error[Branch]]) *pipz.Handle[Branch] {
	return pipz.NewHandle(pipz.NewIdentity(name, "Error observer"), processor, errorHandler)
}

// CircuitBreaker stops calling processor after failureThreshold
// consecutive failures, until resetTimeout passes.
func CircuitBreaker(name string, processor pipz.Chainable[Branch], failureThreshold int, resetTimeout time.Duration) *pipz.CircuitBreaker[Branch] {
	return pipz.NewCircuitBreaker(pipz.NewIdentity(name, "Circuit breaker"), processor, failureThreshold, resetTimeout)
}
