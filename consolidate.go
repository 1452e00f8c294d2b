package ouroboros

import (
	"fmt"
	"sort"
)

// Action is what consolidation does to one aged episode.
type Action string

const (
	ActionKeep        Action = "keep"
	ActionConsolidate Action = "consolidate"
	ActionDissolve    Action = "dissolve"
	ActionPrune       Action = "prune"
)

// Decision names the action for one episode.
type Decision struct {
	ID     string
	Action Action
	Reason string
}

// ConsolidationStrategy plans what to do with aged episodes.
//
// Plan receives the episodes old enough to be eligible and the full
// population for reference statistics. The engine ignores any decision
// about an episode outside aged.
type ConsolidationStrategy interface {
	Name() string
	Plan(aged, all []Episode) []Decision
}

// ConsolidationReport counts what a consolidation run did.
type ConsolidationReport struct {
	Strategy     string
	Examined     int
	Aged         int
	Kept         int
	Consolidated int
	Dissolved    int
	Pruned       int
	// Skipped counts decisions rejected because the episode was too
	// young, unknown, already decided, or the action was unrecognized.
	Skipped int
}

type strategyFunc struct {
	name string
	plan func(aged, all []Episode) []Decision
}

func (s strategyFunc) Name() string { return s.name }

func (s strategyFunc) Plan(aged, all []Episode) []Decision { return s.plan(aged, all) }

// NewStrategy adapts a planning function into a ConsolidationStrategy.
func NewStrategy(name string, plan func(aged, all []Episode) []Decision) ConsolidationStrategy {
	return strategyFunc{name: name, plan: plan}
}

// PruneBelowMedian prunes aged episodes whose outcome quality is below
// the median quality of all retrievable episodes. The remaining aged
// episodes are marked consolidated.
func PruneBelowMedian() ConsolidationStrategy {
	return NewStrategy("prune-below-median", func(aged, all []Episode) []Decision {
		var qualities []float64
		for _, ep := range all {
			if ep.Retrievable() {
				qualities = append(qualities, ep.Outcome.Quality)
			}
		}
		median := Median(qualities)

		decisions := make([]Decision, 0, len(aged))
		for _, ep := range aged {
			if ep.Outcome.Quality < median {
				decisions = append(decisions, Decision{
					ID:     ep.ID,
					Action: ActionPrune,
					Reason: fmt.Sprintf("quality %.2f below median %.2f", ep.Outcome.Quality, median),
				})
				continue
			}
			decisions = append(decisions, Decision{ID: ep.ID, Action: ActionConsolidate})
		}
		return decisions
	})
}

// PruneFailed prunes aged episodes whose execution failed and
// consolidates the successful ones.
func PruneFailed() ConsolidationStrategy {
	return NewStrategy("prune-failed", func(aged, _ []Episode) []Decision {
		decisions := make([]Decision, 0, len(aged))
		for _, ep := range aged {
			if !ep.Outcome.Success {
				decisions = append(decisions, Decision{ID: ep.ID, Action: ActionPrune, Reason: "execution failed"})
				continue
			}
			decisions = append(decisions, Decision{ID: ep.ID, Action: ActionConsolidate})
		}
		return decisions
	})
}

// DissolveBelow soft-deletes aged episodes with quality under threshold.
// Dissolved episodes stay listed but are no longer retrieved.
func DissolveBelow(threshold float64) ConsolidationStrategy {
	return NewStrategy(fmt.Sprintf("dissolve-below-%.2f", threshold), func(aged, _ []Episode) []Decision {
		var decisions []Decision
		for _, ep := range aged {
			if ep.Outcome.Quality < threshold {
				decisions = append(decisions, Decision{ID: ep.ID, Action: ActionDissolve})
			}
		}
		return decisions
	})
}

// Median returns the median of values, or 0 for none.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
