// Package hiring ranks candidate workers for a capability category.
// Decide is a pure function over a registry snapshot: the same input
// always yields the same decision, which the coordinator and the tests
// rely on.
package hiring

import (
	"errors"
	"fmt"
	"sort"

	"hireline/internal/domain"
)

var ErrNoWorkers = errors.New("no active workers for category")

// Decide ranks candidates by efficiency (descending), breaking ties by
// lower price and then registration order. The head becomes the chosen
// worker and the remainder the ordered fallback chain. Candidates must
// be a fresh snapshot — registry state may change between steps, so
// decisions are never cached.
func Decide(category string, candidates []domain.WorkerEntry) (domain.HiringDecision, error) {
	ranked := make([]domain.WorkerEntry, 0, len(candidates))
	for _, w := range candidates {
		if w.IsActive && w.Category == category {
			ranked = append(ranked, w)
		}
	}
	if len(ranked) == 0 {
		return domain.HiringDecision{}, fmt.Errorf("%w: %s", ErrNoWorkers, category)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Efficiency != ranked[j].Efficiency {
			return ranked[i].Efficiency > ranked[j].Efficiency
		}
		if ranked[i].PriceUnits != ranked[j].PriceUnits {
			return ranked[i].PriceUnits < ranked[j].PriceUnits
		}
		return ranked[i].Seq < ranked[j].Seq
	})
	chosen := ranked[0]
	return domain.HiringDecision{
		ChosenWorkerID: chosen.ID,
		Rationale: fmt.Sprintf("%s leads %d %s candidate(s): efficiency %.2f at %.4f units (reputation %d)",
			chosen.Name, len(ranked), category, chosen.Efficiency, chosen.PriceUnits, chosen.Reputation),
		Alternatives: ranked[1:],
	}, nil
}

// Chosen returns the full entry for the decision head from the same
// snapshot the decision was computed from.
func Chosen(decision domain.HiringDecision, candidates []domain.WorkerEntry) (domain.WorkerEntry, bool) {
	for _, w := range candidates {
		if w.ID == decision.ChosenWorkerID {
			return w, true
		}
	}
	return domain.WorkerEntry{}, false
}
