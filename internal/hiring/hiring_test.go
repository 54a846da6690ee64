package hiring

import (
	"errors"
	"testing"

	"hireline/internal/domain"
)

func candidate(id string, price float64, rep int, seq int64) domain.WorkerEntry {
	eff := float64(rep) * float64(rep) / (price + 0.001)
	return domain.WorkerEntry{
		ID:         id,
		Name:       id,
		Category:   "data",
		PriceUnits: price,
		Reputation: rep,
		IsActive:   true,
		Seq:        seq,
		Efficiency: eff,
	}
}

func TestDecidePicksHighestEfficiency(t *testing.T) {
	candidates := []domain.WorkerEntry{
		candidate("cheap-low-rep", 0.001, 40, 1),
		candidate("pricey-high-rep", 0.002, 90, 2),
		candidate("mid", 0.001, 70, 3),
	}
	decision, err := Decide("data", candidates)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	// 90^2/0.003 = 2.7M beats 70^2/0.002 = 2.45M beats 40^2/0.002.
	if decision.ChosenWorkerID != "pricey-high-rep" {
		t.Fatalf("chose %s", decision.ChosenWorkerID)
	}
	if len(decision.Alternatives) != 2 {
		t.Fatalf("alternatives = %d", len(decision.Alternatives))
	}
	if decision.Alternatives[0].ID != "mid" {
		t.Fatalf("first alternative = %s", decision.Alternatives[0].ID)
	}
	if decision.Rationale == "" {
		t.Fatal("rationale empty")
	}
}

func TestDecideTieBreaksByPriceThenSeq(t *testing.T) {
	a := candidate("a", 0.002, 80, 2)
	b := candidate("b", 0.001, 80, 3)
	b.Efficiency = a.Efficiency // force an efficiency tie
	c := candidate("c", 0.001, 80, 1)
	c.Efficiency = a.Efficiency

	decision, err := Decide("data", []domain.WorkerEntry{a, b, c})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	// Price breaks the tie first, then registration order.
	if decision.ChosenWorkerID != "c" {
		t.Fatalf("chose %s, want c", decision.ChosenWorkerID)
	}
	if decision.Alternatives[0].ID != "b" || decision.Alternatives[1].ID != "a" {
		t.Fatalf("alternatives = %s, %s", decision.Alternatives[0].ID, decision.Alternatives[1].ID)
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	candidates := []domain.WorkerEntry{
		candidate("x", 0.001, 75, 1),
		candidate("y", 0.003, 88, 2),
		candidate("z", 0.002, 88, 3),
	}
	first, err := Decide("data", candidates)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Decide("data", candidates)
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		if again.ChosenWorkerID != first.ChosenWorkerID {
			t.Fatalf("run %d chose %s, first chose %s", i, again.ChosenWorkerID, first.ChosenWorkerID)
		}
		for j := range again.Alternatives {
			if again.Alternatives[j].ID != first.Alternatives[j].ID {
				t.Fatalf("run %d alternative %d differs", i, j)
			}
		}
	}
}

func TestDecideFiltersInactiveAndWrongCategory(t *testing.T) {
	inactive := candidate("off", 0.001, 99, 1)
	inactive.IsActive = false
	wrong := candidate("math-guy", 0.001, 99, 2)
	wrong.Category = "math"
	ok := candidate("ok", 0.005, 50, 3)

	decision, err := Decide("data", []domain.WorkerEntry{inactive, wrong, ok})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.ChosenWorkerID != "ok" {
		t.Fatalf("chose %s", decision.ChosenWorkerID)
	}
	if len(decision.Alternatives) != 0 {
		t.Fatalf("alternatives = %d", len(decision.Alternatives))
	}
}

func TestDecideNoWorkers(t *testing.T) {
	_, err := Decide("data", nil)
	if !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("err = %v", err)
	}
}

func TestChosen(t *testing.T) {
	candidates := []domain.WorkerEntry{candidate("solo", 0.001, 60, 1)}
	decision, err := Decide("data", candidates)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	w, ok := Chosen(decision, candidates)
	if !ok || w.ID != "solo" {
		t.Fatalf("chosen = %v %v", w.ID, ok)
	}
	if _, ok := Chosen(domain.HiringDecision{ChosenWorkerID: "ghost"}, candidates); ok {
		t.Fatal("found worker that is not a candidate")
	}
}
