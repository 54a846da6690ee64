// Package registry is the single source of truth for worker entries.
// Reads are concurrent; every read-modify-write sequence is serialized
// behind one mutex so reputation updates from concurrent tasks cannot
// interleave.
package registry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"hireline/internal/domain"
	"hireline/internal/repo"
)

// Registry owns WorkerEntry lifetime. Entries are created at seed time
// and only ever mutated through RecordOutcome or deactivated; they are
// never deleted.
type Registry struct {
	mu      sync.Mutex
	repo    repo.Repo
	epsilon float64
	reward  int
	penalty int
	nextSeq int64
	Now     func() time.Time
}

type Options struct {
	Epsilon           float64
	ReputationReward  int
	ReputationPenalty int
}

func New(r repo.Repo, opts Options) (*Registry, error) {
	if opts.Epsilon <= 0 {
		opts.Epsilon = 0.001
	}
	if opts.ReputationReward <= 0 {
		opts.ReputationReward = 1
	}
	if opts.ReputationPenalty <= 0 {
		opts.ReputationPenalty = 2
	}
	maxSeq, err := r.MaxWorkerSeq(context.Background())
	if err != nil {
		return nil, fmt.Errorf("read worker seq: %w", err)
	}
	return &Registry{
		repo:    r,
		epsilon: opts.Epsilon,
		reward:  opts.ReputationReward,
		penalty: opts.ReputationPenalty,
		nextSeq: maxSeq + 1,
		Now:     time.Now,
	}, nil
}

// Epsilon is the divisor guard used in the efficiency formula.
func (g *Registry) Epsilon() float64 { return g.epsilon }

// Seed registers catalog entries that are not present yet. Existing
// entries keep their accumulated stats.
func (g *Registry) Seed(ctx context.Context, entries []domain.WorkerEntry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	tx, err := g.repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, w := range entries {
		exists, err := g.repo.WorkerExists(ctx, tx, w.ID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		w.Seq = g.nextSeq
		g.nextSeq++
		if w.RegisteredAt == "" {
			w.RegisteredAt = g.Now().UTC().Format(time.RFC3339)
		}
		if err := g.repo.InsertWorker(ctx, tx, w); err != nil {
			return fmt.Errorf("seed worker %s: %w", w.ID, err)
		}
	}
	return tx.Commit()
}

// Get returns one entry with its efficiency populated.
func (g *Registry) Get(ctx context.Context, id string) (domain.WorkerEntry, error) {
	w, err := g.repo.GetWorker(ctx, id)
	if err != nil {
		return w, err
	}
	w.Efficiency = g.efficiency(w)
	return w, nil
}

// ListActive returns active entries for a category in registration
// order, efficiency freshly computed.
func (g *Registry) ListActive(ctx context.Context, category string) ([]domain.WorkerEntry, error) {
	workers, err := g.repo.ListWorkers(ctx, category, true)
	if err != nil {
		return nil, err
	}
	for i := range workers {
		workers[i].Efficiency = g.efficiency(workers[i])
	}
	return workers, nil
}

// List returns all entries (active or not) in registration order.
func (g *Registry) List(ctx context.Context, category string) ([]domain.WorkerEntry, error) {
	workers, err := g.repo.ListWorkers(ctx, category, false)
	if err != nil {
		return nil, err
	}
	for i := range workers {
		workers[i].Efficiency = g.efficiency(workers[i])
	}
	return workers, nil
}

// RecordOutcome applies a settled job: counters, earnings, and a
// reputation nudge. An unknown worker id is logged and ignored — a
// settlement must never fail because the registry moved on.
func (g *Registry) RecordOutcome(ctx context.Context, workerID string, success bool, amountEarned float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, err := g.repo.GetWorker(ctx, workerID)
	if err != nil {
		log.Printf("registry: record outcome for unknown worker %s: %v", workerID, err)
		return
	}
	reputation := w.Reputation
	if success {
		reputation += g.reward
		if reputation > 100 {
			reputation = 100
		}
	} else {
		reputation -= g.penalty
		if reputation < 0 {
			reputation = 0
		}
	}
	if err := g.repo.UpdateWorkerOutcome(ctx, workerID, success, amountEarned, reputation); err != nil {
		log.Printf("registry: update outcome for worker %s: %v", workerID, err)
	}
}

// Deactivate removes a worker from hiring without deleting its history.
func (g *Registry) Deactivate(ctx context.Context, workerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.repo.SetWorkerActive(ctx, workerID, false)
}

// efficiency is reputation²/(price+ε). The exact shape is a tunable,
// not a contract; ε keeps it defined for free workers.
func (g *Registry) efficiency(w domain.WorkerEntry) float64 {
	rep := float64(w.Reputation)
	return rep * rep / (w.PriceUnits + g.epsilon)
}
