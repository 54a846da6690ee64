// Package ledger is the append-only settlement log. It exclusively owns
// SettlementRecord lifetime: records enter through Append, are never
// mutated afterwards, and become visible to live subscribers in exactly
// the order their ids were allocated.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hireline/internal/domain"
	"hireline/internal/events"
	"hireline/internal/repo"
)

var (
	ErrParentNotFound = errors.New("parent settlement not appended")
	ErrBadDepth       = errors.New("settlement depth must be parent depth + 1")
)

// Ledger serializes id allocation, persistence, and fan-out under one
// mutex so no two records share an id and subscribers never observe
// out-of-order delivery.
type Ledger struct {
	mu     sync.Mutex
	repo   repo.Repo
	broker *events.Broker
	nextID int64
	Now    func() time.Time
}

func New(r repo.Repo, broker *events.Broker) (*Ledger, error) {
	maxID, err := r.MaxSettlementID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("read settlement id: %w", err)
	}
	return &Ledger{repo: r, broker: broker, nextID: maxID + 1, Now: time.Now}, nil
}

// Append validates, persists, and publishes one settlement. The record
// comes back with its allocated id and timestamp. Invariants enforced
// here rather than by convention: a parent reference must resolve to an
// already-appended record, and the child's depth must be exactly the
// parent's depth plus one.
func (l *Ledger) Append(ctx context.Context, rec domain.SettlementRecord) (domain.SettlementRecord, error) {
	if rec.WorkerID == "" || rec.PayerID == "" {
		return rec, errors.New("settlement requires worker and payer")
	}
	if rec.Amount < 0 {
		return rec, errors.New("settlement amount must not be negative")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.ParentRecordID != nil {
		parent, err := l.repo.GetSettlement(ctx, *rec.ParentRecordID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return rec, fmt.Errorf("%w: %d", ErrParentNotFound, *rec.ParentRecordID)
			}
			return rec, err
		}
		if rec.Depth != parent.Depth+1 {
			return rec, fmt.Errorf("%w: parent %d has depth %d, got %d",
				ErrBadDepth, parent.ID, parent.Depth, rec.Depth)
		}
		rec.IsDelegated = true
	} else if rec.Depth != 0 {
		return rec, fmt.Errorf("%w: depth %d without parent", ErrBadDepth, rec.Depth)
	}

	rec.ID = l.nextID
	rec.TS = l.Now().UTC().Format(time.RFC3339Nano)
	if err := l.repo.InsertSettlement(ctx, rec); err != nil {
		return rec, fmt.Errorf("append settlement: %w", err)
	}
	l.nextID++

	if l.broker != nil {
		if rec.IsDelegated {
			l.broker.Publish(events.EventDelegatedHire, events.DelegatedHireEvent{Settlement: rec})
		} else {
			l.broker.Publish(events.EventPayment, events.PaymentEvent{Settlement: rec})
		}
	}
	return rec, nil
}

// Recent returns the latest records, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]domain.SettlementRecord, error) {
	return l.repo.ListSettlements(ctx, limit)
}

// After returns records with ids greater than afterID in ascending
// order; the webhook dispatcher uses this as its cursor.
func (l *Ledger) After(ctx context.Context, afterID int64, limit int) ([]domain.SettlementRecord, error) {
	return l.repo.ListSettlementsAfter(ctx, afterID, limit)
}

// Get returns one record by id.
func (l *Ledger) Get(ctx context.Context, id int64) (domain.SettlementRecord, error) {
	return l.repo.GetSettlement(ctx, id)
}
