package settle

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"hireline/internal/domain"
)

var (
	// ErrSettlement covers rejections reported by the settlement
	// backend itself.
	ErrSettlement = errors.New("settlement failed")
	// ErrTimeout covers deadline expiry while waiting for a receipt.
	ErrTimeout = errors.New("settlement timed out")
)

// Settler moves payment for one completed step and returns a receipt.
// The worker being paid is carried by the surrounding ledger record.
type Settler interface {
	Pay(ctx context.Context, payerID string, amount float64) (domain.Receipt, error)
}

// MockChain simulates an external settlement network: fixed latency,
// an optional injected failure rate, and a hard per-call timeout.
type MockChain struct {
	Timeout     time.Duration
	Latency     time.Duration
	FailureRate float64
	Now         func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

func NewMockChain(timeout, latency time.Duration, failureRate float64) *MockChain {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MockChain{
		Timeout:     timeout,
		Latency:     latency,
		FailureRate: failureRate,
		Now:         time.Now,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockChain) Pay(ctx context.Context, payerID string, amount float64) (domain.Receipt, error) {
	if amount <= 0 {
		return domain.Receipt{}, fmt.Errorf("%w: non-positive amount %g", ErrSettlement, amount)
	}
	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return domain.Receipt{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
	}
	if m.roll() < m.FailureRate {
		return domain.Receipt{}, fmt.Errorf("%w: payment from %s rejected", ErrSettlement, payerID)
	}
	return domain.Receipt{
		TransactionID: uuid.NewString(),
		PayerID:       payerID,
		Amount:        amount,
		TS:            m.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

func (m *MockChain) roll() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64()
}
