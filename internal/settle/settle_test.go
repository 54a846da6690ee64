package settle

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPayReturnsReceipt(t *testing.T) {
	chain := NewMockChain(time.Second, 0, 0)
	receipt, err := chain.Pay(context.Background(), "hireline", 0.01)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if receipt.TransactionID == "" || receipt.TS == "" {
		t.Fatalf("receipt incomplete: %+v", receipt)
	}
	if receipt.PayerID != "hireline" || receipt.Amount != 0.01 {
		t.Fatalf("receipt = %+v", receipt)
	}
}

func TestPayRejectsNonPositiveAmount(t *testing.T) {
	chain := NewMockChain(time.Second, 0, 0)
	for _, amount := range []float64{0, -0.01} {
		if _, err := chain.Pay(context.Background(), "hireline", amount); !errors.Is(err, ErrSettlement) {
			t.Fatalf("amount %g: err = %v", amount, err)
		}
	}
}

func TestPayAlwaysFailsAtFullFailureRate(t *testing.T) {
	chain := NewMockChain(time.Second, 0, 1.0)
	for i := 0; i < 10; i++ {
		if _, err := chain.Pay(context.Background(), "hireline", 0.01); !errors.Is(err, ErrSettlement) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}
}

func TestPayTimesOutUnderLatency(t *testing.T) {
	chain := NewMockChain(10*time.Millisecond, time.Second, 0)
	start := time.Now()
	_, err := chain.Pay(context.Background(), "hireline", 0.01)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("timeout did not cut the latency wait short")
	}
}
