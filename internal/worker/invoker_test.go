package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hireline/internal/domain"
)

func TestHTTPInvokerCallsEndpoint(t *testing.T) {
	var gotBody callPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(Response{
			Result: domain.MathResult(7),
			Hires:  []domain.HireReport{{WorkerID: "sub-1", Amount: 0.001}},
		})
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(5 * time.Second)
	step := domain.PlannedStep{CapabilityID: "math", Parameters: map[string]any{"task": "3+4"}}
	resp, err := inv.Call(context.Background(), domain.WorkerEntry{ID: "remote", Endpoint: srv.URL}, step)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Result.Value != 7 || len(resp.Hires) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	if gotBody.CapabilityID != "math" || gotBody.Parameters["task"] != "3+4" {
		t.Fatalf("request payload = %+v", gotBody)
	}
}

func TestHTTPInvokerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(5 * time.Second)
	_, err := inv.Call(context.Background(), domain.WorkerEntry{ID: "remote", Endpoint: srv.URL}, domain.PlannedStep{CapabilityID: "data"})
	if !errors.Is(err, ErrWorkerCall) {
		t.Fatalf("err = %v", err)
	}
}

func TestHTTPInvokerRejectsUntaggedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"result":{}}`))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(5 * time.Second)
	_, err := inv.Call(context.Background(), domain.WorkerEntry{ID: "remote", Endpoint: srv.URL}, domain.PlannedStep{CapabilityID: "data"})
	if !errors.Is(err, ErrWorkerCall) {
		t.Fatalf("err = %v", err)
	}
}

func TestHTTPInvokerUsesBuiltinWithoutEndpoint(t *testing.T) {
	inv := NewHTTPInvoker(5 * time.Second)
	step := domain.PlannedStep{CapabilityID: "math", Parameters: map[string]any{"expression": "8*8"}}
	resp, err := inv.Call(context.Background(), domain.WorkerEntry{ID: "calc"}, step)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Result.Value != 64 {
		t.Fatalf("value = %g", resp.Result.Value)
	}
}
