// Package worker invokes capability implementations. Remote workers are
// arbitrary HTTP JSON endpoints; builtin workers run in-process and
// double as the deterministic degraded-result stubs.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"hireline/internal/domain"
)

// ErrWorkerCall wraps any transport or decode failure from a worker.
var ErrWorkerCall = errors.New("worker call failed")

// Response is what a worker returns: a tagged result plus any hires the
// worker made itself while serving the call.
type Response struct {
	Result domain.StepResult   `json:"result"`
	Hires  []domain.HireReport `json:"hires,omitempty"`
}

// Invoker performs one capability call against a worker.
type Invoker interface {
	Call(ctx context.Context, entry domain.WorkerEntry, step domain.PlannedStep) (Response, error)
}

// HTTPInvoker POSTs step parameters to the worker endpoint and decodes
// the tagged response. Workers without an endpoint are served by the
// builtin capabilities.
type HTTPInvoker struct {
	Client  *http.Client
	Timeout time.Duration
	Local   *Builtin
}

func NewHTTPInvoker(timeout time.Duration) *HTTPInvoker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPInvoker{
		Client:  &http.Client{Timeout: timeout},
		Timeout: timeout,
		Local:   NewBuiltin(),
	}
}

type callPayload struct {
	CapabilityID string         `json:"capability_id"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

func (h *HTTPInvoker) Call(ctx context.Context, entry domain.WorkerEntry, step domain.PlannedStep) (Response, error) {
	if entry.Endpoint == "" {
		return h.Local.Call(ctx, entry, step)
	}
	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	body, err := json.Marshal(callPayload{CapabilityID: step.CapabilityID, Parameters: step.Parameters})
	if err != nil {
		return Response{}, fmt.Errorf("%w: marshal request: %v", ErrWorkerCall, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, entry.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrWorkerCall, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrWorkerCall, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("%w: read response: %v", ErrWorkerCall, err)
	}
	if resp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("%w: worker %s returned status %d: %s",
			ErrWorkerCall, entry.ID, resp.StatusCode, truncate(data, 200))
	}
	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return Response{}, fmt.Errorf("%w: decode response from %s: %v", ErrWorkerCall, entry.ID, err)
	}
	if out.Result.Kind == "" {
		return Response{}, fmt.Errorf("%w: worker %s returned untagged result", ErrWorkerCall, entry.ID)
	}
	return out, nil
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
