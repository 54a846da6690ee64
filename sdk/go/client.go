package hirelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hireline/internal/domain"
)

// Client is a minimal Hireline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	RequesterID string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 60 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RunTask submits a task and blocks until its trace is complete. A nil
// budget uses the server default.
func (c *Client) RunTask(ctx context.Context, task string, budgetLimit *float64) (domain.ExecutionTrace, error) {
	body := map[string]any{"task": task}
	if budgetLimit != nil {
		body["budget_limit"] = *budgetLimit
	}
	var resp domain.ExecutionTrace
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// GetTask fetches a completed task trace by id.
func (c *Client) GetTask(ctx context.Context, taskID string) (domain.ExecutionTrace, error) {
	var resp domain.ExecutionTrace
	endpoint := fmt.Sprintf("v0/tasks/%s", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Workers lists registry entries, optionally filtered by category.
func (c *Client) Workers(ctx context.Context, category string, includeInactive bool) ([]domain.WorkerEntry, error) {
	endpoint := "v0/registry"
	params := url.Values{}
	if category != "" {
		params.Set("category", category)
	}
	if includeInactive {
		params.Set("all", "true")
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []domain.WorkerEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Ledger returns the most recent settlement records, newest first.
func (c *Client) Ledger(ctx context.Context, limit int) ([]domain.SettlementRecord, error) {
	endpoint := "v0/ledger"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []domain.SettlementRecord
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.RequesterID != "":
		req.Header.Set("X-Requester-Id", c.RequesterID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
