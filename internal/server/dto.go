package server

import (
	"hireline/internal/domain"
)

// Request payloads

type RunTaskRequest struct {
	Task        string   `json:"task"`
	BudgetLimit *float64 `json:"budget_limit,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type TaskSummaryResponse struct {
	TaskID         string  `json:"task_id"`
	Task           string  `json:"task"`
	RequesterID    string  `json:"requester_id"`
	BudgetLimit    float64 `json:"budget_limit"`
	CumulativeCost float64 `json:"cumulative_cost"`
	MaxDepth       int     `json:"max_depth"`
	Canceled       bool    `json:"canceled"`
	StartedAt      string  `json:"started_at" format:"date-time"`
	FinishedAt     string  `json:"finished_at,omitempty" format:"date-time"`
}

func taskSummary(t domain.ExecutionTrace) TaskSummaryResponse {
	return TaskSummaryResponse{
		TaskID:         t.TaskID,
		Task:           t.Task,
		RequesterID:    t.RequesterID,
		BudgetLimit:    t.BudgetLimit,
		CumulativeCost: t.CumulativeCost,
		MaxDepth:       t.MaxDepth,
		Canceled:       t.Canceled,
		StartedAt:      t.StartedAt,
		FinishedAt:     t.FinishedAt,
	}
}

func mapTaskSummaries(items []domain.ExecutionTrace) []TaskSummaryResponse {
	out := make([]TaskSummaryResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskSummary(t))
	}
	return out
}

type APIKeyResponse struct {
	ID          string `json:"id"`
	RequesterID string `json:"requester_id"`
	Name        string `json:"name,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	// Key is the plaintext secret; only set on creation.
	Key string `json:"key,omitempty"`
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:          k.ID,
		RequesterID: k.RequesterID,
		Name:        k.Name,
		CreatedAt:   k.CreatedAt,
	}
}
