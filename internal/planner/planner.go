// Package planner turns a task string into an ordered list of planned
// steps. The primary path asks the external planning collaborator; any
// collaborator failure (timeout, malformed output, missing key) drops
// to a rule-based fallback that is total — the coordinator always
// receives a plan.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"hireline/internal/config"
	"hireline/internal/domain"
	"hireline/internal/llm"
)

// ErrEmptyTask is the only fatal planning error: a blank task is
// rejected before planning begins.
var ErrEmptyTask = errors.New("task text is empty")

const collaboratorTimeout = 20 * time.Second

// Planner decomposes tasks. A nil collaborator client is valid and
// means the fallback path is always used.
type Planner struct {
	client          *llm.Client
	rules           []config.PlannerRule
	defaultCategory string
}

func New(client *llm.Client, cfg *config.Config) *Planner {
	return &Planner{
		client:          client,
		rules:           cfg.Planner.Rules,
		defaultCategory: cfg.Planner.DefaultCategory,
	}
}

// Plan produces the step list for a task.
func (p *Planner) Plan(ctx context.Context, taskText string) ([]domain.PlannedStep, error) {
	if strings.TrimSpace(taskText) == "" {
		return nil, ErrEmptyTask
	}
	if p.client != nil {
		steps, err := p.planWithCollaborator(ctx, taskText)
		if err == nil {
			return steps, nil
		}
		log.Printf("planner: collaborator failed, using fallback: %v", err)
	}
	return p.Fallback(taskText), nil
}

func (p *Planner) planWithCollaborator(ctx context.Context, taskText string) ([]domain.PlannedStep, error) {
	ctx, cancel := context.WithTimeout(ctx, collaboratorTimeout)
	defer cancel()

	categories := make([]string, 0, len(p.rules))
	for _, rule := range p.rules {
		categories = append(categories, rule.Category)
	}
	system := fmt.Sprintf(`You decompose a user task into calls against a worker marketplace.
Respond with a JSON array of steps, each {"capability_id": "...", "parameters": {...}}.
capability_id must be one of: %s. Use as few steps as possible.`, strings.Join(categories, ", "))

	var steps []domain.PlannedStep
	if err := p.client.RunJSON(ctx, system, taskText, &steps); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, errors.New("collaborator returned empty plan")
	}
	known := make(map[string]bool, len(categories))
	for _, c := range categories {
		known[c] = true
	}
	for i, s := range steps {
		if s.CapabilityID == "" || !known[s.CapabilityID] {
			return nil, fmt.Errorf("step %d has unknown capability %q", i, s.CapabilityID)
		}
		if steps[i].Parameters == nil {
			steps[i].Parameters = map[string]any{"task": taskText}
		}
	}
	return steps, nil
}

// Fallback scores the task text against each rule's keyword set and
// emits at most one step per matched category, in rule order. When
// nothing matches it produces a single step in the default category, so
// it never returns an empty plan.
func (p *Planner) Fallback(taskText string) []domain.PlannedStep {
	lowered := strings.ToLower(taskText)
	var steps []domain.PlannedStep
	for _, rule := range p.rules {
		score := 0
		for _, kw := range rule.Keywords {
			if containsKeyword(lowered, strings.ToLower(kw)) {
				score++
			}
		}
		if score > 0 {
			steps = append(steps, domain.PlannedStep{
				CapabilityID: rule.Category,
				Parameters:   map[string]any{"task": taskText},
			})
		}
	}
	if len(steps) == 0 {
		steps = append(steps, domain.PlannedStep{
			CapabilityID: p.defaultCategory,
			Parameters:   map[string]any{"task": taskText},
		})
	}
	return steps
}

// containsKeyword matches kw in text only on word boundaries, so "sum"
// does not fire inside "summarize". Keywords may be multi-word phrases
// ("price of"), which rules out simple field splitting.
func containsKeyword(text, kw string) bool {
	if kw == "" {
		return false
	}
	for start := 0; start < len(text); {
		i := strings.Index(text[start:], kw)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(kw)
		if (i == 0 || !isWordByte(text[i-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		start = i + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
