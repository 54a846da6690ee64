// Package synth merges step outcomes into one final answer.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"hireline/internal/domain"
	"hireline/internal/llm"
)

// NoResultsMessage is returned when a trace holds zero usable outcomes.
const NoResultsMessage = "No relevant results were produced for this task."

const collaboratorTimeout = 20 * time.Second

// Synthesizer builds the final answer. A nil collaborator client means
// the deterministic concatenation path is always used. Either way the
// answer is never empty.
type Synthesizer struct {
	client *llm.Client
}

func New(client *llm.Client) *Synthesizer {
	return &Synthesizer{client: client}
}

// Synthesize filters the trace to non-error outcomes and merges them.
// Degraded outcomes are included but labelled, since they are synthetic
// stand-ins rather than real worker results.
func (s *Synthesizer) Synthesize(ctx context.Context, taskText string, trace domain.ExecutionTrace) string {
	var usable []domain.StepOutcome
	for _, step := range trace.Steps {
		if (step.Status == domain.StepSuccess || step.Status == domain.StepDegraded) && step.Result != nil {
			usable = append(usable, step)
		}
	}
	if len(usable) == 0 {
		return NoResultsMessage
	}
	if s.client != nil {
		answer, err := s.summarize(ctx, taskText, usable)
		if err == nil && strings.TrimSpace(answer) != "" {
			return answer
		}
		if err != nil {
			log.Printf("synth: collaborator failed, using concatenation: %v", err)
		}
	}
	return concatenate(usable)
}

func (s *Synthesizer) summarize(ctx context.Context, taskText string, outcomes []domain.StepOutcome) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, collaboratorTimeout)
	defer cancel()

	var b strings.Builder
	for _, step := range outcomes {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", step.CapabilityID, workerLabel(step), renderResult(*step.Result))
	}
	system := "You merge sub-task results into one concise answer for the original task. " +
		"Ignore results that are irrelevant to the task. Do not invent information."
	prompt := fmt.Sprintf("Task: %s\n\nResults:\n%s", taskText, b.String())
	return s.client.Run(ctx, system, prompt)
}

func concatenate(outcomes []domain.StepOutcome) string {
	parts := make([]string, 0, len(outcomes))
	for _, step := range outcomes {
		label := workerLabel(step)
		text := renderResult(*step.Result)
		if step.Status == domain.StepDegraded {
			text += " (degraded)"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", label, text))
	}
	return strings.Join(parts, "\n")
}

func workerLabel(step domain.StepOutcome) string {
	if step.WorkerName != "" {
		return step.WorkerName
	}
	if step.WorkerID != "" {
		return step.WorkerID
	}
	return step.CapabilityID
}

func renderResult(res domain.StepResult) string {
	switch res.Kind {
	case domain.ResultMath:
		return strconv.FormatFloat(res.Value, 'f', -1, 64)
	case domain.ResultText, domain.ResultResearch:
		return res.Text
	case domain.ResultData:
		data, err := json.Marshal(res.Data)
		if err != nil {
			return fmt.Sprintf("%v", res.Data)
		}
		return string(data)
	default:
		return res.Text
	}
}
