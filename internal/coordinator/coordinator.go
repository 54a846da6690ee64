// Package coordinator drives one task end to end: plan, hire, guard the
// budget, invoke, settle, and heal. Steps run sequentially; the trace
// is the single mutable value and only this goroutine touches it.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"hireline/internal/domain"
	"hireline/internal/events"
	"hireline/internal/hiring"
	"hireline/internal/ledger"
	"hireline/internal/planner"
	"hireline/internal/registry"
	"hireline/internal/repo"
	"hireline/internal/settle"
	"hireline/internal/synth"
	"hireline/internal/worker"
)

var ErrBadBudget = errors.New("budget limit must be positive")

// Coordinator wires the collaborating subsystems together. Fields are
// set once at startup and never mutated afterwards, so one instance
// serves concurrent tasks.
type Coordinator struct {
	Registry   *registry.Registry
	Ledger     *ledger.Ledger
	Planner    *planner.Planner
	Synth      *synth.Synthesizer
	Invoker    worker.Invoker
	Settler    settle.Settler
	Broker     *events.Broker
	Repo       repo.Repo
	Builtin    *worker.Builtin
	MaxRetries int
	Now        func() time.Time
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Run executes taskText under budgetLimit and returns the completed
// trace. Plan failures are the only errors surfaced to the caller;
// everything after planning is absorbed into per-step outcomes so a
// partial run still produces an answer and a persisted trace.
func (c *Coordinator) Run(ctx context.Context, requesterID, taskText string, budgetLimit float64) (domain.ExecutionTrace, error) {
	if budgetLimit <= 0 {
		return domain.ExecutionTrace{}, fmt.Errorf("%w: %g", ErrBadBudget, budgetLimit)
	}

	plan, err := c.Planner.Plan(ctx, taskText)
	if err != nil {
		return domain.ExecutionTrace{}, err
	}

	trace := domain.ExecutionTrace{
		TaskID:      uuid.NewString(),
		RequesterID: requesterID,
		Task:        taskText,
		BudgetLimit: budgetLimit,
		Steps:       make([]domain.StepOutcome, 0, len(plan)),
		StartedAt:   c.now().UTC().Format(time.RFC3339Nano),
	}

	for _, step := range plan {
		if ctx.Err() != nil {
			trace.Canceled = true
			break
		}
		outcome := c.executeStep(ctx, &trace, step)
		trace.Steps = append(trace.Steps, outcome)
		c.publish(events.EventStep, events.StepEvent{
			TaskID:       trace.TaskID,
			CapabilityID: outcome.CapabilityID,
			WorkerID:     outcome.WorkerID,
			Status:       outcome.Status,
			Error:        outcome.Error,
		})
		if ctx.Err() != nil {
			trace.Canceled = true
			break
		}
	}

	if trace.Canceled {
		c.publish(events.EventError, events.ErrorEvent{
			TaskID:  trace.TaskID,
			Message: "task canceled before all steps completed",
		})
	}

	trace.Answer = c.Synth.Synthesize(ctx, taskText, trace)
	trace.FinishedAt = c.now().UTC().Format(time.RFC3339Nano)

	if err := c.Repo.InsertTrace(ctx, trace); err != nil {
		log.Printf("coordinator: persist trace %s: %v", trace.TaskID, err)
	}
	c.publish(events.EventDone, events.DoneEvent{
		TaskID:         trace.TaskID,
		Answer:         trace.Answer,
		CumulativeCost: trace.CumulativeCost,
		MaxDepth:       trace.MaxDepth,
	})
	return trace, nil
}

// executeStep hires for one step and runs the fallback chain. The
// chosen worker is tried first; after a failure up to MaxRetries
// alternatives are tried in decision order, skipping any whose price
// no longer fits the budget. A settlement that fails counts as a
// failed attempt, the same as the invocation failing. Exhaustion
// degrades the step to a local placeholder so the task keeps moving.
func (c *Coordinator) executeStep(ctx context.Context, trace *domain.ExecutionTrace, step domain.PlannedStep) domain.StepOutcome {
	outcome := domain.StepOutcome{CapabilityID: step.CapabilityID}

	candidates, err := c.Registry.ListActive(ctx, step.CapabilityID)
	if err != nil {
		outcome.Status = domain.StepError
		outcome.Error = fmt.Sprintf("list workers: %v", err)
		return outcome
	}
	decision, err := hiring.Decide(step.CapabilityID, candidates)
	if err != nil {
		outcome.Status = domain.StepError
		outcome.Error = fmt.Sprintf("no active worker offers %q", step.CapabilityID)
		return outcome
	}
	chosen, _ := hiring.Chosen(decision, candidates)
	outcome.Rationale = decision.Rationale
	outcome.WorkerID = chosen.ID
	outcome.WorkerName = chosen.Name

	remaining := trace.BudgetLimit - trace.CumulativeCost
	if chosen.PriceUnits > remaining {
		outcome.Status = domain.StepRejected
		outcome.Error = fmt.Sprintf("price %g exceeds remaining budget %g", chosen.PriceUnits, remaining)
		return outcome
	}

	attempts := append([]domain.WorkerEntry{chosen}, decision.Alternatives...)
	if len(attempts) > c.MaxRetries+1 {
		attempts = attempts[:c.MaxRetries+1]
	}

	var lastErr error
	for i, candidate := range attempts {
		if ctx.Err() != nil {
			outcome.Status = domain.StepError
			outcome.Error = ctx.Err().Error()
			return outcome
		}
		if i > 0 {
			// Fallback attempt: re-check the budget, cheaper
			// alternatives may still fit where pricier ones do not.
			if candidate.PriceUnits > trace.BudgetLimit-trace.CumulativeCost {
				log.Printf("coordinator: task %s: skip fallback %s, price %g over remaining budget",
					trace.TaskID, candidate.ID, candidate.PriceUnits)
				continue
			}
			outcome.SelfHealed = true
			outcome.OriginalWorkerID = chosen.ID
			outcome.WorkerID = candidate.ID
			outcome.WorkerName = candidate.Name
			log.Printf("coordinator: task %s: healing %s -> %s after %v",
				trace.TaskID, chosen.ID, candidate.ID, lastErr)
		}

		resp, err := c.Invoker.Call(ctx, candidate, step)
		if err != nil {
			lastErr = err
			c.Registry.RecordOutcome(ctx, candidate.ID, false, 0)
			continue
		}

		receipt, err := c.Settler.Pay(ctx, trace.RequesterID, candidate.PriceUnits)
		if err != nil {
			// The work is done but the money did not move; an unpaid
			// result never reaches the answer. Fall through to the next
			// candidate like any other step failure.
			lastErr = fmt.Errorf("settlement: %w", err)
			c.Registry.RecordOutcome(ctx, candidate.ID, false, 0)
			continue
		}
		return c.settleStep(ctx, trace, step, candidate, resp, receipt, outcome)
	}

	// Every candidate failed or was priced out. Degrade with a local
	// placeholder rather than failing the whole task; nothing is paid
	// and no healing is recorded.
	outcome.Status = domain.StepDegraded
	outcome.WorkerID = ""
	outcome.WorkerName = ""
	outcome.SelfHealed = false
	outcome.OriginalWorkerID = ""
	if lastErr != nil {
		outcome.Error = lastErr.Error()
	}
	result := c.Builtin.Degraded(step.CapabilityID, step.Parameters)
	outcome.Result = &result
	return outcome
}

// settleStep appends the depth-0 settlement for a paid invocation and
// ingests any delegated hires the worker reported.
func (c *Coordinator) settleStep(ctx context.Context, trace *domain.ExecutionTrace, step domain.PlannedStep,
	candidate domain.WorkerEntry, resp worker.Response, receipt domain.Receipt, outcome domain.StepOutcome) domain.StepOutcome {

	rec, err := c.Ledger.Append(ctx, domain.SettlementRecord{
		TaskID:           trace.TaskID,
		CapabilityID:     step.CapabilityID,
		PayerID:          trace.RequesterID,
		WorkerID:         candidate.ID,
		Amount:           candidate.PriceUnits,
		Depth:            0,
		SelfHealed:       outcome.SelfHealed,
		OriginalWorkerID: outcome.OriginalWorkerID,
		ReceiptID:        receipt.TransactionID,
	})
	if err != nil {
		outcome.Status = domain.StepError
		outcome.Error = fmt.Sprintf("append settlement: %v", err)
		return outcome
	}

	trace.CumulativeCost += rec.Amount
	c.Registry.RecordOutcome(ctx, candidate.ID, true, rec.Amount)

	outcome.Status = domain.StepSuccess
	outcome.Result = &resp.Result
	outcome.Settlement = &rec
	outcome.NestedHires = c.ingestHires(ctx, trace, step.CapabilityID, resp.Hires, rec,
		[]string{candidate.ID})
	return outcome
}

// ingestHires records worker-reported delegated hires as child
// settlements. Each level nests one deeper than its parent record. A
// hire naming any worker already on the delegation chain is a cycle
// and is dropped, as is a hire the remaining budget cannot cover;
// either way its own sub-hires are dropped with it.
func (c *Coordinator) ingestHires(ctx context.Context, trace *domain.ExecutionTrace, capabilityID string,
	hires []domain.HireReport, parent domain.SettlementRecord, chain []string) []domain.SettlementRecord {

	var appended []domain.SettlementRecord
	for _, hire := range hires {
		if hire.WorkerID == "" || hire.Amount < 0 {
			log.Printf("coordinator: task %s: dropping malformed hire report from %s", trace.TaskID, parent.WorkerID)
			continue
		}
		if onChain(chain, hire.WorkerID) {
			log.Printf("coordinator: task %s: dropping cyclic hire %s by %s", trace.TaskID, hire.WorkerID, parent.WorkerID)
			continue
		}
		if hire.Amount > trace.BudgetLimit-trace.CumulativeCost {
			log.Printf("coordinator: task %s: dropping hire %s for %g, over remaining budget",
				trace.TaskID, hire.WorkerID, hire.Amount)
			continue
		}

		capability := hire.CapabilityID
		if capability == "" {
			capability = capabilityID
		}
		parentID := parent.ID
		rec, err := c.Ledger.Append(ctx, domain.SettlementRecord{
			TaskID:         trace.TaskID,
			CapabilityID:   capability,
			PayerID:        parent.WorkerID,
			WorkerID:       hire.WorkerID,
			Amount:         hire.Amount,
			ParentRecordID: &parentID,
			Depth:          parent.Depth + 1,
		})
		if err != nil {
			log.Printf("coordinator: task %s: append delegated hire: %v", trace.TaskID, err)
			continue
		}

		trace.CumulativeCost += rec.Amount
		if rec.Depth > trace.MaxDepth {
			trace.MaxDepth = rec.Depth
		}
		c.Registry.RecordOutcome(ctx, hire.WorkerID, true, rec.Amount)

		appended = append(appended, rec)
		next := append(append([]string(nil), chain...), hire.WorkerID)
		appended = append(appended, c.ingestHires(ctx, trace, capability, hire.Hires, rec, next)...)
	}
	return appended
}

func onChain(chain []string, workerID string) bool {
	for _, id := range chain {
		if id == workerID {
			return true
		}
	}
	return false
}

func (c *Coordinator) publish(name string, payload any) {
	if c.Broker != nil {
		c.Broker.Publish(name, payload)
	}
}
