package domain

// WorkerEntry is a registered, priced, reputation-scored capability
// provider. Efficiency is derived from reputation and price on read and
// never persisted, so it cannot drift from its inputs.
type WorkerEntry struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Category      string  `json:"category"`
	Endpoint      string  `json:"endpoint,omitempty"`
	PriceUnits    float64 `json:"price_units"`
	Reputation    int     `json:"reputation" minimum:"0" maximum:"100"`
	JobsCompleted int     `json:"jobs_completed"`
	JobsFailed    int     `json:"jobs_failed"`
	Earned        float64 `json:"earned"`
	IsActive      bool    `json:"is_active"`
	Seq           int64   `json:"-"`
	RegisteredAt  string  `json:"registered_at" format:"date-time"`
	Efficiency    float64 `json:"efficiency"`
}

// PlannedStep is one sub-task emitted by the planner. Immutable once
// the plan is produced.
type PlannedStep struct {
	CapabilityID string         `json:"capability_id"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

// HiringDecision ranks candidates for one step. Alternatives are in
// descending efficiency order and feed the self-healing fallback chain.
type HiringDecision struct {
	ChosenWorkerID string        `json:"chosen_worker_id"`
	Rationale      string        `json:"rationale"`
	Alternatives   []WorkerEntry `json:"alternatives,omitempty"`
}

// SettlementRecord is one immutable ledger entry. Depth counts
// delegation hops from the original requester; ParentRecordID links a
// delegated hire to the settlement that spawned it and must reference
// an already-appended record.
type SettlementRecord struct {
	ID               int64   `json:"id"`
	TS               string  `json:"ts" format:"date-time"`
	TaskID           string  `json:"task_id"`
	CapabilityID     string  `json:"capability_id"`
	PayerID          string  `json:"payer_id"`
	WorkerID         string  `json:"worker_id"`
	Amount           float64 `json:"amount"`
	IsDelegated      bool    `json:"is_delegated"`
	ParentRecordID   *int64  `json:"parent_record_id,omitempty"`
	Depth            int     `json:"depth"`
	SelfHealed       bool    `json:"self_healed"`
	OriginalWorkerID string  `json:"original_worker_id,omitempty"`
	ReceiptID        string  `json:"receipt_id,omitempty"`
}

// Receipt is what the settlement collaborator returns for a payment.
type Receipt struct {
	TransactionID string  `json:"transaction_id"`
	PayerID       string  `json:"payer_id"`
	Amount        float64 `json:"amount"`
	TS            string  `json:"ts" format:"date-time"`
}

// Step outcome statuses. Every planned step reports exactly one.
const (
	StepSuccess  = "success"
	StepDegraded = "degraded"
	StepRejected = "rejected"
	StepError    = "error"
)

// Result kinds, one per capability family. The invoker decodes worker
// responses into exactly one of these at the boundary.
const (
	ResultData     = "data"
	ResultMath     = "math"
	ResultText     = "text"
	ResultResearch = "research"
)

// StepResult is a tagged variant: Kind selects which payload field is
// meaningful.
type StepResult struct {
	Kind   string         `json:"kind" enum:"data,math,text,research"`
	Data   map[string]any `json:"data,omitempty"`
	Value  float64        `json:"value,omitempty"`
	Text   string         `json:"text,omitempty"`
	Source string         `json:"source,omitempty"`
}

func DataResult(data map[string]any) StepResult { return StepResult{Kind: ResultData, Data: data} }
func MathResult(value float64) StepResult       { return StepResult{Kind: ResultMath, Value: value} }
func TextResult(text string) StepResult         { return StepResult{Kind: ResultText, Text: text} }
func ResearchResult(text, source string) StepResult {
	return StepResult{Kind: ResultResearch, Text: text, Source: source}
}

// HireReport is how a worker response declares hires it made on behalf
// of the task. Reports nest when a sub-worker delegated further.
type HireReport struct {
	CapabilityID string       `json:"capability_id"`
	WorkerID     string       `json:"worker_id"`
	Amount       float64      `json:"amount"`
	Hires        []HireReport `json:"hires,omitempty"`
}

// StepOutcome is the per-step record inside an ExecutionTrace.
type StepOutcome struct {
	CapabilityID     string             `json:"capability_id"`
	WorkerID         string             `json:"worker_id,omitempty"`
	WorkerName       string             `json:"worker_name,omitempty"`
	Status           string             `json:"status" enum:"success,degraded,rejected,error"`
	Result           *StepResult        `json:"result,omitempty"`
	Error            string             `json:"error,omitempty"`
	Settlement       *SettlementRecord  `json:"settlement,omitempty"`
	NestedHires      []SettlementRecord `json:"nested_hires,omitempty"`
	SelfHealed       bool               `json:"self_healed"`
	OriginalWorkerID string             `json:"original_worker_id,omitempty"`
	Rationale        string             `json:"rationale,omitempty"`
}

// ExecutionTrace aggregates one task run: every step outcome, the money
// spent, and the deepest delegation level observed.
type ExecutionTrace struct {
	TaskID         string        `json:"task_id"`
	RequesterID    string        `json:"requester_id"`
	Task           string        `json:"task"`
	BudgetLimit    float64       `json:"budget_limit"`
	CumulativeCost float64       `json:"cumulative_cost"`
	MaxDepth       int           `json:"max_depth"`
	Steps          []StepOutcome `json:"steps"`
	Answer         string        `json:"answer,omitempty"`
	Canceled       bool          `json:"canceled"`
	StartedAt      string        `json:"started_at" format:"date-time"`
	FinishedAt     string        `json:"finished_at,omitempty" format:"date-time"`
}

// APIKey authenticates a requester against the HTTP API.
type APIKey struct {
	ID          string `json:"id"`
	RequesterID string `json:"requester_id"`
	Name        string `json:"name,omitempty"`
	KeyHash     string `json:"key_hash"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}
