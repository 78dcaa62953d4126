package model

import "time"

// RunStatus represents the current state of an agent run.
type RunStatus string

const (
	RunStatusPending             RunStatus = "pending"
	RunStatusRunning             RunStatus = "running"
	RunStatusNeedsClarification  RunStatus = "needs_clarification"
	RunStatusReadyToCommit       RunStatus = "ready_to_commit"
	RunStatusCommitting          RunStatus = "committing"
	RunStatusConfirmingDiagnoses RunStatus = "confirming_diagnoses"
	RunStatusCommitted           RunStatus = "committed"
	RunStatusRejected            RunStatus = "rejected"
	RunStatusFailed              RunStatus = "failed"
)

// Run represents a single end-to-end processing of one clinician intent.
type Run struct {
	ID             string     `json:"id"`
	OrgID          string     `json:"org_id"`
	UserID         string     `json:"user_id"`
	ProviderID     string     `json:"provider_id"`
	PatientID      string     `json:"patient_id,omitempty"`
	EncounterID    string     `json:"encounter_id,omitempty"`
	InputText      string     `json:"input_text"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	Status         RunStatus  `json:"status"`
	IntentType     string     `json:"intent_type,omitempty"`
	TotalTokens    TokenUsage `json:"total_tokens"`
	EstimatedCost  float64    `json:"estimated_cost"`
	ResultSummary  string     `json:"result_summary,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// StepType distinguishes model text output from tool invocations.
type StepType string

const (
	StepTypeModelText StepType = "model_text"
	StepTypeToolCall  StepType = "tool_call"
)

// Step is one iteration of the tool-calling conversation loop.
// Steps are immutable once written; the ledger is append-only.
type Step struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	StepNumber int            `json:"step_number"`
	StepType   StepType       `json:"step_type"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolOutput map[string]any `json:"tool_output,omitempty"`
	// Transcript is the full model-visible conversation as of this step.
	// Required to reconstruct conversation state on resume.
	Transcript []Turn     `json:"transcript"`
	Usage      TokenUsage `json:"usage"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TokenUsage tracks token consumption across model calls.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Total returns combined input and output tokens.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}
