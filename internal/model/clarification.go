package model

import "time"

// ClarificationStatus tracks the lifecycle of a clarifying question.
type ClarificationStatus string

const (
	ClarificationPending  ClarificationStatus = "pending"
	ClarificationAnswered ClarificationStatus = "answered"
	ClarificationExpired  ClarificationStatus = "expired"
)

// Clarification is one question the model raised during a run. All of a
// run's pending clarifications must be answered before the run can resume.
type Clarification struct {
	ID         string              `json:"id"`
	RunID      string              `json:"run_id"`
	Question   string              `json:"question"`
	Context    string              `json:"context,omitempty"`
	Options    []string            `json:"options,omitempty"`
	Answer     string              `json:"answer,omitempty"`
	AnsweredBy string              `json:"answered_by,omitempty"`
	AnsweredAt *time.Time          `json:"answered_at,omitempty"`
	Status     ClarificationStatus `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
}

// Answered reports whether the clarification has a non-empty answer.
func (c Clarification) Answered() bool {
	return c.Status == ClarificationAnswered && c.Answer != ""
}
