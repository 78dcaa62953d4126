package model

import "time"

// ActionType is the closed set of mutations the agent may propose.
type ActionType string

const (
	ActionCreateNoteDraft     ActionType = "create_note_draft"
	ActionCreateEncounter     ActionType = "create_encounter"
	ActionSuggestBilling      ActionType = "suggest_billing"
	ActionUpdateMedication    ActionType = "update_medication"
	ActionCreateAppointment   ActionType = "create_appointment"
	ActionGenerateUR          ActionType = "generate_utilization_review"
	ActionCreateTreatmentPlan ActionType = "create_treatment_plan"
)

// ValidActionType reports whether t is a known action type.
func ValidActionType(t ActionType) bool {
	switch t {
	case ActionCreateNoteDraft, ActionCreateEncounter, ActionSuggestBilling,
		ActionUpdateMedication, ActionCreateAppointment, ActionGenerateUR,
		ActionCreateTreatmentPlan:
		return true
	}
	return false
}

// RefKey returns the cross-reference key under which a committed action of
// this type publishes its produced identifier (e.g. "create_encounter_id").
func (t ActionType) RefKey() string {
	return string(t) + "_id"
}

// ActionStatus represents the review state of a proposed action.
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusCommitted ActionStatus = "committed"
	ActionStatusRejected  ActionStatus = "rejected"
	ActionStatusExpired   ActionStatus = "expired"
)

// ProposedAction is one candidate record-store mutation awaiting human
// approval. Actions proposed together share an action group and are
// committed in actionOrder.
type ProposedAction struct {
	ID            string         `json:"id"`
	RunID         string         `json:"run_id"`
	ActionGroupID string         `json:"action_group_id"`
	ActionOrder   int            `json:"action_order"`
	ActionType    ActionType     `json:"action_type"`
	TargetTable   string         `json:"target_table"`
	Payload       map[string]any `json:"payload"`
	Confidence    float64        `json:"confidence"`
	Assumptions   []string       `json:"assumptions,omitempty"`
	Status        ActionStatus   `json:"status"`
	CommittedBy   string         `json:"committed_by,omitempty"`
	CommittedAt   *time.Time     `json:"committed_at,omitempty"`
	ResultID      string         `json:"result_id,omitempty"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
