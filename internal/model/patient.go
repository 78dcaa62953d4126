package model

import "time"

// Clinical record table names used by tool adapters and commit writers.
const (
	TablePatients       = "patients"
	TableEncounters     = "encounters"
	TableNoteDrafts     = "note_drafts"
	TableClinicalNotes  = "clinical_notes"
	TableDiagnoses      = "diagnoses"
	TableMedications    = "medications"
	TableScores         = "assessment_scores"
	TableTreatmentPlans = "treatment_plans"
	TableAppointments   = "appointments"
	TableAuthorizations = "authorizations"
	TableBillingCharges = "billing_charges"
	TableURReviews      = "utilization_reviews"
)

// Patient is the demographic header of a chart.
type Patient struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	DateOfBirth string    `json:"date_of_birth,omitempty"`
	MRN         string    `json:"mrn,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Diagnosis is one coded problem on a patient's problem list.
type Diagnosis struct {
	ID          string `json:"id"`
	PatientID   string `json:"patient_id"`
	ICDCode     string `json:"icd_code"`
	Description string `json:"description"`
	Status      string `json:"status"` // active, resolved, pending_confirmation
}

// Medication is one entry on the active medication list.
type Medication struct {
	ID        string `json:"id"`
	PatientID string `json:"patient_id"`
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Status    string `json:"status"` // active, discontinued
}

// ClinicalNote is a signed note on the chart.
type ClinicalNote struct {
	ID          string     `json:"id"`
	PatientID   string     `json:"patient_id"`
	EncounterID string     `json:"encounter_id,omitempty"`
	NoteType    string     `json:"note_type"`
	Content     string     `json:"content"`
	SignedBy    string     `json:"signed_by,omitempty"`
	SignedAt    *time.Time `json:"signed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AssessmentScore is one administration of a standardized measure.
type AssessmentScore struct {
	ID         string    `json:"id"`
	PatientID  string    `json:"patient_id"`
	Measure    string    `json:"measure"` // e.g. "PHQ-9"
	Score      float64   `json:"score"`
	RecordedAt time.Time `json:"recorded_at"`
}

// TreatmentPlan is the current plan of care with its goals.
type TreatmentPlan struct {
	ID        string     `json:"id"`
	PatientID string     `json:"patient_id"`
	Goals     []PlanGoal `json:"goals"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// PlanGoal is one free-text goal inside a treatment plan.
type PlanGoal struct {
	Description string `json:"description"`
	TargetDate  string `json:"target_date,omitempty"`
}

// Authorization captures insurance/UR authorization state.
type Authorization struct {
	ID               string `json:"id"`
	PatientID        string `json:"patient_id"`
	Payer            string `json:"payer"`
	SessionsApproved int    `json:"sessions_approved"`
	SessionsUsed     int    `json:"sessions_used"`
	ExpiresOn        string `json:"expires_on,omitempty"`
}

// Appointment is a scheduled visit.
type Appointment struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	ProviderID  string    `json:"provider_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Duration    int       `json:"duration_minutes"`
	Status      string    `json:"status"`
}

// Encounter is one clinical visit record.
type Encounter struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	ProviderID  string    `json:"provider_id"`
	Type        string    `json:"type"`
	OccurredAt  time.Time `json:"occurred_at"`
	Description string    `json:"description,omitempty"`
}
