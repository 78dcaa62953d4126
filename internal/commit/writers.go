package commit

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborview/clinical-copilot/internal/billing"
	"github.com/harborview/clinical-copilot/internal/model"
	"github.com/harborview/clinical-copilot/internal/records"
)

// writeResult is what a writer reports back to the pipeline.
type writeResult struct {
	// ID is the identifier of the primary record created, published into the
	// group's reference table under the action type's ref key.
	ID string
	// NeedsDiagnosisConfirmation is set when the writer filed diagnoses that
	// a clinician must confirm before the run can complete.
	NeedsDiagnosisConfirmation bool
}

// writerContext carries the identity and shared dependencies writers need.
type writerContext struct {
	records    records.Store
	codes      *billing.Table
	runID      string
	orgID      string
	providerID string
}

// write dispatches one resolved action to its type-specific writer. Each
// writer validates its required payload fields and performs one logical unit
// of mutation, occasionally more than one physical write.
func (wc *writerContext) write(ctx context.Context, actionType model.ActionType, payload map[string]any) (*writeResult, error) {
	switch actionType {
	case model.ActionCreateNoteDraft:
		return wc.writeNoteDraft(ctx, payload)
	case model.ActionCreateEncounter:
		return wc.writeEncounter(ctx, payload)
	case model.ActionSuggestBilling:
		return wc.writeBillingCharge(ctx, payload)
	case model.ActionUpdateMedication:
		return wc.writeMedicationChange(ctx, payload)
	case model.ActionCreateAppointment:
		return wc.writeAppointment(ctx, payload)
	case model.ActionGenerateUR:
		return wc.writeURReview(ctx, payload)
	case model.ActionCreateTreatmentPlan:
		return wc.writeTreatmentPlan(ctx, payload)
	}
	return nil, eris.Errorf("unknown action type: %s", actionType)
}

func requireString(payload map[string]any, field string) (string, error) {
	v, ok := payload[field].(string)
	if !ok || v == "" {
		return "", eris.Errorf("missing required field %q", field)
	}
	return v, nil
}

func optString(payload map[string]any, field string) string {
	v, _ := payload[field].(string)
	return v
}

// writeNoteDraft files the draft, signs it into the clinical record, and
// files any standardized scores captured in the session.
func (wc *writerContext) writeNoteDraft(ctx context.Context, payload map[string]any) (*writeResult, error) {
	patientID, err := requireString(payload, "patient_id")
	if err != nil {
		return nil, err
	}
	content, err := requireString(payload, "content")
	if err != nil {
		return nil, err
	}

	noteType := optString(payload, "note_type")
	if noteType == "" {
		noteType = "progress_note"
	}
	now := time.Now().UTC()

	draftID, err := wc.records.Insert(ctx, model.TableNoteDrafts, map[string]any{
		"patient_id":   patientID,
		"encounter_id": optString(payload, "encounter_id"),
		"note_type":    noteType,
		"content":      content,
		"run_id":       wc.runID,
		"created_at":   now.Format(time.RFC3339),
	})
	if err != nil {
		return nil, eris.Wrap(err, "insert note draft")
	}

	noteID, err := wc.records.Insert(ctx, model.TableClinicalNotes, map[string]any{
		"patient_id":   patientID,
		"encounter_id": optString(payload, "encounter_id"),
		"note_type":    noteType,
		"content":      content,
		"draft_id":     draftID,
		"signed_by":    wc.providerID,
		"signed_at":    now.Format(time.RFC3339),
		"created_at":   now.Format(time.RFC3339),
	})
	if err != nil {
		return nil, eris.Wrap(err, "sign clinical note")
	}

	if scores, ok := payload["standardized_scores"].([]any); ok {
		for _, raw := range scores {
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			measure, _ := entry["measure"].(string)
			score, hasScore := entry["score"].(float64)
			if measure == "" || !hasScore {
				continue
			}
			if _, err := wc.records.Insert(ctx, model.TableScores, map[string]any{
				"patient_id":  patientID,
				"measure":     measure,
				"score":       score,
				"recorded_at": now.Format(time.RFC3339),
				"source":      "session_note",
			}); err != nil {
				return nil, eris.Wrapf(err, "file %s score", measure)
			}
		}
	}

	zap.L().Info("commit: note signed",
		zap.String("run_id", wc.runID),
		zap.String("note_id", noteID),
		zap.String("patient_id", patientID))
	return &writeResult{ID: draftID}, nil
}

func (wc *writerContext) writeEncounter(ctx context.Context, payload map[string]any) (*writeResult, error) {
	patientID, err := requireString(payload, "patient_id")
	if err != nil {
		return nil, err
	}
	date, err := requireString(payload, "date")
	if err != nil {
		return nil, err
	}

	id, err := wc.records.Insert(ctx, model.TableEncounters, map[string]any{
		"patient_id":       patientID,
		"provider_id":      wc.providerID,
		"type":             optString(payload, "encounter_type"),
		"occurred_at":      date,
		"duration_minutes": payload["duration_minutes"],
		"run_id":           wc.runID,
	})
	if err != nil {
		return nil, eris.Wrap(err, "insert encounter")
	}
	return &writeResult{ID: id}, nil
}

func (wc *writerContext) writeBillingCharge(ctx context.Context, payload map[string]any) (*writeResult, error) {
	patientID, err := requireString(payload, "patient_id")
	if err != nil {
		return nil, err
	}
	cpt, err := requireString(payload, "cpt_code")
	if err != nil {
		return nil, err
	}
	if wc.codes != nil && !wc.codes.Validate(cpt) {
		return nil, eris.Errorf("unknown CPT code %s", cpt)
	}

	id, err := wc.records.Insert(ctx, model.TableBillingCharges, map[string]any{
		"patient_id":      patientID,
		"encounter_id":    optString(payload, "encounter_id"),
		"cpt_code":        cpt,
		"diagnosis_codes": payload["diagnosis_codes"],
		"units":           payload["units"],
		"status":          "pending",
		"run_id":          wc.runID,
	})
	if err != nil {
		return nil, eris.Wrap(err, "insert billing charge")
	}

	// Diagnosis codes not already on the problem list are filed as pending
	// and must be confirmed by the clinician before the run completes.
	needsConfirm := false
	if codes, ok := payload["diagnosis_codes"].([]any); ok {
		existing, err := wc.records.Find(ctx, model.TableDiagnoses, records.Filter{"patient_id": patientID}, 100)
		if err != nil {
			return nil, eris.Wrap(err, "load problem list")
		}
		known := map[string]bool{}
		for _, d := range existing {
			if icd, ok := d["icd_code"].(string); ok {
				known[icd] = true
			}
		}
		for _, raw := range codes {
			icd, ok := raw.(string)
			if !ok || icd == "" || known[icd] {
				continue
			}
			if _, err := wc.records.Insert(ctx, model.TableDiagnoses, map[string]any{
				"patient_id":         patientID,
				"icd_code":           icd,
				"status":             "pending_confirmation",
				"proposed_by_run_id": wc.runID,
			}); err != nil {
				return nil, eris.Wrapf(err, "file pending diagnosis %s", icd)
			}
			needsConfirm = true
		}
	}
	return &writeResult{ID: id, NeedsDiagnosisConfirmation: needsConfirm}, nil
}

func (wc *writerContext) writeMedicationChange(ctx context.Context, payload map[string]any) (*writeResult, error) {
	patientID, err := requireString(payload, "patient_id")
	if err != nil {
		return nil, err
	}
	name, err := requireString(payload, "medication_name")
	if err != nil {
		return nil, err
	}
	changes, ok := payload["changes"].(map[string]any)
	if !ok || len(changes) == 0 {
		return nil, eris.New("missing required field \"changes\"")
	}

	meds, err := wc.records.Find(ctx, model.TableMedications,
		records.Filter{"patient_id": patientID, "name": name}, 5)
	if err != nil {
		return nil, eris.Wrap(err, "find medication")
	}
	if len(meds) == 0 {
		// A change to a medication not on the list is a new prescription.
		doc := map[string]any{
			"patient_id": patientID,
			"name":       name,
			"status":     "active",
			"run_id":     wc.runID,
		}
		for k, v := range changes {
			doc[k] = v
		}
		id, err := wc.records.Insert(ctx, model.TableMedications, doc)
		if err != nil {
			return nil, eris.Wrap(err, "insert medication")
		}
		return &writeResult{ID: id}, nil
	}

	medID, _ := meds[0]["id"].(string)
	if err := wc.records.Update(ctx, model.TableMedications, medID, changes); err != nil {
		return nil, eris.Wrap(err, "update medication")
	}
	return &writeResult{ID: medID}, nil
}

func (wc *writerContext) writeAppointment(ctx context.Context, payload map[string]any) (*writeResult, error) {
	patientID, err := requireString(payload, "patient_id")
	if err != nil {
		return nil, err
	}
	scheduledAt, err := requireString(payload, "scheduled_at")
	if err != nil {
		return nil, err
	}

	id, err := wc.records.Insert(ctx, model.TableAppointments, map[string]any{
		"patient_id":       patientID,
		"provider_id":      wc.providerID,
		"scheduled_at":     scheduledAt,
		"type":             optString(payload, "appointment_type"),
		"duration_minutes": payload["duration_minutes"],
		"status":           "scheduled",
		"run_id":           wc.runID,
	})
	if err != nil {
		return nil, eris.Wrap(err, "insert appointment")
	}
	return &writeResult{ID: id}, nil
}

func (wc *writerContext) writeURReview(ctx context.Context, payload map[string]any) (*writeResult, error) {
	patientID, err := requireString(payload, "patient_id")
	if err != nil {
		return nil, err
	}
	content, err := requireString(payload, "content")
	if err != nil {
		return nil, err
	}

	id, err := wc.records.Insert(ctx, model.TableURReviews, map[string]any{
		"patient_id":       patientID,
		"authorization_id": optString(payload, "authorization_id"),
		"content":          content,
		"status":           "draft",
		"run_id":           wc.runID,
		"created_at":       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, eris.Wrap(err, "insert utilization review")
	}
	return &writeResult{ID: id}, nil
}

func (wc *writerContext) writeTreatmentPlan(ctx context.Context, payload map[string]any) (*writeResult, error) {
	patientID, err := requireString(payload, "patient_id")
	if err != nil {
		return nil, err
	}
	rawGoals, ok := payload["goals"].([]any)
	if !ok || len(rawGoals) == 0 {
		return nil, eris.New("missing required field \"goals\"")
	}

	goals := make([]map[string]any, 0, len(rawGoals))
	for _, g := range rawGoals {
		switch v := g.(type) {
		case string:
			goals = append(goals, map[string]any{"description": v})
		case map[string]any:
			goals = append(goals, v)
		}
	}

	// A new plan supersedes the active one.
	active, err := wc.records.Find(ctx, model.TableTreatmentPlans,
		records.Filter{"patient_id": patientID, "status": "active"}, 5)
	if err != nil {
		return nil, eris.Wrap(err, "find active plan")
	}
	for _, p := range active {
		if id, ok := p["id"].(string); ok {
			if err := wc.records.Update(ctx, model.TableTreatmentPlans, id, map[string]any{"status": "superseded"}); err != nil {
				return nil, eris.Wrap(err, "supersede plan")
			}
		}
	}

	id, err := wc.records.Insert(ctx, model.TableTreatmentPlans, map[string]any{
		"patient_id": patientID,
		"goals":      goals,
		"status":     "active",
		"start_date": optString(payload, "start_date"),
		"run_id":     wc.runID,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, eris.Wrap(err, "insert treatment plan")
	}
	return &writeResult{ID: id}, nil
}
