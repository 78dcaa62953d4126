// Package clinical aggregates a patient's chart into a bounded prompt
// context and houses the deterministic score-trend and goal-status
// computations that feed it.
package clinical

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harborview/clinical-copilot/internal/model"
	"github.com/harborview/clinical-copilot/internal/records"
)

// maxRecentNotes bounds how many prior notes are rendered into context.
const maxRecentNotes = 3

// noteExcerptChars clamps each rendered note excerpt.
const noteExcerptChars = 500

// PatientContext is everything the aggregator loads for one patient.
type PatientContext struct {
	Patient       model.Patient
	Diagnoses     []model.Diagnosis
	Medications   []model.Medication
	RecentNotes   []model.ClinicalNote
	Scores        map[string][]model.AssessmentScore // per measure, oldest first
	Plan          *model.TreatmentPlan
	Authorization *model.Authorization
	Appointments  []model.Appointment
}

// Aggregator loads patient history from the record store.
type Aggregator struct {
	records records.Store
}

// NewAggregator creates an Aggregator over the given record store.
func NewAggregator(rs records.Store) *Aggregator {
	return &Aggregator{records: rs}
}

// BuildContext loads all chart sections for the patient. Sections load
// concurrently; they are read-only and need no coordination.
func (a *Aggregator) BuildContext(ctx context.Context, patientID string) (*PatientContext, error) {
	doc, err := a.records.Get(ctx, model.TablePatients, patientID)
	if err != nil {
		return nil, eris.Wrapf(err, "clinical: load patient %s", patientID)
	}
	pc := &PatientContext{Scores: make(map[string][]model.AssessmentScore)}
	if err := decodeDoc(doc, &pc.Patient); err != nil {
		return nil, err
	}

	byPatient := records.Filter{"patient_id": patientID}
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		docs, err := a.records.Find(gCtx, model.TableDiagnoses, byPatient, 0)
		if err != nil {
			return eris.Wrap(err, "clinical: load diagnoses")
		}
		return decodeDocs(docs, &pc.Diagnoses)
	})

	g.Go(func() error {
		docs, err := a.records.Find(gCtx, model.TableMedications, records.Filter{
			"patient_id": patientID, "status": "active",
		}, 0)
		if err != nil {
			return eris.Wrap(err, "clinical: load medications")
		}
		return decodeDocs(docs, &pc.Medications)
	})

	g.Go(func() error {
		docs, err := a.records.Find(gCtx, model.TableClinicalNotes, byPatient, 0)
		if err != nil {
			return eris.Wrap(err, "clinical: load notes")
		}
		var notes []model.ClinicalNote
		if err := decodeDocs(docs, &notes); err != nil {
			return err
		}
		sort.Slice(notes, func(i, j int) bool { return notes[i].CreatedAt.After(notes[j].CreatedAt) })
		if len(notes) > maxRecentNotes {
			notes = notes[:maxRecentNotes]
		}
		pc.RecentNotes = notes
		return nil
	})

	g.Go(func() error {
		docs, err := a.records.Find(gCtx, model.TableScores, byPatient, 0)
		if err != nil {
			return eris.Wrap(err, "clinical: load scores")
		}
		var scores []model.AssessmentScore
		if err := decodeDocs(docs, &scores); err != nil {
			return err
		}
		sort.Slice(scores, func(i, j int) bool { return scores[i].RecordedAt.Before(scores[j].RecordedAt) })
		for _, s := range scores {
			pc.Scores[s.Measure] = append(pc.Scores[s.Measure], s)
		}
		return nil
	})

	g.Go(func() error {
		docs, err := a.records.Find(gCtx, model.TableTreatmentPlans, records.Filter{
			"patient_id": patientID, "status": "active",
		}, 1)
		if err != nil {
			return eris.Wrap(err, "clinical: load treatment plan")
		}
		if len(docs) > 0 {
			pc.Plan = &model.TreatmentPlan{}
			return decodeDoc(docs[0], pc.Plan)
		}
		return nil
	})

	g.Go(func() error {
		docs, err := a.records.Find(gCtx, model.TableAuthorizations, byPatient, 1)
		if err != nil {
			return eris.Wrap(err, "clinical: load authorization")
		}
		if len(docs) > 0 {
			pc.Authorization = &model.Authorization{}
			return decodeDoc(docs[0], pc.Authorization)
		}
		return nil
	})

	g.Go(func() error {
		docs, err := a.records.Find(gCtx, model.TableAppointments, records.Filter{
			"patient_id": patientID, "status": "scheduled",
		}, 0)
		if err != nil {
			return eris.Wrap(err, "clinical: load appointments")
		}
		var appts []model.Appointment
		if err := decodeDocs(docs, &appts); err != nil {
			return err
		}
		sort.Slice(appts, func(i, j int) bool { return appts[i].ScheduledAt.Before(appts[j].ScheduledAt) })
		pc.Appointments = appts
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	rendered := pc.Render()
	zap.L().Info("clinical: context built",
		zap.String("patient_id", patientID),
		zap.Int("chars", len(rendered)),
		zap.Int("approx_tokens", len(rendered)/4),
	)
	return pc, nil
}

func decodeDoc(doc map[string]any, target any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "clinical: marshal doc")
	}
	if err := json.Unmarshal(b, target); err != nil {
		return eris.Wrap(err, "clinical: decode doc")
	}
	return nil
}

func decodeDocs(docs []map[string]any, target any) error {
	b, err := json.Marshal(docs)
	if err != nil {
		return eris.Wrap(err, "clinical: marshal docs")
	}
	if err := json.Unmarshal(b, target); err != nil {
		return eris.Wrap(err, "clinical: decode docs")
	}
	return nil
}
