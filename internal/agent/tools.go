package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"

	"github.com/harborview/clinical-copilot/internal/clinical"
	"github.com/harborview/clinical-copilot/internal/model"
	"github.com/harborview/clinical-copilot/internal/records"
	"github.com/harborview/clinical-copilot/pkg/anthropic"
)

// Tool names. The two terminal tools end the loop; drafting tools capture a
// proposed action instead of writing anything.
const (
	toolSearchPatients     = "search_patients"
	toolLoadPatientContext = "load_patient_context"
	toolResolveEncounter   = "resolve_encounter"

	toolAskClarification = "ask_clarification"
	toolSubmitResults    = "submit_results"
)

var lookupToolNames = []string{toolSearchPatients, toolLoadPatientContext, toolResolveEncounter}

var terminalToolNames = []string{toolAskClarification, toolSubmitResults}

// draftingTools maps each drafting tool name to its action type and target
// table. Tool names deliberately match the action-type enum.
var draftingTools = map[string]struct {
	actionType model.ActionType
	table      string
}{
	string(model.ActionCreateNoteDraft):     {model.ActionCreateNoteDraft, model.TableNoteDrafts},
	string(model.ActionCreateEncounter):     {model.ActionCreateEncounter, model.TableEncounters},
	string(model.ActionSuggestBilling):      {model.ActionSuggestBilling, model.TableBillingCharges},
	string(model.ActionUpdateMedication):    {model.ActionUpdateMedication, model.TableMedications},
	string(model.ActionCreateAppointment):   {model.ActionCreateAppointment, model.TableAppointments},
	string(model.ActionGenerateUR):          {model.ActionGenerateUR, model.TableURReviews},
	string(model.ActionCreateTreatmentPlan): {model.ActionCreateTreatmentPlan, model.TableTreatmentPlans},
}

// draftingToolNames fixes the order drafting tools are presented in.
var draftingToolNames = []string{
	string(model.ActionCreateNoteDraft),
	string(model.ActionCreateEncounter),
	string(model.ActionSuggestBilling),
	string(model.ActionUpdateMedication),
	string(model.ActionCreateAppointment),
	string(model.ActionGenerateUR),
	string(model.ActionCreateTreatmentPlan),
}

// requiredFields lists the payload fields each drafting tool validates before
// capturing an action.
var requiredFields = map[string][]string{
	string(model.ActionCreateNoteDraft):     {"patient_id", "content"},
	string(model.ActionCreateEncounter):     {"patient_id", "date"},
	string(model.ActionSuggestBilling):      {"patient_id", "cpt_code"},
	string(model.ActionUpdateMedication):    {"patient_id", "medication_name", "changes"},
	string(model.ActionCreateAppointment):   {"patient_id", "scheduled_at"},
	string(model.ActionGenerateUR):          {"patient_id", "content"},
	string(model.ActionCreateTreatmentPlan): {"patient_id", "goals"},
}

// Toolbox owns the read-only adapters and the drafting capture logic. It is
// shared across runs; per-run state lives in a session.
type Toolbox struct {
	records records.Store
	agg     *clinical.Aggregator
}

func NewToolbox(rs records.Store) *Toolbox {
	return &Toolbox{records: rs, agg: clinical.NewAggregator(rs)}
}

// session holds the mutable state captured while one run's loop executes:
// drafted actions, clarification questions and the final summary.
type session struct {
	orgID      string
	providerID string

	actions        []model.ProposedAction
	clarifications []model.Clarification
	summary        string
}

func (tb *Toolbox) newSession(orgID, providerID string) *session {
	return &session{orgID: orgID, providerID: providerID}
}

// dispatch routes one tool call to its adapter. Adapter errors are returned
// to the caller to be surfaced to the model as error tool results; they never
// abort the loop.
func (tb *Toolbox) dispatch(ctx context.Context, sess *session, name string, input map[string]any) (map[string]any, error) {
	switch name {
	case toolSearchPatients:
		return tb.searchPatients(ctx, input)
	case toolLoadPatientContext:
		return tb.loadPatientContext(ctx, input)
	case toolResolveEncounter:
		return tb.resolveEncounter(ctx, input)
	}
	if spec, ok := draftingTools[name]; ok {
		return tb.draftAction(sess, name, spec.actionType, spec.table, input)
	}
	return nil, eris.Errorf("unknown tool: %s", name)
}

func (tb *Toolbox) searchPatients(ctx context.Context, input map[string]any) (map[string]any, error) {
	name := strings.TrimSpace(getString(input, "name"))
	if name == "" {
		return nil, eris.New("search_patients: name is required")
	}

	// Case-folded substring match on the full name, so "john doe" finds
	// "John Doe" regardless of how the driver compares strings.
	all, err := tb.records.Find(ctx, model.TablePatients, nil, 200)
	if err != nil {
		return nil, eris.Wrap(err, "search_patients")
	}
	fold := cases.Fold()
	query := fold.String(name)

	matches := make([]map[string]any, 0, 4)
	for _, doc := range all {
		full := strings.TrimSpace(getString(doc, "first_name") + " " + getString(doc, "last_name"))
		if !strings.Contains(fold.String(full), query) {
			continue
		}
		matches = append(matches, map[string]any{
			"patient_id":    doc["id"],
			"name":          full,
			"date_of_birth": doc["date_of_birth"],
			"mrn":           doc["mrn"],
		})
		if len(matches) == 10 {
			break
		}
	}
	return map[string]any{"matches": matches, "count": len(matches)}, nil
}

func (tb *Toolbox) loadPatientContext(ctx context.Context, input map[string]any) (map[string]any, error) {
	patientID := getString(input, "patient_id")
	if patientID == "" {
		return nil, eris.New("load_patient_context: patient_id is required")
	}
	pc, err := tb.agg.BuildContext(ctx, patientID)
	if err != nil {
		return nil, eris.Wrap(err, "load_patient_context")
	}
	return map[string]any{"patient_id": patientID, "context": pc.Render()}, nil
}

func (tb *Toolbox) resolveEncounter(ctx context.Context, input map[string]any) (map[string]any, error) {
	patientID := getString(input, "patient_id")
	if patientID == "" {
		return nil, eris.New("resolve_encounter: patient_id is required")
	}

	if encID := getString(input, "encounter_id"); encID != "" {
		doc, err := tb.records.Get(ctx, model.TableEncounters, encID)
		if err != nil {
			return nil, eris.Wrap(err, "resolve_encounter")
		}
		return map[string]any{"found": true, "encounter": doc}, nil
	}

	docs, err := tb.records.Find(ctx, model.TableEncounters, records.Filter{"patient_id": patientID}, 50)
	if err != nil {
		return nil, eris.Wrap(err, "resolve_encounter")
	}
	if date := getString(input, "date"); date != "" {
		var onDate []map[string]any
		for _, doc := range docs {
			if strings.HasPrefix(getString(doc, "occurred_at"), date) {
				onDate = append(onDate, doc)
			}
		}
		docs = onDate
	}
	if len(docs) == 0 {
		return map[string]any{
			"found": false,
			"hint":  "no matching encounter; draft one with create_encounter if the workflow requires it",
		}, nil
	}
	sort.Slice(docs, func(i, j int) bool {
		return getString(docs[i], "occurred_at") > getString(docs[j], "occurred_at")
	})
	return map[string]any{"found": true, "encounter": docs[0]}, nil
}

func (tb *Toolbox) draftAction(sess *session, toolName string, actionType model.ActionType, table string, input map[string]any) (map[string]any, error) {
	for _, field := range requiredFields[toolName] {
		if _, ok := input[field]; !ok {
			return nil, eris.Errorf("%s: %s is required", toolName, field)
		}
	}

	payload := map[string]any{}
	confidence := 0.0
	var assumptions []string
	for k, v := range input {
		switch k {
		case "confidence":
			confidence = getFloat(input, "confidence")
		case "assumptions":
			assumptions = getStringSlice(input, "assumptions")
		default:
			payload[k] = v
		}
	}

	sess.actions = append(sess.actions, model.ProposedAction{
		ActionType:  actionType,
		TargetTable: table,
		Payload:     payload,
		Confidence:  confidence,
		Assumptions: assumptions,
	})

	return map[string]any{
		"status":  "drafted",
		"ref_key": actionType.RefKey(),
		"order":   len(sess.actions),
	}, nil
}

// captureClarifications parses an ask_clarification call. A parse failure is
// an adapter error; the loop only pauses on a well-formed call.
func (sess *session) captureClarifications(input map[string]any) error {
	raw, ok := input["questions"].([]any)
	if !ok || len(raw) == 0 {
		return eris.New("ask_clarification: questions is required")
	}
	var clars []model.Clarification
	for _, q := range raw {
		switch v := q.(type) {
		case string:
			clars = append(clars, model.Clarification{Question: v})
		case map[string]any:
			question := getString(v, "question")
			if question == "" {
				return eris.New("ask_clarification: each question needs question text")
			}
			clars = append(clars, model.Clarification{
				Question: question,
				Context:  getString(v, "context"),
				Options:  getStringSlice(v, "options"),
			})
		default:
			return eris.New("ask_clarification: malformed questions entry")
		}
	}
	sess.clarifications = clars
	return nil
}

// captureResults parses a submit_results call.
func (sess *session) captureResults(input map[string]any) error {
	summary := getString(input, "summary")
	if summary == "" {
		return eris.New("submit_results: summary is required")
	}
	sess.summary = summary
	return nil
}

// toolSpecs returns the specs for the given tool names, for the model request.
func toolSpecs(names []string) []anthropic.ToolSpec {
	specs := make([]anthropic.ToolSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, specForTool(name))
	}
	return specs
}

func specForTool(name string) anthropic.ToolSpec {
	switch name {
	case toolSearchPatients:
		return anthropic.ToolSpec{
			Name:        name,
			Description: "Search for patients by name. Returns candidate matches with date of birth and MRN for disambiguation.",
			InputSchema: map[string]any{
				"name": map[string]any{"type": "string", "description": "Full or partial patient name"},
			},
			Required: []string{"name"},
		}
	case toolLoadPatientContext:
		return anthropic.ToolSpec{
			Name:        name,
			Description: "Load the patient's chart: diagnoses, active medications, recent notes, assessment scores with trends, treatment plan and goal progress, authorization status and upcoming appointments.",
			InputSchema: map[string]any{
				"patient_id": map[string]any{"type": "string"},
			},
			Required: []string{"patient_id"},
		}
	case toolResolveEncounter:
		return anthropic.ToolSpec{
			Name:        name,
			Description: "Resolve the encounter an artifact should attach to, by ID or by patient and date. Returns the most recent match.",
			InputSchema: map[string]any{
				"patient_id":   map[string]any{"type": "string"},
				"encounter_id": map[string]any{"type": "string"},
				"date":         map[string]any{"type": "string", "description": "ISO date, e.g. 2026-03-14"},
			},
			Required: []string{"patient_id"},
		}
	case toolAskClarification:
		return anthropic.ToolSpec{
			Name:        name,
			Description: "Pause the run and send one or more questions to the clinician. Use when the intent is ambiguous. The run resumes once all questions are answered.",
			InputSchema: map[string]any{
				"questions": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"question": map[string]any{"type": "string"},
							"context":  map[string]any{"type": "string"},
							"options":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						},
						"required": []string{"question"},
					},
				},
			},
			Required: []string{"questions"},
		}
	case toolSubmitResults:
		return anthropic.ToolSpec{
			Name:        name,
			Description: "Finish the run. Call once every requested artifact has been drafted. The summary is shown to the clinician above the proposed actions.",
			InputSchema: map[string]any{
				"summary": map[string]any{"type": "string", "description": "One or two sentences describing what was drafted"},
			},
			Required: []string{"summary"},
		}
	}
	if _, ok := draftingTools[name]; ok {
		return draftingSpec(name)
	}
	return anthropic.ToolSpec{Name: name}
}

func draftingSpec(name string) anthropic.ToolSpec {
	common := map[string]any{
		"patient_id":  map[string]any{"type": "string"},
		"confidence":  map[string]any{"type": "number", "description": "0 to 1"},
		"assumptions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	}
	spec := anthropic.ToolSpec{Name: name, InputSchema: common, Required: requiredFields[name]}

	add := func(key string, prop map[string]any) { common[key] = prop }
	str := func(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }

	switch model.ActionType(name) {
	case model.ActionCreateNoteDraft:
		spec.Description = "Draft a clinical progress note. On commit the draft is signed into the record and any standardized scores are filed as assessment rows."
		add("encounter_id", str("Encounter to attach to; may be a $ref placeholder"))
		add("note_type", str("e.g. progress_note, intake_note"))
		add("content", str("Full note body, SOAP or DAP structured"))
		add("standardized_scores", map[string]any{
			"type":        "array",
			"description": "Scores mentioned in session, e.g. [{\"measure\":\"PHQ-9\",\"score\":11}]",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"measure": map[string]any{"type": "string"},
					"score":   map[string]any{"type": "number"},
				},
				"required": []string{"measure", "score"},
			},
		})
	case model.ActionCreateEncounter:
		spec.Description = "Draft a new encounter record for a visit that is not yet on the schedule."
		add("date", str("ISO date of the visit"))
		add("encounter_type", str("e.g. individual_therapy, medication_management"))
		add("duration_minutes", map[string]any{"type": "integer"})
	case model.ActionSuggestBilling:
		spec.Description = "Suggest a billing charge for an encounter. CPT code is validated against the practice's charge table at commit."
		add("encounter_id", str("Encounter to bill; may be a $ref placeholder"))
		add("cpt_code", str("CPT code, e.g. 90834"))
		add("diagnosis_codes", map[string]any{"type": "array", "items": map[string]any{"type": "string"}})
		add("units", map[string]any{"type": "integer"})
	case model.ActionUpdateMedication:
		spec.Description = "Draft a medication change: dose adjustment, discontinuation or new prescription note."
		add("medication_name", str("Name of the medication"))
		add("changes", map[string]any{"type": "object", "description": "Fields to change, e.g. {\"dose\":\"20mg\",\"status\":\"active\"}"})
	case model.ActionCreateAppointment:
		spec.Description = "Draft a future appointment."
		add("scheduled_at", str("ISO datetime"))
		add("appointment_type", str("e.g. follow_up, intake"))
		add("duration_minutes", map[string]any{"type": "integer"})
	case model.ActionGenerateUR:
		spec.Description = "Draft a utilization review summarizing medical necessity for continued treatment, tied to the active authorization."
		add("authorization_id", str("Authorization under review"))
		add("content", str("Review narrative"))
	case model.ActionCreateTreatmentPlan:
		spec.Description = "Draft a treatment plan with measurable goals."
		add("goals", map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string", "description": "Goal text, ideally referencing a measure and target, e.g. \"Reduce PHQ-9 below 10\""},
		})
		add("start_date", str("ISO date"))
	}
	return spec
}

// --- input helpers ---

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getFloat(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			return f
		}
	}
	return 0
}

func getStringSlice(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		if ss, ok := m[key].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
