package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview/clinical-copilot/internal/agent"
	"github.com/harborview/clinical-copilot/internal/billing"
	"github.com/harborview/clinical-copilot/internal/commit"
	"github.com/harborview/clinical-copilot/internal/intent"
	"github.com/harborview/clinical-copilot/internal/model"
	"github.com/harborview/clinical-copilot/internal/records"
	"github.com/harborview/clinical-copilot/internal/store"
	"github.com/harborview/clinical-copilot/internal/transcriptarena"
	"github.com/harborview/clinical-copilot/pkg/anthropic"
)

// unavailableModel stands in for the API client in routing tests. No route
// under test should reach the model.
type unavailableModel struct{}

func (unavailableModel) CreateMessage(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return nil, eris.New("model not available in tests")
}

func newTestEnv(t *testing.T) *copilotEnv {
	t.Helper()

	ledger, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() }) //nolint:errcheck
	require.NoError(t, ledger.Migrate(context.Background()))

	rs := records.NewMemory()
	ai := unavailableModel{}
	runner := agent.NewRunner(ledger, rs, ai, intent.NewClassifier(ai, "test-haiku"), transcriptarena.New(), agent.Config{
		Model:     "test-model",
		MaxTokens: 1024,
		MaxSteps:  10,
	})

	codes, err := billing.LoadTable(nil)
	require.NoError(t, err)

	return &copilotEnv{
		Ledger:   ledger,
		Records:  rs,
		Runner:   runner,
		Pipeline: commit.NewPipeline(ledger, rs, codes),
	}
}

func TestRouter_Health(t *testing.T) {
	r := buildRouter(newTestEnv(t), []string{"*"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestRouter_SubmitIntent_MissingFields(t *testing.T) {
	r := buildRouter(newTestEnv(t), []string{"*"})

	body, _ := json.Marshal(map[string]string{"input_text": "note for John"})
	req := httptest.NewRequest(http.MethodPost, "/api/intents", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "required")
}

func TestRouter_SubmitIntent_InvalidBody(t *testing.T) {
	r := buildRouter(newTestEnv(t), []string{"*"})

	req := httptest.NewRequest(http.MethodPost, "/api/intents", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_GetRun_NotFound(t *testing.T) {
	r := buildRouter(newTestEnv(t), []string{"*"})

	req := httptest.NewRequest(http.MethodGet, "/api/runs/missing-run", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_GetRun_ReturnsDetails(t *testing.T) {
	env := newTestEnv(t)
	run := &model.Run{OrgID: "org-1", UserID: "user-1", ProviderID: "prov-1", InputText: "note"}
	require.NoError(t, env.Ledger.CreateRun(context.Background(), run))

	r := buildRouter(env, []string{"*"})
	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID, nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var details agent.RunDetails
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &details))
	assert.Equal(t, run.ID, details.Run.ID)
	assert.Empty(t, details.Steps)
}

func TestRouter_ListRuns(t *testing.T) {
	env := newTestEnv(t)
	run := &model.Run{OrgID: "org-1", UserID: "user-1", ProviderID: "prov-1", InputText: "note"}
	require.NoError(t, env.Ledger.CreateRun(context.Background(), run))

	r := buildRouter(env, []string{"*"})
	req := httptest.NewRequest(http.MethodGet, "/api/runs?org_id=org-1", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Runs []model.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, run.ID, body.Runs[0].ID)
}

func TestRouter_AnswerClarification_MissingAnswer(t *testing.T) {
	r := buildRouter(newTestEnv(t), []string{"*"})

	body, _ := json.Marshal(map[string]string{"answered_by": "prov-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/clarifications/c-1/answer", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "answer is required")
}

func TestRouter_ResumeRun_WrongStatus(t *testing.T) {
	env := newTestEnv(t)
	run := &model.Run{OrgID: "org-1", UserID: "user-1", ProviderID: "prov-1", InputText: "note"}
	require.NoError(t, env.Ledger.CreateRun(context.Background(), run))

	r := buildRouter(env, []string{"*"})
	req := httptest.NewRequest(http.MethodPost, "/api/runs/"+run.ID+"/resume", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestRouter_CommitGroup_NotClaimable(t *testing.T) {
	r := buildRouter(newTestEnv(t), []string{"*"})

	body, _ := json.Marshal(map[string]string{"provider_id": "prov-1", "org_id": "org-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/action-groups/missing-group/commit", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
}
