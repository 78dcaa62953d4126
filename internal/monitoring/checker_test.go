package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborview/clinical-copilot/internal/config"
	"github.com/harborview/clinical-copilot/internal/model"
)

func TestCheckOnce_DeliversStuckCommitAlert(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	run := &model.Run{OrgID: "org-1", UserID: "user-1", ProviderID: "prov-1", InputText: "intent"}
	require.NoError(t, ledger.CreateRun(ctx, run))
	require.NoError(t, ledger.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning))
	require.NoError(t, ledger.UpdateRunStatus(ctx, run.ID, model.RunStatusCommitting))

	var received []Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		received = append(received, alert)
	}))
	defer srv.Close()

	cfg := config.MonitoringConfig{
		WebhookURL:           srv.URL,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.25,
	}
	checker := NewChecker(NewCollector(ledger, time.Nanosecond), NewAlerter(cfg), cfg)
	checker.CheckOnce(ctx)

	require.Len(t, received, 1)
	assert.Equal(t, AlertStuckCommit, received[0].Type)
	assert.Contains(t, received[0].Message, run.ID)
}

func TestCheckOnce_HealthyLedgerSendsNothing(t *testing.T) {
	ledger := newTestLedger(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no alert expected")
	}))
	defer srv.Close()

	cfg := config.MonitoringConfig{WebhookURL: srv.URL, LookbackWindowHours: 24}
	checker := NewChecker(NewCollector(ledger, time.Minute), NewAlerter(cfg), cfg)
	checker.CheckOnce(context.Background())
}
