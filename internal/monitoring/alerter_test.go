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
)

func baseConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold: 0.25,
		CostThresholdUSD:     10,
		LookbackWindowHours:  24,
	}
}

func TestEvaluate_NoAlertsWhenHealthy(t *testing.T) {
	a := NewAlerter(baseConfig())
	alerts := a.Evaluate(&MetricsSnapshot{
		RunsCommitted: 20,
		RunsFailed:    1,
		FailRate:      0.047,
		ModelCostUSD:  2.50,
		LookbackHours: 24,
	})
	assert.Empty(t, alerts)
}

func TestEvaluate_FailureRate(t *testing.T) {
	a := NewAlerter(baseConfig())
	alerts := a.Evaluate(&MetricsSnapshot{
		RunsCommitted: 5,
		RunsFailed:    5,
		FailRate:      0.5,
		LookbackHours: 24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "50.0%")
}

func TestEvaluate_FailureRateNeedsMinimumVolume(t *testing.T) {
	a := NewAlerter(baseConfig())
	// 1 of 2 failed is 50% but too few finished runs to be signal.
	alerts := a.Evaluate(&MetricsSnapshot{
		RunsCommitted: 1,
		RunsFailed:    1,
		FailRate:      0.5,
	})
	assert.Empty(t, alerts)
}

func TestEvaluate_StuckCommitIsCritical(t *testing.T) {
	a := NewAlerter(baseConfig())
	alerts := a.Evaluate(&MetricsSnapshot{
		StuckCommits: []string{"run-1", "run-2"},
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStuckCommit, alerts[0].Type)
	assert.Equal(t, "critical", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "run-1")
	assert.Contains(t, alerts[0].Message, "run-2")
}

func TestEvaluate_CostOverrun(t *testing.T) {
	a := NewAlerter(baseConfig())
	alerts := a.Evaluate(&MetricsSnapshot{
		ModelCostUSD:  12.34,
		LookbackHours: 24,
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "$12.34")
}

func TestSendAlerts_Webhook(t *testing.T) {
	var received []Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		received = append(received, alert)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertStuckCommit, Severity: "critical", Message: "stuck", Timestamp: time.Now()},
		{Type: AlertCostOverrun, Severity: "high", Message: "cost", Timestamp: time.Now()},
	})
	assert.Equal(t, 2, sent)
	require.Len(t, received, 2)
	assert.Equal(t, AlertStuckCommit, received[0].Type)
}

func TestSendAlerts_WebhookFailureCounted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun}})
	assert.Zero(t, sent)
}

func TestSendAlerts_NoWebhookLogsOnly(t *testing.T) {
	a := NewAlerter(baseConfig())
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertCostOverrun}})
	assert.Zero(t, sent)
}
