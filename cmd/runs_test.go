package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/harborview/clinical-copilot/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			IntentType:  "session_note",
			Status:      model.RunStatusCommitted,
			TotalTokens: model.TokenUsage{InputTokens: 1200, OutputTokens: 300},
			CreatedAt:   now,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Status:    model.RunStatusNeedsClarification,
			CreatedAt: now.Add(-1 * time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "session_note")
	assert.Contains(t, output, "committed")
	assert.Contains(t, output, "needs_clarification")
	assert.Contains(t, output, "1500")
	assert.Contains(t, output, "2026-03-10 09:15")
}

func TestComputeRunStats(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Second)

	runs := []model.Run{
		{Status: model.RunStatusCommitted, EstimatedCost: 0.05,
			TotalTokens: model.TokenUsage{InputTokens: 1000, OutputTokens: 200},
			StartedAt:   &start, CompletedAt: &end},
		{Status: model.RunStatusReadyToCommit, EstimatedCost: 0.02,
			TotalTokens: model.TokenUsage{InputTokens: 500, OutputTokens: 100}},
		{Status: model.RunStatusNeedsClarification},
		{Status: model.RunStatusFailed},
		{Status: model.RunStatusRejected},
		{Status: model.RunStatusRunning},
	}

	s := computeRunStats(runs)
	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 1, s.Committed)
	assert.Equal(t, 1, s.AwaitingRev)
	assert.Equal(t, 1, s.Paused)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Rejected)
	assert.Equal(t, 1, s.Other)
	assert.Equal(t, 1800, s.TotalTokens)
	assert.InDelta(t, 0.07, s.TotalCost, 1e-9)
	assert.InDelta(t, 30.0, s.AvgDurSecs, 0.01)
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, runStats{Total: 3, Committed: 2, Failed: 1, TotalCost: 0.1234, TotalTokens: 4000})

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "$0.1234")
	assert.Contains(t, output, "4000")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abcd1234", truncateID("abcd1234-ffff"))
	assert.Equal(t, "short", truncateID("short"))
}
