package clinical

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/harborview/clinical-copilot/internal/model"
)

func scoresOf(values ...float64) []model.AssessmentScore {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.AssessmentScore, len(values))
	for i, v := range values {
		out[i] = model.AssessmentScore{Score: v, RecordedAt: base.AddDate(0, 0, i*14)}
	}
	return out
}

func TestComputeTrend_LowerIsBetter(t *testing.T) {
	tests := []struct {
		name   string
		scores []model.AssessmentScore
		want   Trend
	}{
		{"improving", scoresOf(18, 14, 11), TrendImproving},
		{"worsening", scoresOf(10, 12, 15), TrendWorsening},
		{"stable_small_drop", scoresOf(12, 10), TrendStable},
		{"stable_small_rise", scoresOf(10, 12), TrendStable},
		{"exactly_minus_three", scoresOf(14, 11), TrendImproving},
		{"exactly_plus_three", scoresOf(11, 14), TrendWorsening},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trend, ok := ComputeTrend("PHQ-9", tt.scores)
			assert.True(t, ok)
			assert.Equal(t, tt.want, trend)
		})
	}
}

func TestComputeTrend_HigherIsBetterInverts(t *testing.T) {
	// Same numeric deltas as the PHQ-9 cases, opposite classification.
	trend, ok := ComputeTrend("WHO-5", scoresOf(18, 14, 11))
	assert.True(t, ok)
	assert.Equal(t, TrendWorsening, trend)

	trend, ok = ComputeTrend("WHO-5", scoresOf(10, 12, 15))
	assert.True(t, ok)
	assert.Equal(t, TrendImproving, trend)
}

func TestComputeTrend_TooFewScores(t *testing.T) {
	_, ok := ComputeTrend("PHQ-9", scoresOf(12))
	assert.False(t, ok)

	_, ok = ComputeTrend("PHQ-9", nil)
	assert.False(t, ok)
}

func TestLowerIsBetter_CaseInsensitive(t *testing.T) {
	assert.True(t, LowerIsBetter("phq-9"))
	assert.True(t, LowerIsBetter(" GAD-7 "))
	assert.False(t, LowerIsBetter("WHO-5"))
}
