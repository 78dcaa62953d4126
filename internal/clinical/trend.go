package clinical

import (
	"strings"

	"github.com/harborview/clinical-copilot/internal/model"
)

// Trend classifies the direction of a measure's score history.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendWorsening Trend = "worsening"
)

// trendThreshold is the minimum score delta that counts as movement.
const trendThreshold = 3

// lowerIsBetter lists standardized measures where a falling score means
// clinical improvement. Anything not listed is treated as higher-is-better.
var lowerIsBetter = map[string]bool{
	"PHQ-9":   true,
	"GAD-7":   true,
	"PCL-5":   true,
	"AUDIT":   true,
	"DAST-10": true,
	"C-SSRS":  true,
	"BDI-II":  true,
}

// LowerIsBetter reports whether a falling score on the measure is improvement.
func LowerIsBetter(measure string) bool {
	return lowerIsBetter[strings.ToUpper(strings.TrimSpace(measure))]
}

// ComputeTrend classifies the trend for one measure's chronologically
// ordered scores (oldest first). The second return is false when fewer
// than two scores exist and no trend can be computed.
func ComputeTrend(measure string, scores []model.AssessmentScore) (Trend, bool) {
	if len(scores) < 2 {
		return "", false
	}

	diff := scores[len(scores)-1].Score - scores[0].Score
	if LowerIsBetter(measure) {
		diff = -diff
	}

	switch {
	case diff >= trendThreshold:
		return TrendImproving, true
	case diff <= -trendThreshold:
		return TrendWorsening, true
	default:
		return TrendStable, true
	}
}
