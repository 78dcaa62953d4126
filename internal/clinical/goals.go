package clinical

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/harborview/clinical-copilot/internal/model"
)

// GoalStatus classifies progress toward a treatment-plan goal.
type GoalStatus string

const (
	GoalMet         GoalStatus = "MET"
	GoalApproaching GoalStatus = "APPROACHING"
	GoalInProgress  GoalStatus = "IN_PROGRESS"
	GoalBaseline    GoalStatus = "BASELINE"
)

// GoalResult is the outcome of goal-status inference for one goal.
type GoalResult struct {
	Status  GoalStatus
	Measure string
	Note    string
}

// absoluteTolerance is the band above an absolute target that still counts
// as approaching (in score points).
const absoluteTolerance = 2.0

// percentTolerance is the approaching band for percentage-reduction goals,
// as a fraction of the baseline score.
const percentTolerance = 0.10

// measureAliases maps lowercase spellings found in free-text goals to
// canonical measure names.
var measureAliases = map[string]string{
	"phq-9":   "PHQ-9",
	"phq9":    "PHQ-9",
	"gad-7":   "GAD-7",
	"gad7":    "GAD-7",
	"pcl-5":   "PCL-5",
	"pcl5":    "PCL-5",
	"audit":   "AUDIT",
	"dast-10": "DAST-10",
	"dast10":  "DAST-10",
	"c-ssrs":  "C-SSRS",
	"bdi-ii":  "BDI-II",
	"bdi":     "BDI-II",
}

var (
	absoluteTargetRe = regexp.MustCompile(`(?i)(?:below|under|<)\s*(\d+(?:\.\d+)?)`)
	percentTargetRe  = regexp.MustCompile(`(?i)reduce[sd]?\s+(?:[\w-]+\s+)*?by\s+(\d+(?:\.\d+)?)\s*%`)
)

// MatchMeasure finds a known standardized measure named inside free text.
// Returns the canonical name, or "" when no measure is mentioned.
func MatchMeasure(text string) string {
	lower := strings.ToLower(text)
	for alias, canonical := range measureAliases {
		if strings.Contains(lower, alias) {
			return canonical
		}
	}
	return ""
}

// ComputeGoalStatus infers the status of one free-text treatment goal given
// the patient's score history per measure (chronological, oldest first).
func ComputeGoalStatus(goalText string, scoresByMeasure map[string][]model.AssessmentScore) GoalResult {
	measure := MatchMeasure(goalText)
	if measure == "" {
		return GoalResult{
			Status: GoalInProgress,
			Note:   "qualitative goal; progress tracked in session notes",
		}
	}

	scores := scoresByMeasure[measure]
	if len(scores) == 0 {
		return GoalResult{
			Status:  GoalBaseline,
			Measure: measure,
			Note:    fmt.Sprintf("no %s scores recorded yet", measure),
		}
	}

	latest := scores[len(scores)-1].Score
	baseline := scores[0].Score

	if m := absoluteTargetRe.FindStringSubmatch(goalText); m != nil {
		target, _ := strconv.ParseFloat(m[1], 64)
		switch {
		case latest < target:
			return GoalResult{Status: GoalMet, Measure: measure,
				Note: fmt.Sprintf("latest %s %.0f is below target %.0f", measure, latest, target)}
		case latest <= target+absoluteTolerance:
			return GoalResult{Status: GoalApproaching, Measure: measure,
				Note: fmt.Sprintf("latest %s %.0f is within %.0f of target %.0f", measure, latest, absoluteTolerance, target)}
		default:
			return GoalResult{Status: GoalInProgress, Measure: measure,
				Note: fmt.Sprintf("latest %s %.0f, target %.0f", measure, latest, target)}
		}
	}

	if m := percentTargetRe.FindStringSubmatch(goalText); m != nil {
		pct, _ := strconv.ParseFloat(m[1], 64)
		target := baseline * (1 - pct/100)
		tolerance := baseline * percentTolerance
		switch {
		case latest <= target:
			return GoalResult{Status: GoalMet, Measure: measure,
				Note: fmt.Sprintf("latest %s %.0f meets %.0f%% reduction from baseline %.0f", measure, latest, pct, baseline)}
		case latest <= target+tolerance:
			return GoalResult{Status: GoalApproaching, Measure: measure,
				Note: fmt.Sprintf("latest %s %.0f is near %.0f%% reduction target %.1f", measure, latest, pct, target)}
		default:
			return GoalResult{Status: GoalInProgress, Measure: measure,
				Note: fmt.Sprintf("latest %s %.0f, %.0f%% reduction target %.1f", measure, latest, pct, target)}
		}
	}

	// Measure mentioned but no parsable numeric target.
	return GoalResult{
		Status:  GoalInProgress,
		Measure: measure,
		Note:    fmt.Sprintf("tracking %s; latest score %.0f", measure, latest),
	}
}
