package clinical

import (
	"fmt"
	"sort"
	"strings"
)

// Render produces the bounded text block injected into the model's system
// prompt. Long note bodies are excerpt-clamped; no other truncation is
// applied here.
func (pc *PatientContext) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Patient: %s %s", pc.Patient.FirstName, pc.Patient.LastName)
	if pc.Patient.DateOfBirth != "" {
		fmt.Fprintf(&b, " (DOB %s)", pc.Patient.DateOfBirth)
	}
	if pc.Patient.MRN != "" {
		fmt.Fprintf(&b, " [MRN %s]", pc.Patient.MRN)
	}
	b.WriteString("\n\n")

	b.WriteString("## Diagnoses\n")
	if len(pc.Diagnoses) == 0 {
		b.WriteString("None on file.\n")
	}
	for _, d := range pc.Diagnoses {
		fmt.Fprintf(&b, "- %s %s (%s)\n", d.ICDCode, d.Description, d.Status)
	}

	b.WriteString("\n## Active Medications\n")
	if len(pc.Medications) == 0 {
		b.WriteString("None on file.\n")
	}
	for _, m := range pc.Medications {
		fmt.Fprintf(&b, "- %s %s %s\n", m.Name, m.Dosage, m.Frequency)
	}

	b.WriteString("\n## Assessment Scores\n")
	if len(pc.Scores) == 0 {
		b.WriteString("No standardized scores recorded.\n")
	}
	measures := make([]string, 0, len(pc.Scores))
	for m := range pc.Scores {
		measures = append(measures, m)
	}
	sort.Strings(measures)
	for _, measure := range measures {
		scores := pc.Scores[measure]
		latest := scores[len(scores)-1]
		fmt.Fprintf(&b, "- %s: %.0f (%s)", measure, latest.Score, latest.RecordedAt.Format("2006-01-02"))
		if trend, ok := ComputeTrend(measure, scores); ok {
			fmt.Fprintf(&b, " (trend: %s over %d administrations)", trend, len(scores))
		}
		b.WriteString("\n")
	}

	if pc.Plan != nil {
		b.WriteString("\n## Treatment Plan Goals\n")
		for _, g := range pc.Plan.Goals {
			res := ComputeGoalStatus(g.Description, pc.Scores)
			fmt.Fprintf(&b, "- %s [%s: %s]\n", g.Description, res.Status, res.Note)
		}
	}

	if pc.Authorization != nil {
		a := pc.Authorization
		fmt.Fprintf(&b, "\n## Authorization\n%s: %d of %d sessions used",
			a.Payer, a.SessionsUsed, a.SessionsApproved)
		if a.ExpiresOn != "" {
			fmt.Fprintf(&b, ", expires %s", a.ExpiresOn)
		}
		b.WriteString("\n")
	}

	if len(pc.Appointments) > 0 {
		b.WriteString("\n## Upcoming Appointments\n")
		for _, a := range pc.Appointments {
			fmt.Fprintf(&b, "- %s (%d min)\n", a.ScheduledAt.Format("2006-01-02 15:04"), a.Duration)
		}
	}

	if len(pc.RecentNotes) > 0 {
		b.WriteString("\n## Recent Notes\n")
		for _, n := range pc.RecentNotes {
			excerpt := n.Content
			if len(excerpt) > noteExcerptChars {
				excerpt = excerpt[:noteExcerptChars] + "…"
			}
			fmt.Fprintf(&b, "### %s (%s)\n%s\n", n.NoteType, n.CreatedAt.Format("2006-01-02"), excerpt)
		}
	}

	return b.String()
}
