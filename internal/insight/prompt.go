package insight

import (
	"fmt"
	"strings"

	"github.com/mintlabs/engagemint/internal/stats"
)

const sessionPromptTemplate = `You are a teaching analytics assistant. A lecture was monitored for student engagement (0-100 per second).

Session statistics:
%s

Return strict JSON object:
{"keyInsights":"...","recommendations":["..."]}

Rules:
1. keyInsights: one short paragraph of 2-4 observations grounded in the numbers
2. recommendations: 1-%d concrete actions for the instructor
3. No markdown, plain sentences only`

const comparisonPromptTemplate = `You are a teaching analytics assistant. Compare these monitored lecture sessions (engagement 0-100 per second).

Sessions:
%s

Return strict JSON object:
{"summary":"...","recommendations":["..."],"metrics":{"peakCorrelation":"...","attentionSpan":"...","recaptureRate":"..."}}

Rules:
1. summary: one paragraph comparing the sessions
2. recommendations: 1-%d concrete actions
3. metrics: short display values (e.g. "87%%", "12 min")
4. No markdown, plain sentences only`

func describeStats(s stats.SessionStats) string {
	var b strings.Builder
	title := s.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(&b, "- title: %s\n", title)
	fmt.Fprintf(&b, "- average engagement: %d\n", s.AverageScore)
	fmt.Fprintf(&b, "- peak: %d at minute %d\n", s.PeakScore, s.PeakMinute)
	fmt.Fprintf(&b, "- dip: %d at minute %d\n", s.DipScore, s.DipMinute)
	fmt.Fprintf(&b, "- duration: %d minutes\n", s.DurationMinutes)
	if len(s.MinuteBuckets) > 0 {
		parts := make([]string, 0, len(s.MinuteBuckets))
		for _, mb := range s.MinuteBuckets {
			parts = append(parts, fmt.Sprintf("%d:%d", mb.Minute, mb.AvgScore))
		}
		fmt.Fprintf(&b, "- per-minute averages (minute:score): %s\n", strings.Join(parts, " "))
	}
	return b.String()
}

// BuildSessionPrompt folds the stats and up to maxPromptComments teacher
// notes into a single prompt.
func BuildSessionPrompt(s stats.SessionStats, comments []string) string {
	body := describeStats(s)
	notes := make([]string, 0, maxPromptComments)
	for _, c := range comments {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		notes = append(notes, c)
		if len(notes) == maxPromptComments {
			break
		}
	}
	if len(notes) > 0 {
		body += "\nInstructor notes:\n"
		for _, n := range notes {
			body += "- " + n + "\n"
		}
	}
	return fmt.Sprintf(sessionPromptTemplate, body, maxSessionRecommendations)
}

func BuildComparisonPrompt(all []stats.SessionStats) string {
	var b strings.Builder
	for i, s := range all {
		fmt.Fprintf(&b, "Session %d:\n%s\n", i+1, describeStats(s))
	}
	return fmt.Sprintf(comparisonPromptTemplate, b.String(), maxComparisonRecommendations)
}
