package insight

import (
	"fmt"

	"github.com/mintlabs/engagemint/internal/stats"
)

// FallbackSession builds a deterministic insight from the stats alone.
// It is used whenever the model is unavailable or returns something
// unusable, so the same stats always yield the same payload.
func FallbackSession(s stats.SessionStats) SessionInsight {
	title := s.Title
	if title == "" {
		title = "This session"
	}

	insights := fmt.Sprintf(
		"%s averaged an engagement score of %d over %d minutes. Engagement peaked at %d around minute %d. The lowest engagement was %d around minute %d.",
		title, s.AverageScore, s.DurationMinutes, s.PeakScore, s.PeakMinute, s.DipScore, s.DipMinute,
	)

	var recs []string
	switch {
	case s.DipScore < 45:
		recs = append(recs,
			fmt.Sprintf("Review what happened around minute %d; engagement fell to a critical level there.", s.DipMinute),
			"Break long explanations into shorter segments with a quick question in between.")
	case s.DipScore < 60:
		recs = append(recs,
			fmt.Sprintf("Plan an interactive moment near minute %d, where attention sagged.", s.DipMinute))
	default:
		recs = append(recs, "Engagement stayed healthy throughout; keep the current pacing.")
	}
	if s.AverageScore < 60 {
		recs = append(recs, "Consider opening with the material used around the peak, since it held attention best.")
	}
	if len(recs) > maxSessionRecommendations {
		recs = recs[:maxSessionRecommendations]
	}

	return SessionInsight{KeyInsights: insights, Recommendations: recs}
}

// FallbackComparison derives a comparison without the model. All values
// are computed from the stats so repeated calls are identical.
func FallbackComparison(all []stats.SessionStats) ComparisonInsight {
	best, worst := 0, 0
	for i, s := range all {
		if s.AverageScore > all[best].AverageScore {
			best = i
		}
		if s.AverageScore < all[worst].AverageScore {
			worst = i
		}
	}

	summary := fmt.Sprintf(
		"Across %d sessions, %s held attention best with an average of %d, while %s averaged %d. The strongest sessions peaked early and recovered quickly after dips.",
		len(all), titleOf(all[best]), all[best].AverageScore, titleOf(all[worst]), all[worst].AverageScore,
	)

	recs := []string{
		fmt.Sprintf("Reuse the structure of %s; it produced the highest sustained engagement.", titleOf(all[best])),
		fmt.Sprintf("Revisit the low stretch in %s around minute %d before teaching it again.", titleOf(all[worst]), all[worst].DipMinute),
	}

	return ComparisonInsight{
		Summary:         summary,
		Recommendations: recs,
		Metrics: ComparisonMetrics{
			PeakCorrelation: fmt.Sprintf("%d%%", peakCorrelation(all)),
			AttentionSpan:   fmt.Sprintf("%d min", attentionSpan(all)),
			RecaptureRate:   fmt.Sprintf("%d%%", recaptureRate(all)),
		},
	}
}

func titleOf(s stats.SessionStats) string {
	if s.Title == "" {
		return "an untitled session"
	}
	return s.Title
}

// peakCorrelation is the share of sessions whose peak lands in the first
// half of the lecture.
func peakCorrelation(all []stats.SessionStats) int {
	if len(all) == 0 {
		return 0
	}
	early := 0
	for _, s := range all {
		half := s.DurationMinutes / 2
		if half < 1 {
			half = 1
		}
		if s.PeakMinute <= half {
			early++
		}
	}
	return early * 100 / len(all)
}

// attentionSpan averages, per session, the longest run of consecutive
// minute buckets at or above 60.
func attentionSpan(all []stats.SessionStats) int {
	if len(all) == 0 {
		return 0
	}
	total := 0
	for _, s := range all {
		run, longest, prev := 0, 0, -2
		for _, mb := range s.MinuteBuckets {
			if mb.AvgScore >= 60 && mb.Minute == prev+1 {
				run++
			} else if mb.AvgScore >= 60 {
				run = 1
			} else {
				run = 0
			}
			if run > longest {
				longest = run
			}
			prev = mb.Minute
		}
		total += longest
	}
	return total / len(all)
}

// recaptureRate is the share of sub-60 minute buckets that are followed
// by a bucket back at 60 or above.
func recaptureRate(all []stats.SessionStats) int {
	dips, recovered := 0, 0
	for _, s := range all {
		for i, mb := range s.MinuteBuckets {
			if mb.AvgScore >= 60 {
				continue
			}
			dips++
			if i+1 < len(s.MinuteBuckets) && s.MinuteBuckets[i+1].AvgScore >= 60 {
				recovered++
			}
		}
	}
	if dips == 0 {
		return 100
	}
	return recovered * 100 / dips
}
