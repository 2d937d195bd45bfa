// Package stats derives summary statistics from a session's telemetry.
// Everything here is recomputed on demand and never persisted directly;
// the results feed the insight cache key and prompt builders.
package stats

import (
	"math"
	"sort"

	"github.com/mintlabs/engagemint/internal/telemetry"
)

type MinuteBucket struct {
	Minute   int `json:"minute"`
	AvgScore int `json:"avgScore"`
}

type SessionStats struct {
	Title           string         `json:"title"`
	AverageScore    int            `json:"averageScore"`
	PeakMinute      int            `json:"peakMinute"`
	PeakScore       int            `json:"peakScore"`
	DipMinute       int            `json:"dipMinute"`
	DipScore        int            `json:"dipScore"`
	DurationMinutes int            `json:"durationMinutes"`
	MinuteBuckets   []MinuteBucket `json:"minuteBuckets"`
}

// Aggregate computes SessionStats from a session's points. Input order
// does not matter. Zero valid points is a defined degenerate case, not an
// error: the average falls back to the session's declared overall score.
func Aggregate(title string, overallScore int, points []telemetry.Point) SessionStats {
	s := SessionStats{
		Title:         title,
		MinuteBuckets: []MinuteBucket{},
	}

	if len(points) == 0 {
		s.AverageScore = overallScore
		return s
	}

	var sum float64
	peak, dip := points[0], points[0]
	maxSecond := points[0].Second
	buckets := make(map[int]*bucketAcc)

	for _, p := range points {
		sum += p.Score
		// First occurrence wins ties on both extremes.
		if p.Score > peak.Score {
			peak = p
		}
		if p.Score < dip.Score {
			dip = p
		}
		if p.Second > maxSecond {
			maxSecond = p.Second
		}

		minute := int(p.Second / 60)
		acc, ok := buckets[minute]
		if !ok {
			acc = &bucketAcc{}
			buckets[minute] = acc
		}
		acc.total += p.Score
		acc.count++
	}

	s.AverageScore = round(sum / float64(len(points)))
	s.PeakScore = round(peak.Score)
	s.PeakMinute = int(peak.Second / 60)
	s.DipScore = round(dip.Score)
	s.DipMinute = int(dip.Second / 60)

	s.DurationMinutes = round(maxSecond / 60)
	if s.DurationMinutes < 1 {
		s.DurationMinutes = 1
	}

	minutes := make([]int, 0, len(buckets))
	for minute := range buckets {
		minutes = append(minutes, minute)
	}
	sort.Ints(minutes)
	// Minutes without points are omitted; callers needing a dense
	// series interpolate on their side.
	for _, minute := range minutes {
		acc := buckets[minute]
		s.MinuteBuckets = append(s.MinuteBuckets, MinuteBucket{
			Minute:   minute,
			AvgScore: round(acc.total / float64(acc.count)),
		})
	}

	return s
}

type bucketAcc struct {
	total float64
	count int
}

func round(v float64) int {
	return int(math.Round(v))
}
