package telemetry

import "math"

// DefaultWindowSeconds is the trailing-window width for smoothing. A true
// trailing average over the last N seconds of session time rejects
// single-tick noise without the lag an exponential filter accumulates
// from stale readings.
const DefaultWindowSeconds = 2

// Smooth computes the trailing-window average over points whose Second
// falls within [latest-window, latest], inclusive on both ends. Points
// must be ordered by Second. When no point qualifies, the single latest
// point is used. Returns false for an empty input.
func Smooth(points []Point, windowSeconds float64) (SmoothedSample, bool) {
	if len(points) == 0 {
		return SmoothedSample{}, false
	}

	latest := points[len(points)-1].Second

	var sum float64
	var count int
	for _, p := range points {
		if latest-p.Second >= 0 && latest-p.Second <= windowSeconds {
			sum += p.Score
			count++
		}
	}
	if count == 0 {
		sum = points[len(points)-1].Score
		count = 1
	}

	value := int(math.Round(sum / float64(count)))
	return SmoothedSample{AtSecond: latest, Value: value}, true
}
