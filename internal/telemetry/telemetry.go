package telemetry

import "encoding/json"

// Point is one normalized telemetry sample: seconds since session start
// and an engagement score clamped to [0,100]. Points are immutable once
// stored and ordered by Second.
type Point struct {
	Second float64 `json:"timeSinceStart"`
	Score  float64 `json:"engagementScore"`
}

// SmoothedSample is the windowed average at a given second. Derived and
// ephemeral; recomputed every tick.
type SmoothedSample struct {
	AtSecond float64 `json:"atSecond"`
	Value    int     `json:"value"`
}

// Devices have shipped two field conventions for the same sample shape.
// Both are accepted at ingestion; nothing downstream branches on naming.
const (
	fieldSecond       = "timeSinceStart"
	fieldScore        = "engagementScore"
	legacyFieldSecond = "time-since-session-started"
	legacyFieldScore  = "engagement-score"
)

// Normalize extracts a Point from a raw sample record. It returns false
// when either field is missing or not numeric; malformed samples are
// dropped without error so a bad tick never halts the stream.
func Normalize(raw map[string]any) (Point, bool) {
	second, ok := numberField(raw, fieldSecond, legacyFieldSecond)
	if !ok {
		return Point{}, false
	}
	score, ok := numberField(raw, fieldScore, legacyFieldScore)
	if !ok {
		return Point{}, false
	}

	if second < 0 {
		second = 0
	}
	return Point{Second: second, Score: clampScore(score)}, true
}

// NormalizeAll maps Normalize over a batch, silently dropping rejects.
func NormalizeAll(raw []map[string]any) []Point {
	points := make([]Point, 0, len(raw))
	for _, r := range raw {
		if p, ok := Normalize(r); ok {
			points = append(points, p)
		}
	}
	return points
}

func numberField(raw map[string]any, names ...string) (float64, bool) {
	for _, name := range names {
		v, present := raw[name]
		if !present {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		}
		// Present but not numeric: keep trying the other convention.
	}
	return 0, false
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
