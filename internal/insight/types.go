// Package insight turns session statistics into teaching insights. The
// generator is an LLM behind an OpenAI-compatible API; every path through
// the package degrades to a deterministic fallback so callers always get
// a well-formed payload.
package insight

import "encoding/json"

const (
	KindSession    = "session"
	KindComparison = "comparison"

	SourceGenerated = "generated"
	SourceFallback  = "fallback"

	maxSessionRecommendations    = 5
	maxComparisonRecommendations = 6
	// MaxComparisonSessions bounds how many sessions one comparison
	// may cover.
	MaxComparisonSessions = 6
	maxPromptComments     = 5
)

type SessionInsight struct {
	KeyInsights     string   `json:"keyInsights"`
	Recommendations []string `json:"recommendations"`
}

type ComparisonMetrics struct {
	PeakCorrelation string `json:"peakCorrelation"`
	AttentionSpan   string `json:"attentionSpan"`
	RecaptureRate   string `json:"recaptureRate"`
}

type ComparisonInsight struct {
	Summary         string            `json:"summary"`
	Recommendations []string          `json:"recommendations"`
	Metrics         ComparisonMetrics `json:"metrics"`
}

// Result is what the API layer hands back: the insight payload plus
// provenance so clients can tell a cached answer from a fresh one and a
// model answer from the deterministic fallback.
type Result struct {
	Payload  json.RawMessage `json:"payload"`
	CacheHit bool            `json:"cacheHit"`
	CacheKey string          `json:"cacheKey"`
	Source   string          `json:"source"`
}
