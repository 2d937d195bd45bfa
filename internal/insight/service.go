package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mintlabs/engagemint/internal/stats"
	"github.com/mintlabs/engagemint/internal/store"
)

// Service orchestrates insight generation: stats -> cache key -> cache
// lookup -> model -> validation -> fallback -> cache write. Model and
// validation failures are absorbed; the only errors a caller sees are
// missing sessions and storage faults.
type Service struct {
	store *store.Store
	gen   Generator
}

func NewService(st *store.Store, gen Generator) *Service {
	return &Service{store: st, gen: gen}
}

// SessionInsight returns the insight for one session. refresh bypasses
// the cache read but still writes the regenerated entry back.
func (s *Service) SessionInsight(ctx context.Context, sessionID string, refresh bool) (Result, error) {
	digest, sess, err := s.digest(sessionID)
	if err != nil {
		return Result{}, err
	}

	key := CacheKey(KindSession, []SessionDigest{digest})
	if !refresh {
		if res, ok := s.cached(key); ok {
			return res, nil
		}
	}

	payload, source := s.generateSession(ctx, digest.Stats, sess.Comments)
	return s.finish(key, KindSession, payload, source)
}

// ComparisonInsight compares two or more sessions. The session order is
// part of the identity of the comparison.
func (s *Service) ComparisonInsight(ctx context.Context, sessionIDs []string, refresh bool) (Result, error) {
	if len(sessionIDs) < 2 {
		return Result{}, fmt.Errorf("comparison needs at least two sessions")
	}
	if len(sessionIDs) > MaxComparisonSessions {
		return Result{}, fmt.Errorf("comparison supports at most %d sessions", MaxComparisonSessions)
	}

	digests := make([]SessionDigest, 0, len(sessionIDs))
	allStats := make([]stats.SessionStats, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		digest, _, err := s.digest(id)
		if err != nil {
			return Result{}, err
		}
		digests = append(digests, digest)
		allStats = append(allStats, digest.Stats)
	}

	key := CacheKey(KindComparison, digests)
	if !refresh {
		if res, ok := s.cached(key); ok {
			return res, nil
		}
	}

	payload, source := s.generateComparison(ctx, allStats)
	return s.finish(key, KindComparison, payload, source)
}

// SessionStats recomputes a session's stats without touching the cache
// or the model. Used by the read-only stats endpoint.
func (s *Service) SessionStats(sessionID string) (stats.SessionStats, error) {
	digest, _, err := s.digest(sessionID)
	if err != nil {
		return stats.SessionStats{}, err
	}
	return digest.Stats, nil
}

func (s *Service) digest(sessionID string) (SessionDigest, store.Session, error) {
	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		return SessionDigest{}, store.Session{}, err
	}
	points, err := s.store.Telemetry(sessionID, 0)
	if err != nil {
		return SessionDigest{}, store.Session{}, err
	}
	return SessionDigest{
		SessionID:  sess.ID,
		UpdatedAt:  sess.UpdatedAt,
		PointCount: len(points),
		Stats:      stats.Aggregate(sess.Title, sess.OverallScore, points),
	}, sess, nil
}

func (s *Service) cached(key string) (Result, bool) {
	entry, err := s.store.CacheGet(key)
	if err != nil {
		log.Printf("[insight] cache read failed, regenerating: %v", err)
		return Result{}, false
	}
	if entry == nil {
		return Result{}, false
	}
	return Result{
		Payload:  json.RawMessage(entry.Payload),
		CacheHit: true,
		CacheKey: key,
		Source:   entry.Source,
	}, true
}

func (s *Service) finish(key, kind string, payload any, source string) (Result, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal insight payload: %w", err)
	}
	if err := s.store.CacheUpsert(key, kind, data, source); err != nil {
		// A failed cache write costs a regeneration next time, nothing more.
		log.Printf("[insight] cache write failed: %v", err)
	}
	return Result{
		Payload:  data,
		CacheHit: false,
		CacheKey: key,
		Source:   source,
	}, nil
}

func (s *Service) generateSession(ctx context.Context, st stats.SessionStats, comments []string) (SessionInsight, string) {
	if s.gen == nil {
		return FallbackSession(st), SourceFallback
	}
	raw, err := s.gen.Generate(ctx, BuildSessionPrompt(st, comments))
	if err != nil {
		log.Printf("[insight] session generation failed, using fallback: %v", err)
		return FallbackSession(st), SourceFallback
	}
	parsed, err := parseSessionInsight(raw)
	if err != nil {
		log.Printf("[insight] session response rejected, using fallback: %v", err)
		return FallbackSession(st), SourceFallback
	}
	return parsed, SourceGenerated
}

func (s *Service) generateComparison(ctx context.Context, all []stats.SessionStats) (ComparisonInsight, string) {
	if s.gen == nil {
		return FallbackComparison(all), SourceFallback
	}
	raw, err := s.gen.Generate(ctx, BuildComparisonPrompt(all))
	if err != nil {
		log.Printf("[insight] comparison generation failed, using fallback: %v", err)
		return FallbackComparison(all), SourceFallback
	}
	parsed, err := parseComparisonInsight(raw)
	if err != nil {
		log.Printf("[insight] comparison response rejected, using fallback: %v", err)
		return FallbackComparison(all), SourceFallback
	}
	return parsed, SourceGenerated
}

func parseSessionInsight(raw string) (SessionInsight, error) {
	var out SessionInsight
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return SessionInsight{}, fmt.Errorf("parse session insight: %w", err)
	}
	out.KeyInsights = strings.TrimSpace(out.KeyInsights)
	out.Recommendations = cleanStrings(out.Recommendations, maxSessionRecommendations)
	if out.KeyInsights == "" {
		return SessionInsight{}, fmt.Errorf("no key insights in response")
	}
	if len(out.Recommendations) == 0 {
		return SessionInsight{}, fmt.Errorf("no recommendations in response")
	}
	return out, nil
}

func parseComparisonInsight(raw string) (ComparisonInsight, error) {
	var out ComparisonInsight
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return ComparisonInsight{}, fmt.Errorf("parse comparison insight: %w", err)
	}
	out.Summary = strings.TrimSpace(out.Summary)
	out.Recommendations = cleanStrings(out.Recommendations, maxComparisonRecommendations)
	if out.Summary == "" {
		return ComparisonInsight{}, fmt.Errorf("empty summary in response")
	}
	if len(out.Recommendations) == 0 {
		return ComparisonInsight{}, fmt.Errorf("no recommendations in response")
	}
	out.Metrics.PeakCorrelation = strings.TrimSpace(out.Metrics.PeakCorrelation)
	out.Metrics.AttentionSpan = strings.TrimSpace(out.Metrics.AttentionSpan)
	out.Metrics.RecaptureRate = strings.TrimSpace(out.Metrics.RecaptureRate)
	return out, nil
}

// cleanStrings trims entries, drops empties, and caps the slice when max
// is positive.
func cleanStrings(in []string, max int) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}
