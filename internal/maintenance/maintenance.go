// Package maintenance runs the scheduled housekeeping jobs: finalizing
// sessions whose device went silent and pruning superseded insight cache
// entries.
package maintenance

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/mintlabs/engagemint/internal/config"
	"github.com/mintlabs/engagemint/internal/monitor"
	"github.com/mintlabs/engagemint/internal/stats"
	"github.com/mintlabs/engagemint/internal/store"
)

const finalizeSchedule = "0 */5 * * * *"

type Service struct {
	store   *store.Store
	monitor *monitor.Monitor
	cfg     config.MaintenanceConfig
	cron    *rcron.Cron
}

func New(st *store.Store, mon *monitor.Monitor, cfg config.MaintenanceConfig) *Service {
	return &Service{store: st, monitor: mon, cfg: cfg}
}

func (s *Service) Start(ctx context.Context) error {
	s.cron = rcron.New(rcron.WithSeconds())

	if _, err := s.cron.AddFunc(finalizeSchedule, s.FinalizeStale); err != nil {
		return fmt.Errorf("register finalize job: %w", err)
	}

	pruneSpec, err := pruneAtToCron(s.cfg.PruneAt)
	if err != nil {
		log.Printf("[maintenance] invalid pruneAt %q, using %s: %v", s.cfg.PruneAt, config.DefaultPruneAt, err)
		pruneSpec, _ = pruneAtToCron(config.DefaultPruneAt)
	}
	if _, err := s.cron.AddFunc(pruneSpec, s.PruneCache); err != nil {
		return fmt.Errorf("register prune job: %w", err)
	}

	s.cron.Start()
	log.Printf("[maintenance] started, finalize after %dm, prune daily at %s", s.cfg.FinalizeAfterMinutes, s.cfg.PruneAt)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	log.Printf("[maintenance] stopped")
}

// FinalizeStale completes active sessions that stopped receiving
// telemetry. The overall score is the session's computed average, the
// same value an explicit end command would have recorded.
func (s *Service) FinalizeStale() {
	stale, err := s.store.StaleActiveSessions(s.cfg.FinalizeAfterMinutes)
	if err != nil {
		log.Printf("[maintenance] stale session scan failed: %v", err)
		return
	}

	for _, sess := range stale {
		points, err := s.store.Telemetry(sess.ID, 0)
		if err != nil {
			log.Printf("[maintenance] telemetry read failed for %s: %v", sess.ID, err)
			continue
		}
		score := stats.Aggregate(sess.Title, sess.OverallScore, points).AverageScore
		if err := s.store.FinalizeSession(sess.ID, score); err != nil {
			log.Printf("[maintenance] finalize failed for %s: %v", sess.ID, err)
			continue
		}
		if s.monitor != nil {
			s.monitor.Unwatch(sess.ID, time.Now())
		}
		log.Printf("[maintenance] finalized stale session %s (score %d)", sess.ID, score)
	}
}

func (s *Service) PruneCache() {
	n, err := s.store.CachePrune(s.cfg.PruneAfterDays)
	if err != nil {
		log.Printf("[maintenance] cache prune failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[maintenance] pruned %d cache entries", n)
	}
}

// pruneAtToCron converts a "HH:MM" wall-clock time into a six-field cron
// expression.
func pruneAtToCron(at string) (string, error) {
	parts := strings.Split(at, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("expected HH:MM, got %q", at)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", at)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", at)
	}
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}
