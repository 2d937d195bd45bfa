package maintenance

import (
	"path/filepath"
	"testing"

	"github.com/mintlabs/engagemint/internal/bus"
	"github.com/mintlabs/engagemint/internal/config"
	"github.com/mintlabs/engagemint/internal/monitor"
	"github.com/mintlabs/engagemint/internal/store"
	"github.com/mintlabs/engagemint/internal/telemetry"
)

func newTestService(t *testing.T, cfg config.MaintenanceConfig) (*Service, *store.Store, *monitor.Monitor) {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	mon := monitor.New(st, bus.New(), config.MonitorConfig{})
	return New(st, mon, cfg), st, mon
}

func TestFinalizeStale(t *testing.T) {
	// A negative cutoff moves the threshold into the future, so the
	// just-created session counts as stale.
	svc, st, mon := newTestService(t, config.MaintenanceConfig{FinalizeAfterMinutes: -1})

	sess, _ := st.CreateSession(store.Session{UserID: "u", Title: "t"})
	_ = st.AppendTelemetry(sess.ID, []telemetry.Point{
		{Second: 0, Score: 60},
		{Second: 60, Score: 80},
	})
	mon.Watch(sess.ID)

	svc.FinalizeStale()

	got, err := st.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.OverallScore != 70 {
		t.Errorf("overallScore = %d, want computed average 70", got.OverallScore)
	}
	if _, watching := mon.StateOf(sess.ID); watching {
		t.Error("session still watched after stale finalize")
	}
}

func TestFinalizeStale_LeavesFreshSessions(t *testing.T) {
	svc, st, _ := newTestService(t, config.MaintenanceConfig{FinalizeAfterMinutes: 10})

	sess, _ := st.CreateSession(store.Session{UserID: "u", Title: "t"})
	_ = st.AppendTelemetry(sess.ID, []telemetry.Point{{Second: 0, Score: 70}})

	svc.FinalizeStale()

	got, _ := st.GetSession(sess.ID)
	if got.Status != "active" {
		t.Errorf("status = %q, want active", got.Status)
	}
}

func TestPruneCache(t *testing.T) {
	svc, st, _ := newTestService(t, config.MaintenanceConfig{PruneAfterDays: 30})
	_ = st.CacheUpsert("k", "session", []byte(`{}`), "generated")

	svc.PruneCache()
	if entry, _ := st.CacheGet("k"); entry == nil {
		t.Fatal("fresh entry pruned")
	}

	// Negative retention moves the threshold past now and sweeps
	// everything.
	aggressive, _, _ := newTestService(t, config.MaintenanceConfig{PruneAfterDays: -1})
	_ = aggressive.store.CacheUpsert("k", "session", []byte(`{}`), "generated")
	aggressive.PruneCache()
	if entry, _ := aggressive.store.CacheGet("k"); entry != nil {
		t.Fatal("entry survived aggressive prune")
	}
}

func TestPruneAtToCron(t *testing.T) {
	spec, err := pruneAtToCron("03:00")
	if err != nil {
		t.Fatalf("pruneAtToCron: %v", err)
	}
	if spec != "0 0 3 * * *" {
		t.Errorf("spec = %q", spec)
	}

	for _, bad := range []string{"", "3", "25:00", "03:70", "aa:bb"} {
		if _, err := pruneAtToCron(bad); err == nil {
			t.Errorf("pruneAtToCron(%q) should fail", bad)
		}
	}
}
