package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/mintlabs/engagemint/internal/telemetry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "engagemint.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)

	created, err := s.CreateSession(Session{
		UserID:     "teacher-1",
		Title:      "Intro to Databases",
		CourseCode: "CS301",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a generated session id")
	}
	if created.Status != "active" {
		t.Errorf("status = %q, want active", created.Status)
	}
	if created.Comments == nil || len(created.Comments) != 0 {
		t.Errorf("comments = %v, want empty slice", created.Comments)
	}

	got, err := s.GetSession(created.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Title != "Intro to Databases" || got.CourseCode != "CS301" {
		t.Errorf("session = %+v", got)
	}

	if err := s.FinalizeSession(created.ID, 72); err != nil {
		t.Fatalf("FinalizeSession: %v", err)
	}
	got, _ = s.GetSession(created.ID)
	if got.Status != "completed" || got.OverallScore != 72 {
		t.Errorf("after finalize: status=%q score=%d", got.Status, got.OverallScore)
	}
	if got.EndedAt == "" {
		t.Error("endedAt not set")
	}
}

func TestGetSession_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetSession("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := s.FinalizeSession("nope", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("finalize err = %v, want ErrNotFound", err)
	}
}

func TestListSessions_ScopedToUser(t *testing.T) {
	s := newTestStore(t)
	for _, uid := range []string{"a", "a", "b"} {
		if _, err := s.CreateSession(Session{UserID: uid, Title: "x"}); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}
	list, err := s.ListSessions("a")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
}

func TestUpdateSessionMeta(t *testing.T) {
	s := newTestStore(t)
	created, _ := s.CreateSession(Session{UserID: "u", Title: "t"})

	desc := "Rough start, strong finish."
	updated, err := s.UpdateSessionMeta(created.ID, &desc, []string{"note one", "note two"})
	if err != nil {
		t.Fatalf("UpdateSessionMeta: %v", err)
	}
	if updated.Description != desc {
		t.Errorf("description = %q", updated.Description)
	}
	if len(updated.Comments) != 2 {
		t.Errorf("comments = %v", updated.Comments)
	}

	// Nil fields leave existing values alone.
	updated, err = s.UpdateSessionMeta(created.ID, nil, nil)
	if err != nil {
		t.Fatalf("UpdateSessionMeta noop: %v", err)
	}
	if updated.Description != desc || len(updated.Comments) != 2 {
		t.Errorf("noop update changed fields: %+v", updated)
	}

	if _, err := s.UpdateSessionMeta("missing", &desc, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTelemetryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession(Session{UserID: "u", Title: "t"})

	points := []telemetry.Point{
		{Second: 0, Score: 50},
		{Second: 1, Score: 55},
		{Second: 2, Score: 60},
	}
	if err := s.AppendTelemetry(sess.ID, points); err != nil {
		t.Fatalf("AppendTelemetry: %v", err)
	}

	got, err := s.Telemetry(sess.ID, 0)
	if err != nil {
		t.Fatalf("Telemetry: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Second != 0 || got[2].Score != 60 {
		t.Errorf("points = %+v", got)
	}

	limited, _ := s.Telemetry(sess.ID, 2)
	if len(limited) != 2 {
		t.Errorf("limited len = %d, want 2", len(limited))
	}

	count, err := s.TelemetryCount(sess.ID)
	if err != nil {
		t.Fatalf("TelemetryCount: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

func TestCacheUpsertAndGet(t *testing.T) {
	s := newTestStore(t)

	if entry, err := s.CacheGet("k1"); err != nil || entry != nil {
		t.Fatalf("miss: entry=%v err=%v", entry, err)
	}

	if err := s.CacheUpsert("k1", "session", []byte(`{"v":1}`), "generated"); err != nil {
		t.Fatalf("CacheUpsert: %v", err)
	}
	entry, err := s.CacheGet("k1")
	if err != nil || entry == nil {
		t.Fatalf("hit: entry=%v err=%v", entry, err)
	}
	if entry.Source != "generated" || string(entry.Payload) != `{"v":1}` {
		t.Errorf("entry = %+v", entry)
	}

	// Same key overwrites in place.
	if err := s.CacheUpsert("k1", "session", []byte(`{"v":2}`), "fallback"); err != nil {
		t.Fatalf("CacheUpsert overwrite: %v", err)
	}
	entry, _ = s.CacheGet("k1")
	if entry.Source != "fallback" || string(entry.Payload) != `{"v":2}` {
		t.Errorf("after overwrite: %+v", entry)
	}
}

func TestCachePrune_KeepsFreshEntries(t *testing.T) {
	s := newTestStore(t)
	if err := s.CacheUpsert("fresh", "session", []byte(`{}`), "generated"); err != nil {
		t.Fatalf("CacheUpsert: %v", err)
	}
	n, err := s.CachePrune(30)
	if err != nil {
		t.Fatalf("CachePrune: %v", err)
	}
	if n != 0 {
		t.Errorf("pruned %d fresh entries", n)
	}
	if entry, _ := s.CacheGet("fresh"); entry == nil {
		t.Error("fresh entry was pruned")
	}
}

func TestCommandQueue(t *testing.T) {
	s := newTestStore(t)

	cmd, err := s.EnqueueCommand("pi-lab-3", "start_session")
	if err != nil {
		t.Fatalf("EnqueueCommand: %v", err)
	}
	if cmd.Status != "pending" || cmd.ID == "" {
		t.Errorf("cmd = %+v", cmd)
	}
	if _, err := s.EnqueueCommand("pi-lab-3", "end_session"); err != nil {
		t.Fatalf("EnqueueCommand: %v", err)
	}
	if _, err := s.EnqueueCommand("other", "start_session"); err != nil {
		t.Fatalf("EnqueueCommand: %v", err)
	}

	drained, err := s.DrainCommands("pi-lab-3")
	if err != nil {
		t.Fatalf("DrainCommands: %v", err)
	}
	if len(drained) != 2 {
		t.Fatalf("drained %d, want 2", len(drained))
	}
	if drained[0].Type != "start_session" {
		t.Errorf("order: first = %s, want start_session", drained[0].Type)
	}

	again, _ := s.DrainCommands("pi-lab-3")
	if len(again) != 0 {
		t.Errorf("second drain returned %d commands", len(again))
	}
}

func TestStaleActiveSessions_IgnoresRecent(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession(Session{UserID: "u", Title: "live"})
	if err := s.AppendTelemetry(sess.ID, []telemetry.Point{{Second: 1, Score: 70}}); err != nil {
		t.Fatalf("AppendTelemetry: %v", err)
	}

	stale, err := s.StaleActiveSessions(10)
	if err != nil {
		t.Fatalf("StaleActiveSessions: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("stale = %v, want none for a session created just now", stale)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	sess, _ := s.CreateSession(Session{UserID: "u", Title: "t"})
	_ = s.AppendTelemetry(sess.ID, []telemetry.Point{{Second: 0, Score: 1}, {Second: 1, Score: 2}})
	_ = s.CacheUpsert("k", "session", []byte(`{}`), "generated")

	c, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if c.Sessions != 1 || c.Points != 2 || c.CacheEntries != 1 {
		t.Errorf("counts = %+v", c)
	}
}
