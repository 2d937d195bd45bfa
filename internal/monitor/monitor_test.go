package monitor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mintlabs/engagemint/internal/bus"
	"github.com/mintlabs/engagemint/internal/config"
	"github.com/mintlabs/engagemint/internal/store"
	"github.com/mintlabs/engagemint/internal/telemetry"
)

func newTestMonitor(t *testing.T) (*Monitor, *store.Store, *bus.Bus) {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	b := bus.New()
	m := New(st, b, config.MonitorConfig{WindowSeconds: 2, TrendLength: 5})
	return m, st, b
}

func drain(ch <-chan bus.Event) []bus.Event {
	var events []bus.Event
	for {
		select {
		case e := <-ch:
			events = append(events, e)
		default:
			return events
		}
	}
}

func TestTickPublishesSmoothedSample(t *testing.T) {
	m, st, b := newTestMonitor(t)
	sess, _ := st.CreateSession(store.Session{UserID: "u", Title: "t"})
	_ = st.AppendTelemetry(sess.ID, []telemetry.Point{
		{Second: 0, Score: 10},
		{Second: 3, Score: 40},
		{Second: 5, Score: 50},
	})

	ch, cancel := b.Subscribe()
	defer cancel()

	m.Watch(sess.ID)
	m.Tick(time.Now())

	events := drain(ch)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 tick", len(events))
	}
	e := events[0]
	if e.Kind != bus.KindTick {
		t.Fatalf("kind = %s", e.Kind)
	}
	// Window [3,5] holds seconds 3 and 5: (40+50)/2 = 45.
	if e.Tick.Value != 45 || e.Tick.AtSecond != 5 {
		t.Errorf("tick = %+v", e.Tick)
	}
	if e.Tick.SessionID != sess.ID {
		t.Errorf("sessionID = %s", e.Tick.SessionID)
	}
}

func TestTickEmitsCriticalAlert(t *testing.T) {
	m, st, b := newTestMonitor(t)
	sess, _ := st.CreateSession(store.Session{UserID: "u", Title: "t"})
	_ = st.AppendTelemetry(sess.ID, []telemetry.Point{{Second: 0, Score: 30}})

	ch, cancel := b.Subscribe()
	defer cancel()

	m.Watch(sess.ID)
	m.Tick(time.Now())

	events := drain(ch)
	if len(events) != 2 {
		t.Fatalf("events = %d, want tick + alert", len(events))
	}
	if events[1].Kind != bus.KindAlert || events[1].Alert.Alert.Type != telemetry.AlertThreshold {
		t.Errorf("alert event = %+v", events[1])
	}
	if state, _ := m.StateOf(sess.ID); state != telemetry.StateCritical {
		t.Errorf("state = %s, want CRITICAL", state)
	}

	// The next tick over the same data must not re-alert.
	m.Tick(time.Now())
	for _, e := range drain(ch) {
		if e.Kind == bus.KindAlert {
			t.Fatal("duplicate critical alert")
		}
	}
}

func TestTickSkipsSessionsWithoutTelemetry(t *testing.T) {
	m, st, b := newTestMonitor(t)
	sess, _ := st.CreateSession(store.Session{UserID: "u", Title: "t"})

	ch, cancel := b.Subscribe()
	defer cancel()

	m.Watch(sess.ID)
	m.Tick(time.Now())
	if events := drain(ch); len(events) != 0 {
		t.Fatalf("events = %v, want none without telemetry", events)
	}
}

func TestUnwatchPublishesRecovery(t *testing.T) {
	m, st, b := newTestMonitor(t)
	sess, _ := st.CreateSession(store.Session{UserID: "u", Title: "t"})
	_ = st.AppendTelemetry(sess.ID, []telemetry.Point{{Second: 0, Score: 30}})

	m.Watch(sess.ID)
	m.Tick(time.Now())

	ch, cancel := b.Subscribe()
	defer cancel()

	m.Unwatch(sess.ID, time.Now())
	events := drain(ch)
	if len(events) != 1 || events[0].Alert.Alert.Type != telemetry.AlertRecovery {
		t.Fatalf("events = %+v, want one RECOVERY", events)
	}
	if _, watching := m.StateOf(sess.ID); watching {
		t.Error("session still watched after Unwatch")
	}

	// Unwatching again is silent.
	m.Unwatch(sess.ID, time.Now())
	if events := drain(ch); len(events) != 0 {
		t.Fatalf("second unwatch emitted %v", events)
	}
}

func TestWatchIsIdempotent(t *testing.T) {
	m, st, _ := newTestMonitor(t)
	sess, _ := st.CreateSession(store.Session{UserID: "u", Title: "t"})
	_ = st.AppendTelemetry(sess.ID, []telemetry.Point{{Second: 0, Score: 30}})

	m.Watch(sess.ID)
	m.Tick(time.Now())
	if state, _ := m.StateOf(sess.ID); state != telemetry.StateCritical {
		t.Fatalf("state = %s", state)
	}

	// Re-watching must not reset the alert state machine.
	m.Watch(sess.ID)
	if state, _ := m.StateOf(sess.ID); state != telemetry.StateCritical {
		t.Errorf("state = %s after re-watch, want CRITICAL preserved", state)
	}
	if len(m.Alerts(sess.ID)) != 1 {
		t.Errorf("alerts = %v", m.Alerts(sess.ID))
	}
}
