// Package monitor runs the live engagement loop: once per second it
// smooths each watched session's recent telemetry, feeds the result
// through the alert state machine, and publishes the outcome on the bus.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mintlabs/engagemint/internal/bus"
	"github.com/mintlabs/engagemint/internal/config"
	"github.com/mintlabs/engagemint/internal/store"
	"github.com/mintlabs/engagemint/internal/telemetry"
)

type Monitor struct {
	store    *store.Store
	bus      *bus.Bus
	window   float64
	trendLen int
	interval time.Duration

	mu      sync.Mutex
	streams map[string]*telemetry.StreamState
}

func New(st *store.Store, b *bus.Bus, cfg config.MonitorConfig) *Monitor {
	window := float64(cfg.WindowSeconds)
	if window <= 0 {
		window = telemetry.DefaultWindowSeconds
	}
	trendLen := cfg.TrendLength
	if trendLen <= 0 {
		trendLen = telemetry.DefaultTrendLength
	}
	return &Monitor{
		store:    st,
		bus:      b,
		window:   window,
		trendLen: trendLen,
		interval: time.Second,
		streams:  make(map[string]*telemetry.StreamState),
	}
}

// Run ticks every interval until the context is canceled. Each tick
// processes every watched session in sequence, so a session's smoothing
// and alert transition are never interleaved with the next tick.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Printf("[monitor] started, window=%vs trend=%d", m.window, m.trendLen)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[monitor] stopped")
			return ctx.Err()
		case now := <-ticker.C:
			m.Tick(now)
		}
	}
}

// Watch starts tracking a session. Watching an already-watched session
// is a no-op and preserves its alert state.
func (m *Monitor) Watch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[sessionID]; ok {
		return
	}
	m.streams[sessionID] = telemetry.NewStreamState(m.trendLen)
	log.Printf("[monitor] watching session %s", sessionID)
}

// Unwatch stops tracking a session. If the stream is in an alert state
// a recovery is published before the state is discarded.
func (m *Monitor) Unwatch(sessionID string, now time.Time) {
	m.mu.Lock()
	state, ok := m.streams[sessionID]
	if ok {
		delete(m.streams, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if alert := state.Reset(now); alert != nil {
		m.bus.PublishAlert(bus.AlertEvent{SessionID: sessionID, Alert: *alert, Timestamp: now})
	}
	log.Printf("[monitor] stopped watching session %s", sessionID)
}

// Tick processes one monitoring cycle for all watched sessions.
func (m *Monitor) Tick(now time.Time) {
	for _, sessionID := range m.watched() {
		m.tickSession(sessionID, now)
	}
}

func (m *Monitor) watched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	return ids
}

func (m *Monitor) tickSession(sessionID string, now time.Time) {
	points, err := m.store.Telemetry(sessionID, 0)
	if err != nil {
		log.Printf("[monitor] telemetry read failed for %s: %v", sessionID, err)
		return
	}

	sample, ok := telemetry.Smooth(points, m.window)
	if !ok {
		return
	}

	m.mu.Lock()
	state, watching := m.streams[sessionID]
	if !watching {
		m.mu.Unlock()
		return
	}
	alert := state.Observe(sample.Value, now)
	streamState := state.State
	m.mu.Unlock()

	m.bus.PublishTick(bus.TickEvent{
		SessionID: sessionID,
		AtSecond:  sample.AtSecond,
		Value:     sample.Value,
		State:     streamState,
		Timestamp: now,
	})
	if alert != nil {
		m.bus.PublishAlert(bus.AlertEvent{SessionID: sessionID, Alert: *alert, Timestamp: now})
	}
}

// Alerts returns the accumulated alert feed for a session, newest last.
func (m *Monitor) Alerts(sessionID string) []telemetry.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.streams[sessionID]
	if !ok {
		return nil
	}
	out := make([]telemetry.Alert, len(state.Alerts))
	copy(out, state.Alerts)
	return out
}

// StateOf reports a session's current engagement state and whether the
// session is being watched at all.
func (m *Monitor) StateOf(sessionID string) (telemetry.EngagementState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.streams[sessionID]
	if !ok {
		return telemetry.StateNormal, false
	}
	return state.State, true
}
