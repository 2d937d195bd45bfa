// Package bus fans monitor events out to live consumers (the websocket
// feed, the Telegram notifier). Delivery is best-effort: a slow consumer
// drops events rather than stalling the monitor tick.
package bus

import (
	"sync"
	"time"

	"github.com/mintlabs/engagemint/internal/telemetry"
)

const subscriberBuffer = 64

type EventKind string

const (
	KindTick  EventKind = "tick"
	KindAlert EventKind = "alert"
)

type TickEvent struct {
	SessionID string                    `json:"sessionId"`
	AtSecond  float64                   `json:"atSecond"`
	Value     int                       `json:"value"`
	State     telemetry.EngagementState `json:"state"`
	Timestamp time.Time                 `json:"timestamp"`
}

type AlertEvent struct {
	SessionID string          `json:"sessionId"`
	Alert     telemetry.Alert `json:"alert"`
	Timestamp time.Time       `json:"timestamp"`
}

type Event struct {
	Kind  EventKind   `json:"kind"`
	Tick  *TickEvent  `json:"tick,omitempty"`
	Alert *AlertEvent `json:"alert,omitempty"`
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a consumer. The returned cancel func removes the
// subscription and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (b *Bus) PublishTick(e TickEvent) {
	b.publish(Event{Kind: KindTick, Tick: &e})
}

func (b *Bus) PublishAlert(e AlertEvent) {
	b.publish(Event{Kind: KindAlert, Alert: &e})
}

func (b *Bus) publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Buffer full: drop for this subscriber.
		}
	}
}
