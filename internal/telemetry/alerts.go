package telemetry

import (
	"time"

	"github.com/google/uuid"
)

type AlertType string

const (
	AlertDip       AlertType = "DIP"
	AlertRecovery  AlertType = "RECOVERY"
	AlertSystem    AlertType = "SYSTEM"
	AlertThreshold AlertType = "THRESHOLD"
)

type EngagementState string

const (
	StateNormal   EngagementState = "NORMAL"
	StateDip      EngagementState = "DIP"
	StateCritical EngagementState = "CRITICAL"
)

const (
	criticalThreshold = 45
	dipThreshold      = 60
	dipDrop           = 10

	// DefaultTrendLength is the count-based window used for dip
	// detection, separate from the time-based smoothing window.
	DefaultTrendLength = 5

	opacityStep  = 0.1
	opacityFloor = 0.4
)

// Alert is one emitted engagement alert. Opacity decays toward a floor
// as newer alerts arrive so older cards fade without vanishing.
type Alert struct {
	ID        string    `json:"id"`
	Type      AlertType `json:"type"`
	Timestamp string    `json:"timestamp"`
	Message   string    `json:"message"`
	Opacity   float64   `json:"opacity"`
}

// StreamState holds the per-stream mutable state for the live loop: the
// engagement state, the trend buffer of recent smoothed values, and the
// alerts emitted so far. One instance per active session/device pair,
// owned by a single monitor goroutine; no internal locking.
type StreamState struct {
	State    EngagementState
	Alerts   []Alert
	trend    []int
	trendLen int
}

func NewStreamState(trendLen int) *StreamState {
	if trendLen <= 0 {
		trendLen = DefaultTrendLength
	}
	return &StreamState{
		State:    StateNormal,
		trendLen: trendLen,
	}
}

// Trend returns a copy of the trend buffer, oldest first.
func (s *StreamState) Trend() []int {
	out := make([]int, len(s.trend))
	copy(out, s.trend)
	return out
}

// Observe feeds one smoothed value into the state machine and returns the
// alert emitted for it, or nil. At most one alert is emitted per tick:
// a THRESHOLD alert when the value crosses below the critical line and the
// stream is not already critical, else a DIP alert when a normal stream
// drops at least dipDrop below its recent trend maximum while under the
// dip line.
func (s *StreamState) Observe(value int, at time.Time) *Alert {
	s.trend = append(s.trend, value)
	if len(s.trend) > s.trendLen {
		s.trend = s.trend[1:]
	}

	if value < criticalThreshold && s.State != StateCritical {
		s.State = StateCritical
		return s.emit(AlertThreshold, "Critical engagement drop detected.", at)
	}

	if s.State == StateNormal && value < dipThreshold && s.trendMax()-value >= dipDrop {
		s.State = StateDip
		return s.emit(AlertDip, "Engagement dip detected.", at)
	}

	return nil
}

// Reset is the external recovery path: there is no automatic transition
// out of DIP or CRITICAL. Returns the RECOVERY alert, or nil when the
// stream is already normal.
func (s *StreamState) Reset(at time.Time) *Alert {
	if s.State == StateNormal {
		return nil
	}
	s.State = StateNormal
	return s.emit(AlertRecovery, "Engagement recovered.", at)
}

func (s *StreamState) emit(kind AlertType, message string, at time.Time) *Alert {
	for i := range s.Alerts {
		s.Alerts[i].Opacity -= opacityStep
		if s.Alerts[i].Opacity < opacityFloor {
			s.Alerts[i].Opacity = opacityFloor
		}
	}

	alert := Alert{
		ID:        uuid.NewString(),
		Type:      kind,
		Timestamp: at.Format("15:04:05"),
		Message:   message,
		Opacity:   1,
	}
	s.Alerts = append(s.Alerts, alert)
	return &s.Alerts[len(s.Alerts)-1]
}

func (s *StreamState) trendMax() int {
	max := 0
	for _, v := range s.trend {
		if v > max {
			max = v
		}
	}
	return max
}
