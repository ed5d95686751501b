package types

import "time"

// EventType is a ledger transition
type EventType string

const (
	EventDown EventType = "DOWN"
	EventUp   EventType = "UP"
)

// DowntimeEvent is one immutable ledger row
type DowntimeEvent struct {
	EndpointID uint      `json:"endpoint_id"`
	Type       EventType `json:"event_type"`
	Timestamp  time.Time `json:"timestamp"`
}

// DowntimePeriod is a derived interval between a DOWN and its matching UP.
// End is nil while the episode is still ongoing.
type DowntimePeriod struct {
	Start           time.Time  `json:"start"`
	End             *time.Time `json:"end"`
	Ongoing         bool       `json:"ongoing"`
	DurationMinutes float64    `json:"duration_minutes"`
	StartDisplay    string     `json:"start_display"`
	EndDisplay      string     `json:"end_display"`
}

// UptimeReport is computed fresh on every query
type UptimeReport struct {
	EndpointID    uint             `json:"endpoint_id"`
	Name          string           `json:"name,omitempty"`
	WindowStart   time.Time        `json:"window_start"`
	WindowEnd     time.Time        `json:"window_end"`
	UptimePercent float64          `json:"uptime_percent"`
	DowntimeSecs  float64          `json:"downtime_seconds"`
	Periods       []DowntimePeriod `json:"periods"`
}
