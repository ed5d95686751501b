package types

import "time"

// AlertKind distinguishes the two notifications an endpoint can raise
type AlertKind string

const (
	AlertDown AlertKind = "down"
	AlertUp   AlertKind = "up"
)

// Alert is handed to the notifier on every state transition
type Alert struct {
	Kind      AlertKind
	Endpoint  Endpoint
	Failures  int
	Threshold int
	FiredAt   time.Time
	// DownSince is set on recovery alerts when the start of the episode is known
	DownSince *time.Time
	Flapping  bool
	LastError string
}

// Downtime returns how long the episode lasted for a recovery alert
func (a Alert) Downtime() time.Duration {
	if a.DownSince == nil {
		return 0
	}
	return a.FiredAt.Sub(*a.DownSince)
}
