package types

import (
	"errors"
	"time"
)

// FailureKind classifies an unsuccessful probe
type FailureKind string

const (
	FailureNone              FailureKind = ""
	FailureDNS               FailureKind = "dns"
	FailureTimeout           FailureKind = "timeout"
	FailureConnectionRefused FailureKind = "connection_refused"
	FailureNetwork           FailureKind = "network"
)

// Retryable reports whether another attempt could change the outcome
func (k FailureKind) Retryable() bool {
	return k != FailureDNS && k != FailureNone
}

// Label returns the short human-readable form used in status displays
func (k FailureKind) Label() string {
	switch k {
	case FailureNone:
		return "online"
	case FailureDNS:
		return "dns error"
	case FailureTimeout:
		return "timeout"
	case FailureConnectionRefused:
		return "connection refused"
	default:
		return "network error"
	}
}

// ProbeResult is the outcome of probing one endpoint within a cycle or sweep.
// Err carries persistence problems hit while recording the result, never probe failures.
type ProbeResult struct {
	EndpointID uint        `json:"endpoint_id"`
	Name       string      `json:"name"`
	Reachable  bool        `json:"reachable"`
	LatencyMs  int         `json:"latency_ms"`
	Failure    FailureKind `json:"failure,omitempty"`
	Label      string      `json:"label"`
	Attempts   int         `json:"attempts"`
	CheckedAt  time.Time   `json:"checked_at"`
	Transition EventType   `json:"transition,omitempty"`
	Err        error       `json:"-"`
	Error      string      `json:"error,omitempty"`
}

// SetErr records a persistence error on the result
func (r *ProbeResult) SetErr(err error) {
	if err == nil {
		return
	}
	if r.Err != nil {
		r.Err = errors.Join(r.Err, err)
	} else {
		r.Err = err
	}
	r.Error = r.Err.Error()
}

// CycleReport summarises one scheduled cycle or ad-hoc sweep
type CycleReport struct {
	ID        string        `json:"id"`
	AdHoc     bool          `json:"ad_hoc"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Results   []ProbeResult `json:"results"`
}

// Failed counts the endpoints that were unreachable in the report
func (r CycleReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Reachable {
			n++
		}
	}
	return n
}
