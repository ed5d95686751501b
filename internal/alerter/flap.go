package alerter

import (
	"sync"
	"time"

	"github.com/portwatch/portwatch/internal/clock"
	"github.com/rs/zerolog"
)

// FlapDetector counts ledger transitions per endpoint inside a sliding window.
// It only annotates alerts; events and notifications are never suppressed.
type FlapDetector struct {
	log       zerolog.Logger
	threshold int           // number of transitions that marks an endpoint as flapping
	window    time.Duration // sliding window for threshold
	clock     clock.Clock
	mu        sync.Mutex
	history   map[uint][]time.Time
	flapping  map[uint]bool
}

// NewFlapDetector creates a new flap detector
func NewFlapDetector(log zerolog.Logger, threshold int, window time.Duration, clk clock.Clock) *FlapDetector {
	if clk == nil {
		clk = clock.Real{}
	}
	if threshold < 2 {
		threshold = 4
	}
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &FlapDetector{
		log:       log.With().Str("component", "flap-detector").Logger(),
		threshold: threshold,
		window:    window,
		clock:     clk,
		history:   make(map[uint][]time.Time),
		flapping:  make(map[uint]bool),
	}
}

// RecordChange records a transition and returns whether the endpoint is flapping.
// justStarted is true only for the transition that crossed the threshold.
func (f *FlapDetector) RecordChange(endpointID uint) (flapping bool, justStarted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()
	pruned := f.pruneLocked(endpointID, now)
	pruned = append(pruned, now)
	f.history[endpointID] = pruned

	if len(pruned) < f.threshold {
		return false, false
	}

	wasFlapping := f.flapping[endpointID]
	f.flapping[endpointID] = true
	if !wasFlapping {
		f.log.Debug().Uint("endpoint_id", endpointID).Int("changes", len(pruned)).Msg("flapping detected")
	}
	return true, !wasFlapping
}

// IsFlapping returns whether an endpoint is currently marked as flapping
func (f *FlapDetector) IsFlapping(endpointID uint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flapping[endpointID]
}

// CheckStable clears the flapping mark once the window holds fewer transitions than the threshold.
// Returns true when the mark was cleared by this call.
func (f *FlapDetector) CheckStable(endpointID uint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.flapping[endpointID] {
		return false
	}

	recent := f.pruneLocked(endpointID, f.clock.Now())
	f.history[endpointID] = recent
	if len(recent) < f.threshold {
		delete(f.flapping, endpointID)
		return true
	}
	return false
}

// Forget drops all history of an endpoint
func (f *FlapDetector) Forget(endpointID uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.history, endpointID)
	delete(f.flapping, endpointID)
}

func (f *FlapDetector) pruneLocked(endpointID uint, now time.Time) []time.Time {
	cutoff := now.Add(-f.window)
	timestamps := f.history[endpointID]
	pruned := make([]time.Time, 0, len(timestamps)+1)
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	return pruned
}
