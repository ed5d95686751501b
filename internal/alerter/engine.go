package alerter

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/portwatch/portwatch/internal/clock"
	"github.com/portwatch/portwatch/internal/types"
	"github.com/rs/zerolog"
)

// DefaultThreshold is the number of consecutive failures that raises an alert
const DefaultThreshold = 3

// Ledger records transitions. Implemented by store.Store.
type Ledger interface {
	Append(ctx context.Context, endpointID uint, eventType types.EventType, ts time.Time) error
	LastEvent(ctx context.Context, endpointID uint) (*types.DowntimeEvent, error)
}

// Notifier delivers transition alerts. Delivery errors are reported, never fatal.
type Notifier interface {
	NotifyDown(ctx context.Context, alert types.Alert) error
	NotifyUp(ctx context.Context, alert types.Alert) error
}

// Phase is the derived hysteresis state of an endpoint
type Phase string

const (
	PhaseOK       Phase = "ok"
	PhaseDegraded Phase = "degraded"
	PhaseAlerting Phase = "alerting"
)

// State is the volatile per-endpoint alert state
type State struct {
	EndpointID          uint       `json:"endpoint_id"`
	Name                string     `json:"name"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	AlertActive         bool       `json:"alert_active"`
	DownSince           *time.Time `json:"down_since,omitempty"`
	LastFailure         string     `json:"last_failure,omitempty"`
}

// Phase maps the counters onto OK, DEGRADED or ALERTING
func (s State) Phase() Phase {
	switch {
	case s.AlertActive:
		return PhaseAlerting
	case s.ConsecutiveFailures > 0:
		return PhaseDegraded
	default:
		return PhaseOK
	}
}

type endpointState struct {
	mu    sync.Mutex
	state State
}

// Engine is the per-endpoint hysteresis state machine.
// Each endpoint has its own lock so concurrent mutation paths serialise per endpoint.
type Engine struct {
	threshold int
	ledger    Ledger
	notifier  Notifier
	flap      *FlapDetector
	clock     clock.Clock
	logger    zerolog.Logger

	mu     sync.Mutex
	states map[uint]*endpointState
}

// NewEngine creates a new alert engine. flap may be nil to disable flap detection.
func NewEngine(threshold int, ledger Ledger, notifier Notifier, flap *FlapDetector, clk clock.Clock, logger zerolog.Logger) *Engine {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Engine{
		threshold: threshold,
		ledger:    ledger,
		notifier:  notifier,
		flap:      flap,
		clock:     clk,
		logger:    logger.With().Str("component", "alerter").Logger(),
		states:    make(map[uint]*endpointState),
	}
}

// Threshold returns the configured debounce threshold
func (e *Engine) Threshold() int {
	return e.threshold
}

func (e *Engine) stateFor(ep types.Endpoint) *endpointState {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[ep.ID]
	if !ok {
		st = &endpointState{state: State{EndpointID: ep.ID}}
		e.states[ep.ID] = st
	}
	st.state.Name = ep.Name
	return st
}

// Process feeds one probe outcome into the state machine of ep.
// It returns the ledger event emitted, if any, and the error from writing it.
// Notification failures are logged and never returned.
func (e *Engine) Process(ctx context.Context, ep types.Endpoint, reachable bool, failure types.FailureKind) (types.EventType, error) {
	st := e.stateFor(ep)

	st.mu.Lock()
	now := e.clock.Now()
	var (
		event     types.EventType
		alert     types.Alert
		ledgerErr error
	)

	s := &st.state
	if reachable {
		failures := s.ConsecutiveFailures
		s.ConsecutiveFailures = 0
		s.LastFailure = ""
		if s.AlertActive {
			event = types.EventUp
			alert = types.Alert{
				Kind:      types.AlertUp,
				Endpoint:  ep,
				Failures:  failures,
				Threshold: e.threshold,
				FiredAt:   now,
				DownSince: s.DownSince,
			}
			s.AlertActive = false
			s.DownSince = nil
		}
	} else {
		s.ConsecutiveFailures++
		s.LastFailure = failure.Label()
		if !s.AlertActive && s.ConsecutiveFailures >= e.threshold {
			event = types.EventDown
			downSince := now
			s.AlertActive = true
			s.DownSince = &downSince
			alert = types.Alert{
				Kind:      types.AlertDown,
				Endpoint:  ep,
				Failures:  s.ConsecutiveFailures,
				Threshold: e.threshold,
				FiredAt:   now,
				LastError: s.LastFailure,
			}
		}
	}

	if event != "" {
		if err := e.ledger.Append(ctx, ep.ID, event, now); err != nil {
			ledgerErr = err
			e.logger.Error().
				Err(err).
				Uint("endpoint_id", ep.ID).
				Str("endpoint", ep.Name).
				Str("event_type", string(event)).
				Msg("Failed to record transition in ledger")
		}
		if e.flap != nil {
			flapping, justStarted := e.flap.RecordChange(ep.ID)
			alert.Flapping = flapping
			if justStarted {
				e.logger.Warn().
					Uint("endpoint_id", ep.ID).
					Str("endpoint", ep.Name).
					Msg("Endpoint is flapping")
			}
		}
	} else if e.flap != nil && e.flap.CheckStable(ep.ID) {
		e.logger.Info().
			Uint("endpoint_id", ep.ID).
			Str("endpoint", ep.Name).
			Msg("Endpoint stopped flapping")
	}
	st.mu.Unlock()

	switch event {
	case types.EventDown:
		e.logger.Warn().
			Uint("endpoint_id", ep.ID).
			Str("endpoint", ep.Name).
			Str("address", ep.Address()).
			Int("failures", alert.Failures).
			Str("failure", string(failure)).
			Msg("Alert fired")
		if err := e.notifier.NotifyDown(ctx, alert); err != nil {
			e.logger.Error().
				Err(err).
				Uint("endpoint_id", ep.ID).
				Msg("Failed to send alert notification")
		}
	case types.EventUp:
		e.logger.Info().
			Uint("endpoint_id", ep.ID).
			Str("endpoint", ep.Name).
			Dur("downtime", alert.Downtime()).
			Msg("Alert resolved")
		if err := e.notifier.NotifyUp(ctx, alert); err != nil {
			e.logger.Error().
				Err(err).
				Uint("endpoint_id", ep.ID).
				Msg("Failed to send recovery notification")
		}
	}

	return event, ledgerErr
}

// Restore re-arms alert state from the ledger after a restart.
// An endpoint whose last event is DOWN resumes in ALERTING with DownSince taken from that event.
func (e *Engine) Restore(ctx context.Context, endpoints []types.Endpoint) error {
	restored := 0
	for _, ep := range endpoints {
		last, err := e.ledger.LastEvent(ctx, ep.ID)
		if err != nil {
			return err
		}
		if last == nil || last.Type != types.EventDown {
			continue
		}

		st := e.stateFor(ep)
		st.mu.Lock()
		downSince := last.Timestamp
		st.state.AlertActive = true
		st.state.ConsecutiveFailures = e.threshold
		st.state.DownSince = &downSince
		st.mu.Unlock()
		restored++

		e.logger.Info().
			Uint("endpoint_id", ep.ID).
			Str("endpoint", ep.Name).
			Time("down_since", downSince).
			Msg("Restored open alert from ledger")
	}

	e.logger.Debug().Int("restored", restored).Msg("Alert state restored")
	return nil
}

// Forget drops the state of a removed endpoint
func (e *Engine) Forget(endpointID uint) {
	e.mu.Lock()
	delete(e.states, endpointID)
	e.mu.Unlock()

	if e.flap != nil {
		e.flap.Forget(endpointID)
	}
}

// Snapshot returns a copy of the state of one endpoint
func (e *Engine) Snapshot(endpointID uint) (State, bool) {
	e.mu.Lock()
	st, ok := e.states[endpointID]
	e.mu.Unlock()
	if !ok {
		return State{EndpointID: endpointID}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return copyState(st.state), true
}

// GetActiveAlerts returns all endpoints currently in ALERTING, ordered by id
func (e *Engine) GetActiveAlerts() []State {
	e.mu.Lock()
	all := make([]*endpointState, 0, len(e.states))
	for _, st := range e.states {
		all = append(all, st)
	}
	e.mu.Unlock()

	alerts := make([]State, 0)
	for _, st := range all {
		st.mu.Lock()
		if st.state.AlertActive {
			alerts = append(alerts, copyState(st.state))
		}
		st.mu.Unlock()
	}
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].EndpointID < alerts[j].EndpointID
	})
	return alerts
}

func copyState(s State) State {
	if s.DownSince != nil {
		t := *s.DownSince
		s.DownSince = &t
	}
	return s
}
