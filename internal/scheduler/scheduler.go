package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/portwatch/portwatch/internal/clock"
	"github.com/portwatch/portwatch/internal/prober"
	"github.com/portwatch/portwatch/internal/types"
	"github.com/rs/zerolog"
)

// MinInterval is the shortest accepted cycle interval
const MinInterval = 10 * time.Second

// Prober checks one endpoint. Implemented by *prober.Prober.
type Prober interface {
	Probe(ctx context.Context, host string, port int, policy prober.Policy) prober.Outcome
}

// Registry lists the endpoints to probe. Implemented by store.Store.
type Registry interface {
	ListEndpoints(ctx context.Context) ([]types.Endpoint, error)
}

// StatusWriter persists the latest snapshot. Implemented by store.Store.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, endpointID uint, alive bool, latencyMs int, checkedAt time.Time) error
}

// Alerter is the alert state machine. Implemented by *alerter.Engine.
type Alerter interface {
	Process(ctx context.Context, ep types.Endpoint, reachable bool, failure types.FailureKind) (types.EventType, error)
	Restore(ctx context.Context, endpoints []types.Endpoint) error
}

// Options configures a Scheduler
type Options struct {
	Interval      time.Duration
	Policy        prober.Policy
	MaxConcurrent int
}

// Scheduler drives periodic probe cycles across all registered endpoints
type Scheduler struct {
	prober   Prober
	registry Registry
	status   StatusWriter
	alerts   Alerter
	clock    clock.Clock
	logger   zerolog.Logger
	policy   prober.Policy
	sem      chan struct{}

	mu       sync.RWMutex
	interval time.Duration
	last     *types.CycleReport
	hooks    []func(types.CycleReport)

	resetCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// New creates a scheduler
func New(p Prober, registry Registry, status StatusWriter, alerts Alerter, opts Options, clk clock.Clock, logger zerolog.Logger) *Scheduler {
	if opts.Interval < MinInterval {
		opts.Interval = MinInterval
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Scheduler{
		prober:   p,
		registry: registry,
		status:   status,
		alerts:   alerts,
		clock:    clk,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		policy:   opts.Policy,
		sem:      make(chan struct{}, opts.MaxConcurrent),
		interval: opts.Interval,
		resetCh:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// OnCycle registers a hook called after every cycle and sweep
func (s *Scheduler) OnCycle(fn func(types.CycleReport)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Interval returns the current cycle interval
func (s *Scheduler) Interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

// SetInterval changes the cycle interval. A running loop picks it up immediately.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d < MinInterval {
		return fmt.Errorf("interval must be at least %s", MinInterval)
	}

	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()

	// A pending signal already carries the change
	select {
	case s.resetCh <- struct{}{}:
	default:
	}

	s.logger.Info().Dur("interval", d).Msg("Check interval updated")
	return nil
}

// LastReport returns the report of the most recent cycle or sweep
func (s *Scheduler) LastReport() (types.CycleReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return types.CycleReport{}, false
	}
	return *s.last, true
}

// Start restores alert state from the ledger and launches the loop in a goroutine.
// The first cycle runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.restore(ctx); err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}

	go s.run(ctx)
	return nil
}

func (s *Scheduler) restore(ctx context.Context) error {
	endpoints, err := s.registry.ListEndpoints(ctx)
	if err != nil {
		return fmt.Errorf("listing endpoints: %w", err)
	}
	if err := s.alerts.Restore(ctx, endpoints); err != nil {
		return fmt.Errorf("restoring alert state: %w", err)
	}
	return nil
}

// Stop requests loop termination and waits until the current cycle is done
func (s *Scheduler) Stop() {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return
	}

	select {
	case <-s.doneCh:
		return
	default:
	}
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	// The loop owns its context so Stop can abandon a cycle in flight
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Initial cycle failed")
	}

	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Cycle failed")
			}
		case <-s.resetCh:
			ticker.Reset(s.Interval())
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce runs one scheduled cycle over every registered endpoint
func (s *Scheduler) RunOnce(ctx context.Context) (types.CycleReport, error) {
	endpoints, err := s.registry.ListEndpoints(ctx)
	if err != nil {
		return types.CycleReport{}, fmt.Errorf("listing endpoints: %w", err)
	}
	return s.RunCycle(ctx, endpoints), nil
}

// RunCycle probes every endpoint concurrently, writes each StatusRecord and
// feeds the result to the alert state machine.
func (s *Scheduler) RunCycle(ctx context.Context, endpoints []types.Endpoint) types.CycleReport {
	return s.execute(ctx, endpoints, false)
}

// RunAdHocSweep probes every endpoint and writes StatusRecords only.
// Alert state and the downtime ledger are never touched.
func (s *Scheduler) RunAdHocSweep(ctx context.Context, endpoints []types.Endpoint) types.CycleReport {
	return s.execute(ctx, endpoints, true)
}

func (s *Scheduler) execute(ctx context.Context, endpoints []types.Endpoint, adHoc bool) types.CycleReport {
	report := types.CycleReport{
		ID:        uuid.NewString(),
		AdHoc:     adHoc,
		StartedAt: s.clock.Now(),
		Results:   make([]types.ProbeResult, len(endpoints)),
	}
	log := s.logger.With().Str("cycle_id", report.ID).Bool("ad_hoc", adHoc).Logger()
	log.Debug().Int("endpoints", len(endpoints)).Msg("Cycle started")

	started := time.Now()
	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func(i int, ep types.Endpoint) {
			defer wg.Done()
			select {
			case s.sem <- struct{}{}:
			case <-ctx.Done():
				report.Results[i] = s.abandoned(ep)
				return
			}
			defer func() { <-s.sem }()
			report.Results[i] = s.check(ctx, ep, adHoc, log)
		}(i, ep)
	}
	wg.Wait()
	report.Duration = time.Since(started)

	log.Info().
		Int("endpoints", len(endpoints)).
		Int("failed", report.Failed()).
		Dur("duration", report.Duration).
		Msg("Cycle completed")

	s.mu.Lock()
	last := report
	s.last = &last
	hooks := append([]func(types.CycleReport){}, s.hooks...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(report)
	}
	return report
}

func (s *Scheduler) check(ctx context.Context, ep types.Endpoint, adHoc bool, log zerolog.Logger) types.ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, s.policy.Budget())
	outcome := s.prober.Probe(probeCtx, ep.Host, ep.Port, s.policy)
	cancel()

	res := types.ProbeResult{
		EndpointID: ep.ID,
		Name:       ep.Name,
		Reachable:  outcome.Reachable,
		LatencyMs:  outcome.LatencyMs,
		Failure:    outcome.Failure,
		Label:      outcome.Failure.Label(),
		Attempts:   outcome.Attempts,
		CheckedAt:  s.clock.Now(),
	}
	if !res.Reachable {
		res.LatencyMs = types.LatencyUnmeasured
	}

	// A cancelled cycle says nothing about the endpoint
	if err := ctx.Err(); err != nil {
		res.SetErr(err)
		return res
	}

	if err := s.status.UpdateStatus(ctx, ep.ID, res.Reachable, res.LatencyMs, res.CheckedAt); err != nil {
		res.SetErr(fmt.Errorf("status: %w", err))
		log.Error().
			Err(err).
			Uint("endpoint_id", ep.ID).
			Str("endpoint", ep.Name).
			Msg("Failed to write status")
	}

	if !res.Reachable {
		ev := log.Debug()
		if outcome.LastError != nil {
			ev = ev.Err(outcome.LastError)
		}
		ev.Uint("endpoint_id", ep.ID).
			Str("endpoint", ep.Name).
			Str("address", ep.Address()).
			Str("failure", string(res.Failure)).
			Int("attempts", res.Attempts).
			Msg("Endpoint unreachable")
	}

	if adHoc {
		return res
	}

	event, err := s.alerts.Process(ctx, ep, res.Reachable, res.Failure)
	res.Transition = event
	if err != nil {
		res.SetErr(fmt.Errorf("ledger: %w", err))
	}
	return res
}

func (s *Scheduler) abandoned(ep types.Endpoint) types.ProbeResult {
	return types.ProbeResult{
		EndpointID: ep.ID,
		Name:       ep.Name,
		LatencyMs:  types.LatencyUnmeasured,
		Failure:    types.FailureTimeout,
		Label:      types.FailureTimeout.Label(),
		CheckedAt:  s.clock.Now(),
		Error:      "cycle cancelled before probe started",
	}
}
