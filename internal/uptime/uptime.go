package uptime

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/portwatch/portwatch/internal/clock"
	"github.com/portwatch/portwatch/internal/types"
	"github.com/rs/zerolog"
)

// DefaultWindow is the reporting window used when none is given
const DefaultWindow = 24 * time.Hour

// DisplayLayout is the wall-clock format of period boundaries
const DisplayLayout = "15:04:05"

// Ledger is the read side of the downtime ledger. Implemented by store.Store.
type Ledger interface {
	EventsSince(ctx context.Context, endpointID uint, since time.Time) ([]types.DowntimeEvent, error)
	LastEventBefore(ctx context.Context, endpointID uint, ts time.Time) (*types.DowntimeEvent, error)
}

// Calculator replays ledger events into uptime reports
type Calculator struct {
	ledger   Ledger
	clock    clock.Clock
	location *time.Location
	logger   zerolog.Logger
}

// NewCalculator creates a calculator. loc is the display timezone and defaults to UTC.
func NewCalculator(ledger Ledger, clk clock.Clock, loc *time.Location, logger zerolog.Logger) *Calculator {
	if clk == nil {
		clk = clock.Real{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{
		ledger:   ledger,
		clock:    clk,
		location: loc,
		logger:   logger.With().Str("component", "uptime").Logger(),
	}
}

// Report computes the uptime of ep over [now-window, now]
func (c *Calculator) Report(ctx context.Context, ep types.Endpoint, window time.Duration) (types.UptimeReport, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	now := c.clock.Now()
	windowStart := now.Add(-window)

	prior, err := c.ledger.LastEventBefore(ctx, ep.ID, windowStart)
	if err != nil {
		return types.UptimeReport{}, fmt.Errorf("initial state of endpoint %d: %w", ep.ID, err)
	}
	events, err := c.ledger.EventsSince(ctx, ep.ID, windowStart)
	if err != nil {
		return types.UptimeReport{}, fmt.Errorf("events of endpoint %d: %w", ep.ID, err)
	}

	report := Compute(prior, events, windowStart, now, c.location)
	report.EndpointID = ep.ID
	report.Name = ep.Name

	c.logger.Debug().
		Uint("endpoint_id", ep.ID).
		Str("endpoint", ep.Name).
		Int("events", len(events)).
		Float64("uptime_percent", report.UptimePercent).
		Msg("Computed uptime report")
	return report, nil
}

// ReportAll computes one report per endpoint. It stops at the first ledger error.
func (c *Calculator) ReportAll(ctx context.Context, endpoints []types.Endpoint, window time.Duration) ([]types.UptimeReport, error) {
	reports := make([]types.UptimeReport, 0, len(endpoints))
	for _, ep := range endpoints {
		r, err := c.Report(ctx, ep, window)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// Compute replays events over [windowStart, now].
// prior is the last event strictly before windowStart, or nil when there is none;
// an endpoint without prior history counts as up at the start of the window.
// events must be in ascending order. Out-of-order transitions (UP while up, DOWN while down) are ignored.
func Compute(prior *types.DowntimeEvent, events []types.DowntimeEvent, windowStart, now time.Time, loc *time.Location) types.UptimeReport {
	if loc == nil {
		loc = time.UTC
	}
	report := types.UptimeReport{
		WindowStart: windowStart,
		WindowEnd:   now,
		Periods:     []types.DowntimePeriod{},
	}

	down := prior != nil && prior.Type == types.EventDown
	downStart := windowStart
	var totalDown time.Duration

	for _, ev := range events {
		ts := ev.Timestamp
		if ts.After(now) {
			ts = now
		}
		switch {
		case ev.Type == types.EventUp && down:
			end := ts
			totalDown += end.Sub(downStart)
			report.Periods = append(report.Periods, period(downStart, &end, loc))
			down = false
		case ev.Type == types.EventDown && !down:
			down = true
			downStart = ts
		}
	}

	if down {
		totalDown += now.Sub(downStart)
		report.Periods = append(report.Periods, period(downStart, nil, loc))
		p := &report.Periods[len(report.Periods)-1]
		p.DurationMinutes = minutes(now.Sub(downStart))
	}

	report.DowntimeSecs = totalDown.Seconds()
	report.UptimePercent = percent(totalDown, now.Sub(windowStart))
	return report
}

func period(start time.Time, end *time.Time, loc *time.Location) types.DowntimePeriod {
	p := types.DowntimePeriod{
		Start:        start,
		End:          end,
		StartDisplay: start.In(loc).Format(DisplayLayout),
	}
	if end == nil {
		p.Ongoing = true
		p.EndDisplay = "ongoing"
		return p
	}
	p.DurationMinutes = minutes(end.Sub(start))
	p.EndDisplay = end.In(loc).Format(DisplayLayout)
	return p
}

func minutes(d time.Duration) float64 {
	return math.Round(d.Seconds()/60*10) / 10
}

func percent(down, window time.Duration) float64 {
	if down <= 0 || window <= 0 {
		return 100
	}
	p := math.Round(100*(1-down.Seconds()/window.Seconds())*100) / 100
	return math.Max(0, math.Min(100, p))
}
