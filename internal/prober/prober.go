package prober

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/portwatch/portwatch/internal/types"
	"github.com/rs/zerolog"
)

const defaultAttemptTimeout = 5 * time.Second

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Policy bounds a single probe
type Policy struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

func (p Policy) attempts() int {
	if p.Retries < 1 {
		return 1
	}
	return p.Retries
}

func (p Policy) attemptTimeout() time.Duration {
	if p.Timeout <= 0 {
		return defaultAttemptTimeout
	}
	return p.Timeout
}

// Budget returns the longest a probe can legitimately run under this policy:
// every attempt timing out plus the delays between them.
func (p Policy) Budget() time.Duration {
	n := time.Duration(p.attempts())
	return n*p.attemptTimeout() + (n-1)*p.RetryDelay
}

// Outcome is the result of one probe. LatencyMs is types.LatencyUnmeasured unless Reachable.
type Outcome struct {
	Reachable bool
	LatencyMs int
	Failure   types.FailureKind
	Attempts  int
	LastError error
}

// Prober checks TCP reachability of host:port pairs
type Prober struct {
	dialer Dialer
	logger zerolog.Logger
}

// New creates a prober. A nil dialer falls back to a plain net.Dialer.
func New(dialer Dialer, logger zerolog.Logger) *Prober {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return &Prober{
		dialer: dialer,
		logger: logger.With().Str("component", "prober").Logger(),
	}
}

// Probe attempts up to policy.Retries connections, waiting RetryDelay between attempts.
// A name-resolution failure ends the probe immediately; a resolver timeout is retried.
func (p *Prober) Probe(ctx context.Context, host string, port int, policy Policy) Outcome {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	attempts := policy.attempts()
	out := Outcome{LatencyMs: types.LatencyUnmeasured}

	for attempt := 1; attempt <= attempts; attempt++ {
		out.Attempts = attempt

		latency, err := p.dial(ctx, address, policy.attemptTimeout())
		if err == nil {
			return Outcome{
				Reachable: true,
				LatencyMs: latency,
				Attempts:  attempt,
			}
		}

		out.Failure = Classify(err)
		out.LastError = err

		if !out.Failure.Retryable() {
			p.logger.Warn().
				Err(err).
				Str("address", address).
				Msg("DNS resolution failed, skipping remaining attempts")
			return out
		}

		p.logger.Debug().
			Err(err).
			Str("address", address).
			Str("failure", string(out.Failure)).
			Int("attempt", attempt).
			Int("attempts", attempts).
			Msg("Probe attempt failed")

		if ctx.Err() != nil {
			return out
		}
		if attempt < attempts && !wait(ctx, policy.RetryDelay) {
			return out
		}
	}

	return out
}

// dial performs one bounded connection attempt and returns its wall-clock latency
func (p *Prober) dial(ctx context.Context, address string, timeout time.Duration) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	conn, err := p.dialer.DialContext(attemptCtx, "tcp", address)
	if err != nil {
		return types.LatencyUnmeasured, err
	}
	latency := int(time.Since(started) / time.Millisecond)
	_ = conn.Close()
	return latency, nil
}

// Classify maps a dial error to a FailureKind
func Classify(err error) types.FailureKind {
	if err == nil {
		return types.FailureNone
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		// A slow resolver is transient, only a failed lookup is terminal
		if dnsErr.IsTimeout {
			return types.FailureTimeout
		}
		return types.FailureDNS
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.FailureTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return types.FailureConnectionRefused
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.FailureTimeout
	}
	return types.FailureNetwork
}

// wait sleeps for d unless ctx ends first
func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
