package prober

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/portwatch/portwatch/internal/types"
	"github.com/rs/zerolog"
)

// scriptedDialer returns the queued errors in order, then repeats the last one
type scriptedDialer struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (d *scriptedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.calls
	if idx >= len(d.errs) {
		idx = len(d.errs) - 1
	}
	d.calls++
	err := d.errs[idx]
	if err == nil {
		client, server := net.Pipe()
		_ = server.Close()
		return client, nil
	}
	return nil, err
}

// blockingDialer never connects and reports the context error
type blockingDialer struct{}

func (blockingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	<-ctx.Done()
	return nil, &net.OpError{Op: "dial", Net: network, Err: ctx.Err()}
}

func refused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want types.FailureKind
	}{
		{nil, types.FailureNone},
		{&net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}, types.FailureDNS},
		{fmt.Errorf("wrapped: %w", &net.DNSError{Err: "server misbehaving", Name: "x"}), types.FailureDNS},
		{&net.DNSError{Err: "i/o timeout", Name: "slow.example", IsTimeout: true}, types.FailureTimeout},
		{context.DeadlineExceeded, types.FailureTimeout},
		{&net.OpError{Op: "dial", Net: "tcp", Err: context.DeadlineExceeded}, types.FailureTimeout},
		{refused(), types.FailureConnectionRefused},
		{errors.New("network is unreachable"), types.FailureNetwork},
	}
	for i, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Fatalf("case %d: got %q want %q", i, got, c.want)
		}
	}
}

func TestProbeSuccessAgainstListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	p := New(nil, zerolog.Nop())
	out := p.Probe(context.Background(), "127.0.0.1", addr.Port, Policy{Timeout: time.Second, Retries: 3})

	if !out.Reachable {
		t.Fatalf("expected reachable, got failure %q (%v)", out.Failure, out.LastError)
	}
	if out.LatencyMs < 0 {
		t.Fatalf("latency should be measured, got %d", out.LatencyMs)
	}
	if out.Attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", out.Attempts)
	}
}

func TestProbeDNSFailureSkipsRetries(t *testing.T) {
	d := &scriptedDialer{errs: []error{&net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}}}
	p := New(d, zerolog.Nop())

	started := time.Now()
	out := p.Probe(context.Background(), "nowhere.invalid", 443, Policy{Timeout: time.Second, Retries: 5, RetryDelay: time.Hour})
	elapsed := time.Since(started)

	if out.Reachable || out.Failure != types.FailureDNS {
		t.Fatalf("expected dns failure, got reachable=%v failure=%q", out.Reachable, out.Failure)
	}
	if out.Attempts != 1 || d.calls != 1 {
		t.Fatalf("dns failure must not retry: attempts=%d calls=%d", out.Attempts, d.calls)
	}
	if out.LatencyMs != types.LatencyUnmeasured {
		t.Fatalf("latency = %d, want %d", out.LatencyMs, types.LatencyUnmeasured)
	}
	if elapsed > time.Second {
		t.Fatalf("dns failure waited %s, retry delay must not be consumed", elapsed)
	}
}

func TestProbeResolverTimeoutIsRetried(t *testing.T) {
	dialer := &net.Dialer{Resolver: &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}}
	p := New(dialer, zerolog.Nop())

	out := p.Probe(context.Background(), "slow-resolver.example", 443, Policy{Timeout: 200 * time.Millisecond, Retries: 3, RetryDelay: 10 * time.Millisecond})
	if out.Reachable {
		t.Fatal("lookup never completes, probe must fail")
	}
	if out.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3 (err: %v)", out.Attempts, out.LastError)
	}
	if out.Failure != types.FailureTimeout {
		t.Fatalf("failure = %q, want timeout (err: %v)", out.Failure, out.LastError)
	}
}

func TestProbeRetriesThenSucceeds(t *testing.T) {
	d := &scriptedDialer{errs: []error{refused(), refused(), nil}}
	p := New(d, zerolog.Nop())

	out := p.Probe(context.Background(), "example.test", 22, Policy{Timeout: time.Second, Retries: 3, RetryDelay: time.Millisecond})
	if !out.Reachable {
		t.Fatalf("expected success on third attempt, got %q", out.Failure)
	}
	if out.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", out.Attempts)
	}
}

func TestProbeNoDelayAfterFinalAttempt(t *testing.T) {
	d := &scriptedDialer{errs: []error{refused()}}
	p := New(d, zerolog.Nop())
	delay := 150 * time.Millisecond

	started := time.Now()
	out := p.Probe(context.Background(), "example.test", 22, Policy{Timeout: time.Second, Retries: 2, RetryDelay: delay})
	elapsed := time.Since(started)

	if out.Failure != types.FailureConnectionRefused {
		t.Fatalf("failure = %q, want connection_refused", out.Failure)
	}
	if d.calls != 2 {
		t.Fatalf("dial calls = %d, want 2", d.calls)
	}
	if elapsed < delay {
		t.Fatalf("expected one retry delay, elapsed %s", elapsed)
	}
	if elapsed >= 2*delay {
		t.Fatalf("slept after the final attempt, elapsed %s", elapsed)
	}
}

func TestProbeTimeoutIsRetried(t *testing.T) {
	p := New(blockingDialer{}, zerolog.Nop())

	out := p.Probe(context.Background(), "example.test", 22, Policy{Timeout: 20 * time.Millisecond, Retries: 2})
	if out.Reachable {
		t.Fatal("blocking dialer cannot succeed")
	}
	if out.Failure != types.FailureTimeout {
		t.Fatalf("failure = %q, want timeout", out.Failure)
	}
	if out.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", out.Attempts)
	}
}

func TestProbeStopsWhenContextEnds(t *testing.T) {
	d := &scriptedDialer{errs: []error{refused()}}
	p := New(d, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	started := time.Now()
	out := p.Probe(ctx, "example.test", 22, Policy{Timeout: time.Second, Retries: 10, RetryDelay: time.Minute})
	if time.Since(started) > 5*time.Second {
		t.Fatal("probe outlived its context")
	}
	if out.Reachable {
		t.Fatal("unexpected success")
	}
	if out.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", out.Attempts)
	}
}

func TestPolicyBudget(t *testing.T) {
	cases := []struct {
		policy Policy
		want   time.Duration
	}{
		{Policy{Timeout: 5 * time.Second, Retries: 3, RetryDelay: 2 * time.Second}, 19 * time.Second},
		{Policy{Timeout: time.Second, Retries: 0}, time.Second},
		{Policy{Retries: 1}, defaultAttemptTimeout},
	}
	for i, c := range cases {
		if got := c.policy.Budget(); got != c.want {
			t.Fatalf("case %d: got %s want %s", i, got, c.want)
		}
	}
}
