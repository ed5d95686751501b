package webui

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestLogBufferDecodesZerolog(t *testing.T) {
	lb := NewLogBuffer(10)
	logger := zerolog.New(lb).With().Timestamp().Str("component", "scheduler").Logger()

	logger.Warn().Uint("endpoint_id", 7).Msg("Endpoint unreachable")

	entries := lb.GetEntries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	e := entries[0]
	if e.Level != "warn" || e.Message != "Endpoint unreachable" || e.Component != "scheduler" {
		t.Errorf("entry = %+v", e)
	}
	if e.Fields["endpoint_id"] != float64(7) {
		t.Errorf("fields = %v", e.Fields)
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestLogBufferWrapsAround(t *testing.T) {
	lb := NewLogBuffer(3)
	logger := zerolog.New(lb)
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		logger.Info().Msg(msg)
	}

	entries := lb.GetEntries()
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	for i, want := range []string{"c", "d", "e"} {
		if entries[i].Message != want {
			t.Errorf("entries[%d] = %q, want %q", i, entries[i].Message, want)
		}
	}

	lb.Clear()
	if len(lb.GetEntries()) != 0 {
		t.Error("buffer should be empty after Clear")
	}
}

func TestGetRecentEntriesFiltersLevel(t *testing.T) {
	lb := NewLogBuffer(10)
	logger := zerolog.New(lb)
	logger.Debug().Msg("noise")
	logger.Info().Msg("cycle")
	logger.Error().Msg("ledger")
	logger.Warn().Msg("slow")

	if got := lb.GetRecentEntries(10, "warn"); len(got) != 2 || got[0].Message != "ledger" {
		t.Errorf("warn+ = %+v", got)
	}
	if got := lb.GetRecentEntries(1, ""); len(got) != 1 || got[0].Message != "slow" {
		t.Errorf("last = %+v", got)
	}
}

func TestLogBufferKeepsPlainLines(t *testing.T) {
	lb := NewLogBuffer(2)
	lb.Write([]byte("not json\n"))
	if e := lb.GetEntries()[0]; e.Message != "not json" || e.Level != "info" {
		t.Errorf("entry = %+v", e)
	}
}
