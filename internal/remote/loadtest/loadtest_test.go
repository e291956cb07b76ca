package loadtest

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"habitd/internal/remote/hub"
)

func startTestHub(t *testing.T) *hub.Server {
	t.Helper()

	srv, err := hub.NewServer(hub.Config{
		Addr:   "127.0.0.1:0",
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func TestRunAgainstHub(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}
	srv := startTestHub(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := Run(ctx, Options{
		Addr:            srv.Addr(),
		Devices:         4,
		WritesPerDevice: 5,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.Errors != 0 {
		t.Errorf("Errors = %d", stats.Errors)
	}
	if want := 4 * 5; stats.TotalFetches != want {
		t.Errorf("TotalFetches = %d, want %d", stats.TotalFetches, want)
	}
	if stats.Writes != 20 {
		t.Errorf("Writes = %d, want 20", stats.Writes)
	}
	// Every write fans out to every connected, subscribed device. Late
	// joiners miss early writes, so only a lower bound holds.
	if stats.Events < stats.Writes {
		t.Errorf("Events = %d, want at least %d", stats.Events, stats.Writes)
	}
	if stats.Min > stats.P50 || stats.P50 > stats.Max {
		t.Errorf("percentiles out of order: min=%v p50=%v max=%v", stats.Min, stats.P50, stats.Max)
	}
}

func TestRunRejectsBadOptions(t *testing.T) {
	if _, err := Run(context.Background(), Options{Addr: "127.0.0.1:1"}); err == nil {
		t.Errorf("zero devices accepted")
	}
}

func TestPrint(t *testing.T) {
	stats := &LatencyStats{
		Min: time.Millisecond, Max: 3 * time.Millisecond,
		Mean: 2 * time.Millisecond, P50: 2 * time.Millisecond,
		P95: 3 * time.Millisecond, P99: 3 * time.Millisecond,
		TotalFetches: 10, Writes: 10, Events: 40,
	}
	var sb strings.Builder
	stats.Print(&sb)
	if !strings.Contains(sb.String(), "Total fetches: 10") {
		t.Errorf("Print output:\n%s", sb.String())
	}
}
