// Package loadtest exercises a sync hub with many concurrent devices to
// validate that broadcast fan-out keeps up with multi-writer traffic.
//
// Each simulated device connects its own websocket client, subscribes to
// a shared document key, and pushes per-date history updates while
// measuring fetch round-trip latency.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"habitd/internal/dates"
	"habitd/internal/remote"
)

// Options configures a hub load test.
type Options struct {
	// Addr is the hub's host:port.
	Addr string

	// Devices is how many concurrent clients to run.
	Devices int

	// WritesPerDevice is how many document updates each client pushes.
	WritesPerDevice int

	// Key is the shared document key. Defaults to "loadtest".
	Key string

	// Logger receives per-device errors. Defaults to a discard logger.
	Logger *log.Logger
}

// LatencyStats captures fetch round-trip metrics across all devices.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration
	P95          time.Duration
	P99          time.Duration
	TotalFetches int
	Writes       int
	Events       int
	Errors       int
}

// Run connects Options.Devices clients and drives them concurrently.
// Every client subscribes to the shared key, so each write fans out to
// every device; the returned stats count both fetch latencies and
// delivered events.
func Run(ctx context.Context, opts Options) (*LatencyStats, error) {
	if opts.Devices <= 0 || opts.WritesPerDevice <= 0 {
		return nil, fmt.Errorf("devices and writes per device must be positive")
	}
	if opts.Key == "" {
		opts.Key = "loadtest"
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		durations []time.Duration
		writes    int
		events    int
		errCount  int
	)

	for i := 0; i < opts.Devices; i++ {
		wg.Add(1)
		go func(deviceID int) {
			defer wg.Done()

			client, err := remote.Dial(ctx, opts.Addr, opts.Logger)
			if err != nil {
				opts.Logger.Printf("Device %d failed to connect: %v", deviceID, err)
				mu.Lock()
				errCount++
				mu.Unlock()
				return
			}
			defer client.Close()

			cancel, err := client.SubscribeGlobalData(opts.Key, func(remote.Document) {
				mu.Lock()
				events++
				mu.Unlock()
			})
			if err != nil {
				opts.Logger.Printf("Device %d failed to subscribe: %v", deviceID, err)
				mu.Lock()
				errCount++
				mu.Unlock()
				return
			}
			defer cancel()

			today := dates.Today()
			for j := 0; j < opts.WritesPerDevice; j++ {
				client.UpdateGlobalData(opts.Key, remote.Document{
					fmt.Sprintf("device-%d", deviceID): map[string]any{
						"seq":  j,
						"date": today,
					},
				})
				mu.Lock()
				writes++
				mu.Unlock()

				start := time.Now()
				if _, err := client.GetGlobalData(ctx, opts.Key); err != nil {
					if ctx.Err() != nil {
						return
					}
					opts.Logger.Printf("Device %d fetch %d failed: %v", deviceID, j, err)
					mu.Lock()
					errCount++
					mu.Unlock()
					return
				}
				elapsed := time.Since(start)

				mu.Lock()
				durations = append(durations, elapsed)
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()

	if len(durations) == 0 {
		return nil, fmt.Errorf("no successful fetches completed (%d errors)", errCount)
	}

	stats := computeLatencyStats(durations)
	stats.Writes = writes
	stats.Events = events
	stats.Errors = errCount
	return stats, nil
}

// computeLatencyStats calculates percentiles from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(sorted)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalFetches: len(sorted),
	}
}

// Print formats the stats for CLI output.
func (s *LatencyStats) Print(w io.Writer) {
	fmt.Fprintf(w, "Fetch latency:\n")
	fmt.Fprintf(w, "  Total fetches: %d\n", s.TotalFetches)
	fmt.Fprintf(w, "  Writes:        %d\n", s.Writes)
	fmt.Fprintf(w, "  Events seen:   %d\n", s.Events)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
