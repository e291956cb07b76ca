package daemon

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"habitd/internal/goals"
	"habitd/internal/remote"
	"habitd/internal/store"
	"habitd/internal/syncctl"
)

func TestNewRequiresStorePath(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Errorf("empty store path accepted")
	}
}

// A write from a second process (second store handle here) must reach
// the daemon's domain services and come out as a remote push.
func TestCrossProcessWriteTriggersReloadAndPush(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "habitd.db")
	logger := log.New(io.Discard, "", 0)

	st, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	rem := remote.NewMemory()
	rec := syncctl.NewRecorder()
	svc, err := goals.New(goals.Config{
		Store:           st,
		Remote:          rem,
		Device:          "daemon-device",
		Recorder:        rec,
		Logger:          logger,
		MountProtection: time.Nanosecond,
		Debounce:        5 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	d, err := New(Options{
		StorePath:        path,
		Goals:            svc,
		DebounceInterval: 10 * time.Millisecond,
		Logger:           logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// Give the watcher a moment to attach before writing.
	time.Sleep(50 * time.Millisecond)

	// Simulate a CLI process: a separate store handle toggles a date.
	cli, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	other, err := goals.New(goals.Config{Store: cli, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := other.ToggleDate(goals.BuiltinExercise, "2025-06-03"); err != nil {
		t.Fatal(err)
	}
	other.Stop()
	cli.Close()

	deadline := time.Now().Add(5 * time.Second)
	for rec.Count(syncctl.OpPush) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("daemon never pushed the cross-process write")
		}
		time.Sleep(10 * time.Millisecond)
	}

	doc := rem.Doc(goals.RemoteKey)
	hist, _ := doc["history"].(map[string]any)
	if hist == nil {
		t.Fatalf("pushed doc missing history: %v", doc)
	}
	ex, _ := hist[goals.BuiltinExercise].(map[string]any)
	if ex == nil || ex["2025-06-03"] != true {
		t.Errorf("pushed history = %v", hist)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop")
	}
}
