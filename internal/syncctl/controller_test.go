package syncctl

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"habitd/internal/remote"
)

// fakeClock is a manually advanced clock shared by a test and its
// controller.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 3, 9, 0, 0, 0, time.Local)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

// harness bundles a controller wired to a memory store with a trivial
// single-document domain.
type harness struct {
	ctl      *Controller
	store    *remote.Memory
	clock    *fakeClock
	recorder *Recorder

	mu      sync.Mutex
	state   remote.Document
	applied int
}

func newHarness(t *testing.T, mutate func(cfg *Config)) *harness {
	t.Helper()

	h := &harness{
		store:    remote.NewMemory(),
		clock:    newFakeClock(),
		recorder: NewRecorder(),
		state:    remote.Document{},
	}

	cfg := Config{
		Key:    "personal_goals",
		Store:  h.store,
		Device: "device-a",
		Snapshot: func() remote.Document {
			h.mu.Lock()
			defer h.mu.Unlock()
			return remote.CloneDocument(h.state)
		},
		Apply: func(doc remote.Document) bool {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.applied++
			changed := false
			for k, v := range doc {
				h.state[k] = v
				changed = true
			}
			return changed
		},
		Summary: func() (string, remote.Document) {
			return "goals", remote.Document{"synced": true}
		},
		Recorder: h.recorder,
		Logger:   log.New(io.Discard, "", 0),
		Clock:    h.clock.Now,
		Debounce: 10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	ctl, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.ctl = ctl
	t.Cleanup(ctl.Stop)
	return h
}

func (h *harness) applyCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.applied
}

func (h *harness) setLocal(k string, v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state[k] = v
}

func TestStartMergesRemoteSnapshotUnconditionally(t *testing.T) {
	h := newHarness(t, nil)
	h.store.Seed("personal_goals", remote.Document{"title": "remote"})

	// Still inside the mount-protection window: the one-shot pull is the
	// exception and must apply anyway.
	if err := h.ctl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if h.applyCount() != 1 {
		t.Errorf("apply count = %d, want 1", h.applyCount())
	}
	if h.recorder.Count(OpFetch) != 1 {
		t.Errorf("fetch count = %d, want 1", h.recorder.Count(OpFetch))
	}
}

func TestStartSurvivesUnavailableRemote(t *testing.T) {
	h := newHarness(t, nil)
	h.store.FailFetches = true

	if err := h.ctl.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error for unavailable remote: %v", err)
	}
	if h.recorder.Count(OpFetchFailed) != 1 {
		t.Errorf("fetch_failed count = %d, want 1", h.recorder.Count(OpFetchFailed))
	}
}

func TestFlushBlockedByMountProtection(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.ctl.MarkInteraction()
	h.ctl.Flush()

	if doc := h.store.Doc("personal_goals"); doc != nil {
		t.Errorf("write escaped mount protection: %v", doc)
	}
	if h.recorder.Count(DropMountProtection) != 1 {
		t.Errorf("drop_mount_protection = %d, want 1", h.recorder.Count(DropMountProtection))
	}
}

func TestFlushBlockedWithoutInteraction(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(MountProtectionWindow + time.Second)

	// The state changed but not through a user action (e.g. it came from
	// a merge); the push must not happen.
	h.setLocal("title", "merged")
	h.ctl.Flush()

	if doc := h.store.Doc("personal_goals"); doc != nil {
		t.Errorf("non-interactive state change was pushed: %v", doc)
	}
	if h.recorder.Count(DropNoInteraction) != 1 {
		t.Errorf("drop_no_interaction = %d, want 1", h.recorder.Count(DropNoInteraction))
	}
}

func TestFlushPushesDocumentAndSummary(t *testing.T) {
	h := newHarness(t, nil)
	h.store.Today = "2025-06-03"
	if err := h.ctl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(MountProtectionWindow + time.Second)

	h.setLocal("title", "local edit")
	h.ctl.MarkInteraction()
	h.ctl.Flush()

	doc := h.store.Doc("personal_goals")
	if doc == nil || doc["title"] != "local edit" {
		t.Fatalf("pushed doc = %v", doc)
	}
	origin, ok := doc[OriginField].(map[string]any)
	if !ok || origin["device"] != "device-a" || origin["seq"] != float64(1) {
		t.Errorf("origin tag = %v", doc[OriginField])
	}

	rec := h.store.Log("2025-06-03")
	if rec == nil {
		t.Fatalf("no daily summary pushed")
	}
	goals, _ := rec["goals"].(map[string]any)
	if goals["synced"] != true {
		t.Errorf("summary payload = %v", rec)
	}
}

func TestInboundIgnoredDuringMountProtection(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := h.applyCount()

	// Another device writes while we are inside the window.
	h.store.UpdateGlobalData("personal_goals", remote.Document{
		"title":     "other device",
		OriginField: Origin{Device: "device-b", Seq: 9},
	})

	if h.applyCount() != before {
		t.Errorf("inbound update applied during mount protection")
	}
	if h.recorder.Count(DropMountProtection) != 1 {
		t.Errorf("drop_mount_protection = %d, want 1", h.recorder.Count(DropMountProtection))
	}
}

func TestInboundSuppressedInsideEchoWindow(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(MountProtectionWindow + time.Second)

	h.ctl.MarkInteraction()
	h.clock.Advance(time.Second) // still inside the 2s echo window

	before := h.applyCount()
	h.store.UpdateGlobalData("personal_goals", remote.Document{
		"title":     "other device",
		OriginField: Origin{Device: "device-b", Seq: 1},
	})
	if h.applyCount() != before {
		t.Errorf("inbound update applied inside echo window")
	}

	h.clock.Advance(2 * time.Second) // now past the window
	h.store.UpdateGlobalData("personal_goals", remote.Document{
		"title":     "other device again",
		OriginField: Origin{Device: "device-b", Seq: 2},
	})
	if h.applyCount() != before+1 {
		t.Errorf("inbound update not applied after echo window")
	}
}

func TestOwnEchoDroppedByOriginTag(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(MountProtectionWindow + time.Second)

	h.setLocal("title", "mine")
	h.ctl.MarkInteraction()

	// Move past the echo window so only the origin tag can save us from
	// the store echoing our own write back.
	h.clock.Advance(EchoSuppressionWindow + time.Second)

	before := h.applyCount()
	h.ctl.Flush() // memory store echoes synchronously

	if h.applyCount() != before {
		t.Errorf("own echo was applied")
	}
	if h.recorder.Count(DropEchoOrigin) != 1 {
		t.Errorf("drop_echo_origin = %d, want 1", h.recorder.Count(DropEchoOrigin))
	}
}

func TestNewerWriteFromSameDeviceIDApplies(t *testing.T) {
	// A peer reusing our device id with a higher sequence (a reinstalled
	// device) must not be mistaken for an echo.
	h := newHarness(t, nil)
	if err := h.ctl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(MountProtectionWindow + time.Second)

	before := h.applyCount()
	h.store.UpdateGlobalData("personal_goals", remote.Document{
		"title":     "newer",
		OriginField: Origin{Device: "device-a", Seq: 42},
	})
	if h.applyCount() != before+1 {
		t.Errorf("newer same-device write was dropped")
	}
}

func TestDebounceCoalescesRapidEdits(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(MountProtectionWindow + time.Second)
	h.ctl.MarkInteraction()

	for i := 0; i < 5; i++ {
		h.setLocal("title", "edit")
		h.ctl.NotifyChange()
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.recorder.Count(OpPush) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("debounced push never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond) // any stray pushes would land here

	if got := h.recorder.Count(OpPush); got != 1 {
		t.Errorf("push count = %d, want 1 coalesced push", got)
	}
}

func TestStopCancelsPendingWrite(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(MountProtectionWindow + time.Second)
	h.ctl.MarkInteraction()

	h.ctl.NotifyChange()
	h.ctl.Stop()

	time.Sleep(50 * time.Millisecond)
	if h.recorder.Count(OpPush) != 0 {
		t.Errorf("write fired after Stop")
	}

	// And inbound updates are ignored after teardown too.
	before := h.applyCount()
	h.store.UpdateGlobalData("personal_goals", remote.Document{
		OriginField: Origin{Device: "device-b", Seq: 1},
		"title":     "late",
	})
	if h.applyCount() != before {
		t.Errorf("inbound update applied after Stop")
	}
}

func TestStopWaitsForInFlightPush(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(cfg *Config) {
		inner := cfg.Snapshot
		cfg.Snapshot = func() remote.Document {
			<-release
			return inner()
		}
	})
	if err := h.ctl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(MountProtectionWindow + time.Second)
	h.ctl.MarkInteraction()

	go h.ctl.Flush()
	time.Sleep(20 * time.Millisecond) // let Flush pass the guards and block in Snapshot

	stopped := make(chan struct{})
	go func() {
		h.ctl.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a push was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-stopped
	if h.store.Doc("personal_goals") == nil {
		t.Errorf("in-flight push was lost")
	}
}

func TestSyncNowBypassesGuards(t *testing.T) {
	h := newHarness(t, nil)
	h.store.Seed("personal_goals", remote.Document{"remote_only": "x"})
	if err := h.ctl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Immediately after start, still inside mount protection.
	h.setLocal("title", "local")
	if err := h.ctl.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}

	doc := h.store.Doc("personal_goals")
	if doc == nil || doc["title"] != "local" {
		t.Errorf("SyncNow did not push: %v", doc)
	}
	h.mu.Lock()
	merged := h.state["remote_only"]
	h.mu.Unlock()
	if merged != "x" {
		t.Errorf("SyncNow did not merge remote state first")
	}
}

func TestUnchangedApplyRecordedAsNoop(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Apply = func(remote.Document) bool { return false }
	})
	if err := h.ctl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(MountProtectionWindow + time.Second)

	h.store.UpdateGlobalData("personal_goals", remote.Document{
		"title":     "same as local",
		OriginField: Origin{Device: "device-b", Seq: 1},
	})
	if h.recorder.Count(DropNoChange) != 1 {
		t.Errorf("drop_no_change = %d, want 1", h.recorder.Count(DropNoChange))
	}
}

func TestNewRejectsMisuse(t *testing.T) {
	if _, err := New(Config{Store: remote.NewMemory(), Key: "personal_goals", Device: "device-a"}); err == nil {
		t.Errorf("New accepted a keyed document without Snapshot/Apply")
	}
	if _, err := New(Config{
		Store:    remote.NewMemory(),
		Key:      "personal_goals",
		Snapshot: func() remote.Document { return nil },
		Apply:    func(remote.Document) bool { return false },
	}); err == nil {
		t.Errorf("New accepted a store without a device identity")
	}
}

func TestNewAcceptsSummaryOnlyConfig(t *testing.T) {
	// An empty Key means no document of its own: only the summary log
	// push. Snapshot and Apply are not required in this mode.
	ctl, err := New(Config{
		Store:   remote.NewMemory(),
		Device:  "device-a",
		Summary: func() (string, remote.Document) { return "protocol", remote.Document{"completed": 0} },
	})
	if err != nil {
		t.Fatalf("New rejected a summary-only config: %v", err)
	}
	if err := ctl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctl.Stop()
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.ctl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.ctl.Start(context.Background()); err == nil {
		t.Errorf("second Start succeeded")
	}
}
