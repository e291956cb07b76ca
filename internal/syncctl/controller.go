// Package syncctl implements the reconciliation controller every habitd
// sync domain runs between its local state and the remote document store.
//
// The remote store echoes every write back to all subscribers, including
// the writer, and gives no ordering guarantees beyond eventual
// consistency. The controller's job is to keep a device from fighting
// itself or its peers:
//
//   - Mount protection: for a fixed window after initialization, neither
//     outbound pushes nor inbound updates are honored. A freshly started
//     device holds only defaults; pushing them would clobber good remote
//     data, and applying inbound state before the one-shot fetch has
//     landed would race it.
//   - Interaction gating: a push only ever happens after a user-driven
//     mutation. State changes caused by merging remote data never
//     trigger a push of their own, which is what breaks update loops.
//   - Echo suppression: every outbound write is tagged with the device
//     id and a sequence number. Inbound updates carrying this device's
//     tag with a non-newer sequence are echoes of our own writes and are
//     dropped outright. The time-window heuristic is kept as a second
//     line of defense for stores that strip unknown fields.
//
// One controller instance serves one sync domain. The domain supplies a
// Snapshot of its state as a document, an Apply that merges a remote
// document in, and optionally a Summary pushed to the per-day log.
package syncctl

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"habitd/internal/remote"
)

// Guard window defaults, overridable per Config for tests.
const (
	// MountProtectionWindow suppresses all sync for this long after the
	// controller starts.
	MountProtectionWindow = 3 * time.Second

	// EchoSuppressionWindow drops inbound updates arriving this soon
	// after a local interaction.
	EchoSuppressionWindow = 2 * time.Second

	// WriteDebounce coalesces rapid local mutations into one push.
	WriteDebounce = 800 * time.Millisecond
)

// OriginField is the document key carrying the outbound write tag.
const OriginField = "_origin"

// Origin identifies which device produced a write, and in what order.
type Origin struct {
	Device string `json:"device"`
	Seq    int64  `json:"seq"`
}

// Config wires a controller to its domain.
type Config struct {
	// Key is the remote document key for this domain. Empty means the
	// domain has no remote document of its own: no fetch, no
	// subscription, no document push — only the Summary log push, if
	// any. The protocol domain runs in this mode.
	Key string

	// Store is the remote store. Nil disables sync entirely; every
	// controller method becomes a cheap no-op and the domain runs off
	// local state alone.
	Store remote.Store

	// Device is this device's identity, stamped into outbound writes.
	Device string

	// Snapshot returns the domain's current state as a document.
	Snapshot func() remote.Document

	// Apply merges a remote document into the domain's state and
	// reports whether anything actually changed. Implementations decide
	// shallow vs. deep merge per field and must not schedule pushes.
	Apply func(doc remote.Document) bool

	// Summary returns the per-day log category and payload pushed
	// alongside each document push. Nil, or a nil payload, skips it.
	Summary func() (category string, data remote.Document)

	// Recorder observes remote operations. Optional.
	Recorder *Recorder

	// Logger defaults to a stderr logger.
	Logger *log.Logger

	// Clock defaults to time.Now. Injected by tests.
	Clock func() time.Time

	// Window overrides; zero values take the package defaults.
	MountProtection time.Duration
	EchoSuppression time.Duration
	Debounce        time.Duration
}

// Controller runs the reconciliation protocol for one sync domain.
type Controller struct {
	cfg Config

	mu              sync.Mutex
	mountedAt       time.Time
	lastInteraction time.Time // zero = never
	seq             int64     // last sequence pushed by this device
	timer           *time.Timer
	unsubscribe     func()
	started         bool
	stopped         bool

	// inflight tracks pushes and merges that passed the stopped check
	// but run outside mu; Stop waits for them.
	inflight sync.WaitGroup
}

// New validates the config and creates a controller. Start must be
// called before the controller does anything.
func New(cfg Config) (*Controller, error) {
	if cfg.Store != nil {
		// Snapshot and Apply only matter for the keyed document paths;
		// a summary-only domain (empty Key) never fetches or pushes one.
		if cfg.Key != "" && (cfg.Snapshot == nil || cfg.Apply == nil) {
			return nil, fmt.Errorf("syncctl: Snapshot and Apply are required for document key %q", cfg.Key)
		}
		if cfg.Device == "" {
			return nil, fmt.Errorf("syncctl: Device is required when a store is configured")
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[syncctl] ", log.LstdFlags)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MountProtection == 0 {
		cfg.MountProtection = MountProtectionWindow
	}
	if cfg.EchoSuppression == 0 {
		cfg.EchoSuppression = EchoSuppressionWindow
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = WriteDebounce
	}
	return &Controller{cfg: cfg}, nil
}

// Start captures the mount timestamp, performs the one-shot remote fetch
// and merge, and opens the live subscription.
//
// The one-shot merge is unconditional: it is the pull that populates a
// fresh device, so neither mount protection nor echo suppression applies
// to it. Fetch and subscribe failures degrade to local-only operation and
// are logged, never returned — the startup sequence itself only fails on
// misuse.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("syncctl: controller started twice")
	}
	c.started = true
	c.mountedAt = c.cfg.Clock()
	c.mu.Unlock()

	if c.cfg.Store == nil || c.cfg.Key == "" {
		return nil
	}

	doc, err := c.cfg.Store.GetGlobalData(ctx, c.cfg.Key)
	if err != nil {
		c.cfg.Recorder.Record(OpFetchFailed)
		c.cfg.Logger.Printf("Initial fetch for %q failed, continuing on local state: %v", c.cfg.Key, err)
	} else {
		c.cfg.Recorder.Record(OpFetch)
		if doc != nil {
			c.absorbRemoteSeq(doc)
			delete(doc, OriginField)
			if c.cfg.Apply(doc) {
				c.cfg.Recorder.Record(OpApply)
			}
		}
	}

	unsub, err := c.cfg.Store.SubscribeGlobalData(c.cfg.Key, c.onRemoteUpdate)
	if err != nil {
		c.cfg.Logger.Printf("Subscription for %q failed, continuing on local state: %v", c.cfg.Key, err)
		return nil
	}
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		unsub()
		return nil
	}
	c.unsubscribe = unsub
	c.mu.Unlock()
	return nil
}

// MarkInteraction records a user-initiated mutation. Only marked
// interactions arm the outbound path.
func (c *Controller) MarkInteraction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastInteraction = c.cfg.Clock()
}

// NotifyChange schedules a debounced push. Repeated calls within the
// debounce window collapse into a single push carrying the latest state.
func (c *Controller) NotifyChange() {
	if c.cfg.Store == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.cfg.Debounce, c.Flush)
}

// Flush runs the outbound guards and, if they pass, pushes the domain's
// full document and its daily summary. It is called by the debounce
// timer and directly by shutdown paths that want to drain a pending
// write.
func (c *Controller) Flush() {
	if c.cfg.Store == nil {
		return
	}

	now := c.cfg.Clock()
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if now.Sub(c.mountedAt) < c.cfg.MountProtection {
		c.mu.Unlock()
		c.cfg.Recorder.Record(DropMountProtection)
		return
	}
	if c.lastInteraction.IsZero() {
		c.mu.Unlock()
		c.cfg.Recorder.Record(DropNoInteraction)
		return
	}
	c.seq++
	seq := c.seq
	c.inflight.Add(1)
	c.mu.Unlock()

	defer c.inflight.Done()
	c.push(seq)
}

// push writes the current snapshot (document mode) and summary.
func (c *Controller) push(seq int64) {
	if c.cfg.Key != "" {
		doc := c.cfg.Snapshot()
		doc[OriginField] = Origin{Device: c.cfg.Device, Seq: seq}
		c.cfg.Store.UpdateGlobalData(c.cfg.Key, doc)
		c.cfg.Recorder.Record(OpPush)
	}
	if c.cfg.Summary != nil {
		if category, data := c.cfg.Summary(); data != nil {
			c.cfg.Store.UpdateTodayLog(category, data)
			c.cfg.Recorder.Record(OpLogPush)
		}
	}
}

// SyncNow is the explicit one-shot path behind the `sync` command: pull
// and merge the remote document, then push the merged state, bypassing
// the debounce and the window guards. It is user-initiated by
// definition, so it also counts as an interaction.
func (c *Controller) SyncNow(ctx context.Context) error {
	if c.cfg.Store == nil {
		return fmt.Errorf("no remote store configured")
	}

	if c.cfg.Key != "" {
		doc, err := c.cfg.Store.GetGlobalData(ctx, c.cfg.Key)
		if err != nil {
			return fmt.Errorf("fetch %q: %w", c.cfg.Key, err)
		}
		c.cfg.Recorder.Record(OpFetch)
		if doc != nil {
			c.absorbRemoteSeq(doc)
			delete(doc, OriginField)
			if c.cfg.Apply(doc) {
				c.cfg.Recorder.Record(OpApply)
			}
		}
	}

	c.MarkInteraction()
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("controller is stopped")
	}
	c.seq++
	seq := c.seq
	c.inflight.Add(1)
	c.mu.Unlock()

	defer c.inflight.Done()
	c.push(seq)
	return nil
}

// onRemoteUpdate is the inbound subscription path.
func (c *Controller) onRemoteUpdate(doc remote.Document) {
	now := c.cfg.Clock()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if origin, ok := parseOrigin(doc[OriginField]); ok {
		if origin.Device == c.cfg.Device && origin.Seq <= c.seq {
			c.mu.Unlock()
			c.cfg.Recorder.Record(DropEchoOrigin)
			return
		}
	}
	if now.Sub(c.mountedAt) < c.cfg.MountProtection {
		c.mu.Unlock()
		c.cfg.Recorder.Record(DropMountProtection)
		return
	}
	if !c.lastInteraction.IsZero() && now.Sub(c.lastInteraction) < c.cfg.EchoSuppression {
		c.mu.Unlock()
		c.cfg.Recorder.Record(DropEchoWindow)
		return
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	defer c.inflight.Done()
	delete(doc, OriginField)
	if c.cfg.Apply(doc) {
		c.cfg.Recorder.Record(OpApply)
	} else {
		c.cfg.Recorder.Record(DropNoChange)
	}
}

// absorbRemoteSeq advances our sequence past one already present in the
// remote document with our device id, so a restarted device never reuses
// sequence numbers its peers have already seen.
func (c *Controller) absorbRemoteSeq(doc remote.Document) {
	origin, ok := parseOrigin(doc[OriginField])
	if !ok || origin.Device != c.cfg.Device {
		return
	}
	c.mu.Lock()
	if origin.Seq > c.seq {
		c.seq = origin.Seq
	}
	c.mu.Unlock()
}

// Stop cancels the pending debounced write and the subscription, and
// waits for any in-flight push or merge to finish. No write or merge
// happens after Stop returns.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	c.inflight.Wait()
}

// parseOrigin reads an origin tag from a decoded document, where it may
// appear as the typed struct (in-process store) or as a generic JSON
// object (wire store).
func parseOrigin(v any) (Origin, bool) {
	switch o := v.(type) {
	case Origin:
		return o, true
	case map[string]any:
		device, _ := o["device"].(string)
		var seq int64
		switch n := o["seq"].(type) {
		case float64:
			seq = int64(n)
		case int64:
			seq = n
		case int:
			seq = int64(n)
		}
		if device == "" {
			return Origin{}, false
		}
		return Origin{Device: device, Seq: seq}, true
	default:
		return Origin{}, false
	}
}
