package syncctl

import "sync"

// Operation names recorded by the controller. Drops carry the guard that
// rejected them so sync behavior is observable without log spelunking.
const (
	OpFetch       = "fetch"
	OpFetchFailed = "fetch_failed"
	OpPush        = "push"
	OpLogPush     = "log_push"
	OpApply       = "apply"

	DropMountProtection = "drop_mount_protection"
	DropNoInteraction   = "drop_no_interaction"
	DropEchoOrigin      = "drop_echo_origin"
	DropEchoWindow      = "drop_echo_window"
	DropNoChange        = "drop_no_change"
)

// Recorder counts remote-store operations per name. It replaces the
// ad hoc global counters the sync layers used to bump from arbitrary
// call sites: a Recorder is injected into each controller explicitly,
// and read or reset only through its API.
//
// A nil *Recorder is valid and counts nothing, so wiring one up is
// optional everywhere.
type Recorder struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{counts: make(map[string]int)}
}

// Record increments the counter for op.
func (r *Recorder) Record(op string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[op]++
}

// Count returns the current count for op.
func (r *Recorder) Count(op string) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[op]
}

// Snapshot returns a copy of all counters.
func (r *Recorder) Snapshot() map[string]int {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

// Reset zeroes all counters.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = make(map[string]int)
}
