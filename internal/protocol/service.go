package protocol

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"habitd/internal/dates"
	"habitd/internal/history"
	"habitd/internal/remote"
	"habitd/internal/store"
	"habitd/internal/syncctl"
)

// SummaryCategory is the daily-log category this domain writes. The
// protocol keeps no remote document of its own; the log record is its
// only remote footprint.
const SummaryCategory = "protocol"

// stateSlice is the locally persisted shape of the live protocol state.
// Task completion is not here: it lives in the per-task history, and
// "done today" is derived from it.
type stateSlice struct {
	// ActivePhase is the phase currently being worked, or "" once every
	// phase has been completed and advanced past.
	ActivePhase string `json:"activePhase"`

	// LastActiveDate is the local date the protocol last ran on. A
	// mismatch with today at load time means the day rolled over while
	// the process was down.
	LastActiveDate string `json:"lastActiveDate"`
}

// Status describes one phase as of today.
type Status struct {
	Phase     Phase
	State     PhaseStatus
	Completed int
	Total     int
}

// Config wires a protocol service.
type Config struct {
	// Store is the local persistent store. Required.
	Store *store.Store

	// Phases overrides the built-in phase chain. Order matters.
	Phases []Phase

	// Remote enables the daily summary push when non-nil. The protocol
	// domain never fetches or subscribes.
	Remote remote.Store

	// Device identifies this device in outbound writes.
	Device string

	// Recorder observes remote operations. Optional.
	Recorder *syncctl.Recorder

	Logger *log.Logger
	Clock  func() time.Time

	// Controller window overrides for tests; zero takes defaults.
	MountProtection time.Duration
	EchoSuppression time.Duration
	Debounce        time.Duration
}

// Service owns the protocol slice of state. Safe for concurrent use.
type Service struct {
	phases []Phase

	mu        sync.Mutex
	state     stateSlice
	histories map[string]history.Map // keyed by TaskKey

	st     *store.Store
	ctl    *syncctl.Controller
	logger *log.Logger
	clock  func() time.Time
}

// New loads the domain from the local store, applies the day-rollover
// check, and prepares its controller.
func New(cfg Config) (*Service, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[protocol] ", log.LstdFlags)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	phases := cfg.Phases
	if phases == nil {
		phases = DefaultPhases()
	}
	if err := ValidatePhases(phases); err != nil {
		return nil, err
	}

	s := &Service{
		phases: phases,
		st:     cfg.Store,
		logger: cfg.Logger,
		clock:  cfg.Clock,
	}
	s.loadLocked()
	s.rolloverLocked()

	ctl, err := syncctl.New(syncctl.Config{
		Store:           cfg.Remote,
		Device:          cfg.Device,
		Summary:         s.summary,
		Recorder:        cfg.Recorder,
		Logger:          cfg.Logger,
		Clock:           cfg.Clock,
		MountProtection: cfg.MountProtection,
		EchoSuppression: cfg.EchoSuppression,
		Debounce:        cfg.Debounce,
	})
	if err != nil {
		return nil, err
	}
	s.ctl = ctl
	return s, nil
}

// loadLocked populates state from the local store. Callers hold s.mu or
// have exclusive access.
func (s *Service) loadLocked() {
	s.state = stateSlice{}
	s.st.Load(store.KeyProtocolState, &s.state)
	if s.state.ActivePhase == "" && s.state.LastActiveDate == "" {
		// First run. "" is a meaningful ActivePhase value after the last
		// phase, so only default it when the whole slice is absent.
		s.state.ActivePhase = s.phases[0].ID
	}

	s.histories = make(map[string]history.Map)
	s.st.Load(store.KeyProtocolTasks, &s.histories)
	for key, h := range s.histories {
		if h == nil {
			s.histories[key] = history.Map{}
		}
	}
}

// rolloverLocked resets the active phase when the local date has moved
// past the last recorded active date. Task records are untouched; a new
// day simply has no entries yet, so every task reads as pending.
func (s *Service) rolloverLocked() {
	today := dates.Key(s.clock())
	if s.state.LastActiveDate == today {
		return
	}
	if s.state.LastActiveDate != "" {
		s.logger.Printf("Day rolled over (%s -> %s), resetting active phase", s.state.LastActiveDate, today)
	}
	s.state.ActivePhase = s.phases[0].ID
	s.state.LastActiveDate = today
	s.persist()
}

// Start begins the controller's summary push path.
func (s *Service) Start(ctx context.Context) error {
	return s.ctl.Start(ctx)
}

// Stop tears down the controller. Pending debounced writes are cancelled.
func (s *Service) Stop() {
	s.ctl.Stop()
}

// Controller exposes the domain's controller for explicit sync paths.
func (s *Service) Controller() *syncctl.Controller {
	return s.ctl
}

// Phases returns the phase chain in unlock order.
func (s *Service) Phases() []Phase {
	return s.phases
}

// phaseIndex returns the phase's position in the chain, or -1.
func (s *Service) phaseIndex(id string) int {
	for i, p := range s.phases {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// TaskDone reports whether the task is recorded done for today.
func (s *Service) TaskDone(phaseID, taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taskDoneLocked(phaseID, taskID, dates.Key(s.clock()))
}

func (s *Service) taskDoneLocked(phaseID, taskID, date string) bool {
	return s.histories[TaskKey(phaseID, taskID)][date]
}

// phaseCompleteLocked reports whether every task in the phase is done
// on the given date.
func (s *Service) phaseCompleteLocked(p Phase, date string) bool {
	for _, tk := range p.Tasks {
		if !s.taskDoneLocked(p.ID, tk.ID, date) {
			return false
		}
	}
	return true
}

// PhaseState derives a phase's status for today. The first phase is
// never locked; every later phase is locked until its predecessor is
// complete.
func (s *Service) PhaseState(phaseID string) (PhaseStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.phaseIndex(phaseID)
	if idx < 0 {
		return Locked, fmt.Errorf("unknown phase %q", phaseID)
	}
	return s.phaseStateLocked(idx, dates.Key(s.clock())), nil
}

func (s *Service) phaseStateLocked(idx int, date string) PhaseStatus {
	if idx > 0 && !s.phaseCompleteLocked(s.phases[idx-1], date) {
		return Locked
	}
	if s.phaseCompleteLocked(s.phases[idx], date) {
		return Complete
	}
	return InProgress
}

// CurrentStatus returns every phase's derived status for today, in
// unlock order, plus the active phase id.
func (s *Service) CurrentStatus() (active string, statuses []Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkRolloverLocked()
	date := dates.Key(s.clock())
	statuses = make([]Status, len(s.phases))
	for i, p := range s.phases {
		done := 0
		for _, tk := range p.Tasks {
			if s.taskDoneLocked(p.ID, tk.ID, date) {
				done++
			}
		}
		statuses[i] = Status{
			Phase:     p,
			State:     s.phaseStateLocked(i, date),
			Completed: done,
			Total:     len(p.Tasks),
		}
	}
	return s.state.ActivePhase, statuses
}

// checkRolloverLocked applies the day-boundary reset on long-running
// processes. Every mutating and status path goes through it.
func (s *Service) checkRolloverLocked() {
	s.rolloverLocked()
}

// ToggleTask flips a task between pending and done for today. Absent
// and explicitly-false records both read as pending, so the first
// toggle of a day always marks the task done.
func (s *Service) ToggleTask(phaseID, taskID string) (done bool, err error) {
	s.mu.Lock()
	idx := s.phaseIndex(phaseID)
	if idx < 0 {
		s.mu.Unlock()
		return false, fmt.Errorf("unknown phase %q", phaseID)
	}
	found := false
	for _, tk := range s.phases[idx].Tasks {
		if tk.ID == taskID {
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return false, fmt.Errorf("unknown task %q in phase %q", taskID, phaseID)
	}

	s.checkRolloverLocked()
	today := dates.Key(s.clock())
	key := TaskKey(phaseID, taskID)
	h := s.histories[key]
	if h == nil {
		h = history.Map{}
		s.histories[key] = h
	}
	done = !h[today]
	h[today] = done
	s.persist()
	s.mu.Unlock()

	s.interacted()
	return done, nil
}

// CompletePhase advances the active phase past phaseID, if and only if
// every task in it is done today. Advancing past the last phase leaves
// no active phase. Incomplete phases make this a no-op, not an error.
func (s *Service) CompletePhase(phaseID string) (advanced bool, err error) {
	s.mu.Lock()
	idx := s.phaseIndex(phaseID)
	if idx < 0 {
		s.mu.Unlock()
		return false, fmt.Errorf("unknown phase %q", phaseID)
	}

	s.checkRolloverLocked()
	if !s.phaseCompleteLocked(s.phases[idx], dates.Key(s.clock())) {
		s.mu.Unlock()
		return false, nil
	}
	if idx+1 < len(s.phases) {
		s.state.ActivePhase = s.phases[idx+1].ID
	} else {
		s.state.ActivePhase = ""
	}
	s.persist()
	s.mu.Unlock()

	s.interacted()
	return true, nil
}

// ResetAllPhases clears every task record for today and returns the
// active phase to the first in the chain. Past days are untouched.
func (s *Service) ResetAllPhases() {
	s.mu.Lock()
	today := dates.Key(s.clock())
	for _, h := range s.histories {
		delete(h, today)
	}
	s.state.ActivePhase = s.phases[0].ID
	s.state.LastActiveDate = today
	s.persist()
	s.mu.Unlock()

	s.interacted()
}

// completionHistoriesLocked returns a history set covering every task in
// the chain, including tasks never yet recorded, so completion ratios
// use the true task total.
func (s *Service) completionHistoriesLocked() map[string]history.Map {
	all := make(map[string]history.Map)
	for _, p := range s.phases {
		for _, tk := range p.Tasks {
			key := TaskKey(p.ID, tk.ID)
			h := s.histories[key]
			if h == nil {
				h = history.Map{}
			}
			all[key] = h
		}
	}
	return all
}

// DailyCompletion reports how much of the protocol was completed on the
// given date.
func (s *Service) DailyCompletion(date string) (history.Completion, error) {
	if !dates.Valid(date) {
		return history.Completion{}, fmt.Errorf("malformed date %q", date)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return history.CompletionFor(s.completionHistoriesLocked(), date), nil
}

// PerfectDays counts days in the lookback window where every task was
// completed.
func (s *Service) PerfectDays(lookback int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return history.PerfectDays(s.completionHistoriesLocked(), s.clock(), lookback)
}

// TaskHistory returns a copy of one task's per-date record.
func (s *Service) TaskHistory(phaseID, taskID string) history.Map {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.histories[TaskKey(phaseID, taskID)].Clone()
}

// persist saves both slices. Callers hold s.mu.
func (s *Service) persist() {
	if err := s.st.Save(store.KeyProtocolState, s.state); err != nil {
		s.logger.Printf("Failed to persist protocol state: %v", err)
	}
	if err := s.st.Save(store.KeyProtocolTasks, s.histories); err != nil {
		s.logger.Printf("Failed to persist task history: %v", err)
	}
}

// interacted marks the mutation and schedules the summary push. Called
// after releasing s.mu.
func (s *Service) interacted() {
	s.ctl.MarkInteraction()
	s.ctl.NotifyChange()
}

// Reload re-reads the local store and reports whether state changed.
func (s *Service) Reload() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevState := s.state
	prevHist := s.histories
	s.loadLocked()
	s.rolloverLocked()
	if prevState == s.state && mapsEqual(prevHist, s.histories) {
		return false
	}
	return true
}

func mapsEqual(a, b map[string]history.Map) bool {
	if len(a) != len(b) {
		return false
	}
	for key, ha := range a {
		hb, ok := b[key]
		if !ok || len(ha) != len(hb) {
			return false
		}
		for d, v := range ha {
			if hb[d] != v {
				return false
			}
		}
	}
	return true
}

// summary derives the per-day log payload: overall completion plus the
// active phase.
func (s *Service) summary() (string, remote.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := history.CompletionFor(s.completionHistoriesLocked(), dates.Key(s.clock()))
	return SummaryCategory, remote.Document{
		"activePhase": s.state.ActivePhase,
		"completed":   c.Completed,
		"total":       c.Total,
		"percentage":  c.Percentage,
	}
}
