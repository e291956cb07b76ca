package goals

import (
	"context"
	"fmt"
	"log"
	"os"
	"reflect"
	"sync"
	"time"

	"habitd/internal/dates"
	"habitd/internal/history"
	"habitd/internal/remote"
	"habitd/internal/store"
	"habitd/internal/syncctl"
)

// RemoteKey is the remote document key for this domain.
const RemoteKey = "personal_goals"

// SummaryCategory is the daily-log category this domain writes.
const SummaryCategory = "goals"

// configSlice is the locally persisted shape of the goal definitions.
type configSlice struct {
	Goals []Goal `json:"goals"`
}

// Config wires a goals service.
type Config struct {
	// Store is the local persistent store. Required.
	Store *store.Store

	// Remote enables sync when non-nil.
	Remote remote.Store

	// Device identifies this device in outbound writes. Required when
	// Remote is set.
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

// Service owns the personal-goals slice of state. All methods are safe
// for concurrent use; remote subscription callbacks arrive on the
// client's reader goroutine.
type Service struct {
	mu        sync.Mutex
	goals     []Goal
	histories map[string]history.Map

	st     *store.Store
	ctl    *syncctl.Controller
	logger *log.Logger
	clock  func() time.Time
}

// New loads the domain's slices from the local store (defaulting to the
// built-in goals on first run) and prepares its controller. Call Start
// to begin syncing.
func New(cfg Config) (*Service, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[goals] ", log.LstdFlags)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	s := &Service{
		st:     cfg.Store,
		logger: cfg.Logger,
		clock:  cfg.Clock,
	}
	s.loadLocked()

	ctl, err := syncctl.New(syncctl.Config{
		Key:             RemoteKey,
		Store:           cfg.Remote,
		Device:          cfg.Device,
		Snapshot:        s.snapshot,
		Apply:           s.applyRemote,
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
// have exclusive access (New runs before the service is shared).
func (s *Service) loadLocked() {
	slice := configSlice{}
	s.st.Load(store.KeyGoalsConfig, &slice)
	if len(slice.Goals) == 0 {
		slice.Goals = Builtins()
	}
	s.goals = ensureBuiltins(slice.Goals)

	s.histories = make(map[string]history.Map)
	s.st.Load(store.KeyGoalsHistory, &s.histories)
	for id, h := range s.histories {
		if h == nil {
			s.histories[id] = history.Map{}
		}
	}
}

// ensureBuiltins guarantees the built-in goals are present, prepending
// any that a merge or a stale store dropped.
func ensureBuiltins(gs []Goal) []Goal {
	have := make(map[string]bool, len(gs))
	for _, g := range gs {
		have[g.ID] = true
	}
	var missing []Goal
	for _, b := range Builtins() {
		if !have[b.ID] {
			missing = append(missing, b)
		}
	}
	if len(missing) == 0 {
		return gs
	}
	return append(missing, gs...)
}

// Start runs the controller's startup sequence (one-shot fetch + merge,
// then live subscription).
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

// Goals returns a copy of the goal definitions in display order.
func (s *Service) Goals() []Goal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Goal, len(s.goals))
	copy(out, s.goals)
	return out
}

// Get returns the goal with the given id.
func (s *Service) Get(id string) (Goal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.goals {
		if g.ID == id {
			return g, true
		}
	}
	return Goal{}, false
}

// History returns a copy of a goal's history map.
func (s *Service) History(id string) history.Map {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.histories[id].Clone()
}

// Streak returns the goal's current consecutive-day streak.
func (s *Service) Streak(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.histories[id].Streak(s.clock())
}

// Add creates a custom goal and schedules a push.
func (s *Service) Add(g Goal) (Goal, error) {
	s.mu.Lock()
	if g.ID == "" {
		g.ID = NewGoalID(s.clock())
	}
	if g.Kind == "" {
		g.Kind = KindHabit
	}
	if g.CreatedAt == "" {
		g.CreatedAt = s.clock().Format(time.RFC3339)
	}
	if err := g.Validate(); err != nil {
		s.mu.Unlock()
		return Goal{}, err
	}
	for _, existing := range s.goals {
		if existing.ID == g.ID {
			s.mu.Unlock()
			return Goal{}, fmt.Errorf("goal %q already exists", g.ID)
		}
	}
	s.goals = append(s.goals, g)
	if s.histories[g.ID] == nil {
		s.histories[g.ID] = history.Map{}
	}
	s.persist()
	s.mu.Unlock()

	s.interacted()
	return g, nil
}

// Update edits a goal's mutable fields. Identity and kind are fixed.
func (s *Service) Update(id, title, emoji, color string) error {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	if title != "" {
		s.goals[idx].Title = title
	}
	if emoji != "" {
		s.goals[idx].Emoji = emoji
	}
	if color != "" {
		s.goals[idx].Color = color
	}
	if err := s.goals[idx].Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.persist()
	s.mu.Unlock()

	s.interacted()
	return nil
}

// SetWeight records the current (and optionally target) weight on a
// weight-tracked goal.
func (s *Service) SetWeight(id string, current, target float64) error {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	if s.goals[idx].Kind != KindWeight {
		s.mu.Unlock()
		return ErrNotWeightGoal
	}
	if current > 0 {
		s.goals[idx].CurrentWeight = current
	}
	if target > 0 {
		s.goals[idx].GoalWeight = target
	}
	s.persist()
	s.mu.Unlock()

	s.interacted()
	return nil
}

// Remove deletes a custom goal and its history. Built-ins are protected.
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	if s.goals[idx].Builtin() {
		s.mu.Unlock()
		return ErrBuiltinGoal
	}
	s.goals = append(s.goals[:idx], s.goals[idx+1:]...)
	delete(s.histories, id)
	s.persist()
	s.mu.Unlock()

	s.interacted()
	return nil
}

// ToggleDate cycles the goal's record for a date through absent -> true
// -> false -> absent, and returns the resulting state.
func (s *Service) ToggleDate(id, date string) (recorded, value bool, err error) {
	if !dates.Valid(date) {
		return false, false, fmt.Errorf("malformed date %q", date)
	}
	s.mu.Lock()
	if s.indexOf(id) < 0 {
		s.mu.Unlock()
		return false, false, ErrNotFound
	}
	h := s.histories[id]
	if h == nil {
		h = history.Map{}
		s.histories[id] = h
	}
	recorded, value = h.Cycle(date)
	s.persist()
	s.mu.Unlock()

	s.interacted()
	return recorded, value, nil
}

// Import merges exported goal definitions and histories in. Existing
// definitions win on id collision; histories merge two levels deep.
// Returns the number of definitions added.
func (s *Service) Import(defs []Goal, histories map[string]history.Map) (int, error) {
	s.mu.Lock()
	added := 0
	for _, g := range defs {
		if err := g.Validate(); err != nil {
			s.mu.Unlock()
			return 0, fmt.Errorf("goal %q: %w", g.ID, err)
		}
		if s.indexOf(g.ID) >= 0 {
			continue
		}
		s.goals = append(s.goals, g)
		added++
	}
	history.MergeInto(s.histories, histories)
	s.persist()
	s.mu.Unlock()

	s.interacted()
	return added, nil
}

// indexOf returns the goal's position, or -1. Callers hold s.mu.
func (s *Service) indexOf(id string) int {
	for i, g := range s.goals {
		if g.ID == id {
			return i
		}
	}
	return -1
}

// persist saves both slices synchronously. Callers hold s.mu.
func (s *Service) persist() {
	if err := s.st.Save(store.KeyGoalsConfig, configSlice{Goals: s.goals}); err != nil {
		s.logger.Printf("Failed to persist goal definitions: %v", err)
	}
	if err := s.st.Save(store.KeyGoalsHistory, s.histories); err != nil {
		s.logger.Printf("Failed to persist goal history: %v", err)
	}
}

// interacted timestamps the user action and schedules the debounced push.
func (s *Service) interacted() {
	s.ctl.MarkInteraction()
	s.ctl.NotifyChange()
}

// Reload re-reads both slices from the local store, used by the daemon
// when another habitd process has written them. Reports whether state
// changed. A reload is user-driven by proxy (the other process acted on
// a user command), so the caller decides whether to mark an interaction.
func (s *Service) Reload() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldGoals := s.goals
	oldHist := s.histories
	s.loadLocked()
	return !reflect.DeepEqual(oldGoals, s.goals) || !reflect.DeepEqual(oldHist, s.histories)
}

// snapshot builds the remote document: definitions are an atomic
// top-level field (remote wins wholesale on merge), history merges two
// levels deep.
func (s *Service) snapshot() remote.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := make(map[string]history.Map, len(s.histories))
	for id, h := range s.histories {
		hist[id] = h.Clone()
	}
	gs := make([]Goal, len(s.goals))
	copy(gs, s.goals)

	return remote.Document{
		"goals":   gs,
		"history": hist,
	}
}

// applyRemote merges a remote document into local state. Top-level
// fields are replaced (remote wins per key); history merges per-goal
// per-date so concurrent edits from other devices cannot wipe unrelated
// dates. Returns false when the merge is a no-op so the controller can
// skip the persist-and-render cycle entirely.
func (s *Service) applyRemote(doc remote.Document) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false

	if v, ok := doc["goals"]; ok {
		var gs []Goal
		if err := decodeInto(v, &gs); err != nil {
			s.logger.Printf("Ignoring malformed remote goal definitions: %v", err)
		} else {
			gs = ensureBuiltins(gs)
			if !reflect.DeepEqual(gs, s.goals) {
				s.goals = gs
				changed = true
			}
		}
	}

	if v, ok := doc["history"]; ok {
		var hs map[string]history.Map
		if err := decodeInto(v, &hs); err != nil {
			s.logger.Printf("Ignoring malformed remote goal history: %v", err)
		} else if history.MergeInto(s.histories, hs) {
			changed = true
		}
	}

	if changed {
		s.persist()
	}
	return changed
}

// summary derives the per-day log payload: completion and streak per
// goal, plus current weight where tracked.
func (s *Service) summary() (string, remote.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	today := dates.Key(now)

	data := make(remote.Document, len(s.goals))
	for _, g := range s.goals {
		h := s.histories[g.ID]
		entry := map[string]any{
			"done":   h[today],
			"streak": h.Streak(now),
		}
		if g.Kind == KindWeight {
			entry["currentWeight"] = g.CurrentWeight
			entry["goalWeight"] = g.GoalWeight
		}
		data[g.ID] = entry
	}
	return SummaryCategory, data
}
