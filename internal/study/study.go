// Package study tracks the single active study goal and its per-date
// history. The domain syncs through the same controller as the others;
// historically this slice only pushed, but the controller makes the
// inbound path safe, so the live subscription is wired here too.
package study

import (
	"context"
	"encoding/json"
	"errors"
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
const RemoteKey = "study_goal"

// SummaryCategory is the daily-log category this domain writes.
const SummaryCategory = "study"

// ErrNoActiveGoal is returned by operations that need a selected goal.
var ErrNoActiveGoal = errors.New("no active study goal")

// Goal is a certificate-like study target. Name doubles as the history
// key, so renaming a goal starts a fresh history.
type Goal struct {
	Name       string `json:"name"`
	Provider   string `json:"provider,omitempty"`
	TargetDate string `json:"targetDate,omitempty"`
}

// Validate rejects goals that cannot serve as a history key.
func (g Goal) Validate() error {
	if g.Name == "" {
		return errors.New("study goal needs a name")
	}
	if g.TargetDate != "" && !dates.Valid(g.TargetDate) {
		return fmt.Errorf("malformed target date %q", g.TargetDate)
	}
	return nil
}

// activeSlice is the locally persisted shape of the selection. A nil
// Goal means none selected.
type activeSlice struct {
	Goal *Goal `json:"goal"`
}

// Config wires a study service.
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

// Service owns the study slice of state. Safe for concurrent use.
type Service struct {
	mu        sync.Mutex
	active    *Goal
	histories map[string]history.Map // keyed by goal name

	st     *store.Store
	ctl    *syncctl.Controller
	logger *log.Logger
	clock  func() time.Time
}

// New loads the domain's slices from the local store and prepares its
// controller. Call Start to begin syncing.
func New(cfg Config) (*Service, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[study] ", log.LstdFlags)
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
// have exclusive access.
func (s *Service) loadLocked() {
	slice := activeSlice{}
	s.st.Load(store.KeyStudyActive, &slice)
	s.active = slice.Goal

	s.histories = make(map[string]history.Map)
	s.st.Load(store.KeyStudyHistory, &s.histories)
	for name, h := range s.histories {
		if h == nil {
			s.histories[name] = history.Map{}
		}
	}
}

// Start runs the controller's startup sequence.
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

// Active returns the selected goal, or nil when none is.
func (s *Service) Active() *Goal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	g := *s.active
	return &g
}

// History returns a copy of the named goal's per-date record. History
// survives clearing and re-selecting a goal of the same name.
func (s *Service) History(name string) history.Map {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.histories[name].Clone()
}

// Streak returns the active goal's current streak, 0 when none is set.
func (s *Service) Streak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return 0
	}
	return s.histories[s.active.Name].Streak(s.clock())
}

// Set selects the active study goal, replacing any previous selection.
func (s *Service) Set(g Goal) error {
	if err := g.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.active = &g
	s.persist()
	s.mu.Unlock()

	s.interacted()
	return nil
}

// Clear deselects the active goal. Its history is kept.
func (s *Service) Clear() {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return
	}
	s.active = nil
	s.persist()
	s.mu.Unlock()

	s.interacted()
}

// ToggleDate cycles the active goal's record for a date through absent
// -> true -> false -> absent.
func (s *Service) ToggleDate(date string) (recorded, value bool, err error) {
	if !dates.Valid(date) {
		return false, false, fmt.Errorf("malformed date %q", date)
	}
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return false, false, ErrNoActiveGoal
	}
	h := s.histories[s.active.Name]
	if h == nil {
		h = history.Map{}
		s.histories[s.active.Name] = h
	}
	recorded, value = h.Cycle(date)
	s.persist()
	s.mu.Unlock()

	s.interacted()
	return recorded, value, nil
}

// persist saves both slices. Callers hold s.mu.
func (s *Service) persist() {
	if err := s.st.Save(store.KeyStudyActive, activeSlice{Goal: s.active}); err != nil {
		s.logger.Printf("Failed to persist study goal: %v", err)
	}
	if err := s.st.Save(store.KeyStudyHistory, s.histories); err != nil {
		s.logger.Printf("Failed to persist study history: %v", err)
	}
}

// interacted marks the mutation and schedules a debounced push. Called
// after releasing s.mu; the controller calls back into snapshot.
func (s *Service) interacted() {
	s.ctl.MarkInteraction()
	s.ctl.NotifyChange()
}

// Reload re-reads the local store and reports whether state changed.
// The daemon calls this when another process wrote the database.
func (s *Service) Reload() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevActive, prevHist := s.active, s.histories
	s.loadLocked()
	return !reflect.DeepEqual(prevActive, s.active) ||
		!reflect.DeepEqual(prevHist, s.histories)
}

// snapshot renders the domain as a remote document.
func (s *Service) snapshot() remote.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := make(map[string]any, len(s.histories))
	for name, h := range s.histories {
		hist[name] = h.Clone()
	}
	doc := remote.Document{"history": hist}
	if s.active != nil {
		doc["active"] = *s.active
	} else {
		doc["active"] = nil
	}
	return doc
}

// applyRemote merges a remote document in. The selection is a scalar
// field and follows shallow-merge rules (remote wins); history merges
// two levels deep so no device's dates are lost.
func (s *Service) applyRemote(doc remote.Document) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false

	if v, ok := doc["active"]; ok {
		var next *Goal
		if v != nil {
			var g Goal
			if err := decodeInto(v, &g); err != nil {
				s.logger.Printf("Ignoring malformed remote study goal: %v", err)
			} else if g.Validate() == nil {
				next = &g
			}
		}
		if (v == nil || next != nil) && !reflect.DeepEqual(next, s.active) {
			s.active = next
			changed = true
		}
	}

	if v, ok := doc["history"]; ok {
		var hs map[string]history.Map
		if err := decodeInto(v, &hs); err != nil {
			s.logger.Printf("Ignoring malformed remote study history: %v", err)
		} else if history.MergeInto(s.histories, hs) {
			changed = true
		}
	}

	if changed {
		s.persist()
	}
	return changed
}

// summary derives the per-day log payload for the active goal. No
// selection means nothing to log.
func (s *Service) summary() (string, remote.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return SummaryCategory, nil
	}
	now := s.clock()
	h := s.histories[s.active.Name]
	return SummaryCategory, remote.Document{
		"name":   s.active.Name,
		"done":   h[dates.Key(now)],
		"streak": h.Streak(now),
	}
}

// decodeInto re-marshals a decoded JSON value into a typed target.
func decodeInto(v any, target any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
