// Package protocol implements the phased daily-task domain: a fixed,
// ordered chain of phases that unlock in sequence as their tasks are
// completed. Completion is recorded per task per day; "done today" is
// always read back out of that record, never held as separate state.
package protocol

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Task is one checkable item inside a phase.
type Task struct {
	ID    string `json:"id" toml:"id"`
	Title string `json:"title" toml:"title"`
	Emoji string `json:"emoji,omitempty" toml:"emoji"`
}

// Phase groups tasks. Order across phases is fixed and load-bearing:
// each phase unlocks only when the previous one is complete.
type Phase struct {
	ID    string `json:"id" toml:"id"`
	Title string `json:"title" toml:"title"`
	Tasks []Task `json:"tasks" toml:"tasks"`
}

// PhaseStatus is derived from today's records, never stored.
type PhaseStatus int

const (
	// Locked means the previous phase is not yet complete.
	Locked PhaseStatus = iota
	// InProgress means the phase is unlocked with tasks remaining.
	InProgress
	// Complete means every task in the phase is done today.
	Complete
)

func (ps PhaseStatus) String() string {
	switch ps {
	case Locked:
		return "locked"
	case InProgress:
		return "in progress"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("PhaseStatus(%d)", int(ps))
	}
}

// DefaultPhases is the built-in daily protocol, used when no phase file
// is configured. The first phase is always unlocked.
func DefaultPhases() []Phase {
	return []Phase{
		{
			ID:    "morningIgnition",
			Title: "Morning Ignition",
			Tasks: []Task{
				{ID: "wakeEarly", Title: "Up before 7:00", Emoji: "⏰"},
				{ID: "coldShower", Title: "Cold shower", Emoji: "🚿"},
				{ID: "noPhone", Title: "No phone for first hour", Emoji: "📵"},
			},
		},
		{
			ID:    "deepWork",
			Title: "Deep Work",
			Tasks: []Task{
				{ID: "focusBlock", Title: "90-minute focus block", Emoji: "🎯"},
				{ID: "studySession", Title: "Study session", Emoji: "📖"},
			},
		},
		{
			ID:    "training",
			Title: "Training",
			Tasks: []Task{
				{ID: "workout", Title: "Workout", Emoji: "💪"},
				{ID: "walk", Title: "Outdoor walk", Emoji: "🚶"},
			},
		},
		{
			ID:    "eveningShutdown",
			Title: "Evening Shutdown",
			Tasks: []Task{
				{ID: "planTomorrow", Title: "Plan tomorrow", Emoji: "📝"},
				{ID: "screensOff", Title: "Screens off by 22:00", Emoji: "🌙"},
			},
		},
	}
}

// phaseFile is the on-disk override shape.
type phaseFile struct {
	Phases []Phase `toml:"phase"`
}

// LoadPhases reads a TOML phase definition file. Missing file is not an
// error; the defaults apply.
func LoadPhases(path string) ([]Phase, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultPhases(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read phase file: %w", err)
	}

	var pf phaseFile
	if err := toml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse phase file %s: %w", path, err)
	}
	if err := ValidatePhases(pf.Phases); err != nil {
		return nil, fmt.Errorf("invalid phase file %s: %w", path, err)
	}
	return pf.Phases, nil
}

// ValidatePhases rejects phase sets that would break the unlock chain
// or the per-task history keys.
func ValidatePhases(phases []Phase) error {
	if len(phases) == 0 {
		return errors.New("no phases defined")
	}
	seen := make(map[string]bool)
	for _, p := range phases {
		if p.ID == "" {
			return errors.New("phase with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate phase id %q", p.ID)
		}
		seen[p.ID] = true
		if len(p.Tasks) == 0 {
			return fmt.Errorf("phase %q has no tasks", p.ID)
		}
		taskSeen := make(map[string]bool)
		for _, tk := range p.Tasks {
			if tk.ID == "" {
				return fmt.Errorf("phase %q has a task with empty id", p.ID)
			}
			if taskSeen[tk.ID] {
				return fmt.Errorf("phase %q has duplicate task id %q", p.ID, tk.ID)
			}
			taskSeen[tk.ID] = true
		}
	}
	return nil
}

// TaskKey is the composite key a task's history is recorded under.
func TaskKey(phaseID, taskID string) string {
	return phaseID + "-" + taskID
}
