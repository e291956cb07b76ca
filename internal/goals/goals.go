// Package goals is the personal-goals sync domain: goal definitions plus
// per-goal per-date completion history, persisted locally and reconciled
// with the remote store through a syncctl controller.
package goals

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind distinguishes plain habit goals from weight-tracked goals.
type Kind string

const (
	// KindHabit is a daily yes/no habit.
	KindHabit Kind = "habit"
	// KindWeight tracks a current weight against a target weight.
	KindWeight Kind = "weight"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindHabit || k == KindWeight
}

// Built-in goal ids. Their identity is immutable and they cannot be
// deleted; titles and colors may still be edited.
const (
	BuiltinNoPorn   = "noPorn"
	BuiltinExercise = "exercise"
)

// Goal is one tracked personal goal.
type Goal struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Emoji         string  `json:"emoji"`
	Color         string  `json:"color"`
	Kind          Kind    `json:"kind"`
	CurrentWeight float64 `json:"currentWeight,omitempty"`
	GoalWeight    float64 `json:"goalWeight,omitempty"`
	CreatedAt     string  `json:"createdAt,omitempty"`
}

// Builtin reports whether the goal is one of the non-deletable built-ins.
func (g Goal) Builtin() bool {
	return g.ID == BuiltinNoPorn || g.ID == BuiltinExercise
}

// Validate checks field values on a goal definition.
func (g Goal) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("id is required")
	}
	if g.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(g.Title) > 200 {
		return fmt.Errorf("title must be 200 characters or less (got %d)", len(g.Title))
	}
	if !g.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", g.Kind)
	}
	return nil
}

// Builtins returns fresh copies of the built-in goal definitions, used
// whenever the local store has no goals yet.
func Builtins() []Goal {
	return []Goal{
		{ID: BuiltinNoPorn, Title: "No Porn", Emoji: "🧠", Color: "#ef4444", Kind: KindHabit},
		{ID: BuiltinExercise, Title: "Exercise", Emoji: "💪", Color: "#22c55e", Kind: KindHabit},
	}
}

// NewGoalID generates an id for a custom goal.
func NewGoalID(now time.Time) string {
	return fmt.Sprintf("goal-%d", now.UnixMilli())
}

var (
	// ErrNotFound is returned when a goal id does not exist.
	ErrNotFound = errors.New("goal not found")
	// ErrBuiltinGoal is returned when deleting a built-in goal.
	ErrBuiltinGoal = errors.New("built-in goals cannot be deleted")
	// ErrNotWeightGoal is returned when setting weights on a habit goal.
	ErrNotWeightGoal = errors.New("goal does not track weight")
)

// decodeInto re-marshals a decoded JSON value into a typed target. Remote
// documents arrive as generic maps; this is how typed slices come back
// out of them.
func decodeInto(v any, target any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
