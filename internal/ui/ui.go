// Package ui holds the shared terminal styles for habitd's CLI output.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	styleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	stylePending = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleLocked  = lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("8"))
	styleStreak  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	styleAccent  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

// Plain disables all styling, set when stdout is not a terminal or the
// terminal reports no color support.
var Plain bool

func init() {
	if termenv.EnvColorProfile() == termenv.Ascii {
		Plain = true
	}
}

func render(st lipgloss.Style, s string) string {
	if Plain {
		return s
	}
	return st.Render(s)
}

// Title styles a section heading.
func Title(s string) string { return render(styleTitle, s) }

// Done styles a completed item.
func Done(s string) string { return render(styleDone, s) }

// Failed styles an explicitly-failed item.
func Failed(s string) string { return render(styleFailed, s) }

// Pending styles an unresolved item.
func Pending(s string) string { return render(stylePending, s) }

// Locked styles a phase that has not been unlocked yet.
func Locked(s string) string { return render(styleLocked, s) }

// Accent styles identifiers and dates.
func Accent(s string) string { return render(styleAccent, s) }

// Streak renders a streak count with its flame, or a bare zero.
func Streak(n int) string {
	if n <= 0 {
		return render(stylePending, "0")
	}
	return render(styleStreak, fmt.Sprintf("🔥 %d", n))
}

// Mark renders a tri-state history value: done, explicitly failed, or
// no record.
func Mark(recorded, value bool) string {
	switch {
	case recorded && value:
		return render(styleDone, "✓")
	case recorded:
		return render(styleFailed, "✗")
	default:
		return render(stylePending, "·")
	}
}
