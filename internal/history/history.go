// Package history provides the per-date completion records habitd keeps
// for every habit, task, and study goal, plus the pure derivations
// (streaks, perfect days, completion ratios) computed from them.
//
// A history map is tri-state: a date key maps to true (completed), false
// (explicitly failed or skipped), or is absent entirely (no decision was
// recorded). Absence is not the same as false — merges and streak scans
// must preserve the distinction.
package history

import (
	"time"

	"habitd/internal/dates"
)

// MaxLookbackDays bounds every backward scan over a history map.
// A streak can never be reported longer than this.
const MaxLookbackDays = 365

// Map records per-date outcomes for a single habit or task.
// Keys are dates.Key values; a missing key means no record.
type Map map[string]bool

// Clone returns a copy of m. A nil map clones to an empty map.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Cycle advances the record for date through the tri-state cycle
// absent -> true -> false -> absent and returns the new state
// (present, value).
func (m Map) Cycle(date string) (bool, bool) {
	v, ok := m[date]
	switch {
	case !ok:
		m[date] = true
		return true, true
	case v:
		m[date] = false
		return true, false
	default:
		delete(m, date)
		return false, false
	}
}

// Streak counts consecutive days recorded true, ending at or before today.
//
// An unresolved today (absent or explicitly false) does not break a prior
// run — the scan simply starts at yesterday. Any day that is not exactly
// true terminates the scan: an explicit false and a missing record both
// end a streak. The scan is bounded by MaxLookbackDays.
func (m Map) Streak(today time.Time) int {
	day := today
	if !m[dates.Key(day)] {
		day = dates.AddDays(day, -1)
	}

	streak := 0
	for i := 0; i < MaxLookbackDays; i++ {
		if !m[dates.Key(day)] {
			break
		}
		streak++
		day = dates.AddDays(day, -1)
	}
	return streak
}

// Completion summarizes how much of a task set was completed on one date.
type Completion struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// CompletionFor counts, across a set of histories, how many were recorded
// true on the given date.
func CompletionFor(histories map[string]Map, date string) Completion {
	c := Completion{Total: len(histories)}
	for _, h := range histories {
		if h[date] {
			c.Completed++
		}
	}
	if c.Total > 0 {
		c.Percentage = c.Completed * 100 / c.Total
	}
	return c
}

// PerfectDays counts days in the lookback window where every history in
// the set was recorded true. An empty set has no perfect days. The
// window includes today and extends lookback-1 days back.
func PerfectDays(histories map[string]Map, today time.Time, lookback int) int {
	if len(histories) == 0 {
		return 0
	}
	if lookback <= 0 || lookback > MaxLookbackDays {
		lookback = MaxLookbackDays
	}

	perfect := 0
	for i := 0; i < lookback; i++ {
		date := dates.Key(dates.AddDays(today, -i))
		c := CompletionFor(histories, date)
		if c.Total > 0 && c.Completed == c.Total {
			perfect++
		}
	}
	return perfect
}

// MergeInto merges remote per-id histories into local, two levels deep:
// ids are unioned, and within each id the date records are unioned with
// the remote value winning per date. No date present on either side is
// lost. Returns true if local changed.
func MergeInto(local map[string]Map, remote map[string]Map) bool {
	changed := false
	for id, rh := range remote {
		lh, ok := local[id]
		if !ok {
			lh = make(Map, len(rh))
			local[id] = lh
		}
		for date, v := range rh {
			if !dates.Valid(date) {
				continue
			}
			if cur, ok := lh[date]; !ok || cur != v {
				lh[date] = v
				changed = true
			}
		}
	}
	return changed
}
