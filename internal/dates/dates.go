// Package dates handles the calendar date keys used throughout habitd.
//
// Every history map in the application is keyed by a local calendar date
// in YYYY-MM-DD form. Keys are always derived from the device-local
// calendar, never from a UTC-normalized timestamp — a habit completed at
// 11pm belongs to that local day regardless of timezone offset.
package dates

import (
	"fmt"
	"regexp"
	"time"
)

// Layout is the canonical date key layout.
const Layout = "2006-01-02"

var keyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Key returns the date key for t in t's location.
func Key(t time.Time) string {
	return t.Format(Layout)
}

// Today returns the date key for the current local day.
func Today() string {
	return Key(time.Now())
}

// Parse converts a date key back to a time.Time at local midnight.
func Parse(key string) (time.Time, error) {
	if !keyPattern.MatchString(key) {
		return time.Time{}, fmt.Errorf("malformed date key: %q", key)
	}
	t, err := time.ParseInLocation(Layout, key, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed date key: %q: %w", key, err)
	}
	return t, nil
}

// Valid reports whether key is a well-formed date key.
func Valid(key string) bool {
	_, err := Parse(key)
	return err == nil
}

// AddDays returns the date key n days after t (negative n steps back).
// Stepping uses AddDate so DST transitions cannot skip or repeat a day key.
func AddDays(t time.Time, n int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, t.Location()).AddDate(0, 0, n)
}
