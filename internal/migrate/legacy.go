// Package migrate imports state exported from the legacy browser app.
// The export is a localStorage dump: a single JSON object whose values
// are themselves stringified JSON, one entry per persisted slice.
package migrate

import (
	"encoding/json"
	"fmt"
	"os"

	"habitd/internal/dates"
	"habitd/internal/goals"
	"habitd/internal/history"
	"habitd/internal/store"
	"habitd/internal/study"
)

// Options configures a legacy import.
type Options struct {
	// Path is the exported JSON file.
	Path string

	// DryRun validates and reports without writing to the store.
	DryRun bool

	// Overwrite allows replacing slices that already exist locally.
	// Without it, an import into a non-empty store fails.
	Overwrite bool
}

// Result summarizes what an import did (or, for a dry run, would do).
type Result struct {
	GoalsImported int
	GoalDates     int
	StudyGoal     string
	StudyDates    int
	SkippedKeys   []string
	SlicesWritten int
}

// legacyKeys are the localStorage keys the browser app persisted under.
// They match the local store's key contract exactly.
var legacyKeys = map[string]bool{
	store.KeyGoalsConfig:  true,
	store.KeyGoalsHistory: true,
	store.KeyStudyActive:  true,
	store.KeyStudyHistory: true,
}

// Run imports a legacy export file into the local store.
func Run(st *store.Store, opts Options) (*Result, error) {
	// #nosec G304 - controlled path from CLI
	raw, err := os.ReadFile(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read export file: %w", err)
	}

	var dump map[string]string
	if err := json.Unmarshal(raw, &dump); err != nil {
		return nil, fmt.Errorf("export file is not a localStorage dump: %w", err)
	}

	res := &Result{}
	writes := make(map[string]any)

	for key, value := range dump {
		if !legacyKeys[key] {
			res.SkippedKeys = append(res.SkippedKeys, key)
			continue
		}
		parsed, err := parseSlice(key, value, res)
		if err != nil {
			return nil, fmt.Errorf("slice %s: %w", key, err)
		}
		writes[key] = parsed
	}

	if len(writes) == 0 {
		return nil, fmt.Errorf("export file contains none of the known keys")
	}

	if !opts.Overwrite {
		existing, err := st.Keys()
		if err != nil {
			return nil, err
		}
		for _, key := range existing {
			if _, ok := writes[key]; ok {
				return nil, fmt.Errorf("local store already has %s; re-run with overwrite to replace it", key)
			}
		}
	}

	if opts.DryRun {
		return res, nil
	}

	for key, value := range writes {
		if err := st.Save(key, value); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", key, err)
		}
		res.SlicesWritten++
	}
	return res, nil
}

// parseSlice decodes one stringified slice and validates its shape.
func parseSlice(key, value string, res *Result) (any, error) {
	switch key {
	case store.KeyGoalsConfig:
		// The browser app stored the goal list bare, not wrapped.
		var gs []goals.Goal
		if err := json.Unmarshal([]byte(value), &gs); err != nil {
			return nil, err
		}
		for _, g := range gs {
			if err := g.Validate(); err != nil {
				return nil, fmt.Errorf("goal %q: %w", g.ID, err)
			}
		}
		res.GoalsImported = len(gs)
		return struct {
			Goals []goals.Goal `json:"goals"`
		}{gs}, nil

	case store.KeyGoalsHistory:
		hs, n, err := parseHistories(value)
		if err != nil {
			return nil, err
		}
		res.GoalDates = n
		return hs, nil

	case store.KeyStudyActive:
		var g *study.Goal
		if err := json.Unmarshal([]byte(value), &g); err != nil {
			return nil, err
		}
		if g != nil {
			if err := g.Validate(); err != nil {
				return nil, err
			}
			res.StudyGoal = g.Name
		}
		return struct {
			Goal *study.Goal `json:"goal"`
		}{g}, nil

	case store.KeyStudyHistory:
		hs, n, err := parseHistories(value)
		if err != nil {
			return nil, err
		}
		res.StudyDates = n
		return hs, nil
	}
	return nil, fmt.Errorf("unhandled key")
}

// parseHistories decodes a two-level history map and counts its dates.
// Invalid date keys fail the import rather than being dropped silently;
// a migration should not lose records.
func parseHistories(value string) (map[string]history.Map, int, error) {
	var hs map[string]history.Map
	if err := json.Unmarshal([]byte(value), &hs); err != nil {
		return nil, 0, err
	}
	n := 0
	for id, h := range hs {
		for date := range h {
			if !dates.Valid(date) {
				return nil, 0, fmt.Errorf("%s: malformed date key %q", id, date)
			}
			n++
		}
	}
	return hs, n, nil
}
