// Package hub implements the document-sync server habitd devices push to
// and subscribe from.
//
// The hub is deliberately dumb: it stores JSON documents under string
// keys, shallow-merges partial updates into them, and broadcasts the
// merged result to every subscriber of the key — including the writer.
// All reconciliation intelligence lives on the devices.
package hub

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"habitd/internal/remote"
)

// State holds the hub's documents and daily log records, persisted as a
// single JSON snapshot so a restarted hub picks up where it left off.
type State struct {
	mu   sync.Mutex
	path string

	docs map[string]remote.Document
	logs map[string]remote.Document // date -> {category: {...}}
}

type stateSnapshot struct {
	Docs map[string]remote.Document `json:"docs"`
	Logs map[string]remote.Document `json:"logs"`
}

// LoadState reads the snapshot at path, or starts empty if none exists.
// An empty path keeps state purely in memory.
func LoadState(path string) (*State, error) {
	s := &State{
		path: path,
		docs: make(map[string]remote.Document),
		logs: make(map[string]remote.Document),
	}
	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read hub state: %w", err)
	}

	var snap stateSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("malformed hub state at %s: %w", path, err)
	}
	if snap.Docs != nil {
		s.docs = snap.Docs
	}
	if snap.Logs != nil {
		s.logs = snap.Logs
	}
	return s, nil
}

// Get returns a copy of the document under key, or nil.
func (s *State) Get(key string) remote.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return remote.CloneDocument(s.docs[key])
}

// GetLog returns a copy of the log record for date, or nil.
func (s *State) GetLog(date string) remote.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return remote.CloneDocument(s.logs[date])
}

// ApplyUpdate shallow-merges partial into the document under key and
// returns a copy of the merged document.
func (s *State) ApplyUpdate(key string, partial remote.Document) (remote.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = remote.MergeShallow(s.docs[key], partial)
	merged := remote.CloneDocument(s.docs[key])
	return merged, s.persistLocked()
}

// ApplyLogUpdate merges partial into the category sub-object of the log
// record for date and returns a copy of the whole record.
func (s *State) ApplyLogUpdate(date, category string, partial remote.Document) (remote.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.logs[date]
	if rec == nil {
		rec = make(remote.Document)
		s.logs[date] = rec
	}
	sub, _ := rec[category].(map[string]any)
	rec[category] = remote.MergeShallow(sub, partial)
	merged := remote.CloneDocument(rec)
	return merged, s.persistLocked()
}

// persistLocked writes the snapshot; callers hold s.mu.
func (s *State) persistLocked() error {
	if s.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(stateSnapshot{Docs: s.docs, Logs: s.logs}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode hub state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create hub state directory: %w", err)
	}
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("failed to write hub state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace hub state: %w", err)
	}
	return nil
}
