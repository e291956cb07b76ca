package store

import (
	"path/filepath"
	"testing"
)

// openTestStore creates a store backed by a temporary database.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "habitd.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type testSlice struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	in := testSlice{Name: "exercise", Count: 3}
	if err := s.Save(KeyGoalsConfig, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var out testSlice
	s.Load(KeyGoalsConfig, &out)
	if out != in {
		t.Errorf("Load = %+v, want %+v", out, in)
	}
}

func TestLoadMissingKeyLeavesDefault(t *testing.T) {
	s := openTestStore(t)

	out := testSlice{Name: "default", Count: 7}
	s.Load("no_such_key", &out)
	if out.Name != "default" || out.Count != 7 {
		t.Errorf("default clobbered on missing key: %+v", out)
	}
}

func TestLoadMalformedDataLeavesDefault(t *testing.T) {
	s := openTestStore(t)

	// Write garbage directly, bypassing Save's marshaling.
	if _, err := s.conn.Exec(
		`INSERT INTO slices (key, value, updated_at) VALUES (?, ?, ?)`,
		KeyStudyActive, "{not json", "2025-01-01T00:00:00Z"); err != nil {
		t.Fatalf("failed to plant malformed row: %v", err)
	}

	out := testSlice{Name: "default"}
	s.Load(KeyStudyActive, &out)
	if out.Name != "default" {
		t.Errorf("default clobbered on malformed data: %+v", out)
	}
}

func TestSaveOverwrites(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save(KeyGoalsHistory, testSlice{Count: 1}); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := s.Save(KeyGoalsHistory, testSlice{Count: 2}); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	var out testSlice
	s.Load(KeyGoalsHistory, &out)
	if out.Count != 2 {
		t.Errorf("Load after overwrite = %+v, want Count=2", out)
	}
}

func TestDeleteAndKeys(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save("a", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("b", 2); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("a"); err != nil {
		t.Fatalf("Delete of absent key: %v", err)
	}

	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "b" {
		t.Errorf("Keys = %v, want [b]", keys)
	}
}
