package remote

import (
	"context"
	"testing"
)

func TestMemoryUpdateMergesShallow(t *testing.T) {
	m := NewMemory()

	m.UpdateGlobalData("personal_goals", Document{"a": float64(1), "b": "x"})
	m.UpdateGlobalData("personal_goals", Document{"b": "y", "c": true})

	doc, err := m.GetGlobalData(context.Background(), "personal_goals")
	if err != nil {
		t.Fatalf("GetGlobalData: %v", err)
	}
	if doc["a"] != float64(1) || doc["b"] != "y" || doc["c"] != true {
		t.Errorf("merged doc = %v", doc)
	}
}

func TestMemoryGetMissingKeyReturnsNil(t *testing.T) {
	m := NewMemory()
	doc, err := m.GetGlobalData(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetGlobalData: %v", err)
	}
	if doc != nil {
		t.Errorf("missing key = %v, want nil", doc)
	}
}

func TestMemorySubscriberReceivesEchoOfOwnWrite(t *testing.T) {
	m := NewMemory()

	var got []Document
	cancel, err := m.SubscribeGlobalData("k", func(d Document) { got = append(got, d) })
	if err != nil {
		t.Fatalf("SubscribeGlobalData: %v", err)
	}

	m.UpdateGlobalData("k", Document{"v": "1"})
	if len(got) != 1 || got[0]["v"] != "1" {
		t.Fatalf("subscriber saw %v, want one echo", got)
	}

	cancel()
	m.UpdateGlobalData("k", Document{"v": "2"})
	if len(got) != 1 {
		t.Errorf("subscriber notified after cancel")
	}
}

func TestMemorySubscriberCannotMutateStore(t *testing.T) {
	m := NewMemory()

	_, err := m.SubscribeGlobalData("k", func(d Document) { d["v"] = "tampered" })
	if err != nil {
		t.Fatal(err)
	}
	m.UpdateGlobalData("k", Document{"v": "1"})

	if m.Doc("k")["v"] != "1" {
		t.Errorf("subscriber mutation leaked into store")
	}
}

func TestMemoryTodayLog(t *testing.T) {
	m := NewMemory()
	m.Today = "2025-06-03"

	var events int
	if _, err := m.SubscribeTodayLog(func(Document) { events++ }); err != nil {
		t.Fatal(err)
	}

	m.UpdateTodayLog("goals", Document{"exercise": true})
	m.UpdateTodayLog("goals", Document{"streak": float64(4)})
	m.UpdateTodayLog("study", Document{"done": false})

	rec, err := m.GetLogForDate(context.Background(), "2025-06-03")
	if err != nil {
		t.Fatalf("GetLogForDate: %v", err)
	}
	goals, _ := rec["goals"].(map[string]any)
	if goals["exercise"] != true || goals["streak"] != float64(4) {
		t.Errorf("goals category = %v", goals)
	}
	if _, ok := rec["study"].(map[string]any); !ok {
		t.Errorf("study category missing: %v", rec)
	}
	if events != 3 {
		t.Errorf("log subscriber saw %d events, want 3", events)
	}
}

func TestMemoryFailFetches(t *testing.T) {
	m := NewMemory()
	m.FailFetches = true

	if _, err := m.GetGlobalData(context.Background(), "k"); err == nil {
		t.Errorf("GetGlobalData succeeded, want error")
	}
	if _, err := m.GetLogForDate(context.Background(), "2025-06-03"); err == nil {
		t.Errorf("GetLogForDate succeeded, want error")
	}
}
