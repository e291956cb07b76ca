package history

import (
	"testing"
	"time"

	"habitd/internal/dates"
)

func date(s string) time.Time {
	t, err := dates.Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestStreakEmptyHistory(t *testing.T) {
	m := Map{}
	if got := m.Streak(date("2025-06-03")); got != 0 {
		t.Errorf("Streak on empty history = %d, want 0", got)
	}
}

func TestStreakUnresolvedTodayCountsPriorRun(t *testing.T) {
	// Today has no record; the two preceding days were completed.
	m := Map{
		"2025-06-01": true,
		"2025-06-02": true,
	}
	if got := m.Streak(date("2025-06-03")); got != 2 {
		t.Errorf("Streak = %d, want 2", got)
	}
}

func TestStreakIncludesExplicitToday(t *testing.T) {
	m := Map{
		"2025-06-02": true,
		"2025-06-03": true,
	}
	if got := m.Streak(date("2025-06-03")); got != 2 {
		t.Errorf("Streak = %d, want 2", got)
	}
}

func TestStreakTerminatedByFalseAndByGap(t *testing.T) {
	cases := []struct {
		name string
		m    Map
		want int
	}{
		{
			name: "explicit false ends the run",
			m:    Map{"2025-06-01": true, "2025-06-02": false, "2025-06-03": true},
			want: 1,
		},
		{
			name: "missing day ends the run",
			m:    Map{"2025-05-31": true, "2025-06-02": true, "2025-06-03": true},
			want: 2,
		},
		{
			name: "false today falls back to prior run",
			m:    Map{"2025-06-02": true, "2025-06-03": false},
			want: 1,
		},
		{
			name: "zero when neither today nor yesterday is true",
			m:    Map{"2025-06-01": true, "2025-06-02": false},
			want: 0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.m.Streak(date("2025-06-03")); got != tc.want {
				t.Errorf("Streak = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestStreakBounded(t *testing.T) {
	m := Map{}
	today := date("2025-06-03")
	for i := 0; i < MaxLookbackDays+50; i++ {
		m[dates.Key(dates.AddDays(today, -i))] = true
	}
	if got := m.Streak(today); got != MaxLookbackDays {
		t.Errorf("Streak = %d, want cap %d", got, MaxLookbackDays)
	}
}

func TestCycleTriState(t *testing.T) {
	m := Map{}
	const d = "2025-06-03"

	// absent -> true -> false -> absent -> true
	if present, v := m.Cycle(d); !present || !v {
		t.Fatalf("first cycle = (%v, %v), want (true, true)", present, v)
	}
	if present, v := m.Cycle(d); !present || v {
		t.Fatalf("second cycle = (%v, %v), want (true, false)", present, v)
	}
	if present, _ := m.Cycle(d); present {
		t.Fatalf("third cycle left a record, want absent")
	}
	if _, ok := m[d]; ok {
		t.Fatalf("record still present after cycling to absent")
	}
	if present, v := m.Cycle(d); !present || !v {
		t.Fatalf("fourth cycle = (%v, %v), want (true, true)", present, v)
	}
}

func TestCompletionFor(t *testing.T) {
	histories := map[string]Map{
		"a": {"2025-06-03": true},
		"b": {"2025-06-03": false},
		"c": {},
	}
	c := CompletionFor(histories, "2025-06-03")
	if c.Completed != 1 || c.Total != 3 || c.Percentage != 33 {
		t.Errorf("CompletionFor = %+v, want {1 3 33}", c)
	}
}

func TestPerfectDays(t *testing.T) {
	histories := map[string]Map{
		"a": {"2025-06-01": true, "2025-06-02": true, "2025-06-03": true},
		"b": {"2025-06-01": true, "2025-06-03": true},
	}
	got := PerfectDays(histories, date("2025-06-03"), 30)
	if got != 2 {
		t.Errorf("PerfectDays = %d, want 2", got)
	}

	if got := PerfectDays(nil, date("2025-06-03"), 30); got != 0 {
		t.Errorf("PerfectDays with no histories = %d, want 0", got)
	}
}

func TestMergeIntoUnionsBothSides(t *testing.T) {
	local := map[string]Map{
		"goalA": {"2025-01-01": true},
	}
	remote := map[string]Map{
		"goalA": {"2025-01-02": false},
	}

	if !MergeInto(local, remote) {
		t.Fatalf("MergeInto reported no change")
	}

	want := Map{"2025-01-01": true, "2025-01-02": false}
	got := local["goalA"]
	if len(got) != len(want) {
		t.Fatalf("merged history = %v, want %v", got, want)
	}
	for k, v := range want {
		if gv, ok := got[k]; !ok || gv != v {
			t.Errorf("merged[%q] = %v/%v, want %v", k, gv, ok, v)
		}
	}
}

func TestMergeIntoRemoteWinsPerDate(t *testing.T) {
	local := map[string]Map{"g": {"2025-01-01": true}}
	remote := map[string]Map{"g": {"2025-01-01": false}}

	MergeInto(local, remote)
	if local["g"]["2025-01-01"] != false {
		t.Errorf("remote value did not win for the shared date")
	}
}

func TestMergeIntoSkipsMalformedDates(t *testing.T) {
	local := map[string]Map{}
	remote := map[string]Map{"g": {"not-a-date": true, "2025-01-01": true}}

	MergeInto(local, remote)
	if _, ok := local["g"]["not-a-date"]; ok {
		t.Errorf("malformed date key was merged")
	}
	if !local["g"]["2025-01-01"] {
		t.Errorf("well-formed date key was not merged")
	}
}

func TestMergeIntoNoChange(t *testing.T) {
	local := map[string]Map{"g": {"2025-01-01": true}}
	remote := map[string]Map{"g": {"2025-01-01": true}}

	if MergeInto(local, remote) {
		t.Errorf("MergeInto reported a change for identical histories")
	}
}

func TestMergeIntoNewIDWithNoValidDatesIsNoChange(t *testing.T) {
	local := map[string]Map{}
	remote := map[string]Map{"g": {"not-a-date": true}}

	if MergeInto(local, remote) {
		t.Errorf("MergeInto reported a change when no date entry was written")
	}
}
