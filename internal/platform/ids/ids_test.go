package ids

import (
	"sort"
	"testing"
	"time"
)

func TestNew_Monotonic(t *testing.T) {
	got := make([]string, 100)
	for i := range got {
		got[i] = New()
	}
	if !sort.StringsAreSorted(got) {
		t.Error("expected identifiers to sort in creation order")
	}
	seen := make(map[string]bool)
	for _, id := range got {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestAssertionID(t *testing.T) {
	id := AssertionID()
	if id[0] != '_' {
		t.Errorf("expected leading underscore, got %q", id)
	}
	if len(id) != 27 {
		t.Errorf("expected 27 characters, got %d", len(id))
	}
}

func TestTime(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ts, ok := Time(NewAt(at))
	if !ok {
		t.Fatal("expected id to parse")
	}
	if !ts.Equal(at) {
		t.Errorf("Time = %v, want %v", ts, at)
	}

	if _, ok := Time("not-a-ulid"); ok {
		t.Error("expected garbage to be rejected")
	}
}
