package remote

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestKeyOf(t *testing.T) {
	key, err := KeyOf(TableResponses, Row{"question_id": float64(3), "user_id": "u1"})
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if key != "3:u1" {
		t.Fatalf("expected 3:u1, got %q", key)
	}

	if _, err := KeyOf(TableResponses, Row{"question_id": 3}); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
	if _, err := KeyOf("nope", Row{}); !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("expected ErrUnknownTable, got %v", err)
	}
}

func TestProjectDropsUnknownColumns(t *testing.T) {
	got, err := Project(TableParticipants, Row{"user_id": "u1", "nickname": "Sam", "favourite": "tea"})
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if diff := cmp.Diff(Row{"user_id": "u1", "nickname": "Sam"}, got); diff != "" {
		t.Fatalf("unexpected projection (-want +got):\n%s", diff)
	}
}

func TestMatchesComparesScalars(t *testing.T) {
	row := Row{"question_id": float64(2), "is_active": true, "user_id": "u1"}
	if !Matches(row, Row{"question_id": 2, "is_active": true}) {
		t.Fatalf("expected numeric and bool match")
	}
	if Matches(row, Row{"user_id": "u2"}) {
		t.Fatalf("expected mismatch on user_id")
	}
	if Matches(row, Row{"nickname": "Sam"}) {
		t.Fatalf("expected mismatch on absent column")
	}
	if !Matches(row, nil) {
		t.Fatalf("empty match selects everything")
	}
}

func TestStampServerFields(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

	state := Row{"status": "waiting"}
	StampServerFields(TableSurveyState, state, now)
	if state["id"] != StateRowID || state["updated_at"] != "2026-10-17T09:30:00Z" {
		t.Fatalf("unexpected stamped state: %+v", state)
	}

	p := Row{"user_id": "u1"}
	StampServerFields(TableParticipants, p, now)
	if p["is_active"] != true || p["joined_at"] == nil {
		t.Fatalf("unexpected stamped participant: %+v", p)
	}

	r := Row{"submitted_at": "2026-10-17T09:00:00Z"}
	StampServerFields(TableResponses, r, now)
	if r["submitted_at"] != "2026-10-17T09:00:00Z" {
		t.Fatalf("client submitted_at must be kept, got %v", r["submitted_at"])
	}
}

func TestSortRowsByNaturalKey(t *testing.T) {
	rows := []Row{
		{"question_id": 10, "user_id": "a"},
		{"question_id": 2, "user_id": "b"},
		{"question_id": 2, "user_id": "a"},
	}
	SortRows(TableResponses, rows)
	want := []Row{
		{"question_id": 2, "user_id": "a"},
		{"question_id": 2, "user_id": "b"},
		{"question_id": 10, "user_id": "a"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}
