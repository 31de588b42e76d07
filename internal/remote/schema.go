package remote

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrConflict is returned by a backend when a write collides with an existing
	// row (insert on an existing key) or a unique constraint.
	ErrConflict = errors.New("remote row conflict")
	// ErrNotConnected is returned when the adapter has no live backend.
	ErrNotConnected = errors.New("remote store not connected")
	// ErrUnknownTable is returned for tables outside the logical schema.
	ErrUnknownTable = errors.New("unknown remote table")
	// ErrMissingKey is returned when a row lacks a natural key column.
	ErrMissingKey = errors.New("row is missing its natural key")
)

// Table names a remote table.
type Table string

const (
	TableSurveyState  Table = "survey_state"
	TableResponses    Table = "responses"
	TableParticipants Table = "participants"
	TableQuestions    Table = "questions"
)

// Row is an untyped remote row using the remote (snake_case) naming convention.
type Row = map[string]any

// ColumnType is the logical type of a column.
type ColumnType int

const (
	ColumnText ColumnType = iota
	ColumnInt
	ColumnBigInt
	ColumnBool
	ColumnTime
	ColumnJSON
)

// Column is one column of the logical schema.
type Column struct {
	Name string
	Type ColumnType
}

type tableSchema struct {
	columns []Column
	key     []string
}

// StateRowID is the fixed natural key of the singleton survey_state row.
const StateRowID = 1

var schema = map[Table]tableSchema{
	TableSurveyState: {
		key: []string{"id"},
		columns: []Column{
			{"id", ColumnInt},
			{"status", ColumnText},
			{"current_question", ColumnInt},
			{"current_session", ColumnInt},
			{"timer_end", ColumnTime},
			{"start_time", ColumnTime},
			{"end_time", ColumnTime},
			{"updated_at", ColumnTime},
		},
	},
	TableResponses: {
		key: []string{"question_id", "user_id"},
		columns: []Column{
			{"question_id", ColumnInt},
			{"user_id", ColumnText},
			{"question_type", ColumnText},
			{"answer_text", ColumnText},
			{"answer_options", ColumnJSON},
			{"answer_number", ColumnInt},
			{"answer_emoji", ColumnText},
			{"session_number", ColumnInt},
			{"response_time_ms", ColumnBigInt},
			{"submitted_at", ColumnTime},
		},
	},
	TableParticipants: {
		key: []string{"user_id"},
		columns: []Column{
			{"user_id", ColumnText},
			{"nickname", ColumnText},
			{"gender", ColumnText},
			{"color_hex", ColumnText},
			{"is_active", ColumnBool},
			{"joined_at", ColumnTime},
		},
	},
	TableQuestions: {
		key: []string{"question_number"},
		columns: []Column{
			{"question_number", ColumnInt},
			{"session_number", ColumnInt},
			{"session_name", ColumnText},
			{"question_text", ColumnText},
			{"question_type", ColumnText},
			{"options", ColumnJSON},
			{"constraints", ColumnJSON},
			{"timer_seconds", ColumnInt},
			{"chart_type", ColumnText},
		},
	},
}

// Tables lists the schema tables in a stable order.
func Tables() []Table {
	return []Table{TableSurveyState, TableResponses, TableParticipants, TableQuestions}
}

// Columns returns the columns of a table.
func Columns(table Table) ([]Column, error) {
	s, ok := schema[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return s.columns, nil
}

// NaturalKey returns the key columns of a table.
func NaturalKey(table Table) ([]string, error) {
	s, ok := schema[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return s.key, nil
}

// Project drops columns that are not part of the table schema.
func Project(table Table, row Row) (Row, error) {
	cols, err := Columns(table)
	if err != nil {
		return nil, err
	}
	out := make(Row, len(cols))
	for _, c := range cols {
		if v, ok := row[c.Name]; ok {
			out[c.Name] = v
		}
	}
	return out, nil
}

// KeyOf renders the natural key of a row as a single string.
func KeyOf(table Table, row Row) (string, error) {
	key, err := NaturalKey(table)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(key))
	for _, col := range key {
		v, ok := row[col]
		if !ok || v == nil || scalarString(v) == "" {
			return "", fmt.Errorf("%w: %s.%s", ErrMissingKey, table, col)
		}
		parts = append(parts, scalarString(v))
	}
	return strings.Join(parts, ":"), nil
}

// Matches reports whether every column in match has an equal value in row.
// Values are compared by their scalar rendering so 3 and 3.0 are equal.
func Matches(row, match Row) bool {
	for col, want := range match {
		got, ok := row[col]
		if !ok {
			return false
		}
		if scalarString(got) != scalarString(want) {
			return false
		}
	}
	return true
}

// StampServerFields fills the fields the server owns: the singleton state id and
// creation/update timestamps. The row is modified in place.
func StampServerFields(table Table, row Row, now time.Time) {
	ts := now.UTC().Format(time.RFC3339Nano)
	switch table {
	case TableSurveyState:
		row["id"] = StateRowID
		row["updated_at"] = ts
	case TableResponses:
		if v, ok := row["submitted_at"]; !ok || v == nil {
			row["submitted_at"] = ts
		}
	case TableParticipants:
		if v, ok := row["joined_at"]; !ok || v == nil {
			row["joined_at"] = ts
		}
		if _, ok := row["is_active"]; !ok {
			row["is_active"] = true
		}
	}
}

// SortRows orders rows by natural key, numerically where the values are numbers.
func SortRows(table Table, rows []Row) {
	key, err := NaturalKey(table)
	if err != nil {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, col := range key {
			a, b := rows[i][col], rows[j][col]
			af, aNum := toFloat(a)
			bf, bNum := toFloat(b)
			if aNum && bNum {
				if af != bf {
					return af < bf
				}
				continue
			}
			as, bs := scalarString(a), scalarString(b)
			if as != bs {
				return as < bs
			}
		}
		return false
	})
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func scalarString(v any) string {
	if f, ok := toFloat(v); ok {
		if f == float64(int64(f)) {
			return fmt.Sprintf("%d", int64(f))
		}
		return fmt.Sprintf("%g", f)
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
