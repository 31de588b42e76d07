// Package normalize is the only place that knows both document naming
// conventions: the local store's camelCase documents with epoch-millisecond
// timestamps and the remote store's snake_case rows with ISO-8601 timestamps.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"retreat-quiz/internal/domain"
	"retreat-quiz/internal/remote"
)

// State maps a raw state document in either convention to the canonical shape.
// Local-style keys win when both are present. Missing or unreadable fields fall
// back to defaults: status waiting, numbers 0, timestamps nil.
func State(raw map[string]any) domain.QuizState {
	state := domain.QuizState{
		Status:          status(raw["status"]),
		CurrentQuestion: count(pick(raw, "currentQuestion", "current_question")),
		CurrentSession:  count(pick(raw, "currentSession", "current_session")),
		TimerEnd:        timestamp(pick(raw, "timerEnd", "timer_end")),
		StartTime:       timestamp(pick(raw, "startTime", "start_time")),
		EndTime:         timestamp(pick(raw, "endTime", "end_time")),
	}
	return state
}

// DecodeState parses a serialized state document. The returned state is always
// usable; the error reports a malformed document that was replaced by defaults.
func DecodeState(data []byte) (domain.QuizState, error) {
	if len(data) == 0 {
		return domain.InitialState(), nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.InitialState(), fmt.Errorf("%w: %v", domain.ErrMalformedState, err)
	}
	return State(raw), nil
}

// EncodeState serializes a state with local-style field names.
func EncodeState(s domain.QuizState) []byte {
	data, _ := json.Marshal(s)
	return data
}

// LocalState renders a state as a local-style raw document.
func LocalState(s domain.QuizState) map[string]any {
	return map[string]any{
		"status":          string(s.Status),
		"currentQuestion": s.CurrentQuestion,
		"currentSession":  s.CurrentSession,
		"timerEnd":        millisValue(s.TimerEnd),
		"startTime":       millisValue(s.StartTime),
		"endTime":         millisValue(s.EndTime),
	}
}

// RemoteState renders a state as a survey_state row. Server-owned fields
// (id, updated_at) are left to the backend.
func RemoteState(s domain.QuizState) remote.Row {
	return remote.Row{
		"status":           string(s.Status),
		"current_question": s.CurrentQuestion,
		"current_session":  s.CurrentSession,
		"timer_end":        isoValue(s.TimerEnd),
		"start_time":       isoValue(s.StartTime),
		"end_time":         isoValue(s.EndTime),
	}
}

func pick(raw map[string]any, local, remoteKey string) any {
	if v, ok := raw[local]; ok && v != nil {
		return v
	}
	return raw[remoteKey]
}

func status(v any) domain.Status {
	s, ok := v.(string)
	if !ok {
		return domain.StatusWaiting
	}
	st := domain.Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return domain.StatusWaiting
	}
	return st
}

// count reads a non-negative integer.
func count(v any) int {
	n, ok := number(v)
	if !ok || n < 0 || n > math.MaxInt32 {
		return 0
	}
	return int(n)
}

func number(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return int64(f), true
		}
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

// timestamp accepts epoch milliseconds (number or numeric string) or an ISO-8601 string.
func timestamp(v any) *int64 {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				ms := t.UnixMilli()
				return &ms
			}
		}
	}
	ms, ok := number(v)
	if !ok || ms <= 0 {
		return nil
	}
	return &ms
}

// Timestamp exposes timestamp parsing for other row conversions.
func Timestamp(v any) *int64 {
	return timestamp(v)
}

// ISO renders epoch milliseconds as an RFC 3339 UTC string.
func ISO(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

func isoValue(ms *int64) any {
	if ms == nil {
		return nil
	}
	return ISO(*ms)
}

func millisValue(ms *int64) any {
	if ms == nil {
		return nil
	}
	return *ms
}
