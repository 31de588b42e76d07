package normalize

import (
	"encoding/json"
	"sort"
	"strings"

	"retreat-quiz/internal/domain"
	"retreat-quiz/internal/remote"
)

// ResponseRow renders a response as a responses row.
func ResponseRow(r domain.Response) remote.Row {
	row := remote.Row{
		"question_id":      r.QuestionID,
		"user_id":          r.UserID,
		"question_type":    nullString(string(r.QuestionType)),
		"answer_text":      nullString(r.AnswerText),
		"answer_emoji":     nullString(r.AnswerEmoji),
		"session_number":   r.SessionNumber,
		"response_time_ms": r.ResponseTimeMs,
		"answer_options":   nil,
		"answer_number":    nil,
	}
	if len(r.AnswerOptions) > 0 {
		row["answer_options"] = r.AnswerOptions
	}
	if r.AnswerNumber != nil {
		row["answer_number"] = *r.AnswerNumber
	}
	if r.SubmittedAt > 0 {
		row["submitted_at"] = ISO(r.SubmittedAt)
	}
	return row
}

// ResponseFromRow reads a responses row. The second result is false when the
// row lacks its natural key.
func ResponseFromRow(row remote.Row) (domain.Response, bool) {
	r := domain.Response{
		QuestionID:     count(row["question_id"]),
		UserID:         str(row["user_id"]),
		QuestionType:   domain.QuestionType(str(row["question_type"])),
		AnswerText:     str(row["answer_text"]),
		AnswerOptions:  stringList(row["answer_options"]),
		AnswerEmoji:    str(row["answer_emoji"]),
		SessionNumber:  count(row["session_number"]),
		ResponseTimeMs: int64(count(row["response_time_ms"])),
	}
	if n, ok := number(row["answer_number"]); ok {
		v := int(n)
		r.AnswerNumber = &v
	}
	if ts := timestamp(row["submitted_at"]); ts != nil {
		r.SubmittedAt = *ts
	}
	return r, r.QuestionID > 0 && r.UserID != ""
}

// ParticipantRow renders a participant as a participants row.
func ParticipantRow(p domain.Participant) remote.Row {
	row := remote.Row{
		"user_id":   p.UserID,
		"nickname":  p.Nickname,
		"gender":    string(p.Gender),
		"color_hex": nullString(p.Color),
		"is_active": p.IsActive,
	}
	if p.JoinedAt > 0 {
		row["joined_at"] = ISO(p.JoinedAt)
	}
	return row
}

// ParticipantFromRow reads a participants row.
func ParticipantFromRow(row remote.Row) (domain.Participant, bool) {
	p := domain.Participant{
		UserID:   str(row["user_id"]),
		Nickname: str(row["nickname"]),
		Gender:   domain.Gender(str(row["gender"])),
		Color:    str(row["color_hex"]),
		IsActive: true,
	}
	if v, ok := row["is_active"].(bool); ok {
		p.IsActive = v
	}
	if ts := timestamp(row["joined_at"]); ts != nil {
		p.JoinedAt = *ts
	}
	return p, p.UserID != ""
}

// QuestionFromRow reads a questions row.
func QuestionFromRow(row remote.Row) (domain.Question, bool) {
	q := domain.Question{
		Number:        count(row["question_number"]),
		SessionNumber: count(row["session_number"]),
		SessionName:   str(row["session_name"]),
		Text:          str(row["question_text"]),
		Type:          domain.QuestionType(str(row["question_type"])),
		Options:       stringList(row["options"]),
		TimerSeconds:  count(row["timer_seconds"]),
		ChartType:     str(row["chart_type"]),
	}
	if c := constraints(row["constraints"]); c != nil {
		q.Constraints = c
	}
	return q, q.Number > 0
}

// QuestionRow renders a question as a questions row.
func QuestionRow(q domain.Question) remote.Row {
	row := remote.Row{
		"question_number": q.Number,
		"session_number":  q.SessionNumber,
		"session_name":    nullString(q.SessionName),
		"question_text":   q.Text,
		"question_type":   string(q.Type),
		"options":         nil,
		"constraints":     nil,
		"timer_seconds":   q.TimerSeconds,
		"chart_type":      nullString(q.ChartType),
	}
	if len(q.Options) > 0 {
		row["options"] = q.Options
	}
	if q.Constraints != nil {
		row["constraints"] = q.Constraints
	}
	return row
}

// QuizData groups flat question rows into sessions ordered by session number,
// with questions ordered by question number.
func QuizData(rows []remote.Row) domain.QuizData {
	bySession := make(map[int]*domain.Session)
	var order []int
	total := 0
	for _, row := range rows {
		q, ok := QuestionFromRow(row)
		if !ok {
			continue
		}
		s, seen := bySession[q.SessionNumber]
		if !seen {
			s = &domain.Session{Number: q.SessionNumber, Name: q.SessionName}
			bySession[q.SessionNumber] = s
			order = append(order, q.SessionNumber)
		}
		s.Questions = append(s.Questions, q)
		total++
	}
	sort.Ints(order)
	data := domain.QuizData{TotalQuestions: total}
	for _, n := range order {
		s := bySession[n]
		sort.SliceStable(s.Questions, func(i, j int) bool {
			return s.Questions[i].Number < s.Questions[j].Number
		})
		data.Sessions = append(data.Sessions, *s)
	}
	return data
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	}
	if n, ok := number(v); ok {
		return jsonString(n)
	}
	return ""
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// stringList reads a list of strings stored as a JSON array or its text encoding.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s := str(item); s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case string:
		if !strings.HasPrefix(strings.TrimSpace(list), "[") {
			return nil
		}
		var out []string
		if err := json.Unmarshal([]byte(list), &out); err != nil {
			return nil
		}
		return out
	}
	return nil
}

func constraints(v any) *domain.Constraints {
	if v == nil {
		return nil
	}
	var data []byte
	if s, ok := v.(string); ok {
		data = []byte(s)
	} else {
		var err error
		if data, err = json.Marshal(v); err != nil {
			return nil
		}
	}
	var c domain.Constraints
	if err := json.Unmarshal(data, &c); err != nil {
		return nil
	}
	if c.MinValue == nil && c.MaxValue == nil {
		return nil
	}
	return &c
}

func jsonString(n int64) string {
	data, _ := json.Marshal(n)
	return string(data)
}
