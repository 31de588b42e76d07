package tally

import "retreat-quiz/internal/domain"

// Popular is the single most chosen answer across all questions.
type Popular struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Count    int    `json:"count"`
}

// Summary is the overview shown beside the per-question chart.
type Summary struct {
	MostPopular          *Popular    `json:"mostPopular,omitempty"`
	AvgResponseSeconds   float64     `json:"avgResponseSeconds"`
	CompletedQuestions   int         `json:"completedQuestions"`
	SessionParticipation map[int]int `json:"sessionParticipation"`
}

// Summarize builds the overview from every question's responses keyed by question number.
func Summarize(questions []domain.Question, responses map[int][]domain.Response, participants int) Summary {
	sum := Summary{SessionParticipation: make(map[int]int)}

	byNumber := make(map[int]domain.Question, len(questions))
	for _, q := range questions {
		byNumber[q.Number] = q
	}

	var totalMs int64
	timed := 0
	for number, rs := range responses {
		if len(rs) > 0 {
			sum.CompletedQuestions++
		}
		for _, r := range rs {
			if r.ResponseTimeMs > 0 {
				totalMs += r.ResponseTimeMs
				timed++
			}
		}
		q, ok := byNumber[number]
		if !ok {
			continue
		}
		for _, b := range Count(q, rs) {
			if b.Count > 0 && (sum.MostPopular == nil || b.Count > sum.MostPopular.Count) {
				sum.MostPopular = &Popular{Question: q.Text, Answer: b.Label, Count: b.Count}
			}
		}
	}
	if timed > 0 {
		sum.AvgResponseSeconds = float64(totalMs) / float64(timed) / 1000
	}

	answered := make(map[int]int)
	possible := make(map[int]int)
	for _, q := range questions {
		answered[q.SessionNumber] += len(responses[q.Number])
		possible[q.SessionNumber] += participants
	}
	for session, p := range possible {
		sum.SessionParticipation[session] = Percent(answered[session], p)
	}
	return sum
}
