package reactor

import (
	"retreat-quiz/internal/app"
	"retreat-quiz/internal/domain"
	"retreat-quiz/internal/tally"
)

// QuestionResults is the chart data of the open question.
type QuestionResults struct {
	Question     domain.Question `json:"question"`
	Chart        string          `json:"chart"`
	Buckets      []tally.Bucket  `json:"buckets"`
	Responses    int             `json:"responses"`
	Participants int             `json:"participants"`
	ResponseRate int             `json:"responseRate"`
}

// ResultsView renders the results dashboard.
type ResultsView interface {
	ShowState(state domain.QuizState)
	ShowQuestionResults(r QuestionResults)
	ShowSummary(s tally.Summary)
	ShowParticipants(list []domain.Participant)
	SetTimer(remaining int, display string)
}

// Results feeds the dashboard charts.
type Results struct {
	view ResultsView
}

func NewResults(view ResultsView) *Results {
	return &Results{view: view}
}

func (r *Results) Role() app.Role { return app.RoleResults }

func (r *Results) OnStateChange(sc *app.SyncContext, _ *domain.QuizState, next domain.QuizState) {
	r.view.ShowState(next)
	if next.Status == domain.StatusActive {
		r.question(sc, next.CurrentQuestion)
	}
	r.summary(sc)
}

func (r *Results) OnResponsesChanged(sc *app.SyncContext, questionID int) {
	if questionID == sc.State().CurrentQuestion {
		r.question(sc, questionID)
	}
	r.summary(sc)
}

func (r *Results) OnParticipantsChanged(sc *app.SyncContext) {
	r.view.ShowParticipants(active(sc.Participants()))
	r.summary(sc)
}

func (r *Results) OnTimerTick(_ *app.SyncContext, remaining int, display string) {
	r.view.SetTimer(remaining, display)
}

func (r *Results) question(sc *app.SyncContext, n int) {
	q, ok := sc.Question(n)
	if !ok {
		return
	}
	responses := sc.Responses(n)
	participants := len(active(sc.Participants()))
	r.view.ShowQuestionResults(QuestionResults{
		Question:     q,
		Chart:        tally.ChartKind(q.ChartType),
		Buckets:      tally.Count(q, responses),
		Responses:    len(responses),
		Participants: participants,
		ResponseRate: tally.Percent(len(responses), participants),
	})
}

func (r *Results) summary(sc *app.SyncContext) {
	r.view.ShowSummary(tally.Summarize(sc.Questions(), sc.AllResponses(), len(active(sc.Participants()))))
}

func active(list []domain.Participant) []domain.Participant {
	out := make([]domain.Participant, 0, len(list))
	for _, p := range list {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out
}
