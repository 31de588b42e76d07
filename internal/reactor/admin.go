package reactor

import (
	"retreat-quiz/internal/app"
	"retreat-quiz/internal/domain"
)

// AdminView renders the admin console.
type AdminView interface {
	// ShowStatus gets the current question, or nil when none is open.
	ShowStatus(state domain.QuizState, question *domain.Question)
	ShowStats(stats app.Stats)
	ShowParticipants(list []domain.Participant)
	SetTimer(remaining int, display string)
}

// Admin keeps the console in step with the quiz. Progression itself goes
// through app.Controller.
type Admin struct {
	view AdminView
}

func NewAdmin(view AdminView) *Admin {
	return &Admin{view: view}
}

func (a *Admin) Role() app.Role { return app.RoleAdmin }

func (a *Admin) OnStateChange(sc *app.SyncContext, _ *domain.QuizState, next domain.QuizState) {
	var question *domain.Question
	if next.CurrentQuestion > 0 {
		if q, ok := sc.Question(next.CurrentQuestion); ok {
			question = &q
		}
	}
	a.view.ShowStatus(next, question)
	a.view.ShowStats(sc.Stats())
}

func (a *Admin) OnResponsesChanged(sc *app.SyncContext, questionID int) {
	if questionID == sc.State().CurrentQuestion {
		a.view.ShowStats(sc.Stats())
	}
}

func (a *Admin) OnParticipantsChanged(sc *app.SyncContext) {
	a.view.ShowParticipants(sc.Participants())
	a.view.ShowStats(sc.Stats())
}

func (a *Admin) OnTimerTick(_ *app.SyncContext, remaining int, display string) {
	a.view.SetTimer(remaining, display)
}
