// Package reactor holds the role-specific consumers of sync engine notifications.
package reactor

import (
	"github.com/rs/zerolog"

	"retreat-quiz/internal/app"
	"retreat-quiz/internal/domain"
	"retreat-quiz/internal/tally"
)

// Screen is what a participant client currently shows.
type Screen string

const (
	ScreenWaiting  Screen = "waiting"
	ScreenQuestion Screen = "question"
	ScreenStats    Screen = "stats"
	ScreenFinished Screen = "finished"
)

// ParticipantView renders the participant screens.
type ParticipantView interface {
	ShowWaiting()
	ShowQuestion(q domain.Question)
	ShowStats(q domain.Question, buckets []tally.Bucket)
	ShowFinished()
	SetTimer(remaining int, display string)
}

// Participant drives one participant's screen. A question the user already
// answered is shown as live statistics instead of the answer form.
type Participant struct {
	view ParticipantView
	log  zerolog.Logger

	screen  Screen
	current int
}

func NewParticipant(view ParticipantView, log zerolog.Logger) *Participant {
	return &Participant{view: view, log: log.With().Str("reactor", string(app.RoleParticipant)).Logger()}
}

func (p *Participant) Role() app.Role { return app.RoleParticipant }

func (p *Participant) OnStateChange(sc *app.SyncContext, prev *domain.QuizState, next domain.QuizState) {
	if prev == nil {
		// first observation of a new attachment; the view starts blank
		p.screen, p.current = "", 0
	}
	switch {
	case next.Status == domain.StatusFinished:
		p.current = 0
		if p.screen != ScreenFinished {
			p.screen = ScreenFinished
			p.view.ShowFinished()
		}
	case next.Status == domain.StatusActive && next.CurrentQuestion > 0:
		if next.CurrentQuestion == p.current {
			return
		}
		p.open(sc, next.CurrentQuestion)
	default:
		p.waiting()
	}
}

func (p *Participant) OnResponsesChanged(sc *app.SyncContext, questionID int) {
	if p.current == 0 || questionID != p.current {
		return
	}
	switch p.screen {
	case ScreenQuestion:
		if !sc.HasAnswered(questionID) {
			return
		}
	case ScreenStats:
	default:
		return
	}
	if q, ok := sc.Question(questionID); ok {
		p.stats(sc, q)
	}
}

func (p *Participant) OnTimerTick(_ *app.SyncContext, remaining int, display string) {
	if p.screen == ScreenQuestion {
		p.view.SetTimer(remaining, display)
	}
}

func (p *Participant) open(sc *app.SyncContext, n int) {
	q, ok := sc.Question(n)
	if !ok {
		p.log.Warn().Int("question", n).Msg("question not in quiz data")
		p.waiting()
		return
	}
	p.current = n
	if sc.HasAnswered(n) {
		p.stats(sc, q)
		return
	}
	p.screen = ScreenQuestion
	p.view.ShowQuestion(q)
}

func (p *Participant) stats(sc *app.SyncContext, q domain.Question) {
	p.screen = ScreenStats
	p.view.ShowStats(q, tally.Count(q, sc.Responses(q.Number)))
}

func (p *Participant) waiting() {
	p.current = 0
	if p.screen != ScreenWaiting {
		p.screen = ScreenWaiting
		p.view.ShowWaiting()
	}
}
