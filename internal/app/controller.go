package app

import (
	"context"
	"fmt"

	"retreat-quiz/internal/domain"
	"retreat-quiz/internal/timer"
)

// DefaultTimerSeconds is used for questions without their own timer.
const DefaultTimerSeconds = 10

// Controller drives question progression for the admin role. Every step is a
// single UpdateQuizState call.
type Controller struct {
	engine *Engine
}

func NewController(e *Engine) *Controller {
	return &Controller{engine: e}
}

// Start opens the first question with a fresh start time.
func (c *Controller) Start(ctx context.Context) (Result[domain.QuizState], error) {
	qs := c.engine.questions()
	if len(qs) == 0 {
		return Result[domain.QuizState]{}, domain.ErrQuizNotFound
	}
	now := c.engine.clock.Now().UnixMilli()
	next := c.stateFor(qs[0], now)
	next.StartTime = domain.Millis(now)
	return c.engine.UpdateQuizState(ctx, next)
}

// Next advances one question; past the last question it ends the quiz.
func (c *Controller) Next(ctx context.Context) (Result[domain.QuizState], error) {
	return c.step(ctx, 1)
}

// Prev goes back one question. It fails on the first question.
func (c *Controller) Prev(ctx context.Context) (Result[domain.QuizState], error) {
	return c.step(ctx, -1)
}

// End finishes the quiz.
func (c *Controller) End(ctx context.Context) (Result[domain.QuizState], error) {
	cur := c.engine.CurrentState()
	now := c.engine.clock.Now().UnixMilli()
	return c.engine.UpdateQuizState(ctx, domain.QuizState{
		Status:    domain.StatusFinished,
		StartTime: cur.StartTime,
		EndTime:   domain.Millis(now),
	})
}

func (c *Controller) step(ctx context.Context, delta int) (Result[domain.QuizState], error) {
	cur := c.engine.CurrentState()
	if cur.Status != domain.StatusActive {
		return Result[domain.QuizState]{}, fmt.Errorf("%w: quiz is %s", domain.ErrInvalidState, cur.Status)
	}
	qs := c.engine.questions()
	idx := -1
	for i, q := range qs {
		if q.Number == cur.CurrentQuestion {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Result[domain.QuizState]{}, fmt.Errorf("%w: %d", domain.ErrQuestionNotFound, cur.CurrentQuestion)
	}

	target := idx + delta
	switch {
	case target >= len(qs):
		return c.End(ctx)
	case target < 0:
		return Result[domain.QuizState]{}, fmt.Errorf("%w: no question before %d", domain.ErrQuestionNotFound, cur.CurrentQuestion)
	}

	next := c.stateFor(qs[target], c.engine.clock.Now().UnixMilli())
	next.StartTime = cur.StartTime
	return c.engine.UpdateQuizState(ctx, next)
}

func (c *Controller) stateFor(q domain.Question, now int64) domain.QuizState {
	seconds := q.TimerSeconds
	if seconds <= 0 {
		seconds = DefaultTimerSeconds
	}
	return domain.QuizState{
		Status:          domain.StatusActive,
		CurrentQuestion: q.Number,
		CurrentSession:  q.SessionNumber,
		TimerEnd:        domain.Millis(timer.Deadline(now, seconds)),
	}
}
