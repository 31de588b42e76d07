package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"retreat-quiz/internal/app"
	"retreat-quiz/internal/domain"
	"retreat-quiz/internal/reactor"
	"retreat-quiz/internal/tally"
)

// console prints view updates as lines. Timer lines are only printed when the
// display changes.
type console struct {
	mu        sync.Mutex
	out       io.Writer
	lastTimer string
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *console) SetTimer(_ int, display string) {
	c.mu.Lock()
	changed := display != c.lastTimer
	c.lastTimer = display
	c.mu.Unlock()
	if changed {
		c.printf("timer %s", display)
	}
}

func (c *console) ShowWaiting() { c.printf("waiting for the next question") }

func (c *console) ShowFinished() { c.printf("quiz finished, thank you") }

func (c *console) ShowQuestion(q domain.Question) {
	c.printf("Q%d [%s] %s", q.Number, q.Type, q.Text)
	for i, o := range q.Options {
		c.printf("  %d) %s", i+1, o)
	}
}

func (c *console) ShowStats(q domain.Question, buckets []tally.Bucket) {
	c.printf("Q%d answers: %s", q.Number, formatBuckets(buckets))
}

func (c *console) ShowStatus(state domain.QuizState, q *domain.Question) {
	if q == nil {
		c.printf("status %s", state.Status)
		return
	}
	c.printf("status %s: Q%d (session %d) %s", state.Status, q.Number, q.SessionNumber, q.Text)
}

func (c *console) ShowAdminStats(s app.Stats) {
	c.printf("participants %d, answers to Q%d: %d", s.TotalParticipants, s.CurrentQuestion, s.CurrentResponses)
}

func (c *console) ShowParticipants(list []domain.Participant) {
	names := make([]string, 0, len(list))
	for _, p := range list {
		names = append(names, p.Nickname)
	}
	c.printf("participants (%d): %s", len(list), strings.Join(names, ", "))
}

func (c *console) ShowState(state domain.QuizState) {
	c.printf("state %s, question %d", state.Status, state.CurrentQuestion)
}

func (c *console) ShowQuestionResults(r reactor.QuestionResults) {
	c.printf("Q%d %s chart, %d/%d answered (%d%%): %s", r.Question.Number, r.Chart, r.Responses, r.Participants, r.ResponseRate, formatBuckets(r.Buckets))
}

func (c *console) ShowSummary(s tally.Summary) {
	if s.MostPopular == nil {
		c.printf("completed questions %d", s.CompletedQuestions)
		return
	}
	c.printf("completed questions %d, most popular %q on %q (%d), avg %.1fs",
		s.CompletedQuestions, s.MostPopular.Answer, s.MostPopular.Question, s.MostPopular.Count, s.AvgResponseSeconds)
}

// adminConsole adapts console to reactor.AdminView, whose ShowStats differs
// from the participant one.
type adminConsole struct{ *console }

func (a adminConsole) ShowStats(s app.Stats) { a.ShowAdminStats(s) }

func formatBuckets(buckets []tally.Bucket) string {
	parts := make([]string, 0, len(buckets))
	for _, b := range buckets {
		parts = append(parts, fmt.Sprintf("%s=%d", b.Label, b.Count))
	}
	return strings.Join(parts, " ")
}
