package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"retreat-quiz/internal/domain"
	"retreat-quiz/internal/infra/memory"
	infraredis "retreat-quiz/internal/infra/redis"
	"retreat-quiz/internal/remote"
)

type transition struct {
	prev *domain.QuizState
	next domain.QuizState
}

// recorder is a reactor that records every notification.
type recorder struct {
	role Role

	mu           sync.Mutex
	states       []transition
	ticks        []int
	displays     []string
	responses    []int
	participants int
	events       chan string
}

func newRecorder() *recorder {
	return &recorder{role: RoleParticipant, events: make(chan string, 256)}
}

func (r *recorder) Role() Role { return r.role }

func (r *recorder) OnStateChange(_ *SyncContext, prev *domain.QuizState, next domain.QuizState) {
	r.mu.Lock()
	r.states = append(r.states, transition{prev: prev, next: next})
	r.mu.Unlock()
	r.emit("state")
}

func (r *recorder) OnTimerTick(_ *SyncContext, remaining int, display string) {
	r.mu.Lock()
	r.ticks = append(r.ticks, remaining)
	r.displays = append(r.displays, display)
	r.mu.Unlock()
	r.emit("timer")
}

func (r *recorder) OnResponsesChanged(_ *SyncContext, questionID int) {
	r.mu.Lock()
	r.responses = append(r.responses, questionID)
	r.mu.Unlock()
	r.emit("responses")
}

func (r *recorder) OnParticipantsChanged(*SyncContext) {
	r.mu.Lock()
	r.participants++
	r.mu.Unlock()
	r.emit("participants")
}

func (r *recorder) emit(kind string) {
	select {
	case r.events <- kind:
	default:
	}
}

func (r *recorder) waitFor(t *testing.T, kind string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-r.events:
			if got == kind {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s notification", kind)
		}
	}
}

func (r *recorder) transitions() []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transition(nil), r.states...)
}

func (r *recorder) timerTicks() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.ticks...)
}

// failingRemote is connected but fails every call.
type failingRemote struct{}

var errRemoteDown = errors.New("remote down")

func (failingRemote) Connected() bool { return true }

func (failingRemote) Write(context.Context, remote.Table, remote.Row) remote.Result {
	return remote.Result{Err: errRemoteDown}
}

func (failingRemote) Insert(context.Context, remote.Table, remote.Row) remote.Result {
	return remote.Result{Err: errRemoteDown}
}

func (failingRemote) Select(context.Context, remote.Table, remote.Row) ([]remote.Row, error) {
	return nil, errRemoteDown
}

func (failingRemote) Clear(context.Context, remote.Table) remote.Result {
	return remote.Result{Err: errRemoteDown}
}

func (failingRemote) Broadcast(context.Context, string, remote.Row) error { return errRemoteDown }

func (failingRemote) SubscribeChanges(remote.Table, remote.EventType, func(remote.Change)) func() {
	return func() {}
}

func (failingRemote) SubscribeBroadcast(string, func(remote.Broadcast)) func() { return func() {} }

func newMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr
}

func newRedisAdapter(t *testing.T, mr *miniredis.Miniredis) *remote.Adapter {
	t.Helper()
	dial := func(ctx context.Context, cfg remote.Config) (remote.Backend, error) {
		b, err := infraredis.Dial(ctx, cfg, zerolog.Nop())
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	a := remote.NewAdapter(dial, zerolog.Nop())
	if !a.Connect(context.Background(), remote.Config{URL: "redis://" + mr.Addr()}) {
		t.Fatalf("adapter failed to connect to miniredis")
	}
	t.Cleanup(a.Close)
	return a
}

func newLocalEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := NewEngine(memory.NewStore(), nil, opts...)
	t.Cleanup(e.Stop)
	return e
}

func sampleQuiz() *domain.QuizData {
	return &domain.QuizData{
		Sessions: []domain.Session{
			{Number: 1, Name: "Morning", Questions: []domain.Question{
				{Number: 1, Text: "Mood?", Type: domain.QuestionRadio, Options: []string{"good", "tired"}, TimerSeconds: 20},
				{Number: 2, Text: "One word", Type: domain.QuestionText},
			}},
			{Number: 2, Name: "Evening", Questions: []domain.Question{
				{Number: 3, Text: "Energy", Type: domain.QuestionSlider, TimerSeconds: 30},
			}},
		},
	}
}

func textAnswer(q int, user, text string) domain.Response {
	return domain.Response{QuestionID: q, UserID: user, QuestionType: domain.QuestionText, AnswerText: text}
}

// broadcastRemote delivers side-channel messages only; every table call fails.
type broadcastRemote struct {
	failingRemote

	mu       sync.Mutex
	handlers map[string][]func(remote.Broadcast)
}

func (b *broadcastRemote) SubscribeBroadcast(event string, fn func(remote.Broadcast)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[string][]func(remote.Broadcast))
	}
	b.handlers[event] = append(b.handlers[event], fn)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, event)
	}
}

func (b *broadcastRemote) deliver(event string, payload remote.Row) {
	b.mu.Lock()
	fns := make([]func(remote.Broadcast), len(b.handlers[event]))
	copy(fns, b.handlers[event])
	b.mu.Unlock()
	for _, fn := range fns {
		fn(remote.Broadcast{Event: event, Payload: payload})
	}
}
