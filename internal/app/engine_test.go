package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"

	"retreat-quiz/internal/domain"
	"retreat-quiz/internal/infra/memory"
	"retreat-quiz/internal/normalize"
	"retreat-quiz/internal/remote"
)

func TestStartRequiresReactor(t *testing.T) {
	e := newLocalEngine(t)
	if err := e.Start(context.Background(), nil, ""); !errors.Is(err, ErrNoReactor) {
		t.Fatalf("expected ErrNoReactor, got %v", err)
	}
}

func TestFirstObservationHasNoPrevious(t *testing.T) {
	e := newLocalEngine(t)
	rec := newRecorder()
	if err := e.Start(context.Background(), rec, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.waitFor(t, "state")

	got := rec.transitions()
	if len(got) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(got))
	}
	if got[0].prev != nil {
		t.Fatalf("expected nil previous state, got %+v", got[0].prev)
	}
	if diff := cmp.Diff(domain.InitialState(), got[0].next); diff != "" {
		t.Fatalf("unexpected first state (-want +got):\n%s", diff)
	}
}

func TestUnchangedStateIsNotRedispatched(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	e := newLocalEngine(t, WithClock(clock), WithPollInterval(time.Second))
	ctx := context.Background()

	end := clock.Now().UnixMilli() + 10_000
	if _, err := e.UpdateQuizState(ctx, domain.QuizState{Status: domain.StatusActive, CurrentQuestion: 1, CurrentSession: 1, TimerEnd: &end}); err != nil {
		t.Fatalf("update state: %v", err)
	}

	rec := newRecorder()
	if err := e.Start(ctx, rec, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.waitFor(t, "state")

	for i := 0; i < 5; i++ {
		e.CheckState()
	}

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
			t.Fatalf("ticker never registered: %v", err)
		}
		clock.Advance(time.Second)
		rec.waitFor(t, "timer")
	}

	if n := len(rec.transitions()); n != 1 {
		t.Fatalf("expected exactly one state dispatch, got %d", n)
	}
	ticks := rec.timerTicks()
	if diff := cmp.Diff([]int{9, 8, 7}, ticks); diff != "" {
		t.Fatalf("unexpected timer ticks (-want +got):\n%s", diff)
	}
	rec.mu.Lock()
	display := rec.displays[0]
	rec.mu.Unlock()
	if display != "00:09" {
		t.Fatalf("expected display 00:09, got %q", display)
	}
}

func TestTimerNotTickedWhileWaiting(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := newLocalEngine(t, WithClock(clock))
	rec := newRecorder()
	if err := e.Start(context.Background(), rec, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.waitFor(t, "state")

	for i := 0; i < 2; i++ {
		e.tick()
	}
	if ticks := rec.timerTicks(); len(ticks) != 0 {
		t.Fatalf("expected no timer ticks, got %v", ticks)
	}
}

func TestOtherClientWriteReachesParticipant(t *testing.T) {
	area := memory.NewArea()
	admin := NewEngine(area.Open(), nil)
	participant := NewEngine(area.Open(), nil)
	t.Cleanup(participant.Stop)
	ctx := context.Background()

	rec := newRecorder()
	if err := participant.Start(ctx, rec, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.waitFor(t, "state")

	next := domain.QuizState{Status: domain.StatusActive, CurrentQuestion: 1, CurrentSession: 1, TimerEnd: domain.Millis(time.Now().Add(time.Minute).UnixMilli())}
	if _, err := admin.UpdateQuizState(ctx, next); err != nil {
		t.Fatalf("admin update: %v", err)
	}
	rec.waitFor(t, "state")

	for i := 0; i < 3; i++ {
		participant.CheckState()
	}

	got := rec.transitions()
	if len(got) != 2 {
		t.Fatalf("expected waiting then question dispatch, got %d dispatches", len(got))
	}
	if got[1].prev == nil || got[1].prev.Status != domain.StatusWaiting {
		t.Fatalf("expected transition from waiting, got %+v", got[1].prev)
	}
	if diff := cmp.Diff(next, got[1].next); diff != "" {
		t.Fatalf("unexpected state (-want +got):\n%s", diff)
	}
}

func TestLocalResponseAndParticipantWritesNotifyOtherClients(t *testing.T) {
	area := memory.NewArea()
	writer := NewEngine(area.Open(), nil)
	watcher := NewEngine(area.Open(), nil)
	t.Cleanup(watcher.Stop)
	ctx := context.Background()

	if _, err := writer.UpdateQuizState(ctx, domain.QuizState{Status: domain.StatusActive, CurrentQuestion: 2, CurrentSession: 1}); err != nil {
		t.Fatalf("update: %v", err)
	}
	rec := newRecorder()
	rec.role = RoleResults
	if err := watcher.Start(ctx, rec, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.waitFor(t, "state")

	if _, err := writer.SaveResponse(ctx, textAnswer(2, "u1", "joy")); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec.waitFor(t, "responses")
	rec.mu.Lock()
	qid := rec.responses[0]
	rec.mu.Unlock()
	if qid != 2 {
		t.Fatalf("expected notification for question 2, got %d", qid)
	}

	if _, err := writer.RegisterParticipant(ctx, domain.Participant{UserID: "u1", Nickname: "Sam", Gender: domain.GenderMale}); err != nil {
		t.Fatalf("register: %v", err)
	}
	rec.waitFor(t, "participants")
	if n := len(watcher.Participants()); n != 1 {
		t.Fatalf("expected 1 participant visible to watcher, got %d", n)
	}
}

func TestStartStopAreIdempotent(t *testing.T) {
	e := newLocalEngine(t)
	ctx := context.Background()

	e.Stop()
	first, second := newRecorder(), newRecorder()
	if err := e.Start(ctx, first, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	first.waitFor(t, "state")
	if err := e.Start(ctx, second, "u1"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	second.waitFor(t, "state")

	e.Stop()
	e.Stop()

	// A write after Stop lands but notifies nobody.
	if _, err := e.UpdateQuizState(ctx, domain.QuizState{Status: domain.StatusFinished}); err != nil {
		t.Fatalf("late write: %v", err)
	}
	e.CheckState()
	if got := e.CurrentState().Status; got != domain.StatusFinished {
		t.Fatalf("expected late write to land, got %s", got)
	}
	if n := len(first.transitions()); n != 1 {
		t.Fatalf("first reactor saw %d dispatches, want 1", n)
	}
	if n := len(second.transitions()); n != 1 {
		t.Fatalf("second reactor saw %d dispatches, want 1", n)
	}
}

func TestSyncContextReadsLocalDocuments(t *testing.T) {
	catalog := memory.NewQuestionCatalog(memory.NewStaticQuizLoader(sampleQuiz()), time.Minute)
	e := newLocalEngine(t, WithCatalog(catalog))
	ctx := context.Background()

	if _, err := e.SaveResponse(ctx, textAnswer(1, "u1", "good")); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec := newRecorder()
	if err := e.Start(ctx, rec, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.waitFor(t, "state")

	e.mu.Lock()
	sc := e.sc
	e.mu.Unlock()
	if !sc.HasAnswered(1) || sc.HasAnswered(2) {
		t.Fatalf("unexpected answered flags")
	}
	if q, ok := sc.Question(3); !ok || q.SessionNumber != 2 || q.SessionName != "Evening" {
		t.Fatalf("unexpected question lookup: %+v ok=%v", q, ok)
	}
	if n := len(sc.Questions()); n != 3 {
		t.Fatalf("expected 3 questions, got %d", n)
	}
	if n := len(sc.Responses(1)); n != 1 {
		t.Fatalf("expected 1 response, got %d", n)
	}
}

func TestBroadcastSideChannelDrivesChangeDetection(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	local := memory.NewStore()
	rs := &broadcastRemote{}
	e := NewEngine(local, rs, WithClock(clock))
	t.Cleanup(e.Stop)
	ctx := context.Background()

	rec := newRecorder()
	if err := e.Start(ctx, rec, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.waitFor(t, "state")

	rs.deliver(EventQuizUpdate, remote.Row{"type": MsgStateUpdated})
	rs.deliver(EventQuizUpdate, remote.Row{"type": "mystery"})

	active := domain.QuizState{Status: domain.StatusActive, CurrentQuestion: 2, CurrentSession: 1}
	update := remote.Row{"type": MsgStateUpdated, "state": normalize.RemoteState(active)}
	rs.deliver(EventQuizUpdate, update)
	rec.waitFor(t, "state")
	if diff := cmp.Diff(active, e.CurrentState()); diff != "" {
		t.Fatalf("broadcast state not applied (-want +got):\n%s", diff)
	}
	rs.deliver(EventQuizUpdate, update)

	// Written through the engine's own handle, so only quiz_ended reveals it.
	finished := domain.QuizState{Status: domain.StatusFinished, EndTime: domain.Millis(clock.Now().UnixMilli())}
	if err := local.Set(KeyState, normalize.EncodeState(finished)); err != nil {
		t.Fatalf("set state: %v", err)
	}
	rs.deliver(EventQuizUpdate, remote.Row{"type": MsgQuizEnded})
	rec.waitFor(t, "state")

	got := rec.transitions()
	if len(got) != 3 {
		t.Fatalf("expected 3 dispatches (initial, active, finished), got %d: %+v", len(got), got)
	}
	if diff := cmp.Diff(&active, got[2].prev); diff != "" {
		t.Fatalf("finished transition prev (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(finished, got[2].next); diff != "" {
		t.Fatalf("finished transition next (-want +got):\n%s", diff)
	}
}
