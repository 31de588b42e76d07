package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"retreat-quiz/internal/domain"
	"retreat-quiz/internal/infra/memory"
	"retreat-quiz/internal/normalize"
	"retreat-quiz/internal/remote"
)

func TestUpdateQuizStateRejectsInvalidState(t *testing.T) {
	e := newLocalEngine(t)
	_, err := e.UpdateQuizState(context.Background(), domain.QuizState{Status: domain.StatusActive})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if got := e.CurrentState(); got.Status != domain.StatusWaiting {
		t.Fatalf("invalid state must not be stored, got %+v", got)
	}
}

func TestWritesFallBackToLocalStore(t *testing.T) {
	e := NewEngine(memory.NewStore(), failingRemote{})
	ctx := context.Background()

	next := domain.QuizState{Status: domain.StatusActive, CurrentQuestion: 1, CurrentSession: 1}
	res, err := e.UpdateQuizState(ctx, next)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !res.Local || !errors.Is(res.RemoteErr, domain.ErrRemoteWriteFailed) {
		t.Fatalf("expected local fallback with remote error, got %+v", res)
	}
	if diff := cmp.Diff(next, e.CurrentState()); diff != "" {
		t.Fatalf("fallback state not readable (-want +got):\n%s", diff)
	}

	saved, err := e.SaveResponse(ctx, textAnswer(1, "u1", "peace"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !saved.Local {
		t.Fatalf("expected local fallback for response")
	}
	if got := e.Responses(1); len(got) != 1 || got[0].AnswerText != "peace" {
		t.Fatalf("fallback response not readable: %+v", got)
	}

	reg, err := e.RegisterParticipant(ctx, domain.Participant{Nickname: "Ana", Gender: domain.GenderFemale})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !reg.Local || reg.Value.UserID == "" || reg.Value.Color == "" {
		t.Fatalf("unexpected fallback registration: %+v", reg)
	}
}

func TestSaveResponseAtMostOnce(t *testing.T) {
	for name, e := range map[string]*Engine{
		"local":  NewEngine(memory.NewStore(), nil),
		"failed": NewEngine(memory.NewStore(), failingRemote{}),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := e.SaveResponse(ctx, textAnswer(3, "u1", "first")); err != nil {
				t.Fatalf("first save: %v", err)
			}
			_, err := e.SaveResponse(ctx, textAnswer(3, "u1", "second"))
			if !errors.Is(err, domain.ErrDuplicateResponse) {
				t.Fatalf("expected ErrDuplicateResponse, got %v", err)
			}
			got := e.Responses(3)
			if len(got) != 1 || got[0].AnswerText != "first" {
				t.Fatalf("expected the first answer to stay, got %+v", got)
			}
		})
	}
}

func TestSaveResponseRejectsEmptyAnswer(t *testing.T) {
	e := newLocalEngine(t)
	_, err := e.SaveResponse(context.Background(), domain.Response{QuestionID: 1, UserID: "u1"})
	if !errors.Is(err, domain.ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestRegisterParticipantNicknameCollision(t *testing.T) {
	e := newLocalEngine(t)
	ctx := context.Background()

	a, err := e.RegisterParticipant(ctx, domain.Participant{UserID: "a", Nickname: "Sam", Gender: domain.GenderMale})
	if err != nil {
		t.Fatalf("register a: %v", err)
	}
	_, err = e.RegisterParticipant(ctx, domain.Participant{UserID: "b", Nickname: " Sam ", Gender: domain.GenderFemale})
	if !errors.Is(err, domain.ErrDuplicateNickname) {
		t.Fatalf("expected ErrDuplicateNickname, got %v", err)
	}

	again, err := e.RegisterParticipant(ctx, domain.Participant{UserID: "a", Nickname: "Sam", Gender: domain.GenderMale})
	if err != nil {
		t.Fatalf("re-register a: %v", err)
	}
	if again.Value.Color != a.Value.Color || again.Value.JoinedAt != a.Value.JoinedAt {
		t.Fatalf("rejoin should keep color and join time: first=%+v again=%+v", a.Value, again.Value)
	}

	list := e.Participants()
	if len(list) != 1 || list[0].UserID != "a" {
		t.Fatalf("expected sole owner a, got %+v", list)
	}
}

func TestRegisterParticipantAssignsDistinctColors(t *testing.T) {
	e := newLocalEngine(t)
	ctx := context.Background()
	seen := map[string]bool{}
	for _, nick := range []string{"Ana", "Bea", "Cat"} {
		res, err := e.RegisterParticipant(ctx, domain.Participant{Nickname: nick, Gender: domain.GenderFemale})
		if err != nil {
			t.Fatalf("register %s: %v", nick, err)
		}
		if seen[res.Value.Color] {
			t.Fatalf("color %s assigned twice", res.Value.Color)
		}
		seen[res.Value.Color] = true
	}
}

func TestResetDataClearsEverything(t *testing.T) {
	e := newLocalEngine(t)
	ctx := context.Background()

	mustUpdate(t, e, domain.QuizState{Status: domain.StatusActive, CurrentQuestion: 1, CurrentSession: 1})
	if _, err := e.SaveResponse(ctx, textAnswer(1, "u1", "x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := e.RegisterParticipant(ctx, domain.Participant{UserID: "u1", Nickname: "Sam", Gender: domain.GenderMale}); err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := e.ResetData(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if diff := cmp.Diff(domain.InitialState(), res.Value); diff != "" {
		t.Fatalf("unexpected reset state (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Stats{Status: domain.StatusWaiting}, e.Stats()); diff != "" {
		t.Fatalf("unexpected stats after reset (-want +got):\n%s", diff)
	}
}

func TestStatsCountsCurrentQuestionAndActiveParticipants(t *testing.T) {
	e := newLocalEngine(t)
	ctx := context.Background()

	mustUpdate(t, e, domain.QuizState{Status: domain.StatusActive, CurrentQuestion: 2, CurrentSession: 1})
	for _, r := range []domain.Response{textAnswer(1, "u1", "a"), textAnswer(2, "u1", "b"), textAnswer(2, "u2", "c")} {
		if _, err := e.SaveResponse(ctx, r); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	for _, nick := range []string{"Sam", "Ana"} {
		if _, err := e.RegisterParticipant(ctx, domain.Participant{Nickname: nick, Gender: domain.GenderMale}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	want := Stats{Status: domain.StatusActive, CurrentQuestion: 2, TotalParticipants: 2, CurrentResponses: 2}
	if diff := cmp.Diff(want, e.Stats()); diff != "" {
		t.Fatalf("unexpected stats (-want +got):\n%s", diff)
	}
}

func TestRemoteWritesMirrorServerRows(t *testing.T) {
	mr := newMiniredis(t)
	adapter := newRedisAdapter(t, mr)
	e := NewEngine(memory.NewStore(), adapter)
	ctx := context.Background()

	next := domain.QuizState{Status: domain.StatusActive, CurrentQuestion: 1, CurrentSession: 1, StartTime: domain.Millis(1_700_000_000_000)}
	res, err := e.UpdateQuizState(ctx, next)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Local || res.RemoteErr != nil {
		t.Fatalf("expected remote write, got %+v", res)
	}
	if diff := cmp.Diff(next, e.CurrentState()); diff != "" {
		t.Fatalf("mirrored state differs (-want +got):\n%s", diff)
	}
	rows, err := adapter.Select(ctx, remote.TableSurveyState, nil)
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected one remote state row, got %v (%v)", rows, err)
	}
	if rows[0]["updated_at"] == nil {
		t.Fatalf("expected server-stamped updated_at, got %+v", rows[0])
	}
}

func TestRemoteResponseAtMostOnceAcrossClients(t *testing.T) {
	mr := newMiniredis(t)
	first := NewEngine(memory.NewStore(), newRedisAdapter(t, mr))
	second := NewEngine(memory.NewStore(), newRedisAdapter(t, mr))
	ctx := context.Background()

	if _, err := first.SaveResponse(ctx, textAnswer(1, "u1", "first")); err != nil {
		t.Fatalf("first save: %v", err)
	}
	_, err := second.SaveResponse(ctx, textAnswer(1, "u1", "second"))
	if !errors.Is(err, domain.ErrDuplicateResponse) {
		t.Fatalf("expected ErrDuplicateResponse, got %v", err)
	}
	got := second.Responses(1)
	if len(got) != 1 || got[0].AnswerText != "first" {
		t.Fatalf("second client should mirror the stored answer, got %+v", got)
	}
}

func TestRemoteNicknameCollisionAcrossClients(t *testing.T) {
	mr := newMiniredis(t)
	first := NewEngine(memory.NewStore(), newRedisAdapter(t, mr))
	second := NewEngine(memory.NewStore(), newRedisAdapter(t, mr))
	ctx := context.Background()

	if _, err := first.RegisterParticipant(ctx, domain.Participant{UserID: "a", Nickname: "Sam", Gender: domain.GenderMale}); err != nil {
		t.Fatalf("register a: %v", err)
	}
	_, err := second.RegisterParticipant(ctx, domain.Participant{UserID: "b", Nickname: "Sam", Gender: domain.GenderMale})
	if !errors.Is(err, domain.ErrDuplicateNickname) {
		t.Fatalf("expected ErrDuplicateNickname, got %v", err)
	}
	rows, err := second.remote.Select(ctx, remote.TableParticipants, nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 || rows[0]["user_id"] != "a" {
		t.Fatalf("expected only a stored remotely, got %+v", rows)
	}
}

func TestChangeFeedConvergesAnotherClient(t *testing.T) {
	mr := newMiniredis(t)
	writer := NewEngine(memory.NewStore(), newRedisAdapter(t, mr))
	reader := NewEngine(memory.NewStore(), newRedisAdapter(t, mr))
	t.Cleanup(reader.Stop)
	ctx := context.Background()

	rec := newRecorder()
	if err := reader.Start(ctx, rec, "u2"); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.waitFor(t, "state")

	next := domain.QuizState{Status: domain.StatusActive, CurrentQuestion: 2, CurrentSession: 1}
	if _, err := writer.UpdateQuizState(ctx, next); err != nil {
		t.Fatalf("update: %v", err)
	}
	rec.waitFor(t, "state")
	if diff := cmp.Diff(next, reader.CurrentState()); diff != "" {
		t.Fatalf("reader did not converge (-want +got):\n%s", diff)
	}

	if _, err := writer.SaveResponse(ctx, textAnswer(2, "u1", "hope")); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec.waitFor(t, "responses")
	if got := reader.Responses(2); len(got) != 1 || got[0].UserID != "u1" {
		t.Fatalf("reader did not mirror response: %+v", got)
	}

	if _, err := writer.RegisterParticipant(ctx, domain.Participant{UserID: "u1", Nickname: "Joy", Gender: domain.GenderFemale}); err != nil {
		t.Fatalf("register: %v", err)
	}
	rec.waitFor(t, "participants")
	if got := reader.Participants(); len(got) != 1 || got[0].Nickname != "Joy" {
		t.Fatalf("reader did not mirror participant: %+v", got)
	}
}

func TestResetByAnotherClientLetsParticipantAnswerAgain(t *testing.T) {
	mr := newMiniredis(t)
	ctx := context.Background()
	admin := NewEngine(memory.NewStore(), newRedisAdapter(t, mr))
	phone := NewEngine(memory.NewStore(), newRedisAdapter(t, mr))
	t.Cleanup(phone.Stop)

	open := domain.QuizState{Status: domain.StatusActive, CurrentQuestion: 1, CurrentSession: 1}
	mustUpdate(t, admin, open)
	rec := newRecorder()
	if err := phone.Start(ctx, rec, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.waitFor(t, "state")

	if _, err := phone.SaveResponse(ctx, textAnswer(1, "u1", "first")); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	if _, err := admin.ResetData(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for len(phone.Responses(1)) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("phone kept responses after remote reset: %+v", phone.Responses(1))
		}
		time.Sleep(10 * time.Millisecond)
	}

	mustUpdate(t, admin, open)
	res, err := phone.SaveResponse(ctx, textAnswer(1, "u1", "second"))
	if err != nil {
		t.Fatalf("answer after reset: %v", err)
	}
	if res.Local {
		t.Fatalf("expected remote write, got local fallback: %v", res.RemoteErr)
	}
	if got := phone.Responses(1); len(got) != 1 || got[0].AnswerText != "second" {
		t.Fatalf("unexpected responses after reset: %+v", got)
	}
}

func TestSaveResponseTrustsRemoteOverStaleLocalCopy(t *testing.T) {
	mr := newMiniredis(t)
	ctx := context.Background()
	admin := NewEngine(memory.NewStore(), newRedisAdapter(t, mr))
	phone := NewEngine(memory.NewStore(), newRedisAdapter(t, mr))

	if _, err := phone.SaveResponse(ctx, textAnswer(1, "u1", "first")); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	if _, err := admin.ResetData(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := phone.Responses(1); len(got) != 1 {
		t.Fatalf("expected the unsubscribed phone to keep its local copy, got %+v", got)
	}

	res, err := phone.SaveResponse(ctx, textAnswer(1, "u1", "second"))
	if err != nil {
		t.Fatalf("answer after reset: %v", err)
	}
	if res.Local {
		t.Fatalf("expected remote write, got local fallback: %v", res.RemoteErr)
	}
	if got := phone.Responses(1); len(got) != 1 || got[0].AnswerText != "second" {
		t.Fatalf("local copy not replaced: %+v", got)
	}

	_, err = phone.SaveResponse(ctx, textAnswer(1, "u1", "third"))
	if !errors.Is(err, domain.ErrDuplicateResponse) {
		t.Fatalf("expected ErrDuplicateResponse, got %v", err)
	}
}

func TestInitialSyncMirrorsRemoteData(t *testing.T) {
	mr := newMiniredis(t)
	ctx := context.Background()

	seed := NewEngine(memory.NewStore(), newRedisAdapter(t, mr))
	mustUpdate(t, seed, domain.QuizState{Status: domain.StatusActive, CurrentQuestion: 1, CurrentSession: 1})
	if _, err := seed.SaveResponse(ctx, textAnswer(1, "u1", "yes")); err != nil {
		t.Fatalf("seed response: %v", err)
	}
	if _, err := seed.RegisterParticipant(ctx, domain.Participant{UserID: "u1", Nickname: "Sam", Gender: domain.GenderMale}); err != nil {
		t.Fatalf("seed participant: %v", err)
	}

	for _, q := range sampleQuiz().Questions() {
		if res := seed.remote.Write(ctx, remote.TableQuestions, normalize.QuestionRow(q)); !res.OK() {
			t.Fatalf("seed question: %v", res.Err)
		}
	}

	e := NewEngine(memory.NewStore(), newRedisAdapter(t, mr))
	t.Cleanup(e.Stop)
	rec := newRecorder()
	if err := e.Start(ctx, rec, "u1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.waitFor(t, "state")

	if got := e.CurrentState(); got.CurrentQuestion != 1 {
		t.Fatalf("state not mirrored: %+v", got)
	}
	if n := len(e.Responses(1)); n != 1 {
		t.Fatalf("expected 1 mirrored response, got %d", n)
	}
	if n := len(e.Participants()); n != 1 {
		t.Fatalf("expected 1 mirrored participant, got %d", n)
	}
	data, ok := e.docs.quizData()
	if !ok || len(data.Questions()) != 3 {
		t.Fatalf("quiz data not mirrored: %+v", data)
	}
}

func mustUpdate(t *testing.T, e *Engine, s domain.QuizState) {
	t.Helper()
	if _, err := e.UpdateQuizState(context.Background(), s); err != nil {
		t.Fatalf("update state: %v", err)
	}
}
