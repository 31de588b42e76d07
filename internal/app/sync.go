package app

import (
	"context"

	"retreat-quiz/internal/domain"
	"retreat-quiz/internal/normalize"
	"retreat-quiz/internal/remote"
)

// Side-channel event and message types.
const (
	EventQuizUpdate = "quiz-update"

	MsgStateUpdated = "state_updated"
	MsgNextQuestion = "next_question"
	MsgQuizEnded    = "quiz_ended"
)

// initialSync mirrors the remote state, questions, active participants and the
// current question's responses into the local store. Failures are logged and
// leave the local copy as it was.
func (e *Engine) initialSync(ctx context.Context) {
	current := 0
	if rows, err := e.remote.Select(ctx, remote.TableSurveyState, nil); err != nil {
		e.log.Warn().Err(err).Msg("initial sync: state")
	} else if len(rows) > 0 {
		state := normalize.State(rows[0])
		current = state.CurrentQuestion
		if err := e.docs.setState(state); err != nil {
			e.log.Warn().Err(err).Msg("initial sync: write local state")
		}
	}

	if rows, err := e.remote.Select(ctx, remote.TableQuestions, nil); err != nil {
		e.log.Warn().Err(err).Msg("initial sync: questions")
	} else if len(rows) > 0 {
		if err := e.docs.setQuizData(normalize.QuizData(rows)); err != nil {
			e.log.Warn().Err(err).Msg("initial sync: write local quiz data")
		}
		if e.catalog != nil {
			e.catalog.Invalidate()
		}
	}

	if rows, err := e.remote.Select(ctx, remote.TableParticipants, remote.Row{"is_active": true}); err != nil {
		e.log.Warn().Err(err).Msg("initial sync: participants")
	} else {
		list := make([]domain.Participant, 0, len(rows))
		for _, row := range rows {
			if p, ok := normalize.ParticipantFromRow(row); ok {
				list = append(list, p)
			}
		}
		if err := e.docs.setParticipants(list); err != nil {
			e.log.Warn().Err(err).Msg("initial sync: write local participants")
		}
	}

	if current > 0 {
		rows, err := e.remote.Select(ctx, remote.TableResponses, remote.Row{"question_id": current})
		if err != nil {
			e.log.Warn().Err(err).Msg("initial sync: responses")
		}
		for _, row := range rows {
			e.mirrorResponse(row)
		}
	}
	e.log.Info().Int("question", current).Msg("initial sync done")
}

// subscribe wires the change feed and side channel into the loop.
func (e *Engine) subscribe(ctx context.Context, events chan<- func()) []func() {
	if !e.remoteUp() {
		return nil
	}
	onLoop := func(fn func(remote.Change)) func(remote.Change) {
		return func(c remote.Change) { post(ctx, events, func() { fn(c) }) }
	}
	return []func(){
		e.remote.SubscribeChanges(remote.TableSurveyState, remote.EventAll, onLoop(e.applyStateChange)),
		e.remote.SubscribeChanges(remote.TableResponses, remote.EventAll, onLoop(e.applyResponseChange)),
		e.remote.SubscribeChanges(remote.TableParticipants, remote.EventAll, onLoop(e.applyParticipantChange)),
		e.remote.SubscribeChanges(remote.TableQuestions, remote.EventAll, onLoop(e.applyQuestionChange)),
		e.remote.SubscribeBroadcast(EventQuizUpdate, func(b remote.Broadcast) {
			post(ctx, events, func() { e.applyBroadcast(b) })
		}),
	}
}

func (e *Engine) applyStateChange(c remote.Change) {
	if c.Type == remote.EventDelete || c.New == nil {
		return
	}
	if err := e.docs.setState(normalize.State(c.New)); err != nil {
		e.log.Warn().Err(err).Msg("mirror state change")
		return
	}
	e.CheckState()
}

// applyResponseChange merges inserted responses and drops deleted ones, so a
// remote reset empties every client's book.
func (e *Engine) applyResponseChange(c remote.Change) {
	if c.Type == remote.EventDelete {
		r, ok := normalize.ResponseFromRow(c.Old)
		if !ok {
			return
		}
		if err := ignoreUnchanged(e.docs.removeResponse(r.QuestionID, r.UserID)); err != nil {
			e.log.Warn().Err(err).Msg("mirror response delete")
			return
		}
		e.notifyResponses(r.QuestionID)
		return
	}
	qid, ok := e.mirrorResponse(c.New)
	if !ok {
		return
	}
	e.notifyResponses(qid)
}

// mirrorResponse merges a remote response row into the local book without
// replacing an existing entry.
func (e *Engine) mirrorResponse(row remote.Row) (int, bool) {
	r, ok := normalize.ResponseFromRow(row)
	if !ok {
		return 0, false
	}
	if err := ignoreUnchanged(e.docs.addResponse(r, false)); err != nil {
		e.log.Warn().Err(err).Msg("mirror response")
	}
	return r.QuestionID, true
}

func (e *Engine) applyParticipantChange(c remote.Change) {
	var err error
	switch c.Type {
	case remote.EventDelete:
		p, ok := normalize.ParticipantFromRow(c.Old)
		if !ok {
			return
		}
		err = e.docs.removeParticipant(p.UserID)
	default:
		p, ok := normalize.ParticipantFromRow(c.New)
		if !ok {
			return
		}
		err = e.docs.putParticipant(p, false)
	}
	if err != nil {
		e.log.Warn().Err(err).Msg("mirror participant change")
		return
	}
	e.notifyParticipants()
}

func (e *Engine) applyQuestionChange(remote.Change) {
	if e.catalog != nil {
		e.catalog.Invalidate()
	}
}

func (e *Engine) applyBroadcast(b remote.Broadcast) {
	kind, _ := b.Payload["type"].(string)
	switch kind {
	case MsgStateUpdated:
		raw, ok := b.Payload["state"].(map[string]any)
		if !ok {
			e.log.Warn().Msg("state broadcast without state")
			return
		}
		if err := e.docs.setState(normalize.State(raw)); err != nil {
			e.log.Warn().Err(err).Msg("mirror broadcast state")
			return
		}
		e.CheckState()
	case MsgNextQuestion, MsgQuizEnded:
		e.CheckState()
	default:
		e.log.Debug().Str("type", kind).Msg("unknown broadcast")
	}
}
