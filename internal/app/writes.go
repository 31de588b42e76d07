package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"retreat-quiz/internal/domain"
	"retreat-quiz/internal/normalize"
	"retreat-quiz/internal/remote"
)

// Result describes how a write landed. Local is set when the value was written
// to the local store only; RemoteErr then holds the remote failure, if any was
// attempted. A degraded write is still a successful write.
type Result[T any] struct {
	Value     T
	Local     bool
	RemoteErr error
}

// Stats is the live summary shown to the admin.
type Stats struct {
	Status            domain.Status `json:"status"`
	CurrentQuestion   int           `json:"currentQuestion"`
	TotalParticipants int           `json:"totalParticipants"`
	CurrentResponses  int           `json:"currentResponses"`
}

// UpdateQuizState writes the shared state, remote first. On a remote success the
// server's row (with server-assigned fields) is mirrored locally and announced
// on the side channel.
func (e *Engine) UpdateQuizState(ctx context.Context, next domain.QuizState) (Result[domain.QuizState], error) {
	if err := next.Validate(); err != nil {
		return Result[domain.QuizState]{}, err
	}
	res := Result[domain.QuizState]{Value: next}

	if e.remoteUp() {
		wr := e.remote.Write(ctx, remote.TableSurveyState, normalize.RemoteState(next))
		if wr.OK() {
			stored := normalize.State(wr.Row)
			if err := e.docs.setState(stored); err != nil {
				e.log.Warn().Err(err).Msg("mirror written state")
			}
			if err := e.remote.Broadcast(ctx, EventQuizUpdate, remote.Row{"type": MsgStateUpdated, "state": wr.Row}); err != nil {
				e.log.Warn().Err(err).Msg("state broadcast failed")
			}
			e.signal(KeyState)
			res.Value = stored
			return res, nil
		}
		res.RemoteErr = fmt.Errorf("%w: %w", domain.ErrRemoteWriteFailed, wr.Err)
		e.log.Warn().Err(res.RemoteErr).Msg("state write fell back to local store")
	}

	res.Local = true
	if err := e.docs.setState(next); err != nil {
		return res, fmt.Errorf("write local state: %w", err)
	}
	e.signal(KeyState)
	return res, nil
}

// SaveResponse records an answer at most once per (question, user). An existing
// answer rejects the write with domain.ErrDuplicateResponse; the remote store
// decides while it is reachable, the local store otherwise.
func (e *Engine) SaveResponse(ctx context.Context, r domain.Response) (Result[domain.Response], error) {
	if err := r.Validate(); err != nil {
		return Result[domain.Response]{}, err
	}
	if r.SubmittedAt == 0 {
		r.SubmittedAt = e.clock.Now().UnixMilli()
	}
	if e.hasResponse(ctx, r) {
		return Result[domain.Response]{}, fmt.Errorf("%w: question %d user %s", domain.ErrDuplicateResponse, r.QuestionID, r.UserID)
	}
	res := Result[domain.Response]{Value: r}

	if e.remoteUp() {
		wr := e.remote.Insert(ctx, remote.TableResponses, normalize.ResponseRow(r))
		if wr.OK() {
			stored, ok := normalize.ResponseFromRow(wr.Row)
			if !ok {
				stored = r
			}
			if err := ignoreUnchanged(e.docs.addResponse(stored, false)); err != nil {
				e.log.Warn().Err(err).Msg("mirror written response")
			}
			e.signal(KeyResponses)
			res.Value = stored
			return res, nil
		}
		if errors.Is(wr.Err, remote.ErrConflict) {
			return Result[domain.Response]{}, fmt.Errorf("%w: question %d user %s", domain.ErrDuplicateResponse, r.QuestionID, r.UserID)
		}
		res.RemoteErr = fmt.Errorf("%w: %w", domain.ErrRemoteWriteFailed, wr.Err)
		e.log.Warn().Err(res.RemoteErr).Msg("response write fell back to local store")
	}

	res.Local = true
	if err := e.docs.addResponse(r, true); err != nil {
		if errors.Is(err, domain.ErrDuplicateResponse) {
			return Result[domain.Response]{}, err
		}
		return res, fmt.Errorf("write local response: %w", err)
	}
	e.signal(KeyResponses)
	return res, nil
}

// RegisterParticipant adds or re-asserts a participant. A nickname held by a
// different active participant is rejected with domain.ErrDuplicateNickname.
// Missing user ids are generated; missing colors are assigned from the palette.
func (e *Engine) RegisterParticipant(ctx context.Context, p domain.Participant) (Result[domain.Participant], error) {
	p.Nickname = strings.TrimSpace(p.Nickname)
	if err := p.Validate(); err != nil {
		return Result[domain.Participant]{}, err
	}
	if p.UserID == "" {
		p.UserID = uuid.NewString()
	}
	p.IsActive = true

	known := e.knownParticipants(ctx)
	if nicknameTaken(known, p) {
		return Result[domain.Participant]{}, fmt.Errorf("%w: %q", domain.ErrDuplicateNickname, p.Nickname)
	}
	others := make([]domain.Participant, 0, len(known))
	for _, k := range known {
		if k.UserID != p.UserID {
			others = append(others, k)
			continue
		}
		if p.JoinedAt == 0 {
			p.JoinedAt = k.JoinedAt
		}
		if p.Color == "" && k.Gender == p.Gender {
			p.Color = k.Color
		}
	}
	if p.Color == "" {
		p.Color = domain.AssignColor(p.Gender, others)
	}
	if p.JoinedAt == 0 {
		p.JoinedAt = e.clock.Now().UnixMilli()
	}
	res := Result[domain.Participant]{Value: p}

	if e.remoteUp() {
		wr := e.remote.Write(ctx, remote.TableParticipants, normalize.ParticipantRow(p))
		if wr.OK() {
			stored, ok := normalize.ParticipantFromRow(wr.Row)
			if !ok {
				stored = p
			}
			if err := e.docs.putParticipant(stored, false); err != nil {
				e.log.Warn().Err(err).Msg("mirror registered participant")
			}
			e.signal(KeyParticipants)
			res.Value = stored
			return res, nil
		}
		if errors.Is(wr.Err, remote.ErrConflict) {
			return Result[domain.Participant]{}, fmt.Errorf("%w: %q", domain.ErrDuplicateNickname, p.Nickname)
		}
		res.RemoteErr = fmt.Errorf("%w: %w", domain.ErrRemoteWriteFailed, wr.Err)
		e.log.Warn().Err(res.RemoteErr).Msg("participant write fell back to local store")
	}

	res.Local = true
	if err := e.docs.putParticipant(p, true); err != nil {
		if errors.Is(err, domain.ErrDuplicateNickname) {
			return Result[domain.Participant]{}, err
		}
		return res, fmt.Errorf("write local participant: %w", err)
	}
	e.signal(KeyParticipants)
	return res, nil
}

// ResetData clears every response and participant and writes the initial state.
func (e *Engine) ResetData(ctx context.Context) (Result[domain.QuizState], error) {
	var remoteErrs []error
	if e.remoteUp() {
		for _, table := range []remote.Table{remote.TableResponses, remote.TableParticipants} {
			if cr := e.remote.Clear(ctx, table); !cr.OK() {
				remoteErrs = append(remoteErrs, cr.Err)
			}
		}
	}
	for _, key := range []string{KeyResponses, KeyParticipants} {
		if err := e.docs.store.Remove(key); err != nil {
			return Result[domain.QuizState]{}, fmt.Errorf("clear %s: %w", key, err)
		}
		e.signal(key)
	}

	res, err := e.UpdateQuizState(ctx, domain.InitialState())
	if err != nil {
		return res, err
	}
	if len(remoteErrs) > 0 {
		res.Local = true
		remoteErrs = append(remoteErrs, res.RemoteErr)
		res.RemoteErr = fmt.Errorf("%w: %w", domain.ErrRemoteWriteFailed, errors.Join(remoteErrs...))
	}
	e.log.Info().Bool("local", res.Local).Msg("quiz data reset")
	return res, nil
}

// Stats summarizes the local store.
func (e *Engine) Stats() Stats {
	state := e.docs.state()
	active := 0
	for _, p := range e.docs.participants() {
		if p.IsActive {
			active++
		}
	}
	return Stats{
		Status:            state.Status,
		CurrentQuestion:   state.CurrentQuestion,
		TotalParticipants: active,
		CurrentResponses:  len(e.docs.responses()[strconv.Itoa(state.CurrentQuestion)]),
	}
}

// hasResponse asks the remote store when it is connected and the local book
// otherwise. A local entry the remote no longer holds is dropped.
func (e *Engine) hasResponse(ctx context.Context, r domain.Response) bool {
	if e.remoteUp() {
		rows, err := e.remote.Select(ctx, remote.TableResponses, remote.Row{"question_id": r.QuestionID, "user_id": r.UserID})
		if err == nil {
			if len(rows) == 0 {
				if err := ignoreUnchanged(e.docs.removeResponse(r.QuestionID, r.UserID)); err != nil {
					e.log.Warn().Err(err).Msg("drop stale local response")
				}
				return false
			}
			for _, row := range rows {
				e.mirrorResponse(row)
			}
			return true
		}
		e.log.Warn().Err(err).Msg("remote duplicate check failed, relying on local store")
	}
	_, ok := e.docs.responses()[strconv.Itoa(r.QuestionID)][r.UserID]
	return ok
}

// knownParticipants merges the remote active participants over the local list.
func (e *Engine) knownParticipants(ctx context.Context) []domain.Participant {
	list := e.docs.participants()
	if !e.remoteUp() {
		return list
	}
	rows, err := e.remote.Select(ctx, remote.TableParticipants, remote.Row{"is_active": true})
	if err != nil {
		e.log.Warn().Err(err).Msg("remote participant lookup failed, relying on local store")
		return list
	}
	for _, row := range rows {
		if p, ok := normalize.ParticipantFromRow(row); ok {
			list = upsertParticipant(list, p)
		}
	}
	return list
}
