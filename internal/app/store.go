package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"retreat-quiz/internal/domain"
	"retreat-quiz/internal/normalize"
	"retreat-quiz/internal/remote"
)

// Local document keys.
const (
	KeyState        = "survey_state"
	KeyResponses    = "survey_responses"
	KeyParticipants = "survey_participants"
	KeyQuizData     = "quiz_data"
)

// LocalStore is the client-scoped key/value area (in-process or directory backed).
type LocalStore interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Remove(key string) error
	// Update runs a read-modify-write that no other writer can interleave with.
	Update(key string, fn func(old []byte, ok bool) ([]byte, error)) error
	// Watch reports keys changed by other clients sharing the area.
	Watch() (<-chan string, func())
}

// RemoteStore is the slice of remote.Adapter the engine depends on.
type RemoteStore interface {
	Connected() bool
	Write(ctx context.Context, table remote.Table, row remote.Row) remote.Result
	Insert(ctx context.Context, table remote.Table, row remote.Row) remote.Result
	Select(ctx context.Context, table remote.Table, match remote.Row) ([]remote.Row, error)
	Clear(ctx context.Context, table remote.Table) remote.Result
	Broadcast(ctx context.Context, event string, payload remote.Row) error
	SubscribeChanges(table remote.Table, filter remote.EventType, fn func(remote.Change)) func()
	SubscribeBroadcast(event string, fn func(remote.Broadcast)) func()
}

// ResponseBook maps question id to user id to response, both as decimal strings.
type ResponseBook map[string]map[string]domain.Response

// docs reads and writes the typed local documents.
type docs struct {
	store LocalStore
	log   zerolog.Logger
}

func (d docs) state() domain.QuizState {
	raw, ok, err := d.store.Get(KeyState)
	if err != nil {
		d.log.Warn().Err(err).Msg("read local state")
		return domain.InitialState()
	}
	if !ok {
		return domain.InitialState()
	}
	state, err := normalize.DecodeState(raw)
	if err != nil {
		d.log.Warn().Err(err).Msg("local state replaced by defaults")
	}
	return state
}

func (d docs) setState(s domain.QuizState) error {
	return d.store.Set(KeyState, normalize.EncodeState(s))
}

func (d docs) responses() ResponseBook {
	book := ResponseBook{}
	d.read(KeyResponses, &book)
	return book
}

func (d docs) participants() []domain.Participant {
	var list []domain.Participant
	d.read(KeyParticipants, &list)
	return list
}

func (d docs) setParticipants(list []domain.Participant) error {
	return d.write(KeyParticipants, list)
}

func (d docs) quizData() (domain.QuizData, bool) {
	var data domain.QuizData
	if !d.read(KeyQuizData, &data) {
		return domain.QuizData{}, false
	}
	return data, true
}

func (d docs) setQuizData(data domain.QuizData) error {
	return d.write(KeyQuizData, data)
}

// addResponse stores r unless the pair already has a response. With strict set
// an existing response is reported as ErrDuplicateResponse; otherwise it is kept silently.
func (d docs) addResponse(r domain.Response, strict bool) error {
	return d.store.Update(KeyResponses, func(old []byte, ok bool) ([]byte, error) {
		book := ResponseBook{}
		if ok && len(old) > 0 {
			if err := json.Unmarshal(old, &book); err != nil {
				d.log.Warn().Err(err).Msg("local responses replaced")
				book = ResponseBook{}
			}
		}
		qid, uid := strconv.Itoa(r.QuestionID), r.UserID
		if _, exists := book[qid][uid]; exists {
			if strict {
				return nil, fmt.Errorf("%w: question %d user %s", domain.ErrDuplicateResponse, r.QuestionID, uid)
			}
			return nil, errUnchanged
		}
		if book[qid] == nil {
			book[qid] = map[string]domain.Response{}
		}
		book[qid][uid] = r
		return json.Marshal(book)
	})
}

// putParticipant replaces the entry with the same user id or appends p. With
// checkNickname set it rejects a nickname held by another active participant.
func (d docs) putParticipant(p domain.Participant, checkNickname bool) error {
	return d.store.Update(KeyParticipants, func(old []byte, ok bool) ([]byte, error) {
		var list []domain.Participant
		if ok && len(old) > 0 {
			if err := json.Unmarshal(old, &list); err != nil {
				d.log.Warn().Err(err).Msg("local participants replaced")
				list = nil
			}
		}
		if checkNickname && nicknameTaken(list, p) {
			return nil, fmt.Errorf("%w: %q", domain.ErrDuplicateNickname, p.Nickname)
		}
		return json.Marshal(upsertParticipant(list, p))
	})
}

// removeResponse deletes the (question, user) entry. A missing entry leaves the
// document unchanged.
func (d docs) removeResponse(questionID int, userID string) error {
	return d.store.Update(KeyResponses, func(old []byte, ok bool) ([]byte, error) {
		if !ok || len(old) == 0 {
			return nil, errUnchanged
		}
		book := ResponseBook{}
		if err := json.Unmarshal(old, &book); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrMalformedState, KeyResponses, err)
		}
		qid := strconv.Itoa(questionID)
		if _, exists := book[qid][userID]; !exists {
			return nil, errUnchanged
		}
		delete(book[qid], userID)
		if len(book[qid]) == 0 {
			delete(book, qid)
		}
		return json.Marshal(book)
	})
}

func (d docs) removeParticipant(userID string) error {
	return d.store.Update(KeyParticipants, func(old []byte, ok bool) ([]byte, error) {
		var list []domain.Participant
		if ok && len(old) > 0 {
			if err := json.Unmarshal(old, &list); err != nil {
				d.log.Warn().Err(err).Msg("local participants replaced")
				list = nil
			}
		}
		out := make([]domain.Participant, 0, len(list))
		for _, p := range list {
			if p.UserID != userID {
				out = append(out, p)
			}
		}
		return json.Marshal(out)
	})
}

func (d docs) read(key string, v any) bool {
	raw, ok, err := d.store.Get(key)
	if err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("read local document")
		return false
	}
	if !ok || len(raw) == 0 {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("unreadable local document")
		return false
	}
	return true
}

func (d docs) write(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return d.store.Set(key, data)
}

// errUnchanged aborts an Update that has nothing to write.
var errUnchanged = errors.New("unchanged")

func ignoreUnchanged(err error) error {
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

func nicknameTaken(list []domain.Participant, p domain.Participant) bool {
	for _, other := range list {
		if other.IsActive && other.Nickname == p.Nickname && other.UserID != p.UserID {
			return true
		}
	}
	return false
}

func upsertParticipant(list []domain.Participant, p domain.Participant) []domain.Participant {
	for i := range list {
		if list[i].UserID == p.UserID {
			list[i] = p
			return list
		}
	}
	return append(list, p)
}
