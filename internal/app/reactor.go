package app

import (
	"strconv"
	"sync"

	"retreat-quiz/internal/domain"
)

// Role names the kind of client a reactor drives.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleAdmin       Role = "admin"
	RoleResults     Role = "results"
)

// Reactor is a role-specific consumer of engine notifications. A reactor
// implements whichever of the capability interfaces below it needs; the engine
// calls them from its loop goroutine only, never concurrently.
type Reactor interface {
	Role() Role
}

// StateReactor is notified when the canonical state changes. prev is nil on the
// first observation after Start.
type StateReactor interface {
	OnStateChange(sc *SyncContext, prev *domain.QuizState, next domain.QuizState)
}

// ResponseReactor is notified when responses to a question arrive.
type ResponseReactor interface {
	OnResponsesChanged(sc *SyncContext, questionID int)
}

// ParticipantReactor is notified when the participant list changes.
type ParticipantReactor interface {
	OnParticipantsChanged(sc *SyncContext)
}

// TimerReactor is ticked every poll while a question timer runs.
type TimerReactor interface {
	OnTimerTick(sc *SyncContext, remaining int, display string)
}

// SyncContext is the per-attachment view a reactor reads from. It is created by
// Start and invalidated by Stop.
type SyncContext struct {
	Role   Role
	UserID string

	engine *Engine

	mu    sync.RWMutex
	state domain.QuizState
}

func newSyncContext(e *Engine, role Role, userID string) *SyncContext {
	return &SyncContext{Role: role, UserID: userID, engine: e, state: domain.InitialState()}
}

// State is the canonical state as last dispatched.
func (sc *SyncContext) State() domain.QuizState {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.state
}

func (sc *SyncContext) setState(s domain.QuizState) {
	sc.mu.Lock()
	sc.state = s
	sc.mu.Unlock()
}

// HasAnswered reports whether this context's user answered question q.
func (sc *SyncContext) HasAnswered(q int) bool {
	if sc.UserID == "" {
		return false
	}
	_, ok := sc.engine.docs.responses()[strconv.Itoa(q)][sc.UserID]
	return ok
}

// Responses lists the responses to question q.
func (sc *SyncContext) Responses(q int) []domain.Response {
	return sc.engine.Responses(q)
}

// Participants lists the known participants.
func (sc *SyncContext) Participants() []domain.Participant {
	return sc.engine.docs.participants()
}

// Question looks up quiz content by number.
func (sc *SyncContext) Question(n int) (domain.Question, bool) {
	return sc.engine.question(n)
}

// Questions lists all quiz content in order.
func (sc *SyncContext) Questions() []domain.Question {
	return sc.engine.questions()
}

// Now is the engine clock in epoch milliseconds.
func (sc *SyncContext) Now() int64 {
	return sc.engine.clock.Now().UnixMilli()
}

// AllResponses lists every stored response keyed by question number.
func (sc *SyncContext) AllResponses() map[int][]domain.Response {
	return sc.engine.AllResponses()
}

// Stats summarizes the local store.
func (sc *SyncContext) Stats() Stats {
	return sc.engine.Stats()
}
