package http

import (
	"sync"

	"retreat-quiz/internal/domain"
	"retreat-quiz/internal/reactor"
	"retreat-quiz/internal/tally"
)

// Outbound message types.
const (
	MsgState        = "state"
	MsgResults      = "results"
	MsgSummary      = "summary"
	MsgParticipants = "participants"
	MsgTimer        = "timer"
	MsgRegistered   = "registered"
	MsgAnswerSaved  = "answerSaved"
	MsgError        = "error"
)

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type timerPayload struct {
	Remaining int    `json:"remaining"`
	Display   string `json:"display"`
}

// Hub is the results view shared by every websocket client. It keeps the latest
// value of each message type so new subscribers start from a full picture.
type Hub struct {
	mu          sync.Mutex
	latest      map[string]outboundMessage[any]
	subscribers map[chan outboundMessage[any]]struct{}
}

var _ reactor.ResultsView = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		latest:      make(map[string]outboundMessage[any]),
		subscribers: make(map[chan outboundMessage[any]]struct{}),
	}
}

func (h *Hub) ShowState(state domain.QuizState) { h.publish(MsgState, state) }

func (h *Hub) ShowQuestionResults(r reactor.QuestionResults) { h.publish(MsgResults, r) }

func (h *Hub) ShowSummary(s tally.Summary) { h.publish(MsgSummary, s) }

func (h *Hub) ShowParticipants(list []domain.Participant) { h.publish(MsgParticipants, list) }

func (h *Hub) SetTimer(remaining int, display string) {
	h.publish(MsgTimer, timerPayload{Remaining: remaining, Display: display})
}

// Subscribe returns a channel of updates, primed with the latest snapshot.
// The caller must invoke the returned cancel function to avoid leaks.
func (h *Hub) Subscribe() (<-chan outboundMessage[any], func()) {
	ch := make(chan outboundMessage[any], 16)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	for _, kind := range []string{MsgState, MsgParticipants, MsgResults, MsgSummary, MsgTimer} {
		if msg, ok := h.latest[kind]; ok {
			ch <- msg
		}
	}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *Hub) publish(kind string, payload any) {
	msg := outboundMessage[any]{Type: kind, Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest[kind] = msg
	for ch := range h.subscribers {
		select {
		case ch <- msg:
		default:
			// Slow client: drop its oldest update.
			select {
			case <-ch:
			default:
			}
			ch <- msg
		}
	}
}
