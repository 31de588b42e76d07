package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"retreat-quiz/internal/app"
	"retreat-quiz/internal/domain"
)

// QuizWriter is the slice of the sync engine the gateway writes through.
type QuizWriter interface {
	RegisterParticipant(ctx context.Context, p domain.Participant) (app.Result[domain.Participant], error)
	SaveResponse(ctx context.Context, r domain.Response) (app.Result[domain.Response], error)
	Stats() app.Stats
}

type WSHandler struct {
	writer   QuizWriter
	hub      *Hub
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(writer QuizWriter, hub *Hub, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		writer: writer,
		hub:    hub,
		log:    log.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type registerPayload struct {
	UserID   string        `json:"userId"`
	Nickname string        `json:"nickname"`
	Gender   domain.Gender `json:"gender"`
}

type answerPayload struct {
	QuestionID     int                 `json:"questionId"`
	QuestionType   domain.QuestionType `json:"questionType"`
	SessionNumber  int                 `json:"sessionNumber"`
	AnswerText     string              `json:"answerText"`
	AnswerOptions  []string            `json:"answerOptions"`
	AnswerNumber   *int                `json:"answerNumber"`
	AnswerEmoji    string              `json:"answerEmoji"`
	ResponseTimeMs int64               `json:"responseTimeMs"`
}

type answerSaved struct {
	QuestionID int  `json:"questionId"`
	Local      bool `json:"local"`
}

type errorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets. Every client receives the
// dashboard updates; participants register and answer over the same socket.
// A userId query parameter resumes an earlier registration.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel := h.hub.Subscribe()
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug().Err(err).Msg("ws write failed")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- update:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	h.readLoop(r.Context(), conn.ReadJSON, userID, send, writerDone)

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// readLoop answers inbound messages until read fails or the writer is gone.
func (h *WSHandler) readLoop(ctx context.Context, read func(v any) error, userID string, send chan<- outboundMessage[any], writerDone <-chan struct{}) {
	for {
		var inbound inboundMessage
		if err := read(&inbound); err != nil {
			return
		}
		reply := h.handle(ctx, inbound, &userID)
		select {
		case send <- reply:
		case <-writerDone:
			return
		}
	}
}

func (h *WSHandler) handle(ctx context.Context, inbound inboundMessage, userID *string) outboundMessage[any] {
	switch inbound.Type {
	case "register":
		var payload registerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errorMessage(errors.New("invalid register payload"))
		}
		if payload.UserID == "" {
			payload.UserID = *userID
		}
		res, err := h.writer.RegisterParticipant(ctx, domain.Participant{
			UserID:   payload.UserID,
			Nickname: payload.Nickname,
			Gender:   payload.Gender,
		})
		if err != nil {
			return errorMessage(err)
		}
		*userID = res.Value.UserID
		return outboundMessage[any]{Type: MsgRegistered, Payload: res.Value}
	case "answer":
		if *userID == "" {
			return errorMessage(errors.New("register before answering"))
		}
		var payload answerPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			return errorMessage(errors.New("invalid answer payload"))
		}
		res, err := h.writer.SaveResponse(ctx, domain.Response{
			QuestionID:     payload.QuestionID,
			UserID:         *userID,
			QuestionType:   payload.QuestionType,
			SessionNumber:  payload.SessionNumber,
			AnswerText:     payload.AnswerText,
			AnswerOptions:  payload.AnswerOptions,
			AnswerNumber:   payload.AnswerNumber,
			AnswerEmoji:    payload.AnswerEmoji,
			ResponseTimeMs: payload.ResponseTimeMs,
		})
		if err != nil {
			return errorMessage(err)
		}
		return outboundMessage[any]{Type: MsgAnswerSaved, Payload: answerSaved{QuestionID: res.Value.QuestionID, Local: res.Local}}
	default:
		return errorMessage(errors.New("unsupported message type"))
	}
}

// ServeStats writes the live stats as JSON.
func (h *WSHandler) ServeStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.writer.Stats()); err != nil {
		h.log.Debug().Err(err).Msg("write stats")
	}
}

func errorMessage(err error) outboundMessage[any] {
	payload := errorPayload{Message: err.Error()}
	switch {
	case errors.Is(err, domain.ErrDuplicateResponse):
		payload.Code = "duplicate_response"
	case errors.Is(err, domain.ErrDuplicateNickname):
		payload.Code = "duplicate_nickname"
	case errors.Is(err, domain.ErrInvalidResponse), errors.Is(err, domain.ErrInvalidParticipant):
		payload.Code = "invalid"
	}
	return outboundMessage[any]{Type: MsgError, Payload: payload}
}
