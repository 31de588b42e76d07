package domain

import "errors"

var (
	// ErrDuplicateResponse is returned when a participant already answered a question.
	ErrDuplicateResponse = errors.New("response already submitted for this question")
	// ErrDuplicateNickname is returned when an active participant already uses the nickname.
	ErrDuplicateNickname = errors.New("nickname already in use")
	// ErrRemoteUnavailable indicates the remote backend is not configured or failed its probe.
	ErrRemoteUnavailable = errors.New("remote store unavailable")
	// ErrRemoteWriteFailed indicates an attempted remote write failed and was applied locally instead.
	ErrRemoteWriteFailed = errors.New("remote write failed")
	// ErrMalformedState indicates a stored state document could not be decoded.
	ErrMalformedState = errors.New("malformed state document")
	// ErrInvalidState is returned for a QuizState that breaks the active/question invariant.
	ErrInvalidState = errors.New("invalid quiz state")
	// ErrInvalidResponse is returned when a response lacks its key or an answer.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrInvalidParticipant is returned when a participant lacks a nickname or gender.
	ErrInvalidParticipant = errors.New("invalid participant")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a question number is not part of the quiz.
	ErrQuestionNotFound = errors.New("question not found")
)
