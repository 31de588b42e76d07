package domain

import (
	"fmt"
	"strings"
)

// Status is the lifecycle phase of a quiz run.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusFinished:
		return true
	}
	return false
}

// QuizState is the canonical, singleton view of quiz progress.
// Timestamps are milliseconds since the Unix epoch; nil means unset.
type QuizState struct {
	Status          Status `json:"status"`
	CurrentQuestion int    `json:"currentQuestion"`
	CurrentSession  int    `json:"currentSession"`
	TimerEnd        *int64 `json:"timerEnd"`
	StartTime       *int64 `json:"startTime"`
	EndTime         *int64 `json:"endTime"`
}

// InitialState is the state written when a quiz run is created or reset.
func InitialState() QuizState {
	return QuizState{Status: StatusWaiting}
}

// Validate enforces status=active <=> currentQuestion>0.
func (s QuizState) Validate() error {
	if !s.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidState, s.Status)
	}
	if s.CurrentQuestion < 0 || s.CurrentSession < 0 {
		return fmt.Errorf("%w: negative question or session", ErrInvalidState)
	}
	if (s.Status == StatusActive) != (s.CurrentQuestion > 0) {
		return fmt.Errorf("%w: status %s with question %d", ErrInvalidState, s.Status, s.CurrentQuestion)
	}
	return nil
}

// TimerRunning reports whether the timer is meaningful for this state.
func (s QuizState) TimerRunning() bool {
	return s.Status == StatusActive && s.TimerEnd != nil
}

// Millis returns a pointer to ms, for building states inline.
func Millis(ms int64) *int64 {
	return &ms
}

// QuestionType discriminates how a question is answered.
type QuestionType string

const (
	QuestionRadio       QuestionType = "radio"
	QuestionCheckbox    QuestionType = "checkbox"
	QuestionText        QuestionType = "text"
	QuestionSlider      QuestionType = "slider"
	QuestionEmoji       QuestionType = "emoji"
	QuestionDropdown    QuestionType = "dropdown"
	QuestionConditional QuestionType = "conditional"
	QuestionVoting      QuestionType = "voting"
)

// Response is one participant's answer to one question. Exactly one answer field is set,
// matching the question type: text, single option, multiple options, number or emoji.
type Response struct {
	QuestionID     int          `json:"question_id"`
	UserID         string       `json:"user_id"`
	QuestionType   QuestionType `json:"question_type,omitempty"`
	AnswerText     string       `json:"answer_text,omitempty"`
	AnswerOptions  []string     `json:"answer_options,omitempty"`
	AnswerNumber   *int         `json:"answer_number,omitempty"`
	AnswerEmoji    string       `json:"answer_emoji,omitempty"`
	SessionNumber  int          `json:"session_number,omitempty"`
	ResponseTimeMs int64        `json:"response_time_ms"`
	SubmittedAt    int64        `json:"submitted_at"`
}

// Validate checks the (questionId, userId) key and that an answer is present.
func (r Response) Validate() error {
	if r.QuestionID <= 0 {
		return fmt.Errorf("%w: question id must be positive", ErrInvalidResponse)
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidResponse)
	}
	if r.AnswerText == "" && len(r.AnswerOptions) == 0 && r.AnswerNumber == nil && r.AnswerEmoji == "" {
		return fmt.Errorf("%w: no answer", ErrInvalidResponse)
	}
	return nil
}

// Gender selects the color palette of a participant.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Participant is a registered quiz player.
type Participant struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
	Gender   Gender `json:"gender"`
	Color    string `json:"color_hex"`
	JoinedAt int64  `json:"joined_at"`
	IsActive bool   `json:"is_active"`
}

// Validate checks the fields a client must supply before registration.
func (p Participant) Validate() error {
	if strings.TrimSpace(p.Nickname) == "" {
		return fmt.Errorf("%w: missing nickname", ErrInvalidParticipant)
	}
	if p.Gender != GenderMale && p.Gender != GenderFemale {
		return fmt.Errorf("%w: unknown gender %q", ErrInvalidParticipant, p.Gender)
	}
	return nil
}

// Constraints bounds slider answers.
type Constraints struct {
	MinValue *int `json:"min_value,omitempty"`
	MaxValue *int `json:"max_value,omitempty"`
}

// Question is read-only quiz content.
type Question struct {
	Number        int          `json:"question_number"`
	SessionNumber int          `json:"session_number"`
	SessionName   string       `json:"session_name,omitempty"`
	Text          string       `json:"question_text"`
	Type          QuestionType `json:"question_type"`
	Options       []string     `json:"options,omitempty"`
	Constraints   *Constraints `json:"constraints,omitempty"`
	TimerSeconds  int          `json:"timer_seconds"`
	ChartType     string       `json:"chart_type,omitempty"`
}

// Session groups questions.
type Session struct {
	Number    int        `json:"session_number"`
	Name      string     `json:"session_name"`
	Questions []Question `json:"questions"`
}

// QuizData is the bundled question document.
type QuizData struct {
	Title          string    `json:"title,omitempty"`
	Description    string    `json:"description,omitempty"`
	TotalQuestions int       `json:"total_questions,omitempty"`
	Sessions       []Session `json:"sessions"`
}

// Questions flattens the sessions in document order, filling in session fields.
func (d QuizData) Questions() []Question {
	var out []Question
	for _, s := range d.Sessions {
		for _, q := range s.Questions {
			if q.SessionNumber == 0 {
				q.SessionNumber = s.Number
			}
			if q.SessionName == "" {
				q.SessionName = s.Name
			}
			out = append(out, q)
		}
	}
	return out
}

// Question finds a question by number.
func (d QuizData) Question(number int) (Question, bool) {
	for _, q := range d.Questions() {
		if q.Number == number {
			return q, true
		}
	}
	return Question{}, false
}
