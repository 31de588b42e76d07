// Package bundle loads the quiz document shipped alongside the binary.
package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"retreat-quiz/internal/domain"
)

// FileLoader reads a quiz document of sessions with nested questions.
type FileLoader struct {
	path string
}

func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

func (l *FileLoader) LoadQuiz(ctx context.Context) (domain.QuizData, error) {
	if err := ctx.Err(); err != nil {
		return domain.QuizData{}, err
	}
	if l.path == "" {
		return domain.QuizData{}, domain.ErrQuizNotFound
	}
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return domain.QuizData{}, fmt.Errorf("read quiz bundle: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a quiz document and fills the derived question fields.
func Parse(raw []byte) (domain.QuizData, error) {
	var data domain.QuizData
	if err := json.Unmarshal(raw, &data); err != nil {
		return domain.QuizData{}, fmt.Errorf("decode quiz bundle: %w", err)
	}
	questions := data.Questions()
	if len(questions) == 0 {
		return domain.QuizData{}, fmt.Errorf("%w: bundle has no questions", domain.ErrQuizNotFound)
	}
	if data.TotalQuestions == 0 {
		data.TotalQuestions = len(questions)
	}
	return data, nil
}
