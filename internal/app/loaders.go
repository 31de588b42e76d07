package app

import (
	"context"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rs/zerolog"

	"retreat-quiz/internal/domain"
	"retreat-quiz/internal/normalize"
	"retreat-quiz/internal/remote"
)

// QuizLoader fetches quiz content from one source.
type QuizLoader interface {
	LoadQuiz(ctx context.Context) (domain.QuizData, error)
}

// RemoteQuizLoader reads the questions table.
type RemoteQuizLoader struct {
	remote RemoteStore
}

func NewRemoteQuizLoader(rs RemoteStore) *RemoteQuizLoader {
	return &RemoteQuizLoader{remote: rs}
}

func (l *RemoteQuizLoader) LoadQuiz(ctx context.Context) (domain.QuizData, error) {
	if l.remote == nil || !l.remote.Connected() {
		return domain.QuizData{}, remote.ErrNotConnected
	}
	rows, err := l.remote.Select(ctx, remote.TableQuestions, nil)
	if err != nil {
		return domain.QuizData{}, err
	}
	if len(rows) == 0 {
		return domain.QuizData{}, fmt.Errorf("%w: questions table is empty", domain.ErrQuizNotFound)
	}
	return normalize.QuizData(rows), nil
}

// LocalQuizLoader reads the quiz_data document.
type LocalQuizLoader struct {
	docs docs
}

func NewLocalQuizLoader(store LocalStore) *LocalQuizLoader {
	return &LocalQuizLoader{docs: docs{store: store, log: zerolog.Nop()}}
}

func (l *LocalQuizLoader) LoadQuiz(context.Context) (domain.QuizData, error) {
	data, ok := l.docs.quizData()
	if !ok {
		return domain.QuizData{}, fmt.Errorf("%w: no local quiz data", domain.ErrQuizNotFound)
	}
	return data, nil
}

// MirrorLoader keeps a local quiz_data copy of whatever its source loads, so
// the local loader can serve it later. Unchanged content is not rewritten.
type MirrorLoader struct {
	source QuizLoader
	docs   docs
}

func NewMirrorLoader(source QuizLoader, store LocalStore, log zerolog.Logger) *MirrorLoader {
	return &MirrorLoader{source: source, docs: docs{store: store, log: log}}
}

func (l *MirrorLoader) LoadQuiz(ctx context.Context) (domain.QuizData, error) {
	data, err := l.source.LoadQuiz(ctx)
	if err != nil {
		return domain.QuizData{}, err
	}
	if cached, ok := l.docs.quizData(); ok && cmp.Equal(cached, data, cmpopts.EquateEmpty()) {
		return data, nil
	}
	if err := l.docs.setQuizData(data); err != nil {
		l.docs.log.Warn().Err(err).Msg("mirror quiz data")
	}
	return data, nil
}
