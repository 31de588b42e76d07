package memory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"retreat-quiz/internal/domain"
)

// QuizLoader fetches quiz content from a backing source (remote table, bundle file, local cache).
type QuizLoader interface {
	LoadQuiz(ctx context.Context) (domain.QuizData, error)
}

// QuestionCatalog caches quiz content with TTL to avoid repeated loads.
type QuestionCatalog struct {
	loader QuizLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu      sync.RWMutex
	cached  *domain.QuizData
	expires time.Time
}

const catalogKey = "quiz_data"

func NewQuestionCatalog(loader QuizLoader, ttl time.Duration) *QuestionCatalog {
	return &QuestionCatalog{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Quiz returns the cached quiz content, loading it on a miss or after expiry.
// Concurrent misses share a single load.
func (c *QuestionCatalog) Quiz(ctx context.Context) (domain.QuizData, error) {
	if data, ok := c.fresh(c.clock()); ok {
		return data, nil
	}

	result, err, _ := c.sf.Do(catalogKey, func() (interface{}, error) {
		now := c.clock()
		if data, ok := c.fresh(now); ok {
			return data, nil
		}

		data, err := c.loader.LoadQuiz(ctx)
		if err != nil {
			return domain.QuizData{}, err
		}

		c.mu.Lock()
		c.cached = &data
		c.expires = now.Add(c.ttlWithJitter())
		c.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return domain.QuizData{}, err
	}
	return result.(domain.QuizData), nil
}

// Question looks up one question by number.
func (c *QuestionCatalog) Question(ctx context.Context, number int) (domain.Question, error) {
	data, err := c.Quiz(ctx)
	if err != nil {
		return domain.Question{}, err
	}
	q, ok := data.Question(number)
	if !ok {
		return domain.Question{}, fmt.Errorf("%w: %d", domain.ErrQuestionNotFound, number)
	}
	return q, nil
}

// Invalidate drops the cached content so the next read reloads it.
func (c *QuestionCatalog) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

func (c *QuestionCatalog) fresh(now time.Time) (domain.QuizData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cached == nil || !c.expires.After(now) {
		return domain.QuizData{}, false
	}
	return *c.cached, true
}

func (c *QuestionCatalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticQuizLoader serves fixed content (useful for tests/demos).
type StaticQuizLoader struct {
	data *domain.QuizData
}

func NewStaticQuizLoader(data *domain.QuizData) *StaticQuizLoader {
	return &StaticQuizLoader{data: data}
}

func (l *StaticQuizLoader) LoadQuiz(context.Context) (domain.QuizData, error) {
	if l.data == nil {
		return domain.QuizData{}, domain.ErrQuizNotFound
	}
	return *l.data, nil
}

// FallbackLoader tries each loader in order and returns the first non-empty quiz.
type FallbackLoader []QuizLoader

func (f FallbackLoader) LoadQuiz(ctx context.Context) (domain.QuizData, error) {
	var errs []error
	for _, l := range f {
		data, err := l.LoadQuiz(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(data.Questions()) == 0 {
			continue
		}
		return data, nil
	}
	if len(errs) == 0 {
		return domain.QuizData{}, domain.ErrQuizNotFound
	}
	return domain.QuizData{}, fmt.Errorf("%w: %w", domain.ErrQuizNotFound, errors.Join(errs...))
}
