package app

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"retreat-quiz/internal/domain"
	"retreat-quiz/internal/timer"
)

// ErrNoReactor is returned by Start without a reactor.
var ErrNoReactor = errors.New("engine started without a reactor")

// DefaultPollInterval is how often the engine re-reads the local store.
const DefaultPollInterval = time.Second

// Catalog serves quiz content.
type Catalog interface {
	Quiz(ctx context.Context) (domain.QuizData, error)
	Invalidate()
}

// Engine keeps one client converged on the shared quiz state. It polls the local
// store, folds in remote change-feed and broadcast signals, suppresses repeats
// and dispatches real changes to the attached reactor.
type Engine struct {
	docs     docs
	remote   RemoteStore
	clock    clockwork.Clock
	interval time.Duration
	log      zerolog.Logger
	catalog  Catalog

	// mu serializes change detection and every reactor call.
	mu        sync.Mutex
	canonical *domain.QuizState
	reactor   Reactor
	sc        *SyncContext

	// signals carries keys written through this engine; other clients' writes arrive via Watch.
	signals chan string

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	unsubs  []func()
	events  chan func()
	running bool
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithCatalog(c Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// NewEngine builds an engine over a local store and an optional remote store.
// A nil or disconnected remote means local-only mode.
func NewEngine(local LocalStore, rs RemoteStore, opts ...Option) *Engine {
	e := &Engine{
		remote:   rs,
		clock:    clockwork.NewRealClock(),
		interval: DefaultPollInterval,
		log:      zerolog.Nop(),
		signals:  make(chan string, 16),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With().Str("component", "sync").Logger()
	e.docs = docs{store: local, log: e.log}
	return e
}

// Start attaches reactor and begins polling. When the remote store is connected
// it first mirrors remote data locally and subscribes to the change feed. Calling
// Start again stops the previous run first.
func (e *Engine) Start(ctx context.Context, reactor Reactor, userID string) error {
	if reactor == nil {
		return ErrNoReactor
	}
	e.Stop()

	e.runMu.Lock()
	defer e.runMu.Unlock()

	e.mu.Lock()
	e.reactor = reactor
	e.sc = newSyncContext(e, reactor.Role(), userID)
	e.canonical = nil
	e.mu.Unlock()

	if e.remoteUp() {
		e.initialSync(ctx)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.events = make(chan func(), 64)
	e.unsubs = e.subscribe(loopCtx, e.events)

	watch, unwatch := e.docs.store.Watch()
	e.unsubs = append(e.unsubs, unwatch)

	ticker := e.clock.NewTicker(e.interval)
	e.running = true
	go e.run(loopCtx, e.done, ticker, watch, e.events)

	e.log.Info().Str("role", string(reactor.Role())).Str("user", userID).Bool("remote", e.remoteUp()).Msg("sync started")
	return nil
}

// Stop cancels polling and every subscription, then detaches the reactor.
// It is safe to call repeatedly and before Start.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if !e.running {
		return
	}

	e.cancel()
	for _, unsub := range e.unsubs {
		unsub()
	}
	<-e.done

	e.running = false
	e.cancel, e.done, e.unsubs = nil, nil, nil

	e.mu.Lock()
	e.reactor = nil
	e.sc = nil
	e.canonical = nil
	e.mu.Unlock()

	e.log.Info().Msg("sync stopped")
}

// CheckState runs one change-detection pass against the local store.
func (e *Engine) CheckState() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkLocked()
}

// CurrentState is the local store's state, normalized.
func (e *Engine) CurrentState() domain.QuizState {
	return e.docs.state()
}

// Responses lists the responses to question q ordered by submission time.
func (e *Engine) Responses(q int) []domain.Response {
	byUser := e.docs.responses()[strconv.Itoa(q)]
	out := make([]domain.Response, 0, len(byUser))
	for _, r := range byUser {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt != out[j].SubmittedAt {
			return out[i].SubmittedAt < out[j].SubmittedAt
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// AllResponses returns every stored response keyed by question number.
func (e *Engine) AllResponses() map[int][]domain.Response {
	out := make(map[int][]domain.Response)
	for qid := range e.docs.responses() {
		n, err := strconv.Atoi(qid)
		if err != nil {
			continue
		}
		out[n] = e.Responses(n)
	}
	return out
}

// Participants lists the locally known participants.
func (e *Engine) Participants() []domain.Participant {
	return e.docs.participants()
}

func (e *Engine) run(ctx context.Context, done chan struct{}, ticker clockwork.Ticker, watch <-chan string, events <-chan func()) {
	defer close(done)
	defer ticker.Stop()

	e.CheckState()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			e.tick()
		case key := <-e.signals:
			e.onLocalChange(key)
		case key, ok := <-watch:
			if !ok {
				watch = nil
				continue
			}
			e.onLocalChange(key)
		case fn := <-events:
			fn()
		}
	}
}

// tick is one poll: change detection, then the timer regardless of whether
// anything changed.
func (e *Engine) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkLocked()
	e.tickTimerLocked()
}

func (e *Engine) checkLocked() {
	if e.reactor == nil {
		return
	}
	next := e.docs.state()
	if e.canonical != nil && cmp.Equal(*e.canonical, next) {
		return
	}
	prev := e.canonical
	e.canonical = &next
	e.sc.setState(next)

	e.log.Debug().Str("status", string(next.Status)).Int("question", next.CurrentQuestion).Msg("state changed")
	if r, ok := e.reactor.(StateReactor); ok {
		r.OnStateChange(e.sc, prev, next)
	}
}

func (e *Engine) tickTimerLocked() {
	if e.canonical == nil || !e.canonical.TimerRunning() {
		return
	}
	r, ok := e.reactor.(TimerReactor)
	if !ok {
		return
	}
	remaining := timer.SecondsRemaining(*e.canonical.TimerEnd, e.clock.Now().UnixMilli())
	r.OnTimerTick(e.sc, remaining, timer.Format(remaining))
}

func (e *Engine) onLocalChange(key string) {
	switch key {
	case KeyState:
		e.CheckState()
	case KeyResponses:
		e.notifyResponses(e.docs.state().CurrentQuestion)
	case KeyParticipants:
		e.notifyParticipants()
	case KeyQuizData:
		if e.catalog != nil {
			e.catalog.Invalidate()
		}
		e.CheckState()
	}
}

func (e *Engine) notifyResponses(questionID int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.reactor.(ResponseReactor); ok {
		r.OnResponsesChanged(e.sc, questionID)
	}
}

func (e *Engine) notifyParticipants() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.reactor.(ParticipantReactor); ok {
		r.OnParticipantsChanged(e.sc)
	}
}

// signal tells the loop that this engine wrote key. Signals beyond the buffer
// are dropped; the next poll covers them.
func (e *Engine) signal(key string) {
	select {
	case e.signals <- key:
	default:
	}
}

// post runs fn on the loop goroutine unless the loop has stopped.
func post(ctx context.Context, events chan<- func(), fn func()) {
	select {
	case events <- fn:
	case <-ctx.Done():
	}
}

func (e *Engine) remoteUp() bool {
	return e.remote != nil && e.remote.Connected()
}

func (e *Engine) quiz() (domain.QuizData, bool) {
	if e.catalog != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		data, err := e.catalog.Quiz(ctx)
		if err == nil {
			return data, true
		}
		e.log.Debug().Err(err).Msg("catalog unavailable, using local quiz data")
	}
	return e.docs.quizData()
}

func (e *Engine) question(n int) (domain.Question, bool) {
	data, ok := e.quiz()
	if !ok {
		return domain.Question{}, false
	}
	return data.Question(n)
}

func (e *Engine) questions() []domain.Question {
	data, _ := e.quiz()
	return data.Questions()
}
