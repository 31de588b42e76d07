package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"retreat-quiz/internal/domain"
)

// Config is the connection descriptor of the remote backend. An empty URL means
// local-only mode.
type Config struct {
	URL       string
	Key       string
	KeyPrefix string
}

// EventType filters change-feed events.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAll    EventType = "*"
)

// Change is one change-feed event: the new and old row of a table.
type Change struct {
	Table Table     `json:"table"`
	Type  EventType `json:"type"`
	New   Row       `json:"new"`
	Old   Row       `json:"old"`
}

// Broadcast is a low-latency message on the side channel. It is not persisted.
type Broadcast struct {
	Event   string `json:"event"`
	Payload Row    `json:"payload"`
}

// Backend is a concrete remote store (Redis, PostgreSQL).
type Backend interface {
	Ping(ctx context.Context) error
	// Upsert writes a row keyed by its natural key and returns the stored row.
	Upsert(ctx context.Context, table Table, row Row) (Row, error)
	// Insert writes a row only if its key is free; otherwise it returns ErrConflict.
	Insert(ctx context.Context, table Table, row Row) (Row, error)
	Select(ctx context.Context, table Table, match Row) ([]Row, error)
	Clear(ctx context.Context, table Table) error
	Changes(ctx context.Context) (<-chan Change, error)
	Broadcasts(ctx context.Context) (<-chan Broadcast, error)
	Publish(ctx context.Context, b Broadcast) error
	Close() error
}

// DialFunc opens a backend for a connection descriptor.
type DialFunc func(ctx context.Context, cfg Config) (Backend, error)

// Result is the outcome of a remote write. Err is nil on success; Row holds the
// row as stored by the server.
type Result struct {
	Row Row
	Err error
}

// OK reports whether the write succeeded.
func (r Result) OK() bool { return r.Err == nil }

type changeSub struct {
	table  Table
	filter EventType
	fn     func(Change)
}

type broadcastSub struct {
	event string
	fn    func(Broadcast)
}

// Adapter is the single boundary to the remote store. Every failure is converted
// into an error value; callers always have a local fallback.
type Adapter struct {
	dial         DialFunc
	log          zerolog.Logger
	ProbeTimeout time.Duration

	mu            sync.RWMutex
	backend       Backend
	cancel        context.CancelFunc
	done          chan struct{}
	nextID        int
	changeSubs    map[int]changeSub
	broadcastSubs map[int]broadcastSub
}

func NewAdapter(dial DialFunc, log zerolog.Logger) *Adapter {
	return &Adapter{
		dial:          dial,
		log:           log.With().Str("component", "remote").Logger(),
		ProbeTimeout:  5 * time.Second,
		changeSubs:    make(map[int]changeSub),
		broadcastSubs: make(map[int]broadcastSub),
	}
}

// Connect dials the backend, probes it and starts the change feed. It returns
// false when the descriptor is missing or any step fails; the adapter then stays
// disconnected and the caller runs in local-only mode.
func (a *Adapter) Connect(ctx context.Context, cfg Config) bool {
	a.Close()

	if cfg.URL == "" {
		a.log.Info().Err(domain.ErrRemoteUnavailable).Msg("no remote configured, running local-only")
		return false
	}
	if a.dial == nil {
		a.log.Warn().Err(domain.ErrRemoteUnavailable).Msg("no dialer configured")
		return false
	}

	backend, err := a.dial(ctx, cfg)
	if err != nil {
		a.log.Warn().Err(err).Msg("remote dial failed, running local-only")
		return false
	}

	probeCtx, cancelProbe := context.WithTimeout(ctx, a.ProbeTimeout)
	err = backend.Ping(probeCtx)
	cancelProbe()
	if err != nil {
		_ = backend.Close()
		a.log.Warn().Err(err).Msg("remote probe failed, running local-only")
		return false
	}

	feedCtx, cancel := context.WithCancel(context.Background())
	changes, err := backend.Changes(feedCtx)
	if err != nil {
		cancel()
		_ = backend.Close()
		a.log.Warn().Err(err).Msg("change feed subscription failed, running local-only")
		return false
	}
	broadcasts, err := backend.Broadcasts(feedCtx)
	if err != nil {
		cancel()
		_ = backend.Close()
		a.log.Warn().Err(err).Msg("broadcast subscription failed, running local-only")
		return false
	}

	done := make(chan struct{})
	a.mu.Lock()
	a.backend = backend
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	go a.pump(feedCtx, done, changes, broadcasts)
	a.log.Info().Msg("remote store connected")
	return true
}

// Connected reports whether a backend is live.
func (a *Adapter) Connected() bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.backend != nil
}

// Close stops the change feed and releases the backend. Safe to call repeatedly.
func (a *Adapter) Close() {
	a.mu.Lock()
	backend, cancel, done := a.backend, a.cancel, a.done
	a.backend, a.cancel, a.done = nil, nil, nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if backend != nil {
		if err := backend.Close(); err != nil {
			a.log.Debug().Err(err).Msg("close backend")
		}
	}
}

// SubscribeChanges registers fn for events on table whose type matches filter.
// Several subscriptions may coexist per table. The returned function unsubscribes.
func (a *Adapter) SubscribeChanges(table Table, filter EventType, fn func(Change)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.changeSubs[id] = changeSub{table: table, filter: filter, fn: fn}
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.changeSubs, id)
		a.mu.Unlock()
	}
}

// SubscribeBroadcast registers fn for side-channel messages named event.
func (a *Adapter) SubscribeBroadcast(event string, fn func(Broadcast)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.broadcastSubs[id] = broadcastSub{event: event, fn: fn}
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.broadcastSubs, id)
		a.mu.Unlock()
	}
}

// Write upserts row into table by its natural key.
func (a *Adapter) Write(ctx context.Context, table Table, row Row) Result {
	return a.write(ctx, table, row, Backend.Upsert)
}

// Insert writes row only if no row with the same natural key exists.
func (a *Adapter) Insert(ctx context.Context, table Table, row Row) Result {
	return a.write(ctx, table, row, Backend.Insert)
}

func (a *Adapter) write(ctx context.Context, table Table, row Row, op func(Backend, context.Context, Table, Row) (Row, error)) Result {
	backend := a.current()
	if backend == nil {
		return Result{Err: ErrNotConnected}
	}
	projected, err := Project(table, row)
	if err != nil {
		return Result{Err: err}
	}
	stored, err := op(backend, ctx, table, projected)
	if err != nil {
		return Result{Err: fmt.Errorf("write %s: %w", table, err)}
	}
	return Result{Row: stored}
}

// Select returns the rows of table matching every column in match.
func (a *Adapter) Select(ctx context.Context, table Table, match Row) ([]Row, error) {
	backend := a.current()
	if backend == nil {
		return nil, ErrNotConnected
	}
	rows, err := backend.Select(ctx, table, match)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return rows, nil
}

// Clear deletes every row of table.
func (a *Adapter) Clear(ctx context.Context, table Table) Result {
	backend := a.current()
	if backend == nil {
		return Result{Err: ErrNotConnected}
	}
	if err := backend.Clear(ctx, table); err != nil {
		return Result{Err: fmt.Errorf("clear %s: %w", table, err)}
	}
	return Result{}
}

// Broadcast sends a side-channel message to every connected client, including this one.
func (a *Adapter) Broadcast(ctx context.Context, event string, payload Row) error {
	backend := a.current()
	if backend == nil {
		return ErrNotConnected
	}
	if err := backend.Publish(ctx, Broadcast{Event: event, Payload: payload}); err != nil {
		return fmt.Errorf("broadcast %s: %w", event, err)
	}
	return nil
}

func (a *Adapter) current() Backend {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.backend
}

func (a *Adapter) pump(ctx context.Context, done chan struct{}, changes <-chan Change, broadcasts <-chan Broadcast) {
	defer close(done)
	for changes != nil || broadcasts != nil {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				changes = nil
				a.log.Warn().Msg("change feed closed")
				continue
			}
			a.dispatchChange(c)
		case b, ok := <-broadcasts:
			if !ok {
				broadcasts = nil
				continue
			}
			a.dispatchBroadcast(b)
		}
	}
}

func (a *Adapter) dispatchChange(c Change) {
	a.mu.RLock()
	var fns []func(Change)
	for _, sub := range a.changeSubs {
		if sub.table != c.Table {
			continue
		}
		if sub.filter != EventAll && sub.filter != c.Type {
			continue
		}
		fns = append(fns, sub.fn)
	}
	a.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

func (a *Adapter) dispatchBroadcast(b Broadcast) {
	a.mu.RLock()
	var fns []func(Broadcast)
	for _, sub := range a.broadcastSubs {
		if sub.event == b.Event {
			fns = append(fns, sub.fn)
		}
	}
	a.mu.RUnlock()

	for _, fn := range fns {
		fn(b)
	}
}
