package memory

import (
	"bytes"
	"sync"
)

// Area is a shared in-process key/value area. Each client opens its own Store
// on it, the way browser tabs share one origin's storage.
type Area struct {
	mu     sync.RWMutex
	values map[string][]byte
	stores map[*Store]struct{}
}

func NewArea() *Area {
	return &Area{
		values: make(map[string][]byte),
		stores: make(map[*Store]struct{}),
	}
}

// Open returns a new handle on the area.
func (a *Area) Open() *Store {
	s := &Store{
		area:     a,
		watchers: make(map[chan string]struct{}),
	}
	a.mu.Lock()
	a.stores[s] = struct{}{}
	a.mu.Unlock()
	return s
}

// Store is one handle on an Area. Writes through a handle notify the watchers
// of every other handle, never its own.
type Store struct {
	area *Area

	mu       sync.Mutex
	watchers map[chan string]struct{}
}

// NewStore opens a handle on a private area, for single-client use.
func NewStore() *Store {
	return NewArea().Open()
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	s.area.mu.RLock()
	defer s.area.mu.RUnlock()
	v, ok := s.area.values[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (s *Store) Set(key string, value []byte) error {
	s.area.mu.Lock()
	s.area.values[key] = bytes.Clone(value)
	s.area.mu.Unlock()
	s.area.notify(s, key)
	return nil
}

func (s *Store) Remove(key string) error {
	s.area.mu.Lock()
	_, existed := s.area.values[key]
	delete(s.area.values, key)
	s.area.mu.Unlock()
	if existed {
		s.area.notify(s, key)
	}
	return nil
}

// Update applies fn to the current value atomically with respect to other
// writers on the area. When fn fails nothing is written.
func (s *Store) Update(key string, fn func(old []byte, ok bool) ([]byte, error)) error {
	s.area.mu.Lock()
	old, ok := s.area.values[key]
	next, err := fn(bytes.Clone(old), ok)
	if err != nil {
		s.area.mu.Unlock()
		return err
	}
	s.area.values[key] = bytes.Clone(next)
	s.area.mu.Unlock()
	s.area.notify(s, key)
	return nil
}

// Watch returns a channel of keys changed through other handles.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *Store) Watch() (<-chan string, func()) {
	ch := make(chan string, 8)

	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.watchers[ch]; ok {
			delete(s.watchers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Close detaches the handle from its area and closes its watchers.
func (s *Store) Close() {
	s.area.mu.Lock()
	delete(s.area.stores, s)
	s.area.mu.Unlock()

	s.mu.Lock()
	for ch := range s.watchers {
		delete(s.watchers, ch)
		close(ch)
	}
	s.mu.Unlock()
}

func (a *Area) notify(from *Store, key string) {
	a.mu.RLock()
	targets := make([]*Store, 0, len(a.stores))
	for st := range a.stores {
		if st != from {
			targets = append(targets, st)
		}
	}
	a.mu.RUnlock()

	for _, st := range targets {
		st.deliver(key)
	}
}

func (s *Store) deliver(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.watchers {
		select {
		case ch <- key:
		default:
			// drop the oldest notification so a slow watcher never blocks writers
			select {
			case <-ch:
			default:
			}
			ch <- key
		}
	}
}
