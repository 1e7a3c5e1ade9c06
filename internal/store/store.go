// Package store holds the view state and the reducer that changes it.
package store

import (
	"sync"

	"github.com/ytakahashi/firetodo/internal/models"
)

// Listener is called with the new state after every dispatch.
type Listener func(State)

// Option configures a Store.
type Option func(*Store)

// WithObserver registers fn to see every dispatched action.
func WithObserver(fn func(Action)) Option {
	return func(s *Store) { s.observer = fn }
}

// Store serializes dispatches and fans the result out to listeners.
// Listeners see states in dispatch order and must not dispatch themselves.
type Store struct {
	notifyMu  sync.Mutex // held from reduce through fan-out
	mu        sync.Mutex
	state     State
	listeners map[int]Listener
	order     []int
	nextID    int
	observer  func(Action)
}

// New returns a store starting from initial.
func New(initial State, opts ...Option) *Store {
	if initial.Todos.Todos == nil {
		initial.Todos.Todos = []models.Todo{}
	}
	s := &Store{
		state:     initial.Clone(),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Dispatch reduces a and notifies listeners in subscription order. A
// concurrent Dispatch waits until every listener has seen this one.
func (s *Store) Dispatch(a Action) State {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.state = Reduce(s.state, a)
	next := s.state.Clone()
	listeners := make([]Listener, 0, len(s.order))
	for _, id := range s.order {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	if s.observer != nil {
		s.observer(a)
	}
	for _, l := range listeners {
		l(next.Clone())
	}
	return next
}

// Watch calls l with the current state and then with every later one. No
// dispatch can slip between the two.
func (s *Store) Watch(l Listener) func() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	unsubscribe := s.Subscribe(l)
	l(s.State())
	return unsubscribe
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}
