// Package state holds the observable presentation state of one process.
//
// A Store has a single writer per process (the coordinator on the controller
// side, the display agent on the display side). Subscribers are notified
// synchronously, in order, after every Update.
package state

import (
	"reflect"
	"sort"
	"sync"

	"proyektor/internal/models"
)

// State is the full presentation state. It is also the persisted snapshot.
type State struct {
	Config         models.PresentationConfig `json:"config"`
	WindowState    models.WindowPosition     `json:"windowState"`
	CurrentContent *models.Content           `json:"currentContent"`
	ContentHistory []models.Content          `json:"contentHistory"`
	Error          string                    `json:"error"`
}

// Initial is the state before anything has been loaded.
func Initial() State {
	return State{
		Config:         models.DefaultConfig(),
		WindowState:    models.DefaultWindowPosition(),
		ContentHistory: []models.Content{},
	}
}

func (s State) clone() State {
	out := s
	if s.CurrentContent != nil {
		c := *s.CurrentContent
		out.CurrentContent = &c
	}
	out.ContentHistory = append([]models.Content{}, s.ContentHistory...)
	return out
}

// Store is an explicit, injectable state container.
type Store struct {
	mu    sync.RWMutex
	state State

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(State)

	notifyMu sync.Mutex
}

// New creates a store seeded with initial.
func New(initial State) *Store {
	return &Store{
		state: initial.clone(),
		subs:  make(map[int]func(State)),
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Update applies fn to the state and notifies subscribers before returning.
// Subscribers must not call Update.
func (s *Store) Update(fn func(*State)) State {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	fn(&s.state)
	snap := s.state.clone()
	s.mu.Unlock()

	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	s.subMu.Unlock()

	sort.Ints(ids)
	for _, id := range ids {
		s.subMu.Lock()
		sub, ok := s.subs[id]
		s.subMu.Unlock()
		if ok {
			sub(snap.clone())
		}
	}
	return snap
}

// Subscribe registers fn for every subsequent update. The returned function
// removes it.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Select subscribes to one slice of the state. fn is called with the current
// value immediately and then only when the slice changes.
func Select[T any](s *Store, pick func(State) T, fn func(T)) (cancel func()) {
	var mu sync.Mutex
	last := pick(s.Snapshot())
	fn(last)

	return s.Subscribe(func(st State) {
		v := pick(st)

		mu.Lock()
		same := reflect.DeepEqual(v, last)
		if !same {
			last = v
		}
		mu.Unlock()

		if !same {
			fn(v)
		}
	})
}
