// Package memstore provides a volatile, in-memory [store.Store]. It is the
// default backend for demos and the reference backend in tests.
package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/cratequiet/pkg/store"
)

var _ store.Store = (*Store)(nil)

// Store is a thread-safe in-memory implementation of [store.Store].
// The zero value is ready to use.
type Store struct {
	mu          sync.RWMutex
	barks       []store.BarkEvent
	sessions    []store.TrainingSession
	settings    store.UserSettings
	hasSettings bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// AppendBarkEvent implements [store.BarkLog].
func (s *Store) AppendBarkEvent(_ context.Context, ev store.BarkEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.barks = append(s.barks, ev)
	return nil
}

// TrimBarkEvents implements [store.BarkLog].
func (s *Store) TrimBarkEvents(_ context.Context, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keep = max(keep, 0)
	excess := len(s.barks) - keep
	if excess <= 0 {
		return 0, nil
	}
	s.barks = slices.Clone(s.barks[excess:])
	return excess, nil
}

// BarkEvents implements [store.BarkLog].
func (s *Store) BarkEvents(_ context.Context, limit int) ([]store.BarkEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.barks
	if limit > 0 && limit < len(src) {
		src = src[len(src)-limit:]
	}
	return append([]store.BarkEvent{}, src...), nil
}

// AppendSession implements [store.SessionLog].
func (s *Store) AppendSession(_ context.Context, ts store.TrainingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts.Photos = slices.Clone(ts.Photos)
	s.sessions = append(s.sessions, ts)
	return nil
}

// Sessions implements [store.SessionLog].
func (s *Store) Sessions(_ context.Context) ([]store.TrainingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.TrainingSession{}, s.sessions...), nil
}

// ReadSettings implements [store.SettingsStore].
func (s *Store) ReadSettings(_ context.Context) (store.UserSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasSettings {
		return store.UserSettings{}, store.ErrNotFound
	}
	return s.settings, nil
}

// WriteSettings implements [store.SettingsStore].
func (s *Store) WriteSettings(_ context.Context, us store.UserSettings) error {
	if err := us.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = us
	s.hasSettings = true
	return nil
}

// Reset implements [store.Store].
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.barks = nil
	s.sessions = nil
	s.settings = store.UserSettings{}
	s.hasSettings = false
	return nil
}

// Close implements [store.Store]. It is a no-op.
func (s *Store) Close() error { return nil }
