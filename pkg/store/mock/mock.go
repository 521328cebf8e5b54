// Package mock provides a recording [store.Store] and [store.Archive] for
// unit tests.
//
// Store keeps data in memory like memstore but lets tests inject errors per
// operation and block writes to simulate a slow backend.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/cratequiet/pkg/store"
)

// Store is a mock implementation of [store.Store].
type Store struct {
	mu sync.Mutex

	// AppendBarkErr is returned by AppendBarkEvent.
	AppendBarkErr error

	// TrimErr is returned by TrimBarkEvents.
	TrimErr error

	// AppendSessionErr is returned by AppendSession.
	AppendSessionErr error

	// ReadSettingsErr is returned by ReadSettings. When nil and no settings
	// were written, ReadSettings returns [store.ErrNotFound].
	ReadSettingsErr error

	// WriteSettingsErr is returned by WriteSettings.
	WriteSettingsErr error

	// ResetErr is returned by Reset.
	ResetErr error

	// Block, when non-nil, makes every write wait until it is closed or the
	// call's context is done.
	Block chan struct{}

	// Barks, SessionsLog and Settings hold what was written successfully.
	Barks       []store.BarkEvent
	SessionsLog []store.TrainingSession
	Settings    *store.UserSettings

	CallCountAppendBark    int
	CallCountTrim          int
	CallCountAppendSession int
	CallCountReadSettings  int
	CallCountWriteSettings int
	CallCountReset         int
	CallCountClose         int

	// TrimKeeps records the keep argument of every TrimBarkEvents call.
	TrimKeeps []int
}

func (s *Store) wait(ctx context.Context) error {
	s.mu.Lock()
	block := s.Block
	s.mu.Unlock()
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AppendBarkEvent implements [store.BarkLog].
func (s *Store) AppendBarkEvent(ctx context.Context, ev store.BarkEvent) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountAppendBark++
	if s.AppendBarkErr != nil {
		return s.AppendBarkErr
	}
	s.Barks = append(s.Barks, ev)
	return nil
}

// TrimBarkEvents implements [store.BarkLog].
func (s *Store) TrimBarkEvents(_ context.Context, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountTrim++
	s.TrimKeeps = append(s.TrimKeeps, keep)
	if s.TrimErr != nil {
		return 0, s.TrimErr
	}
	excess := len(s.Barks) - max(keep, 0)
	if excess <= 0 {
		return 0, nil
	}
	s.Barks = append([]store.BarkEvent{}, s.Barks[excess:]...)
	return excess, nil
}

// BarkEvents implements [store.BarkLog].
func (s *Store) BarkEvents(_ context.Context, limit int) ([]store.BarkEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.Barks
	if limit > 0 && limit < len(src) {
		src = src[len(src)-limit:]
	}
	return append([]store.BarkEvent{}, src...), nil
}

// AppendSession implements [store.SessionLog].
func (s *Store) AppendSession(ctx context.Context, ts store.TrainingSession) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountAppendSession++
	if s.AppendSessionErr != nil {
		return s.AppendSessionErr
	}
	s.SessionsLog = append(s.SessionsLog, ts)
	return nil
}

// Sessions implements [store.SessionLog].
func (s *Store) Sessions(_ context.Context) ([]store.TrainingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.TrainingSession{}, s.SessionsLog...), nil
}

// ReadSettings implements [store.SettingsStore].
func (s *Store) ReadSettings(_ context.Context) (store.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountReadSettings++
	if s.ReadSettingsErr != nil {
		return store.UserSettings{}, s.ReadSettingsErr
	}
	if s.Settings == nil {
		return store.UserSettings{}, store.ErrNotFound
	}
	return *s.Settings, nil
}

// WriteSettings implements [store.SettingsStore].
func (s *Store) WriteSettings(ctx context.Context, us store.UserSettings) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountWriteSettings++
	if s.WriteSettingsErr != nil {
		return s.WriteSettingsErr
	}
	s.Settings = &us
	return nil
}

// Reset implements [store.Store].
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountReset++
	if s.ResetErr != nil {
		return s.ResetErr
	}
	s.Barks = nil
	s.SessionsLog = nil
	s.Settings = nil
	return nil
}

// Close implements [store.Store].
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// BarkCount returns the number of stored bark events.
func (s *Store) BarkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Barks)
}

// SessionCount returns the number of stored sessions.
func (s *Store) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SessionsLog)
}

// LastSession returns the most recently stored session.
func (s *Store) LastSession() (store.TrainingSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.SessionsLog) == 0 {
		return store.TrainingSession{}, false
	}
	return s.SessionsLog[len(s.SessionsLog)-1], true
}

// Archive is a mock implementation of [store.Archive].
type Archive struct {
	mu sync.Mutex

	// Err is returned by every archive call.
	Err error

	Barks    []store.BarkEvent
	Sessions []store.TrainingSession
}

// ArchiveBarkEvent implements [store.Archive].
func (a *Archive) ArchiveBarkEvent(_ context.Context, ev store.BarkEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return a.Err
	}
	a.Barks = append(a.Barks, ev)
	return nil
}

// ArchiveSession implements [store.Archive].
func (a *Archive) ArchiveSession(_ context.Context, ts store.TrainingSession) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return a.Err
	}
	a.Sessions = append(a.Sessions, ts)
	return nil
}

// Close implements [store.Archive].
func (a *Archive) Close() error { return nil }

// Counts returns the number of archived barks and sessions.
func (a *Archive) Counts() (barks, sessions int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Barks), len(a.Sessions)
}

// Ensure the mocks implement their interfaces at compile time.
var (
	_ store.Store   = (*Store)(nil)
	_ store.Archive = (*Archive)(nil)
)
