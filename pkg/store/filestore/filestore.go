// Package filestore persists engine data as append-only JSON lines in a local
// directory, suitable for a single device or a small self-hosted install.
//
// Layout inside the directory:
//
//	barks.jsonl     one [store.BarkEvent] per line
//	sessions.jsonl  one [store.TrainingSession] per line
//	settings.json   the current [store.UserSettings]
//
// Bark events are cached in memory. A trim drops events from the cache at
// once but rewrites the bark file (temp file + rename) only after
// [TrimSlack] dropped lines have piled up, or on [Store.Close]. Sessions are
// read back from disk on demand.
package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/MrWong99/cratequiet/pkg/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// TrimSlack is the number of trimmed bark lines the file may carry before a
// trim rewrites it.
const TrimSlack = 100

const (
	barksFile    = "barks.jsonl"
	sessionsFile = "sessions.jsonl"
	settingsFile = "settings.json"
)

// Store is a directory-backed [store.Store]. Thread-safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	dir   string
	barks []store.BarkEvent

	// stale counts lines at the head of the bark file that were trimmed
	// from barks but not yet rewritten away.
	stale int
}

// Option configures [Open].
type Option func(*Store) error

// WithRetention caps the loaded bark log to the newest keep events, so reads
// stay bounded after a restart that left untrimmed lines on disk.
func WithRetention(keep int) Option {
	return func(s *Store) error {
		_, err := s.trim(keep)
		return err
	}
}

// Open creates dir if needed and loads any existing bark log.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}
	s := &Store{dir: dir}
	barks, err := readLines[store.BarkEvent](s.path(barksFile))
	if err != nil {
		return nil, err
	}
	s.barks = barks
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// AppendBarkEvent implements [store.BarkLog].
func (s *Store) AppendBarkEvent(_ context.Context, ev store.BarkEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := appendLine(s.path(barksFile), ev); err != nil {
		return err
	}
	s.barks = append(s.barks, ev)
	return nil
}

// TrimBarkEvents implements [store.BarkLog]. Removed events disappear from
// reads immediately. The bark file is rewritten once [TrimSlack] removed
// lines have accumulated.
func (s *Store) TrimBarkEvents(_ context.Context, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trim(keep)
}

func (s *Store) trim(keep int) (int, error) {
	keep = max(keep, 0)
	excess := len(s.barks) - keep
	if excess <= 0 {
		return 0, nil
	}
	s.barks = slices.Clone(s.barks[excess:])
	s.stale += excess
	if s.stale < TrimSlack {
		return excess, nil
	}
	if err := s.compact(); err != nil {
		return 0, err
	}
	return excess, nil
}

// compact rewrites the bark file to hold exactly the cached events.
func (s *Store) compact() error {
	if err := rewriteLines(s.path(barksFile), s.barks); err != nil {
		return err
	}
	s.stale = 0
	return nil
}

// BarkEvents implements [store.BarkLog].
func (s *Store) BarkEvents(_ context.Context, limit int) ([]store.BarkEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	return appendLine(s.path(sessionsFile), ts)
}

// Sessions implements [store.SessionLog].
func (s *Store) Sessions(_ context.Context) ([]store.TrainingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readLines[store.TrainingSession](s.path(sessionsFile))
}

// ReadSettings implements [store.SettingsStore].
func (s *Store) ReadSettings(_ context.Context) (store.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(settingsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return store.UserSettings{}, store.ErrNotFound
	}
	if err != nil {
		return store.UserSettings{}, fmt.Errorf("filestore: read settings: %w", err)
	}
	var us store.UserSettings
	if err := json.Unmarshal(data, &us); err != nil {
		return store.UserSettings{}, fmt.Errorf("filestore: decode settings: %w", err)
	}
	return us, nil
}

// WriteSettings implements [store.SettingsStore].
func (s *Store) WriteSettings(_ context.Context, us store.UserSettings) error {
	if err := us.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(us, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: marshal settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.path(settingsFile), append(data, '\n'))
}

// Reset implements [store.Store]. It removes the data files.
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, name := range []string{barksFile, sessionsFile, settingsFile} {
		if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("filestore: remove %s: %w", name, err))
		}
	}
	s.barks = nil
	s.stale = 0
	return errors.Join(errs...)
}

// Close implements [store.Store]. It drops any trimmed lines still in the bark
// file. Files are opened per operation, so there is nothing else to release.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale == 0 {
		return nil
	}
	return s.compact()
}

func appendLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("filestore: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("filestore: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("filestore: write: %w", err)
	}
	return nil
}

func readLines[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []T{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	out := []T{}
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			return nil, fmt.Errorf("filestore: %s line %d: %w", filepath.Base(path), line, err)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

func rewriteLines[T any](path string, items []T) error {
	var buf []byte
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("filestore: marshal: %w", err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}
	return writeAtomic(path, buf)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("filestore: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("filestore: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("filestore: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("filestore: rename: %w", err)
	}
	return nil
}
