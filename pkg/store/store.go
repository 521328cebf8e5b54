// Package store defines the durable storage contract of the bark monitoring
// engine.
//
// Storage is split into three narrow interfaces so that backends and test
// doubles only need to implement what a consumer actually uses:
//
//   - [BarkLog]: append-only log of accepted bark events with a trim operation
//     the engine uses to enforce its retention cap.
//   - [SessionLog]: append-only log of finished training sessions.
//   - [SettingsStore]: the single user-settings record, last write wins.
//
// [Store] bundles all three with Reset and Close. Backends live in sub-packages
// (memstore, filestore, postgres) and an analytics archive in clickhouse.
//
// Every implementation must be safe for concurrent use.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by [SettingsStore.ReadSettings] when no settings
// have been written yet.
var ErrNotFound = errors.New("store: not found")

// ErrInvalidSettings is returned when a [UserSettings] value violates its
// ranges. Writes carrying invalid settings are rejected before reaching the
// backend.
var ErrInvalidSettings = errors.New("store: invalid settings")

// BarkLog persists accepted bark events.
type BarkLog interface {
	// AppendBarkEvent appends ev to the log.
	AppendBarkEvent(ctx context.Context, ev BarkEvent) error

	// TrimBarkEvents removes the oldest events until at most keep remain and
	// returns how many were removed.
	TrimBarkEvents(ctx context.Context, keep int) (int, error)

	// BarkEvents returns the newest limit events ordered oldest first. A
	// non-positive limit returns every stored event.
	BarkEvents(ctx context.Context, limit int) ([]BarkEvent, error)
}

// SessionLog persists finished training sessions.
type SessionLog interface {
	// AppendSession appends s to the log.
	AppendSession(ctx context.Context, s TrainingSession) error

	// Sessions returns every stored session in the order they were appended.
	Sessions(ctx context.Context) ([]TrainingSession, error)
}

// SettingsStore persists the single user-settings record.
type SettingsStore interface {
	// ReadSettings returns the stored settings or [ErrNotFound].
	ReadSettings(ctx context.Context) (UserSettings, error)

	// WriteSettings replaces the stored settings.
	WriteSettings(ctx context.Context, s UserSettings) error
}

// Store is a complete storage backend.
type Store interface {
	BarkLog
	SessionLog
	SettingsStore

	// Reset deletes every bark event, every session and the stored settings.
	Reset(ctx context.Context) error

	// Close releases resources held by the backend.
	Close() error
}

// Archive is an unbounded, write-only mirror of the bark and session logs.
// It is never trimmed and never read back by the engine.
type Archive interface {
	ArchiveBarkEvent(ctx context.Context, ev BarkEvent) error
	ArchiveSession(ctx context.Context, s TrainingSession) error
	Close() error
}
