package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/cratequiet/pkg/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL implementation of [store.Store].
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping reports whether the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Reset implements [store.Store]. All three tables are truncated in one
// statement, so a failure leaves every record in place.
func (s *Store) Reset(ctx context.Context) error {
	const q = `TRUNCATE bark_events, training_sessions, user_settings RESTART IDENTITY`
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("postgres store: reset: %w", err)
	}
	return nil
}

// AppendBarkEvent implements [store.BarkLog].
func (s *Store) AppendBarkEvent(ctx context.Context, ev store.BarkEvent) error {
	const q = `
		INSERT INTO bark_events (timestamp, volume, duration_ns, confidence)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, q, ev.Timestamp, ev.Volume, ev.Duration.Nanoseconds(), ev.Confidence); err != nil {
		return fmt.Errorf("postgres store: append bark event: %w", err)
	}
	return nil
}

// TrimBarkEvents implements [store.BarkLog]. Insertion order (the serial id)
// decides which events are oldest.
func (s *Store) TrimBarkEvents(ctx context.Context, keep int) (int, error) {
	const q = `
		DELETE FROM bark_events
		WHERE id IN (
		    SELECT id FROM bark_events
		    ORDER  BY id DESC
		    OFFSET $1
		)`

	tag, err := s.pool.Exec(ctx, q, max(keep, 0))
	if err != nil {
		return 0, fmt.Errorf("postgres store: trim bark events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// BarkEvents implements [store.BarkLog].
func (s *Store) BarkEvents(ctx context.Context, limit int) ([]store.BarkEvent, error) {
	q := `
		SELECT timestamp, volume, duration_ns, confidence
		FROM   bark_events
		ORDER  BY id`
	args := []any{}
	if limit > 0 {
		q = `
		SELECT timestamp, volume, duration_ns, confidence FROM (
		    SELECT id, timestamp, volume, duration_ns, confidence
		    FROM   bark_events
		    ORDER  BY id DESC
		    LIMIT  $1
		) newest
		ORDER BY id`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list bark events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.BarkEvent, error) {
		var (
			ev         store.BarkEvent
			durationNS int64
		)
		if err := row.Scan(&ev.Timestamp, &ev.Volume, &durationNS, &ev.Confidence); err != nil {
			return store.BarkEvent{}, err
		}
		ev.Duration = time.Duration(durationNS)
		return ev, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan bark events: %w", err)
	}
	if events == nil {
		events = []store.BarkEvent{}
	}
	return events, nil
}

// AppendSession implements [store.SessionLog].
func (s *Store) AppendSession(ctx context.Context, ts store.TrainingSession) error {
	const q = `
		INSERT INTO training_sessions
		    (id, date, duration_seconds, barks_detected, success, notes, photos)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	photos := ts.Photos
	if photos == nil {
		photos = []string{}
	}
	_, err := s.pool.Exec(ctx, q,
		ts.ID,
		ts.Date,
		ts.DurationSeconds,
		ts.BarksDetected,
		ts.Success,
		ts.Notes,
		photos,
	)
	if err != nil {
		return fmt.Errorf("postgres store: append session: %w", err)
	}
	return nil
}

// Sessions implements [store.SessionLog].
func (s *Store) Sessions(ctx context.Context) ([]store.TrainingSession, error) {
	const q = `
		SELECT id, date, duration_seconds, barks_detected, success, notes, photos
		FROM   training_sessions
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list sessions: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.TrainingSession, error) {
		var ts store.TrainingSession
		if err := row.Scan(&ts.ID, &ts.Date, &ts.DurationSeconds, &ts.BarksDetected, &ts.Success, &ts.Notes, &ts.Photos); err != nil {
			return store.TrainingSession{}, err
		}
		if len(ts.Photos) == 0 {
			ts.Photos = nil
		}
		return ts, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan sessions: %w", err)
	}
	if sessions == nil {
		sessions = []store.TrainingSession{}
	}
	return sessions, nil
}

// ReadSettings implements [store.SettingsStore].
func (s *Store) ReadSettings(ctx context.Context) (store.UserSettings, error) {
	const q = `
		SELECT sensitivity, vibration_enabled, sound_response_enabled,
		       response_volume, dog_name, training_goal
		FROM   user_settings
		WHERE  id = 1`

	var us store.UserSettings
	err := s.pool.QueryRow(ctx, q).Scan(
		&us.Sensitivity,
		&us.VibrationEnabled,
		&us.SoundResponseEnabled,
		&us.ResponseVolume,
		&us.DogName,
		&us.TrainingGoal,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.UserSettings{}, store.ErrNotFound
	}
	if err != nil {
		return store.UserSettings{}, fmt.Errorf("postgres store: read settings: %w", err)
	}
	return us, nil
}

// WriteSettings implements [store.SettingsStore].
func (s *Store) WriteSettings(ctx context.Context, us store.UserSettings) error {
	if err := us.Validate(); err != nil {
		return err
	}
	const q = `
		INSERT INTO user_settings
		    (id, sensitivity, vibration_enabled, sound_response_enabled,
		     response_volume, dog_name, training_goal, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
		    sensitivity            = EXCLUDED.sensitivity,
		    vibration_enabled      = EXCLUDED.vibration_enabled,
		    sound_response_enabled = EXCLUDED.sound_response_enabled,
		    response_volume        = EXCLUDED.response_volume,
		    dog_name               = EXCLUDED.dog_name,
		    training_goal          = EXCLUDED.training_goal,
		    updated_at             = now()`

	_, err := s.pool.Exec(ctx, q,
		us.Sensitivity,
		us.VibrationEnabled,
		us.SoundResponseEnabled,
		us.ResponseVolume,
		us.DogName,
		us.TrainingGoal,
	)
	if err != nil {
		return fmt.Errorf("postgres store: write settings: %w", err)
	}
	return nil
}
