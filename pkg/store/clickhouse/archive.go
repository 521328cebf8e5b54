// Package clickhouse mirrors bark events and training sessions into
// ClickHouse for long-term analytics. Unlike the primary store it applies no
// retention cap.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/MrWong99/cratequiet/pkg/store"
)

var _ store.Archive = (*Archive)(nil)

// Options configures the connection.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string

	// DeviceID tags every archived row so several monitors can share tables.
	DeviceID string

	// DialTimeout defaults to 5s.
	DialTimeout time.Duration
}

const ddlBarkEvents = `
CREATE TABLE IF NOT EXISTS bark_events (
    timestamp   DateTime64(3),
    device_id   String,
    volume      Float64,
    duration_ms UInt32,
    confidence  Float64
) ENGINE = MergeTree()
ORDER BY (device_id, timestamp)`

const ddlTrainingSessions = `
CREATE TABLE IF NOT EXISTS training_sessions (
    id               String,
    device_id        String,
    date             DateTime64(3),
    duration_seconds Int64,
    barks_detected   UInt32,
    success          Bool,
    notes            String
) ENGINE = MergeTree()
ORDER BY (device_id, date)`

// Archive writes to ClickHouse. Safe for concurrent use.
type Archive struct {
	conn     driver.Conn
	deviceID string
}

// Open connects, pings and creates the archive tables.
func Open(ctx context.Context, opts Options) (*Archive, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: opts.DialTimeout,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse archive: open: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse archive: ping: %w", err)
	}

	a := &Archive{conn: conn, deviceID: opts.DeviceID}
	if err := a.initSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) initSchema(ctx context.Context) error {
	for _, stmt := range []string{ddlBarkEvents, ddlTrainingSessions} {
		if err := a.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("clickhouse archive: create table: %w", err)
		}
	}
	return nil
}

// ArchiveBarkEvent implements [store.Archive].
func (a *Archive) ArchiveBarkEvent(ctx context.Context, ev store.BarkEvent) error {
	const q = `
		INSERT INTO bark_events (timestamp, device_id, volume, duration_ms, confidence)
		VALUES (?, ?, ?, ?, ?)`

	err := a.conn.Exec(ctx, q,
		ev.Timestamp,
		a.deviceID,
		ev.Volume,
		uint32(ev.Duration.Milliseconds()),
		ev.Confidence,
	)
	if err != nil {
		return fmt.Errorf("clickhouse archive: insert bark event: %w", err)
	}
	return nil
}

// ArchiveSession implements [store.Archive].
func (a *Archive) ArchiveSession(ctx context.Context, ts store.TrainingSession) error {
	const q = `
		INSERT INTO training_sessions (id, device_id, date, duration_seconds, barks_detected, success, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	err := a.conn.Exec(ctx, q,
		ts.ID,
		a.deviceID,
		ts.Date,
		ts.DurationSeconds,
		uint32(ts.BarksDetected),
		ts.Success,
		ts.Notes,
	)
	if err != nil {
		return fmt.Errorf("clickhouse archive: insert session: %w", err)
	}
	return nil
}

// BarkCount returns how many bark events the archive holds for this device
// since the given time.
func (a *Archive) BarkCount(ctx context.Context, since time.Time) (uint64, error) {
	const q = `
		SELECT count()
		FROM   bark_events
		WHERE  device_id = ? AND timestamp >= ?`

	var n uint64
	if err := a.conn.QueryRow(ctx, q, a.deviceID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("clickhouse archive: count barks: %w", err)
	}
	return n, nil
}

// Ping reports whether ClickHouse is reachable.
func (a *Archive) Ping(ctx context.Context) error {
	return a.conn.Ping(ctx)
}

// Close implements [store.Archive].
func (a *Archive) Close() error {
	if err := a.conn.Close(); err != nil {
		return fmt.Errorf("clickhouse archive: close: %w", err)
	}
	return nil
}
