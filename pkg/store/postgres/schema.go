// Package postgres provides a PostgreSQL-backed [store.Store].
//
// All tables share a single [pgxpool.Pool]. [Migrate] creates the schema
// idempotently and runs on every [NewStore].
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
//
//	_ = st.AppendBarkEvent(ctx, ev)
//	_, _ = st.TrimBarkEvents(ctx, store.RetentionLimit)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlBarkEvents = `
CREATE TABLE IF NOT EXISTS bark_events (
    id          BIGSERIAL         PRIMARY KEY,
    timestamp   TIMESTAMPTZ       NOT NULL,
    volume      DOUBLE PRECISION  NOT NULL,
    duration_ns BIGINT            NOT NULL DEFAULT 0,
    confidence  DOUBLE PRECISION  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bark_events_timestamp
    ON bark_events (timestamp);
`

const ddlTrainingSessions = `
CREATE TABLE IF NOT EXISTS training_sessions (
    seq              BIGSERIAL    PRIMARY KEY,
    id               TEXT         NOT NULL UNIQUE,
    date             TIMESTAMPTZ  NOT NULL,
    duration_seconds BIGINT       NOT NULL,
    barks_detected   INTEGER      NOT NULL,
    success          BOOLEAN      NOT NULL,
    notes            TEXT         NOT NULL DEFAULT '',
    photos           TEXT[]       NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_training_sessions_date
    ON training_sessions (date);
`

const ddlUserSettings = `
CREATE TABLE IF NOT EXISTS user_settings (
    id                     SMALLINT          PRIMARY KEY CHECK (id = 1),
    sensitivity            SMALLINT          NOT NULL CHECK (sensitivity BETWEEN 1 AND 10),
    vibration_enabled      BOOLEAN           NOT NULL,
    sound_response_enabled BOOLEAN           NOT NULL,
    response_volume        DOUBLE PRECISION  NOT NULL CHECK (response_volume BETWEEN 0 AND 1),
    dog_name               TEXT              NOT NULL DEFAULT '',
    training_goal          TEXT              NOT NULL DEFAULT '',
    updated_at             TIMESTAMPTZ       NOT NULL DEFAULT now()
);
`

// Migrate creates or ensures all required tables exist. It is idempotent and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlBarkEvents, ddlTrainingSessions, ddlUserSettings} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
