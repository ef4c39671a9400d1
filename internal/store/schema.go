// Package store persists settled call records and live transcript lines to
// PostgreSQL. One [pgxpool.Pool] backs both tables; all operations are safe
// for concurrent use.
//
// Usage:
//
//	st, err := store.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
//
//	_ = st.AppendCallRecord(ctx, rec)
//	_ = st.AppendTurn(ctx, callID, turn)
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCallLogs = `
CREATE TABLE IF NOT EXISTS call_logs (
    id               BIGSERIAL    PRIMARY KEY,
    call_id          TEXT         NOT NULL UNIQUE,
    phone            TEXT         NOT NULL DEFAULT '',
    caller_name      TEXT         NOT NULL DEFAULT '',
    language         TEXT         NOT NULL DEFAULT '',
    started_at       TIMESTAMPTZ  NOT NULL,
    duration_seconds BIGINT       NOT NULL DEFAULT 0,
    turns            INT          NOT NULL DEFAULT 0,
    interrupts       INT          NOT NULL DEFAULT 0,
    transcript       TEXT         NOT NULL DEFAULT '',
    booking_status   TEXT         NOT NULL DEFAULT '',
    sentiment        TEXT         NOT NULL DEFAULT '',
    cost             NUMERIC(12,5) NOT NULL DEFAULT 0,
    recording_url    TEXT         NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_logs_phone
    ON call_logs (phone);

CREATE INDEX IF NOT EXISTS idx_call_logs_started_at
    ON call_logs (started_at);
`

const ddlCallTranscripts = `
CREATE TABLE IF NOT EXISTS call_transcripts (
    id         BIGSERIAL    PRIMARY KEY,
    call_id    TEXT         NOT NULL,
    role       TEXT         NOT NULL,
    text       TEXT         NOT NULL,
    spoken_at  TIMESTAMPTZ  NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_transcripts_call_id
    ON call_transcripts (call_id);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlCallLogs,
		ddlCallTranscripts,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store migrate: %w", err)
		}
	}
	return nil
}
