package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/frontdesk-ai/frontdesk/internal/call"
	"github.com/frontdesk-ai/frontdesk/internal/settle"
)

// ErrNotFound is returned when a lookup matches no rows.
var ErrNotFound = errors.New("store: not found")

// Compile-time interface checks.
var (
	_ settle.RecordStore  = (*Store)(nil)
	_ call.TranscriptSink = (*Store)(nil)
)

// Store is the PostgreSQL-backed call log. It implements
// [settle.RecordStore] for settled records and [call.TranscriptSink] for
// live transcript streaming.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate] to ensure the schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping verifies database connectivity. Used by the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// AppendCallRecord writes one settled call record. The call_id column is
// unique; re-settling the same call is a conflict and updates nothing.
func (s *Store) AppendCallRecord(ctx context.Context, rec settle.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_logs (
			call_id, phone, caller_name, language, started_at,
			duration_seconds, turns, interrupts, transcript,
			booking_status, sentiment, cost, recording_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (call_id) DO NOTHING`,
		rec.CallID, rec.CallerID, rec.CallerName, rec.Language, rec.StartedAt,
		int64(rec.Duration.Seconds()), rec.Turns, rec.Interrupts, rec.Transcript,
		rec.BookingStatus, rec.Sentiment, rec.Cost, rec.RecordingURL,
	)
	if err != nil {
		return fmt.Errorf("store: append call record %q: %w", rec.CallID, err)
	}
	return nil
}

// AppendTurn streams one committed conversation turn into call_transcripts.
func (s *Store) AppendTurn(ctx context.Context, callID string, t call.Turn) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_transcripts (call_id, role, text, spoken_at)
		VALUES ($1, $2, $3, $4)`,
		callID, string(t.Role), t.Text, t.At,
	)
	if err != nil {
		return fmt.Errorf("store: append turn for %q: %w", callID, err)
	}
	return nil
}

// CallLog is one row of the call_logs table.
type CallLog struct {
	CallID        string
	Phone         string
	CallerName    string
	Language      string
	StartedAt     time.Time
	Duration      time.Duration
	Turns         int
	Interrupts    int
	Transcript    string
	BookingStatus string
	Sentiment     string
	Cost          float64
	RecordingURL  string
}

// RecentCalls returns the most recent settled calls, newest first.
func (s *Store) RecentCalls(ctx context.Context, limit int) ([]CallLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT call_id, phone, caller_name, language, started_at,
		       duration_seconds, turns, interrupts, transcript,
		       booking_status, sentiment, cost, recording_url
		FROM call_logs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent calls: %w", err)
	}
	defer rows.Close()

	var out []CallLog
	for rows.Next() {
		var c CallLog
		var durSeconds int64
		if err := rows.Scan(
			&c.CallID, &c.Phone, &c.CallerName, &c.Language, &c.StartedAt,
			&durSeconds, &c.Turns, &c.Interrupts, &c.Transcript,
			&c.BookingStatus, &c.Sentiment, &c.Cost, &c.RecordingURL,
		); err != nil {
			return nil, fmt.Errorf("store: scan call log: %w", err)
		}
		c.Duration = time.Duration(durSeconds) * time.Second
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent calls: %w", err)
	}
	return out, nil
}

// Transcript returns the streamed transcript lines for one call in spoken
// order.
func (s *Store) Transcript(ctx context.Context, callID string) ([]call.Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role, text, spoken_at
		FROM call_transcripts
		WHERE call_id = $1
		ORDER BY id`, callID)
	if err != nil {
		return nil, fmt.Errorf("store: transcript for %q: %w", callID, err)
	}
	defer rows.Close()

	var out []call.Turn
	for rows.Next() {
		var role string
		var t call.Turn
		if err := rows.Scan(&role, &t.Text, &t.At); err != nil {
			return nil, fmt.Errorf("store: scan transcript line: %w", err)
		}
		t.Role = call.Role(role)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: transcript for %q: %w", callID, err)
	}
	return out, nil
}

// Stats aggregates the call log for the operator dashboard.
type Stats struct {
	TotalCalls    int64
	TotalBookings int64
	TotalCost     float64
	AvgDuration   time.Duration
}

// Stats returns aggregate figures across all settled calls.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var avgSeconds float64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE booking_status LIKE 'Booking Confirmed%'),
		       COALESCE(sum(cost), 0),
		       COALESCE(avg(duration_seconds), 0)
		FROM call_logs`).Scan(
		&st.TotalCalls, &st.TotalBookings, &st.TotalCost, &avgSeconds,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}
	st.AvgDuration = time.Duration(avgSeconds * float64(time.Second))
	return st, nil
}

// LastCallFor returns the most recent call log for a phone number, or
// [ErrNotFound] if the caller has never completed a call.
func (s *Store) LastCallFor(ctx context.Context, phone string) (CallLog, error) {
	var c CallLog
	var durSeconds int64
	err := s.pool.QueryRow(ctx, `
		SELECT call_id, phone, caller_name, language, started_at,
		       duration_seconds, turns, interrupts, transcript,
		       booking_status, sentiment, cost, recording_url
		FROM call_logs
		WHERE phone = $1
		ORDER BY started_at DESC
		LIMIT 1`, phone).Scan(
		&c.CallID, &c.Phone, &c.CallerName, &c.Language, &c.StartedAt,
		&durSeconds, &c.Turns, &c.Interrupts, &c.Transcript,
		&c.BookingStatus, &c.Sentiment, &c.Cost, &c.RecordingURL,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return CallLog{}, ErrNotFound
	}
	if err != nil {
		return CallLog{}, fmt.Errorf("store: last call for %q: %w", phone, err)
	}
	c.Duration = time.Duration(durSeconds) * time.Second
	return c, nil
}
