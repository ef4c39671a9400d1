package store_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/frontdesk-ai/frontdesk/internal/call"
	"github.com/frontdesk-ai/frontdesk/internal/settle"
	"github.com/frontdesk-ai/frontdesk/internal/store"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if FRONTDESK_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("FRONTDESK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FRONTDESK_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [store.Store] with a clean schema and closes
// it when the test finishes.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx,
		`DROP TABLE IF EXISTS call_logs, call_transcripts`); err != nil {
		t.Fatalf("drop schema: %v", err)
	}

	st, err := store.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}

func sampleRecord(callID, phone string) settle.Record {
	return settle.Record{
		CallID:        callID,
		CallerID:      phone,
		CallerName:    "Priya",
		Language:      "hi-IN",
		StartedAt:     time.Now().UTC().Truncate(time.Second),
		Duration:      90 * time.Second,
		Turns:         6,
		Interrupts:    1,
		Transcript:    "user: I want a facial\nassistant: Of course.",
		BookingStatus: "Booking Confirmed: bk-1",
		Sentiment:     "positive",
		Cost:          0.01842,
		RecordingURL:  "https://recordings.example.com/c1.ogg",
	}
}

func TestAppendCallRecordRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("c1", "+911234567890")
	if err := st.AppendCallRecord(ctx, rec); err != nil {
		t.Fatalf("AppendCallRecord: %v", err)
	}
	// Re-settling the same call must not duplicate the row.
	if err := st.AppendCallRecord(ctx, rec); err != nil {
		t.Fatalf("AppendCallRecord (duplicate): %v", err)
	}

	logs, err := st.RecentCalls(ctx, 10)
	if err != nil {
		t.Fatalf("RecentCalls: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("RecentCalls returned %d rows, want 1", len(logs))
	}
	got := logs[0]
	if got.CallID != "c1" || got.Phone != "+911234567890" {
		t.Errorf("row = %+v", got)
	}
	if got.Duration != 90*time.Second || got.Turns != 6 || got.Interrupts != 1 {
		t.Errorf("counters = %v/%d/%d", got.Duration, got.Turns, got.Interrupts)
	}
	if got.Cost != 0.01842 {
		t.Errorf("cost = %v, want 0.01842", got.Cost)
	}
}

func TestLastCallFor(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.LastCallFor(ctx, "+910000000000"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("LastCallFor on empty table = %v, want ErrNotFound", err)
	}

	older := sampleRecord("c1", "+911234567890")
	older.StartedAt = time.Now().UTC().Add(-time.Hour)
	newer := sampleRecord("c2", "+911234567890")
	newer.Sentiment = "neutral"
	for _, rec := range []settle.Record{older, newer} {
		if err := st.AppendCallRecord(ctx, rec); err != nil {
			t.Fatalf("AppendCallRecord: %v", err)
		}
	}

	got, err := st.LastCallFor(ctx, "+911234567890")
	if err != nil {
		t.Fatalf("LastCallFor: %v", err)
	}
	if got.CallID != "c2" {
		t.Errorf("latest call = %q, want c2", got.CallID)
	}
}

func TestTranscriptStreaming(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	turns := []call.Turn{
		{Role: call.RoleAssistant, Text: "Welcome to Radiance Med Spa.", At: time.Now().UTC()},
		{Role: call.RoleUser, Text: "I want a facial", At: time.Now().UTC()},
		{Role: call.RoleAssistant, Text: "Of course.", At: time.Now().UTC()},
	}
	for _, turn := range turns {
		if err := st.AppendTurn(ctx, "c1", turn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	got, err := st.Transcript(ctx, "c1")
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(got) != len(turns) {
		t.Fatalf("transcript rows = %d, want %d", len(got), len(turns))
	}
	for i := range turns {
		if got[i].Role != turns[i].Role || got[i].Text != turns[i].Text {
			t.Errorf("line %d = %v %q", i, got[i].Role, got[i].Text)
		}
	}
}

func TestStats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	booked := sampleRecord("c1", "+911234567890")
	missed := sampleRecord("c2", "+919999999999")
	missed.BookingStatus = "No booking"
	missed.Duration = 30 * time.Second
	for _, rec := range []settle.Record{booked, missed} {
		if err := st.AppendCallRecord(ctx, rec); err != nil {
			t.Fatalf("AppendCallRecord: %v", err)
		}
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalCalls != 2 {
		t.Errorf("TotalCalls = %d, want 2", stats.TotalCalls)
	}
	if stats.TotalBookings != 1 {
		t.Errorf("TotalBookings = %d, want 1", stats.TotalBookings)
	}
	if stats.AvgDuration != 60*time.Second {
		t.Errorf("AvgDuration = %v, want 60s", stats.AvgDuration)
	}
}
