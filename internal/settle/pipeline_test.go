package settle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/frontdesk-ai/frontdesk/internal/call"
	"github.com/frontdesk-ai/frontdesk/internal/config"
	"github.com/frontdesk-ai/frontdesk/internal/observe"
)

type fakeCalendar struct {
	id    string
	err   error
	calls int
}

func (c *fakeCalendar) CreateBooking(_ context.Context, _ BookingRequest) (string, error) {
	c.calls++
	return c.id, c.err
}

type fakeNotifier struct {
	confirmed int
	noBooking int
}

func (n *fakeNotifier) BookingConfirmed(context.Context, call.BookingIntent, string) error {
	n.confirmed++
	return nil
}

func (n *fakeNotifier) NoBooking(context.Context, string, time.Duration) error {
	n.noBooking++
	return nil
}

type fakeClassifier struct {
	label string
	err   error
	calls int
}

func (c *fakeClassifier) Classify(context.Context, string) (string, error) {
	c.calls++
	return c.label, c.err
}

type fakeRecorder struct {
	url string
	err error
}

func (r *fakeRecorder) StopRecording(context.Context, string) (string, error) {
	return r.url, r.err
}

type fakeStore struct {
	mu   sync.Mutex
	recs []Record
	err  error
}

func (s *fakeStore) AppendCallRecord(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, rec)
	return nil
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []string
	delay     time.Duration
}

func (f *fakeScheduler) Schedule(identity string, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, identity)
	f.delay = delay
}

type fakeSink struct {
	events []string
	data   map[string]any
	err    error
}

func (s *fakeSink) Emit(_ context.Context, event string, data map[string]any) error {
	s.events = append(s.events, event)
	s.data = data
	return s.err
}

// silentResponder satisfies call.Responder for sessions built in tests.
type silentResponder struct{}

func (silentResponder) Reply(_ context.Context, u string) (string, error) { return "re: " + u, nil }
func (silentResponder) Say(context.Context, string) error                 { return nil }
func (silentResponder) SetInstructions(string)                            {}
func (silentResponder) SetVoice(string) error                             { return nil }

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func testSession(t *testing.T, callerID string, utterances ...string) *call.Session {
	t.Helper()
	s, err := call.NewSession(call.SessionConfig{
		CallID:    "call-1",
		CallerID:  callerID,
		Responder: silentResponder{},
		Metrics:   testMetrics(t),
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	for _, u := range utterances {
		if err := s.Handle(context.Background(), call.Event{
			Kind: call.EventUserUtterance, Text: u,
		}); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	s.Terminate("participant_disconnected")
	return s
}

// pinDuration makes the pipeline see the given call duration.
func pinDuration(p *Pipeline, s *call.Session, d time.Duration) {
	p.now = func() time.Time { return s.StartedAt().Add(d) }
}

func TestEstimateCost(t *testing.T) {
	t.Parallel()

	costs := config.CostConfig{
		STTPerMinute:         0.002,
		TTSPerMinute:         0.006,
		LLMOutPerKiloChar:    0.003,
		LLMInPerFourKiloChar: 0.0001,
	}

	got := EstimateCost(120*time.Second, 800, costs)
	if got != 0.01842 {
		t.Fatalf("EstimateCost(120s, 800) = %v, want 0.01842", got)
	}

	// Rounding to 5 decimals is part of the contract.
	if got := EstimateCost(7*time.Second, 123, costs); got != EstimateCost(7*time.Second, 123, costs) {
		t.Fatal("cost estimate not deterministic")
	}
	if EstimateCost(0, 0, costs) != 0 {
		t.Fatal("zero call must cost zero")
	}
}

func TestSettleWithConfirmedBooking(t *testing.T) {
	t.Parallel()

	cal := &fakeCalendar{id: "bk-42"}
	not := &fakeNotifier{}
	cls := &fakeClassifier{label: "positive"}
	rcd := &fakeRecorder{url: "https://recordings.example.com/call-1.ogg"}
	st := &fakeStore{}
	snk := &fakeSink{}

	p := NewPipeline(PipelineConfig{
		Calendar: cal, Notifier: not, Sentiment: cls, Recorder: rcd,
		Store: st, Sink: snk,
		Metrics: testMetrics(t),
	})

	s := testSession(t, "+911234567890", "I want to book a facial")
	s.SaveBookingIntent("Priya", "+911234567890", "facial", "2026-09-03T15:00:00+05:30", "", "")
	pinDuration(p, s, 90*time.Second)

	rec := p.Settle(s)

	if rec.BookingStatus != "Booking Confirmed: bk-42" {
		t.Errorf("BookingStatus = %q", rec.BookingStatus)
	}
	if !rec.Booked() {
		t.Error("Booked() = false for confirmed booking")
	}
	if not.confirmed != 1 || not.noBooking != 0 {
		t.Errorf("notifications: confirmed=%d noBooking=%d", not.confirmed, not.noBooking)
	}
	if rec.Sentiment != "positive" {
		t.Errorf("Sentiment = %q", rec.Sentiment)
	}
	if rec.RecordingURL != rcd.url {
		t.Errorf("RecordingURL = %q", rec.RecordingURL)
	}
	if rec.Duration != 90*time.Second {
		t.Errorf("Duration = %v", rec.Duration)
	}
	if !strings.Contains(rec.Transcript, "user: I want to book a facial") {
		t.Errorf("Transcript = %q", rec.Transcript)
	}
	if len(st.recs) != 1 {
		t.Fatalf("persisted %d records, want 1", len(st.recs))
	}
	if len(snk.events) != 1 || snk.events[0] != "call_completed" {
		t.Fatalf("sink events = %v", snk.events)
	}
	if booked, _ := snk.data["booked"].(bool); !booked {
		t.Error("summary event booked = false")
	}
}

func TestSettleBookingFailure(t *testing.T) {
	t.Parallel()

	cal := &fakeCalendar{err: errors.New("slot taken")}
	not := &fakeNotifier{}
	st := &fakeStore{}

	p := NewPipeline(PipelineConfig{
		Calendar: cal, Notifier: not, Store: st,
		Metrics: testMetrics(t),
	})

	s := testSession(t, "+911234567890", "book me please")
	s.SaveBookingIntent("Priya", "+911234567890", "facial", "2026-09-03T15:00:00+05:30", "", "")
	pinDuration(p, s, time.Minute)

	rec := p.Settle(s)

	if !strings.HasPrefix(rec.BookingStatus, "Booking Failed:") {
		t.Errorf("BookingStatus = %q, want Booking Failed prefix", rec.BookingStatus)
	}
	if rec.Booked() {
		t.Error("Booked() = true after failure")
	}
	// Failure sends no confirmation and never falls through to the
	// no-booking path.
	if not.confirmed != 0 || not.noBooking != 0 {
		t.Errorf("notifications: confirmed=%d noBooking=%d", not.confirmed, not.noBooking)
	}
	// The record still persists with the failure status.
	if len(st.recs) != 1 {
		t.Fatalf("persisted %d records, want 1", len(st.recs))
	}
}

func TestSettleNoBooking(t *testing.T) {
	t.Parallel()

	cal := &fakeCalendar{id: "bk-1"}
	not := &fakeNotifier{}

	p := NewPipeline(PipelineConfig{
		Calendar: cal, Notifier: not, Store: &fakeStore{},
		Metrics: testMetrics(t),
	})

	s := testSession(t, "+911234567890", "just asking about prices")
	pinDuration(p, s, time.Minute)

	rec := p.Settle(s)

	if rec.BookingStatus != "No booking" {
		t.Errorf("BookingStatus = %q", rec.BookingStatus)
	}
	if cal.calls != 0 {
		t.Error("calendar invoked without a booking intent")
	}
	if not.noBooking != 1 || not.confirmed != 0 {
		t.Errorf("notifications: confirmed=%d noBooking=%d", not.confirmed, not.noBooking)
	}
}

func TestSettleEmptyHistory(t *testing.T) {
	t.Parallel()

	cls := &fakeClassifier{label: "positive"}
	p := NewPipeline(PipelineConfig{
		Sentiment: cls, Store: &fakeStore{},
		Metrics: testMetrics(t),
	})

	s := testSession(t, "+911234567890")
	pinDuration(p, s, time.Minute)

	rec := p.Settle(s)

	if rec.Transcript != "unavailable" {
		t.Errorf("Transcript = %q, want unavailable", rec.Transcript)
	}
	if rec.Sentiment != "unknown" {
		t.Errorf("Sentiment = %q, want unknown", rec.Sentiment)
	}
	if cls.calls != 0 {
		t.Error("classifier invoked on unavailable transcript")
	}
}

func TestSettleClassifierFailure(t *testing.T) {
	t.Parallel()

	p := NewPipeline(PipelineConfig{
		Sentiment: &fakeClassifier{err: errors.New("model overloaded")},
		Store:     &fakeStore{},
		Metrics:   testMetrics(t),
	})

	s := testSession(t, "+911234567890", "I want to book a facial")
	pinDuration(p, s, time.Minute)

	if rec := p.Settle(s); rec.Sentiment != "unknown" {
		t.Errorf("Sentiment = %q, want unknown on failure", rec.Sentiment)
	}
}

func TestSettleStoreFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	snk := &fakeSink{}
	p := NewPipeline(PipelineConfig{
		Store:   &fakeStore{err: errors.New("db down")},
		Sink:    snk,
		Metrics: testMetrics(t),
	})

	s := testSession(t, "+911234567890", "I want to book a facial")
	pinDuration(p, s, time.Minute)

	rec := p.Settle(s)
	if rec.BookingStatus != "No booking" {
		t.Errorf("BookingStatus = %q", rec.BookingStatus)
	}
	// Later steps still ran.
	if len(snk.events) != 1 {
		t.Fatalf("sink events = %v, want summary despite store failure", snk.events)
	}
}

func TestMissedCallSchedulesCallback(t *testing.T) {
	t.Parallel()

	sch := &fakeScheduler{}
	p := NewPipeline(PipelineConfig{
		Store: &fakeStore{}, Callbacks: sch,
		CallbackDelay: 300 * time.Second,
		Metrics:       testMetrics(t),
	})

	s := testSession(t, "+911234567890")
	pinDuration(p, s, 3*time.Second)
	p.Settle(s)

	if len(sch.scheduled) != 1 || sch.scheduled[0] != "+911234567890" {
		t.Fatalf("scheduled = %v, want one callback", sch.scheduled)
	}
	if sch.delay != 300*time.Second {
		t.Errorf("delay = %v, want 300s", sch.delay)
	}
}

func TestNormalCallSchedulesNoCallback(t *testing.T) {
	t.Parallel()

	sch := &fakeScheduler{}
	p := NewPipeline(PipelineConfig{
		Store: &fakeStore{}, Callbacks: sch,
		Metrics: testMetrics(t),
	})

	s := testSession(t, "+911234567890", "I want to book a facial")
	pinDuration(p, s, 30*time.Second)
	p.Settle(s)

	if len(sch.scheduled) != 0 {
		t.Fatalf("scheduled = %v, want none for a 30s call", sch.scheduled)
	}
}

func TestMissedCallUnknownIdentityNoCallback(t *testing.T) {
	t.Parallel()

	sch := &fakeScheduler{}
	p := NewPipeline(PipelineConfig{
		Store: &fakeStore{}, Callbacks: sch,
		Metrics: testMetrics(t),
	})

	s := testSession(t, "unknown")
	pinDuration(p, s, 2*time.Second)
	p.Settle(s)

	if len(sch.scheduled) != 0 {
		t.Fatalf("scheduled = %v, want none for unknown caller", sch.scheduled)
	}
}
