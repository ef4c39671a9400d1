package app

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/frontdesk-ai/frontdesk/internal/call"
	"github.com/frontdesk-ai/frontdesk/internal/config"
	"github.com/frontdesk-ai/frontdesk/internal/media"
	"github.com/frontdesk-ai/frontdesk/internal/observe"
	"github.com/frontdesk-ai/frontdesk/internal/ratelimit"
	"github.com/frontdesk-ai/frontdesk/internal/settle"
)

// echoResponder answers every utterance and records nothing.
type echoResponder struct{}

func (echoResponder) Reply(_ context.Context, u string) (string, error) { return "re: " + u, nil }
func (echoResponder) Say(context.Context, string) error                 { return nil }
func (echoResponder) SetInstructions(string)                            {}
func (echoResponder) SetVoice(string) error                             { return nil }

// memStore collects settled records in memory.
type memStore struct {
	mu   sync.Mutex
	recs []settle.Record
}

func (s *memStore) AppendCallRecord(_ context.Context, rec settle.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

type fakeDecliner struct {
	mu       sync.Mutex
	declined []string
}

func (d *fakeDecliner) Decline(_ context.Context, callID, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.declined = append(d.declined, callID)
	return nil
}

func (d *fakeDecliner) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.declined)
}

func testManager(t *testing.T, st *memStore, dec *fakeDecliner, maxCalls int) *Manager {
	t.Helper()
	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m, err := NewManager(ManagerConfig{
		Limiter:  ratelimit.New(time.Hour, maxCalls),
		Pipeline: settle.NewPipeline(settle.PipelineConfig{Store: st, Metrics: metrics}),
		Responders: func(string) call.Responder {
			return echoResponder{}
		},
		Decliner:  dec,
		Languages: config.LanguagesConfig{Default: "hi-IN"},
		MaxTurns:  20,
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func startFrame(callID, caller string) media.Frame {
	return media.Frame{Type: media.FrameCallStarted, CallID: callID, CallerID: caller}
}

func eventFrame(callID string, kind call.EventKind, text string) media.Frame {
	return media.Frame{Type: media.FrameCallEvent, CallID: callID, Kind: string(kind), Text: text}
}

func TestCallLifecycleSettlesOnce(t *testing.T) {
	t.Parallel()

	st := &memStore{}
	m := testManager(t, st, nil, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.HandleFrame(ctx, startFrame("c1", "+911234567890"))
	if !waitFor(t, time.Second, func() bool { return m.Active() == 1 }) {
		t.Fatal("session never became active")
	}

	m.HandleFrame(ctx, eventFrame("c1", call.EventUserUtterance, "I want to book a facial"))
	// Duplicate disconnects must still settle exactly once.
	m.HandleFrame(ctx, eventFrame("c1", call.EventDisconnected, ""))
	m.HandleFrame(ctx, eventFrame("c1", call.EventDisconnected, ""))

	if !waitFor(t, 2*time.Second, func() bool { return st.count() == 1 }) {
		t.Fatalf("settled records = %d, want 1", st.count())
	}
	if m.Active() != 0 {
		t.Fatalf("active = %d after settlement", m.Active())
	}

	// Give any stray duplicate settlement time to show up.
	time.Sleep(50 * time.Millisecond)
	if st.count() != 1 {
		t.Fatalf("settled records = %d after grace period, want 1", st.count())
	}

	st.mu.Lock()
	rec := st.recs[0]
	st.mu.Unlock()
	if rec.CallID != "c1" || rec.Turns != 1 {
		t.Errorf("record = %+v", rec)
	}
}

func TestRateLimitedCallIsDeclined(t *testing.T) {
	t.Parallel()

	st := &memStore{}
	dec := &fakeDecliner{}
	m := testManager(t, st, dec, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.HandleFrame(ctx, startFrame("c1", "+911234567890"))
	if !waitFor(t, time.Second, func() bool { return m.Active() == 1 }) {
		t.Fatal("first call not accepted")
	}

	// Same caller, over the limit: declined without a session.
	m.HandleFrame(ctx, startFrame("c2", "+911234567890"))
	if !waitFor(t, time.Second, func() bool { return dec.count() == 1 }) {
		t.Fatalf("declined = %d, want 1", dec.count())
	}
	if m.Active() != 1 {
		t.Fatalf("active = %d, want 1", m.Active())
	}

	// A different caller still gets through.
	m.HandleFrame(ctx, startFrame("c3", "+919999999999"))
	if !waitFor(t, time.Second, func() bool { return m.Active() == 2 }) {
		t.Fatal("second caller not accepted")
	}
}

func TestDuplicateCallStartedKeepsRateSlot(t *testing.T) {
	t.Parallel()

	st := &memStore{}
	dec := &fakeDecliner{}
	m := testManager(t, st, dec, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.HandleFrame(ctx, startFrame("c1", "+911234567890"))
	if !waitFor(t, time.Second, func() bool { return m.Active() == 1 }) {
		t.Fatal("first call not accepted")
	}

	// Retransmitted start frame for the live call: ignored without touching
	// the caller's window.
	m.HandleFrame(ctx, startFrame("c1", "+911234567890"))
	if m.Active() != 1 {
		t.Fatalf("active = %d after duplicate frame, want 1", m.Active())
	}

	// The caller's second slot must still be free.
	m.HandleFrame(ctx, startFrame("c2", "+911234567890"))
	if !waitFor(t, time.Second, func() bool { return m.Active() == 2 }) {
		t.Fatal("second call declined after duplicate frame")
	}
	if dec.count() != 0 {
		t.Fatalf("declined = %d, want 0", dec.count())
	}
}

func TestUnknownCallerNeverRateLimited(t *testing.T) {
	t.Parallel()

	st := &memStore{}
	dec := &fakeDecliner{}
	m := testManager(t, st, dec, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i, id := range []string{"c1", "c2", "c3"} {
		m.HandleFrame(ctx, startFrame(id, "unknown"))
		want := i + 1
		if !waitFor(t, time.Second, func() bool { return m.Active() == want }) {
			t.Fatalf("call %s not accepted, active = %d", id, m.Active())
		}
	}
	if dec.count() != 0 {
		t.Fatalf("declined = %d, want 0 for unknown callers", dec.count())
	}
}

func TestShutdownSettlesLiveSessions(t *testing.T) {
	t.Parallel()

	st := &memStore{}
	m := testManager(t, st, nil, 3)
	ctx, cancel := context.WithCancel(context.Background())

	m.HandleFrame(ctx, startFrame("c1", "+911234567890"))
	if !waitFor(t, time.Second, func() bool { return m.Active() == 1 }) {
		t.Fatal("session never became active")
	}

	cancel()
	m.Wait()

	if st.count() != 1 {
		t.Fatalf("settled records = %d after shutdown, want 1", st.count())
	}
}

func TestEventForUnknownCallIsDropped(t *testing.T) {
	t.Parallel()

	st := &memStore{}
	m := testManager(t, st, nil, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Must not panic or create state.
	m.HandleFrame(ctx, eventFrame("ghost", call.EventUserUtterance, "hello"))
	if m.Active() != 0 {
		t.Fatalf("active = %d", m.Active())
	}
}
