package hook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/frontdesk-ai/frontdesk/internal/resilience"
)

func TestEmitPostsEnvelope(t *testing.T) {
	t.Parallel()

	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewSink(SinkConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	err = s.Emit(context.Background(), "call_completed", map[string]any{
		"booked":   true,
		"duration": 90.0,
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	if got.Event != "call_completed" {
		t.Errorf("event = %q", got.Event)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if booked, _ := got.Data["booked"].(bool); !booked {
		t.Errorf("data = %v", got.Data)
	}
}

func TestEmitNonOKStatusIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s, err := NewSink(SinkConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if err := s.Emit(context.Background(), "call_completed", nil); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestEmitRespectsContextDeadline(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewSink(SinkConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Emit(ctx, "call_completed", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := NewSink(SinkConfig{
		URL: srv.URL,
		Breaker: resilience.CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		},
	})
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	for i := 0; i < 5; i++ {
		_ = s.Emit(context.Background(), "call_completed", nil)
	}
	// After two failures the breaker opens and later emits never hit the wire.
	if got := hits.Load(); got != 2 {
		t.Fatalf("endpoint hit %d times, want 2", got)
	}
}
