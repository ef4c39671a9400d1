// Package hook emits call lifecycle events to an external automation
// webhook. Delivery is best effort: the sink is wrapped in a circuit breaker
// so a dead endpoint stops consuming settlement time quickly.
package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/frontdesk-ai/frontdesk/internal/resilience"
	"github.com/frontdesk-ai/frontdesk/internal/settle"
)

// payload is the wire format consumed by the automation flows.
type payload struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// SinkConfig configures a [Sink].
type SinkConfig struct {
	// URL is the webhook endpoint. Required.
	URL string

	// HTTPClient defaults to a client with a 10s timeout; per-delivery
	// deadlines come from the caller's context.
	HTTPClient *http.Client

	// Breaker tunes the delivery circuit breaker.
	Breaker resilience.CircuitBreakerConfig
}

// Sink posts events to the configured webhook. It implements
// [settle.EventSink].
type Sink struct {
	url     string
	http    *http.Client
	breaker *resilience.CircuitBreaker
}

var _ settle.EventSink = (*Sink)(nil)

// NewSink creates a webhook sink.
func NewSink(cfg SinkConfig) (*Sink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("hook: sink requires a URL")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "webhook"
	}
	return &Sink{
		url:     cfg.URL,
		http:    cfg.HTTPClient,
		breaker: resilience.NewCircuitBreaker(cfg.Breaker),
	}, nil
}

// Emit posts one event envelope. A non-2xx response counts as a failure
// toward the circuit breaker.
func (s *Sink) Emit(ctx context.Context, event string, data map[string]any) error {
	return s.breaker.Execute(func() error {
		body, err := json.Marshal(payload{
			Event:     event,
			Timestamp: time.Now().UTC(),
			Data:      data,
		})
		if err != nil {
			return fmt.Errorf("hook: marshal %q: %w", event, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("hook: request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.http.Do(req)
		if err != nil {
			return fmt.Errorf("hook: emit %q: %w", event, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("hook: emit %q: status %d: %s", event, resp.StatusCode, msg)
		}
		return nil
	})
}
