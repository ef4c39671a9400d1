// Package media talks to the real-time media gateway: the service that
// carries call audio, runs speech recognition and synthesis, and reduces a
// live call to the abstracted event stream this orchestrator consumes.
//
// Control operations (dispatch, recording, responder commands) use the
// gateway's REST API; the event stream arrives over a single WebSocket
// connection shared by all active calls.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/frontdesk-ai/frontdesk/internal/call"
	"github.com/frontdesk-ai/frontdesk/internal/callback"
	"github.com/frontdesk-ai/frontdesk/internal/config"
	"github.com/frontdesk-ai/frontdesk/internal/settle"
)

// Frame types delivered on the event stream.
const (
	// FrameCallStarted announces a new inbound call awaiting acceptance.
	FrameCallStarted = "call_started"

	// FrameCallEvent carries one in-call event for a live session.
	FrameCallEvent = "call_event"
)

// Frame is one message from the gateway event stream.
type Frame struct {
	Type       string    `json:"type"`
	CallID     string    `json:"call_id"`
	CallerID   string    `json:"caller_id,omitempty"`
	CallerName string    `json:"caller_name,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Text       string    `json:"text,omitempty"`
	Language   string    `json:"language,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// Event converts a call_event frame into the session event type.
func (f Frame) Event() call.Event {
	return call.Event{
		Kind:      call.EventKind(f.Kind),
		Text:      f.Text,
		Language:  f.Language,
		Timestamp: f.Timestamp,
	}
}

// Client is the media gateway API client.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	recording config.RecordingConfig
	http      *http.Client
	log       *slog.Logger
}

// Compile-time interface checks.
var (
	_ settle.Recorder     = (*Client)(nil)
	_ callback.Dispatcher = (*Client)(nil)
)

// NewClient creates a gateway client from the media configuration.
func NewClient(cfg config.MediaConfig, log *slog.Logger) (*Client, error) {
	if cfg.GatewayURL == "" {
		return nil, fmt.Errorf("media: gateway URL must not be empty")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("media: gateway credentials must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.GatewayURL, "/"),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		recording: cfg.Recording,
		http:      &http.Client{Timeout: 15 * time.Second},
		log:       log,
	}, nil
}

// authHeader builds the Authorization header for gateway requests.
func (c *Client) authHeader() string {
	return "Bearer " + c.apiKey + ":" + c.apiSecret
}

// wsURL converts the gateway base URL to its WebSocket equivalent.
func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("media: parse gateway URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/events"
	return u.String(), nil
}

// Stream opens the gateway event stream and delivers frames on the returned
// channel until the connection drops or ctx ends. The channel is closed on
// exit; callers own reconnection.
func (c *Client) Stream(ctx context.Context) (<-chan Frame, error) {
	wsURL, err := c.wsURL()
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {c.authHeader()}},
	})
	if err != nil {
		return nil, fmt.Errorf("media: dial event stream: %w", err)
	}

	frames := make(chan Frame, 32)
	go func() {
		defer close(frames)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					c.log.Warn("event stream closed", "error", err)
				}
				return
			}
			var f Frame
			if err := json.Unmarshal(msg, &f); err != nil {
				c.log.Warn("dropping malformed frame", "error", err, "len", len(msg))
				continue
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames, nil
}

// post sends a JSON request to the gateway REST API and decodes the response
// into out when non-nil.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("media: marshal %s: %w", path, err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("media: request %s: %w", path, err)
	}
	req.Header.Set("Authorization", c.authHeader())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("media: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("media: %s: status %d: %s", path, resp.StatusCode, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("media: decode %s: %w", path, err)
		}
	}
	return nil
}

// DispatchCall implements [callback.Dispatcher]: it asks the gateway to
// place a fresh outbound call.
func (c *Client) DispatchCall(ctx context.Context, phone string, metadata map[string]string) error {
	return c.post(ctx, "/v1/dispatch", map[string]any{
		"phone":    phone,
		"metadata": metadata,
	}, nil)
}

// Decline rejects an inbound call before a session is created. Used when the
// caller is over the rate limit.
func (c *Client) Decline(ctx context.Context, callID, reason string) error {
	return c.post(ctx, "/v1/calls/"+callID+"/decline", map[string]string{
		"reason": reason,
	}, nil)
}

// StopRecording implements [settle.Recorder]. When recording is disabled it
// returns an empty reference without touching the gateway.
func (c *Client) StopRecording(ctx context.Context, callID string) (string, error) {
	if !c.recording.Enabled {
		return "", nil
	}
	if err := c.post(ctx, "/v1/calls/"+callID+"/recording/stop", nil, nil); err != nil {
		return "", err
	}
	base := strings.TrimRight(c.recording.PublicBaseURL, "/")
	return base + "/recordings/" + callID + ".ogg", nil
}

// Ping verifies gateway reachability. Used by the readiness check.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return fmt.Errorf("media: ping: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("media: ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("media: ping: status %d", resp.StatusCode)
	}
	return nil
}
