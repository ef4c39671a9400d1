// Package scheduling is the REST client for the appointment calendar.
// Settlement uses it to turn a captured booking intent into a real calendar
// entry after the call ends.
package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/frontdesk-ai/frontdesk/internal/settle"
)

// Config configures a [Client].
type Config struct {
	// BaseURL is the calendar API endpoint. Required.
	BaseURL string

	// APIKey authenticates booking requests. Required.
	APIKey string

	// EventTypeID selects which appointment type bookings are created under.
	EventTypeID string

	// HTTPClient defaults to a client with a 15s timeout.
	HTTPClient *http.Client
}

// Client creates bookings on the calendar backend. It implements
// [settle.Calendar].
type Client struct {
	baseURL     string
	apiKey      string
	eventTypeID string
	http        *http.Client
}

var _ settle.Calendar = (*Client)(nil)

// New creates a calendar client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("scheduling: base URL must not be empty")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("scheduling: API key must not be empty")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		eventTypeID: cfg.EventTypeID,
		http:        cfg.HTTPClient,
	}, nil
}

// bookingRequest is the wire format for booking creation.
type bookingRequest struct {
	EventTypeID string `json:"event_type_id,omitempty"`
	Start       string `json:"start"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Email       string `json:"email,omitempty"`
	Service     string `json:"service"`
	Notes       string `json:"notes,omitempty"`
}

// bookingResponse is the success body returned by the backend.
type bookingResponse struct {
	ID string `json:"id"`
}

// apiError is the error body returned on non-2xx responses.
type apiError struct {
	Message string `json:"message"`
}

// CreateBooking implements [settle.Calendar].
func (c *Client) CreateBooking(ctx context.Context, req settle.BookingRequest) (string, error) {
	body, err := json.Marshal(bookingRequest{
		EventTypeID: c.eventTypeID,
		Start:       req.StartsAt.Format(time.RFC3339),
		Name:        req.CustomerName,
		Phone:       req.Phone,
		Email:       req.Email,
		Service:     req.Service,
		Notes:       req.Notes,
	})
	if err != nil {
		return "", fmt.Errorf("scheduling: marshal booking: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/bookings", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("scheduling: request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("scheduling: create booking: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae apiError
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if json.Unmarshal(raw, &ae) == nil && ae.Message != "" {
			return "", fmt.Errorf("scheduling: create booking: %s", ae.Message)
		}
		return "", fmt.Errorf("scheduling: create booking: status %d", resp.StatusCode)
	}

	var br bookingResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return "", fmt.Errorf("scheduling: decode response: %w", err)
	}
	if br.ID == "" {
		return "", fmt.Errorf("scheduling: backend returned no booking ID")
	}
	return br.ID, nil
}
