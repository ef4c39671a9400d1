// Package notify delivers operator-facing messages about call outcomes.
// Telegram is the primary channel and Discord the fallback; delivery goes
// through a [resilience.FallbackGroup] so a dead channel is bypassed instead
// of retried.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/frontdesk-ai/frontdesk/internal/call"
	"github.com/frontdesk-ai/frontdesk/internal/resilience"
	"github.com/frontdesk-ai/frontdesk/internal/settle"
)

// Notifier is one delivery channel for operator messages.
type Notifier interface {
	// Name identifies the channel in logs.
	Name() string

	// Send delivers one message. Text uses Markdown-style emphasis, which
	// each channel renders natively.
	Send(ctx context.Context, text string) error
}

// Service renders message templates and delivers them over the configured
// channels with failover. It implements [settle.Notifier].
type Service struct {
	group *resilience.FallbackGroup[Notifier]
	log   *slog.Logger
}

var _ settle.Notifier = (*Service)(nil)

// NewService creates a Service delivering through primary first, then each
// fallback in order.
func NewService(log *slog.Logger, primary Notifier, fallbacks ...Notifier) *Service {
	if log == nil {
		log = slog.Default()
	}
	group := resilience.NewFallbackGroup(primary, primary.Name(), resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  3,
			ResetTimeout: time.Minute,
		},
	})
	for _, f := range fallbacks {
		group.AddFallback(f.Name(), f)
	}
	return &Service{group: group, log: log}
}

func (s *Service) send(ctx context.Context, text string) error {
	return s.group.Execute(func(n Notifier) error {
		return n.Send(ctx, text)
	})
}

// BookingConfirmed announces a booking created during settlement.
func (s *Service) BookingConfirmed(ctx context.Context, b call.BookingIntent, bookingID string) error {
	text := fmt.Sprintf(
		"🎉 *New Booking Confirmed*\n\n"+
			"👤 *Name:* %s\n"+
			"📞 *Phone:* %s\n"+
			"💆 *Service:* %s\n"+
			"📅 *Time:* %s\n"+
			"🆔 *Booking:* %s",
		b.CustomerName, b.Phone, b.Service,
		b.StartsAt.Format("Mon, 2 Jan 2006 at 3:04 PM"), bookingID,
	)
	return s.send(ctx, text)
}

// NoBooking announces a completed call that ended without a booking.
func (s *Service) NoBooking(ctx context.Context, callerID string, duration time.Duration) error {
	text := fmt.Sprintf(
		"📞 *Call Ended, No Booking*\n\n"+
			"*Caller:* %s\n"+
			"*Duration:* %s",
		callerID, duration.Round(time.Second),
	)
	return s.send(ctx, text)
}

// Error reports a failure that happened before any session could be
// established, so operators hear about calls that never reached a caller.
func (s *Service) Error(ctx context.Context, stage string, err error) error {
	text := fmt.Sprintf(
		"🚨 *Agent Error*\n\n"+
			"*Stage:* %s\n"+
			"*Error:* %v",
		stage, err,
	)
	return s.send(ctx, text)
}
