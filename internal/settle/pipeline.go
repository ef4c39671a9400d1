// Package settle runs the post-call settlement pipeline: the ordered,
// fault-isolated sequence of side effects executed exactly once after a call
// session terminates. Each step owns its error boundary and substitutes a
// documented fallback on failure, so one broken collaborator never costs the
// caller the rest of the record.
package settle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/frontdesk-ai/frontdesk/internal/call"
	"github.com/frontdesk-ai/frontdesk/internal/config"
	"github.com/frontdesk-ai/frontdesk/internal/observe"
	"github.com/frontdesk-ai/frontdesk/internal/ratelimit"
)

// transcriptUnavailable is persisted when no turn history could be read.
const transcriptUnavailable = "unavailable"

// sentimentUnknown is persisted when classification failed or never ran.
const sentimentUnknown = "unknown"

// Record is the persisted outcome of one settled call. Created once by the
// pipeline, immutable thereafter.
type Record struct {
	CallID        string
	CallerID      string
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

// Booked reports whether the call produced a confirmed booking.
func (r Record) Booked() bool {
	return strings.HasPrefix(r.BookingStatus, "Booking Confirmed")
}

// BookingRequest is what the pipeline hands to the scheduling collaborator.
type BookingRequest struct {
	CustomerName string
	Phone        string
	Email        string
	Service      string
	StartsAt     time.Time
	Notes        string
}

// Calendar creates bookings on the scheduling system.
type Calendar interface {
	CreateBooking(ctx context.Context, req BookingRequest) (bookingID string, err error)
}

// Notifier delivers the operator-facing messages sent during settlement.
type Notifier interface {
	BookingConfirmed(ctx context.Context, b call.BookingIntent, bookingID string) error
	NoBooking(ctx context.Context, callerID string, duration time.Duration) error
}

// Classifier labels a transcript's overall sentiment.
type Classifier interface {
	Classify(ctx context.Context, transcript string) (string, error)
}

// Recorder finalizes a call recording and returns its retrieval reference.
type Recorder interface {
	StopRecording(ctx context.Context, callID string) (url string, err error)
}

// RecordStore persists settled call records.
type RecordStore interface {
	AppendCallRecord(ctx context.Context, rec Record) error
}

// CallbackScheduler enqueues a deferred outbound callback. Fire and forget:
// the pipeline never waits for the delay.
type CallbackScheduler interface {
	Schedule(identity string, delay time.Duration)
}

// EventSink emits the end-of-call summary event to external automation.
type EventSink interface {
	Emit(ctx context.Context, event string, data map[string]any) error
}

// PipelineConfig wires a [Pipeline]. Every collaborator is optional except
// the store; a nil collaborator turns its step into the documented fallback.
type PipelineConfig struct {
	Calendar  Calendar
	Notifier  Notifier
	Sentiment Classifier
	Recorder  Recorder
	Store     RecordStore
	Callbacks CallbackScheduler
	Sink      EventSink

	// Costs holds the per-unit rates for [EstimateCost].
	Costs config.CostConfig

	// StepTimeout bounds each collaborator call. Default 10s.
	StepTimeout time.Duration

	// SinkTimeout bounds the summary event delivery. Default 5s.
	SinkTimeout time.Duration

	// MissedCallMax is the duration under which a call counts as missed.
	// Default 5s.
	MissedCallMax time.Duration

	// CallbackDelay is the wait before a missed-call callback. Default 5m.
	CallbackDelay time.Duration

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Pipeline executes the settlement steps for terminated sessions. One
// Pipeline serves all sessions; it holds no per-call state.
type Pipeline struct {
	cfg PipelineConfig

	// now is swapped in tests to pin call durations.
	now func() time.Time
}

// NewPipeline creates a settlement pipeline, filling config defaults.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 10 * time.Second
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 5 * time.Second
	}
	if cfg.MissedCallMax <= 0 {
		cfg.MissedCallMax = 5 * time.Second
	}
	if cfg.CallbackDelay <= 0 {
		cfg.CallbackDelay = 5 * time.Minute
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, now: time.Now}
}

// Settle runs the full pipeline for a terminated session and returns the
// assembled record. It runs on a background context so process shutdown does
// not abort in-flight settlement; each collaborator call is bounded by the
// step timeout instead. Settle never fails: every step degrades to its
// fallback value.
func (p *Pipeline) Settle(s *call.Session) Record {
	ctx := context.Background()
	log := p.cfg.Logger.With("call_id", s.CallID())

	rec := Record{
		CallID:     s.CallID(),
		CallerID:   s.CallerID(),
		CallerName: s.CallerName(),
		Language:   s.Language(),
		StartedAt:  s.StartedAt(),
		Duration:   p.now().Sub(s.StartedAt()).Round(time.Second),
		Turns:      s.Turns(),
		Interrupts: s.Interrupts(),
	}

	rec.BookingStatus = p.settleBooking(ctx, log, s, rec.Duration)
	rec.Transcript = p.assembleTranscript(ctx, log, s)
	rec.Sentiment = p.classifySentiment(ctx, log, rec.Transcript)
	rec.Cost = EstimateCost(rec.Duration, len(rec.Transcript), p.cfg.Costs)
	rec.RecordingURL = p.finalizeRecording(ctx, log, s.CallID())
	p.persist(ctx, log, rec)
	p.scheduleCallback(ctx, log, rec)
	p.emitSummary(ctx, log, rec)

	p.cfg.Metrics.RecordSettlement(ctx, bookingOutcome(rec.BookingStatus))
	p.cfg.Metrics.CallDuration.Record(ctx, rec.Duration.Seconds())
	log.Info("call settled",
		"duration", rec.Duration,
		"turns", rec.Turns,
		"booking", rec.BookingStatus,
		"sentiment", rec.Sentiment,
		"cost", rec.Cost)
	return rec
}

// step times one settlement step and records its latency.
func (p *Pipeline) step(ctx context.Context, name string, fn func(ctx context.Context)) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()
	fn(stepCtx)
	p.cfg.Metrics.SettleStepDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("step", name)))
}

func (p *Pipeline) settleBooking(ctx context.Context, log *slog.Logger, s *call.Session, d time.Duration) string {
	status := "No booking"
	p.step(ctx, "booking", func(ctx context.Context) {
		intent, ok := s.Booking()
		if !ok {
			if p.cfg.Notifier != nil {
				if err := p.cfg.Notifier.NoBooking(ctx, s.CallerID(), d); err != nil {
					log.Warn("no-booking notification failed", "error", err)
				}
			}
			return
		}
		if p.cfg.Calendar == nil {
			status = "Booking Failed: no calendar configured"
			return
		}

		id, err := p.cfg.Calendar.CreateBooking(ctx, BookingRequest{
			CustomerName: intent.CustomerName,
			Phone:        intent.Phone,
			Email:        intent.Email,
			Service:      intent.Service,
			StartsAt:     intent.StartsAt,
			Notes:        intent.Notes,
		})
		p.cfg.Metrics.RecordCollaborator(ctx, "calendar", err)
		if err != nil {
			status = "Booking Failed: " + err.Error()
			log.Error("booking settlement failed", "service", intent.Service, "error", err)
			return
		}

		status = "Booking Confirmed: " + id
		if p.cfg.Notifier != nil {
			if err := p.cfg.Notifier.BookingConfirmed(ctx, intent, id); err != nil {
				log.Warn("booking confirmation notification failed", "error", err)
			}
		}
	})
	return status
}

func (p *Pipeline) assembleTranscript(ctx context.Context, log *slog.Logger, s *call.Session) string {
	text := transcriptUnavailable
	p.step(ctx, "transcript", func(context.Context) {
		hist := s.History()
		if len(hist) == 0 {
			log.Warn("no turn history, transcript unavailable")
			return
		}
		var b strings.Builder
		for i, t := range hist {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%s: %s", t.Role, t.Text)
		}
		text = b.String()
	})
	return text
}

func (p *Pipeline) classifySentiment(ctx context.Context, log *slog.Logger, transcript string) string {
	label := sentimentUnknown
	if transcript == transcriptUnavailable || p.cfg.Sentiment == nil {
		return label
	}
	p.step(ctx, "sentiment", func(ctx context.Context) {
		got, err := p.cfg.Sentiment.Classify(ctx, transcript)
		p.cfg.Metrics.RecordCollaborator(ctx, "sentiment", err)
		if err != nil {
			log.Warn("sentiment classification failed", "error", err)
			return
		}
		label = got
	})
	return label
}

func (p *Pipeline) finalizeRecording(ctx context.Context, log *slog.Logger, callID string) string {
	url := ""
	if p.cfg.Recorder == nil {
		return url
	}
	p.step(ctx, "recording", func(ctx context.Context) {
		got, err := p.cfg.Recorder.StopRecording(ctx, callID)
		p.cfg.Metrics.RecordCollaborator(ctx, "recording", err)
		if err != nil {
			log.Warn("recording finalization failed", "error", err)
			return
		}
		url = got
	})
	return url
}

func (p *Pipeline) persist(ctx context.Context, log *slog.Logger, rec Record) {
	if p.cfg.Store == nil {
		log.Warn("no record store configured, call record dropped")
		return
	}
	p.step(ctx, "persist", func(ctx context.Context) {
		err := p.cfg.Store.AppendCallRecord(ctx, rec)
		p.cfg.Metrics.RecordCollaborator(ctx, "store", err)
		if err != nil {
			log.Error("call record persistence failed", "error", err)
		}
	})
}

func (p *Pipeline) scheduleCallback(ctx context.Context, log *slog.Logger, rec Record) {
	if p.cfg.Callbacks == nil {
		return
	}
	if rec.Duration >= p.cfg.MissedCallMax {
		return
	}
	if rec.CallerID == "" || rec.CallerID == ratelimit.UnknownIdentity {
		return
	}
	p.step(ctx, "callback", func(context.Context) {
		p.cfg.Callbacks.Schedule(rec.CallerID, p.cfg.CallbackDelay)
		p.cfg.Metrics.CallbacksScheduled.Add(ctx, 1)
		log.Info("missed call, callback scheduled",
			"caller", rec.CallerID, "delay", p.cfg.CallbackDelay)
	})
}

func (p *Pipeline) emitSummary(ctx context.Context, log *slog.Logger, rec Record) {
	if p.cfg.Sink == nil {
		return
	}
	start := time.Now()
	sinkCtx, cancel := context.WithTimeout(ctx, p.cfg.SinkTimeout)
	defer cancel()

	err := p.cfg.Sink.Emit(sinkCtx, "call_completed", map[string]any{
		"call_id":   rec.CallID,
		"booked":    rec.Booked(),
		"duration":  rec.Duration.Seconds(),
		"sentiment": rec.Sentiment,
		"summary":   rec.BookingStatus,
	})
	p.cfg.Metrics.RecordCollaborator(ctx, "webhook", err)
	p.cfg.Metrics.SettleStepDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("step", "summary_event")))
	if err != nil {
		log.Warn("summary event delivery failed", "error", err)
	}
}

// bookingOutcome maps a booking status message to its metric label.
func bookingOutcome(status string) string {
	switch {
	case strings.HasPrefix(status, "Booking Confirmed"):
		return "booked"
	case strings.HasPrefix(status, "Booking Failed"):
		return "booking_failed"
	default:
		return "no_booking"
	}
}
