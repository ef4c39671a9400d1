package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frontdesk-ai/frontdesk/internal/config"
	"github.com/frontdesk-ai/frontdesk/internal/observe"
)

var (
	// ErrTerminated is returned by [Session.Handle] once the termination
	// latch has fired. Late events from the gateway are expected around
	// disconnect and callers should drop them.
	ErrTerminated = errors.New("call: session terminated")

	// ErrUnknownEvent is returned for event kinds outside the gateway contract.
	ErrUnknownEvent = errors.New("call: unknown event kind")
)

// wrapUpDirective is appended to the responder instructions once the turn cap
// is reached. It is sent exactly once per session.
const wrapUpDirective = "\n\nThe conversation has reached its length limit. " +
	"In your next reply, politely summarise any pending details, thank the " +
	"caller, and say goodbye."

// SessionConfig carries the collaborators and tuning for one call session.
type SessionConfig struct {
	// CallID uniquely identifies the call. Required.
	CallID string

	// CallerID is the caller's phone number, or "unknown" when withheld.
	CallerID string

	// Responder produces spoken replies. Required.
	Responder Responder

	// Languages is the supported language set for the one-shot lock.
	Languages config.LanguagesConfig

	// Instructions is the base system prompt before any language lock.
	Instructions string

	// Greeting is spoken verbatim by [Session.Greet]. Optional.
	Greeting string

	// MaxTurns caps valid caller turns before the wrap-up directive fires.
	// Zero disables the cap.
	MaxTurns int

	// Transcript receives committed turns as they happen. Optional.
	Transcript TranscriptSink

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Session is the state machine for one live call. It consumes gateway events
// through [Session.Handle], which must be called from a single goroutine;
// the spoken tool methods ([Session.SaveBookingIntent], [Session.CancelBooking])
// may be called concurrently from the responder's tool dispatch.
type Session struct {
	callID   string
	callerID string

	responder    Responder
	filter       *Filter
	lock         *LanguageLock
	instructions string
	maxTurns     int
	transcript   TranscriptSink
	metrics      *observe.Metrics
	log          *slog.Logger

	greeting  string
	startedAt time.Time

	// Event-loop state, touched only from Handle.
	speaking   bool
	turns      int
	interrupts int
	wrapUpSent bool

	// mu guards booking, callerName and history, which the responder's tool
	// goroutine may touch while the event loop runs.
	mu         sync.Mutex
	booking    *BookingIntent
	callerName string
	history    []Turn

	terminated atomic.Bool
	reason     string
	done       chan struct{}
}

// NewSession creates a live session. The clock starts now: call duration is
// measured from here, not from the first utterance.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.CallID == "" {
		return nil, errors.New("call: session requires a call ID")
	}
	if cfg.Responder == nil {
		return nil, errors.New("call: session requires a responder")
	}
	if cfg.CallerID == "" {
		cfg.CallerID = "unknown"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Session{
		callID:       cfg.CallID,
		callerID:     cfg.CallerID,
		responder:    cfg.Responder,
		filter:       NewFilter(),
		lock:         NewLanguageLock(cfg.Languages.Supported),
		instructions: cfg.Instructions,
		maxTurns:     cfg.MaxTurns,
		transcript:   cfg.Transcript,
		metrics:      cfg.Metrics,
		log:          cfg.Logger.With("call_id", cfg.CallID),
		greeting:     cfg.Greeting,
		startedAt:    time.Now(),
		done:         make(chan struct{}),
	}, nil
}

// CallID returns the call identifier.
func (s *Session) CallID() string { return s.callID }

// CallerID returns the caller's phone number or "unknown".
func (s *Session) CallerID() string { return s.callerID }

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Language returns the locked language code, or "" if no lock happened.
func (s *Session) Language() string { return s.lock.Language() }

// Done is closed when the termination latch fires.
func (s *Session) Done() <-chan struct{} { return s.done }

// Reason returns why the session terminated. Only valid after Done is closed.
func (s *Session) Reason() string { return s.reason }

// Turns returns the number of valid caller turns so far.
func (s *Session) Turns() int { return s.turns }

// Interrupts returns how many times the caller cut off responder speech.
func (s *Session) Interrupts() int { return s.interrupts }

// Greet speaks the configured greeting, if any.
func (s *Session) Greet(ctx context.Context) error {
	if s.greeting == "" {
		return nil
	}
	if err := s.responder.Say(ctx, s.greeting); err != nil {
		return fmt.Errorf("call: greet: %w", err)
	}
	s.record(ctx, Turn{Role: RoleAssistant, Text: s.greeting, At: time.Now()})
	return nil
}

// Terminate fires the termination latch with the given reason. It returns
// true on the first call and false on every later one; the session's state
// is frozen from the first call onward.
func (s *Session) Terminate(reason string) bool {
	if !s.terminated.CompareAndSwap(false, true) {
		return false
	}
	s.reason = reason
	close(s.done)
	s.log.Info("session terminated", "reason", reason, "turns", s.turns)
	return true
}

// Handle dispatches one gateway event. It must be called from a single
// goroutine. After termination it returns [ErrTerminated] for every event.
func (s *Session) Handle(ctx context.Context, ev Event) error {
	if s.terminated.Load() {
		return ErrTerminated
	}

	switch ev.Kind {
	case EventAgentSpeechStarted:
		s.speaking = true
		return nil
	case EventAgentSpeechFinished:
		s.speaking = false
		return nil
	case EventInterrupted:
		s.speaking = false
		s.interrupts++
		s.metrics.Interrupts.Add(ctx, 1)
		s.log.Debug("responder interrupted")
		return nil
	case EventUserUtterance:
		return s.handleUtterance(ctx, ev)
	case EventDisconnected:
		s.speaking = false
		s.Terminate(string(EventDisconnected))
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}
}

func (s *Session) handleUtterance(ctx context.Context, ev Event) error {
	cls := s.filter.Classify(ev.Text, s.speaking)
	if cls != ClassValid {
		s.metrics.RecordFiltered(ctx, cls.String())
		s.log.Debug("utterance filtered", "reason", cls.String(), "len", len(ev.Text))
		return nil
	}

	if prof, locked := s.lock.Observe(ev.Language); locked {
		if err := s.responder.SetVoice(prof.Speaker); err != nil {
			s.log.Warn("voice switch failed, keeping current voice",
				"language", ev.Language, "speaker", prof.Speaker, "error", err)
		}
		s.instructions = LanguageInstructions(s.instructions, prof)
		s.responder.SetInstructions(s.instructions)
		s.metrics.RecordLanguageLock(ctx, ev.Language)
		s.log.Info("language locked", "language", ev.Language, "speaker", prof.Speaker)
	}

	s.turns++
	s.metrics.Turns.Add(ctx, 1)

	if s.maxTurns > 0 && s.turns >= s.maxTurns && !s.wrapUpSent {
		s.wrapUpSent = true
		s.instructions += wrapUpDirective
		s.responder.SetInstructions(s.instructions)
		s.log.Info("turn cap reached, wrap-up directive sent", "turns", s.turns)
	}

	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	s.record(ctx, Turn{Role: RoleUser, Text: ev.Text, At: at})

	reply, err := s.responder.Reply(ctx, ev.Text)
	if err != nil {
		return fmt.Errorf("call: reply to utterance: %w", err)
	}
	s.record(ctx, Turn{Role: RoleAssistant, Text: reply, At: time.Now()})
	return nil
}

// record appends a turn to the in-memory history and streams it to the
// transcript sink. Sink failures are logged, never fatal: losing a live line
// must not break the call.
func (s *Session) record(ctx context.Context, t Turn) {
	s.mu.Lock()
	s.history = append(s.history, t)
	s.mu.Unlock()

	if s.transcript == nil {
		return
	}
	if err := s.transcript.AppendTurn(ctx, s.callID, t); err != nil {
		s.log.Warn("transcript append failed", "role", string(t.Role), "error", err)
	}
}

// History returns a copy of the committed turns so far.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// SaveBookingIntent captures an appointment request from the responder's tool
// dispatch. Capture is all or nothing: if any required field is missing or the
// time cannot be parsed, nothing is stored and the returned string tells the
// responder what to ask for. Email and notes are optional. On success the
// previous intent, if any, is replaced. The return value is spoken to the
// caller.
func (s *Session) SaveBookingIntent(name, phone, service, startsAt, email, notes string) string {
	if missing := validateBooking(name, phone, service, startsAt); len(missing) > 0 {
		return "I still need your " + joinNatural(missing) + " to note the booking."
	}
	t, err := ParseBookingTime(startsAt)
	if err != nil {
		s.log.Warn("booking time rejected", "value", startsAt, "error", err)
		return "Sorry, I did not catch the date and time. Could you say it once more?"
	}

	s.mu.Lock()
	s.booking = &BookingIntent{
		CustomerName: strings.TrimSpace(name),
		Phone:        strings.TrimSpace(phone),
		Service:      strings.TrimSpace(service),
		StartsAt:     t,
		Email:        strings.TrimSpace(email),
		Notes:        strings.TrimSpace(notes),
	}
	s.callerName = strings.TrimSpace(name)
	s.mu.Unlock()

	s.log.Info("booking intent captured", "service", service, "starts_at", t)
	return fmt.Sprintf("Noted. I have your request for %s on %s. You will receive a confirmation shortly.",
		service, t.Format("Monday, 2 January at 3:04 PM"))
}

// CancelBooking discards the pending booking intent, if any. The return value
// is spoken to the caller.
func (s *Session) CancelBooking() string {
	s.mu.Lock()
	had := s.booking != nil
	s.booking = nil
	s.mu.Unlock()

	if !had {
		return "There is no booking request to cancel."
	}
	s.log.Info("booking intent cancelled")
	return "No problem, I have removed that booking request."
}

// Booking returns the pending booking intent, if one was captured.
func (s *Session) Booking() (BookingIntent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.booking == nil {
		return BookingIntent{}, false
	}
	return *s.booking, true
}

// SetCallerName records the caller's name when it surfaces outside a booking.
func (s *Session) SetCallerName(name string) {
	s.mu.Lock()
	s.callerName = strings.TrimSpace(name)
	s.mu.Unlock()
}

// CallerName returns the caller's name, or "" when never captured.
func (s *Session) CallerName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callerName
}

// joinNatural joins items as spoken English: "a", "a and b", "a, b and c".
func joinNatural(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}
