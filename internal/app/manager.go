package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/frontdesk-ai/frontdesk/internal/call"
	"github.com/frontdesk-ai/frontdesk/internal/config"
	"github.com/frontdesk-ai/frontdesk/internal/media"
	"github.com/frontdesk-ai/frontdesk/internal/observe"
	"github.com/frontdesk-ai/frontdesk/internal/ratelimit"
	"github.com/frontdesk-ai/frontdesk/internal/settle"
)

// eventBuffer is the per-session event queue depth. The gateway delivers
// events far slower than the loop consumes them; the buffer only absorbs
// bursts around interrupts.
const eventBuffer = 16

// ResponderFactory builds the responder for a newly accepted call.
type ResponderFactory func(callID string) call.Responder

// Decliner rejects an inbound call before a session exists.
type Decliner interface {
	Decline(ctx context.Context, callID, reason string) error
}

// ErrorNotifier reports failures that happen before any session is
// established.
type ErrorNotifier interface {
	Error(ctx context.Context, stage string, err error) error
}

// ManagerConfig wires a [Manager].
type ManagerConfig struct {
	// Limiter gates call acceptance per caller identity. Required.
	Limiter *ratelimit.Limiter

	// Pipeline settles terminated sessions. Required.
	Pipeline *settle.Pipeline

	// Responders builds the per-call responder. Required.
	Responders ResponderFactory

	// Transcript receives live turns. Optional.
	Transcript call.TranscriptSink

	// Decliner rejects rate-limited calls at the gateway. Optional.
	Decliner Decliner

	// Errors receives pre-session failure notifications. Optional.
	Errors ErrorNotifier

	// Languages, Instructions, Greeting and MaxTurns configure each session.
	Languages    config.LanguagesConfig
	Instructions string
	Greeting     string
	MaxTurns     int

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// managed pairs a live session with its event queue.
type managed struct {
	session *call.Session
	events  chan call.Event
}

// Manager owns every live call: it gates acceptance through the rate
// limiter, runs one event-loop goroutine per session, and hands terminated
// sessions to the settlement pipeline exactly once.
type Manager struct {
	cfg ManagerConfig

	mu       sync.Mutex
	sessions map[string]*managed

	wg sync.WaitGroup
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Limiter == nil {
		return nil, errors.New("app: manager requires a rate limiter")
	}
	if cfg.Pipeline == nil {
		return nil, errors.New("app: manager requires a settlement pipeline")
	}
	if cfg.Responders == nil {
		return nil, errors.New("app: manager requires a responder factory")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*managed),
	}, nil
}

// HandleFrame routes one gateway frame: call_started frames go through
// acceptance, call_event frames to the owning session.
func (m *Manager) HandleFrame(ctx context.Context, f media.Frame) {
	switch f.Type {
	case media.FrameCallStarted:
		m.accept(ctx, f)
	case media.FrameCallEvent:
		m.deliver(ctx, f.CallID, f.Event())
	default:
		m.cfg.Logger.Warn("dropping frame of unknown type", "type", f.Type, "call_id", f.CallID)
	}
}

// accept runs the rate-limit gate and, when it passes, creates the session
// and starts its event loop. Retransmitted call_started frames are ignored
// before the gate so a duplicate never consumes a window slot.
func (m *Manager) accept(ctx context.Context, f media.Frame) {
	callID, callerID := f.CallID, f.CallerID
	log := m.cfg.Logger.With("call_id", callID, "caller", callerID)

	m.mu.Lock()
	_, dup := m.sessions[callID]
	m.mu.Unlock()
	if dup {
		log.Warn("duplicate call_started frame ignored")
		return
	}

	if !m.cfg.Limiter.Allow(callerID, time.Now()) {
		m.cfg.Metrics.RateLimited.Add(ctx, 1)
		log.Warn("call declined, caller over rate limit")
		if m.cfg.Decliner != nil {
			if err := m.cfg.Decliner.Decline(ctx, callID, "rate_limited"); err != nil {
				log.Error("decline failed", "error", err)
			}
		}
		return
	}

	sess, err := call.NewSession(call.SessionConfig{
		CallID:       callID,
		CallerID:     callerID,
		Responder:    m.cfg.Responders(callID),
		Languages:    m.cfg.Languages,
		Instructions: m.cfg.Instructions,
		Greeting:     m.cfg.Greeting,
		MaxTurns:     m.cfg.MaxTurns,
		Transcript:   m.cfg.Transcript,
		Metrics:      m.cfg.Metrics,
		Logger:       m.cfg.Logger,
	})
	if err != nil {
		log.Error("session creation failed", "error", err)
		if m.cfg.Errors != nil {
			if nerr := m.cfg.Errors.Error(ctx, "session_create", err); nerr != nil {
				log.Warn("error notification failed", "error", nerr)
			}
		}
		return
	}
	if f.CallerName != "" {
		sess.SetCallerName(f.CallerName)
	}

	mg := &managed{session: sess, events: make(chan call.Event, eventBuffer)}
	m.mu.Lock()
	if _, exists := m.sessions[callID]; exists {
		m.mu.Unlock()
		log.Warn("duplicate call_started frame ignored")
		return
	}
	m.sessions[callID] = mg
	m.mu.Unlock()

	m.cfg.Metrics.ActiveCalls.Add(ctx, 1)
	log.Info("call accepted")

	m.wg.Add(1)
	go m.run(ctx, mg)
}

// deliver queues one event for a live session. Events for unknown calls are
// dropped; late frames after settlement are expected around disconnect.
func (m *Manager) deliver(ctx context.Context, callID string, ev call.Event) {
	m.mu.Lock()
	mg, ok := m.sessions[callID]
	m.mu.Unlock()
	if !ok {
		m.cfg.Logger.Debug("dropping event for unknown call", "call_id", callID, "kind", ev.Kind)
		return
	}
	select {
	case mg.events <- ev:
	case <-mg.session.Done():
	case <-ctx.Done():
	}
}

// run is the per-session event loop: greet, consume events in arrival order,
// and settle exactly once when the termination latch fires.
func (m *Manager) run(ctx context.Context, mg *managed) {
	defer m.wg.Done()
	sess := mg.session
	log := m.cfg.Logger.With("call_id", sess.CallID())

	if err := sess.Greet(ctx); err != nil {
		log.Warn("greeting failed", "error", err)
	}

	for {
		select {
		case <-sess.Done():
			m.settle(sess)
			return
		case <-ctx.Done():
			sess.Terminate("shutdown")
			m.settle(sess)
			return
		case ev := <-mg.events:
			err := sess.Handle(ctx, ev)
			switch {
			case err == nil:
			case errors.Is(err, call.ErrTerminated):
				// Late event racing the latch; the next select settles.
			default:
				log.Error("event handling failed", "kind", ev.Kind, "error", err)
			}
		}
	}
}

// settle runs the pipeline and forgets the session. Reached exactly once per
// session: only the event loop calls it, and the loop exits immediately
// after.
func (m *Manager) settle(sess *call.Session) {
	m.mu.Lock()
	delete(m.sessions, sess.CallID())
	m.mu.Unlock()

	m.cfg.Pipeline.Settle(sess)
	m.cfg.Metrics.ActiveCalls.Add(context.Background(), -1)
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Wait blocks until every session's event loop has exited and settled. Call
// after the run context is cancelled.
func (m *Manager) Wait() { m.wg.Wait() }
