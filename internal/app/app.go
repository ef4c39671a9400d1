// Package app wires all Frontdesk subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the gateway event loop and the HTTP server, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithCalendar,
// WithRecordStore, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/frontdesk-ai/frontdesk/internal/call"
	"github.com/frontdesk-ai/frontdesk/internal/callback"
	"github.com/frontdesk-ai/frontdesk/internal/config"
	"github.com/frontdesk-ai/frontdesk/internal/health"
	"github.com/frontdesk-ai/frontdesk/internal/hook"
	"github.com/frontdesk-ai/frontdesk/internal/media"
	"github.com/frontdesk-ai/frontdesk/internal/notify"
	"github.com/frontdesk-ai/frontdesk/internal/ratelimit"
	"github.com/frontdesk-ai/frontdesk/internal/scheduling"
	"github.com/frontdesk-ai/frontdesk/internal/sentiment"
	"github.com/frontdesk-ai/frontdesk/internal/settle"
	"github.com/frontdesk-ai/frontdesk/internal/store"
)

// streamBackoff is the wait between event stream reconnection attempts.
const streamBackoff = 3 * time.Second

// App owns all subsystem lifetimes and runs the call orchestration loop.
type App struct {
	cfg *config.Config
	log *slog.Logger

	// Collaborators — created from config in New unless injected.
	gateway    *media.Client
	recordSt   settle.RecordStore
	transcript call.TranscriptSink
	calendar   settle.Calendar
	classifier settle.Classifier
	recorder   settle.Recorder
	sink       settle.EventSink
	dispatcher callback.Dispatcher
	decliner   Decliner
	responders ResponderFactory
	notifier   *notify.Service

	// Readiness probes for concrete backends.
	checkers []health.Checker

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecordStore injects a record store instead of connecting to Postgres.
func WithRecordStore(s settle.RecordStore) Option {
	return func(a *App) { a.recordSt = s }
}

// WithTranscriptSink injects a live transcript sink.
func WithTranscriptSink(s call.TranscriptSink) Option {
	return func(a *App) { a.transcript = s }
}

// WithCalendar injects a scheduling backend instead of the REST client.
func WithCalendar(c settle.Calendar) Option {
	return func(a *App) { a.calendar = c }
}

// WithClassifier injects a sentiment classifier.
func WithClassifier(c settle.Classifier) Option {
	return func(a *App) { a.classifier = c }
}

// WithEventSink injects a summary event sink instead of the webhook.
func WithEventSink(s settle.EventSink) Option {
	return func(a *App) { a.sink = s }
}

// WithResponders injects a responder factory instead of the gateway-backed
// one.
func WithResponders(f ResponderFactory) Option {
	return func(a *App) { a.responders = f }
}

// New creates an App by wiring all subsystems together. Initialisation is
// synchronous: the store connects and migrates, and every configured
// collaborator client is constructed, before New returns.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initGateway(); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}
	if err := a.initNotifier(); err != nil {
		return nil, fmt.Errorf("app: init notifier: %w", err)
	}
	if err := a.initCollaborators(); err != nil {
		return nil, fmt.Errorf("app: init collaborators: %w", err)
	}

	return a, nil
}

// initStore connects the Postgres call log when configured.
func (a *App) initStore(ctx context.Context) error {
	if a.recordSt != nil {
		return nil
	}
	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		a.log.Warn("no storage configured, call records will not be persisted")
		return nil
	}

	st, err := store.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.recordSt = st
	if a.transcript == nil {
		a.transcript = st
	}
	a.checkers = append(a.checkers, health.DatabaseChecker(st))
	a.closers = append(a.closers, func() error {
		st.Close()
		return nil
	})
	return nil
}

// initGateway creates the media gateway client and the collaborator roles it
// fills by default.
func (a *App) initGateway() error {
	needsGateway := a.responders == nil || a.recorder == nil ||
		a.dispatcher == nil || a.decliner == nil
	if !needsGateway {
		return nil
	}

	gw, err := media.NewClient(a.cfg.Media, a.log)
	if err != nil {
		return err
	}
	a.gateway = gw
	a.checkers = append(a.checkers, health.GatewayChecker(gw))

	if a.responders == nil {
		instructions := a.cfg.Agent.Instructions
		a.responders = func(callID string) call.Responder {
			return media.NewResponder(gw, callID, instructions)
		}
	}
	if a.recorder == nil {
		a.recorder = gw
	}
	if a.dispatcher == nil {
		a.dispatcher = gw
	}
	if a.decliner == nil {
		a.decliner = gw
	}
	return nil
}

// initNotifier builds the operator notification service from whichever
// channels are configured. Telegram is primary, Discord the failover.
func (a *App) initNotifier() error {
	var channels []notify.Notifier

	if tg := a.cfg.Notify.Telegram; tg.BotToken != "" {
		ch, err := notify.NewTelegram(notify.TelegramConfig{
			BotToken: tg.BotToken,
			ChatID:   tg.ChatID,
		})
		if err != nil {
			return err
		}
		channels = append(channels, ch)
	}
	if dc := a.cfg.Notify.Discord; dc.Token != "" {
		ch, err := notify.NewDiscord(dc.Token, dc.ChannelID)
		if err != nil {
			return err
		}
		channels = append(channels, ch)
	}

	if len(channels) == 0 {
		a.log.Warn("no notification channel configured")
		return nil
	}
	a.notifier = notify.NewService(a.log, channels[0], channels[1:]...)
	return nil
}

// initCollaborators builds the remaining settlement collaborators from
// config.
func (a *App) initCollaborators() error {
	if a.calendar == nil && a.cfg.Calendar.BaseURL != "" {
		c, err := scheduling.New(scheduling.Config{
			BaseURL:     a.cfg.Calendar.BaseURL,
			APIKey:      a.cfg.Calendar.APIKey,
			EventTypeID: a.cfg.Calendar.EventTypeID,
		})
		if err != nil {
			return err
		}
		a.calendar = c
	}

	if a.classifier == nil && a.cfg.Sentiment.APIKey != "" {
		c, err := sentiment.New(a.cfg.Sentiment.APIKey, a.cfg.Sentiment.Model)
		if err != nil {
			return err
		}
		a.classifier = c
	}

	if a.sink == nil && a.cfg.Notify.WebhookURL != "" {
		s, err := hook.NewSink(hook.SinkConfig{URL: a.cfg.Notify.WebhookURL})
		if err != nil {
			return err
		}
		a.sink = s
	}
	return nil
}

// Run executes the application until ctx is cancelled: the gateway event
// loop feeding the call manager, and the HTTP server exposing health and
// metrics endpoints. In-flight calls are settled before Run returns.
func (a *App) Run(ctx context.Context) error {
	limits := a.cfg.Limits
	scheduler := callback.NewScheduler(ctx, a.dispatcher, a.log)

	var notifier settle.Notifier
	var errNotifier ErrorNotifier
	if a.notifier != nil {
		notifier = a.notifier
		errNotifier = a.notifier
	}

	pipeline := settle.NewPipeline(settle.PipelineConfig{
		Calendar:      a.calendar,
		Notifier:      notifier,
		Sentiment:     a.classifier,
		Recorder:      a.recorder,
		Store:         a.recordSt,
		Callbacks:     scheduler,
		Sink:          a.sink,
		Costs:         a.cfg.Cost,
		MissedCallMax: time.Duration(limits.MissedCallSeconds) * time.Second,
		CallbackDelay: time.Duration(limits.CallbackDelaySeconds) * time.Second,
		Logger:        a.log,
	})

	manager, err := NewManager(ManagerConfig{
		Limiter: ratelimit.New(
			time.Duration(limits.RateWindowSeconds)*time.Second,
			limits.RateMaxCalls,
		),
		Pipeline:     pipeline,
		Responders:   a.responders,
		Transcript:   a.transcript,
		Decliner:     a.decliner,
		Errors:       errNotifier,
		Languages:    a.cfg.Languages,
		Instructions: a.cfg.Agent.Instructions,
		Greeting:     a.cfg.Agent.Greeting,
		MaxTurns:     limits.MaxTurns,
		Logger:       a.log,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.serveHTTP(ctx) })
	g.Go(func() error { return a.consumeEvents(ctx, manager) })

	a.log.Info("frontdesk running", "listen", a.cfg.Server.ListenAddr)
	err = g.Wait()

	manager.Wait()
	scheduler.Wait()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveHTTP runs the operational HTTP server: health probes and the
// Prometheus scrape endpoint.
func (a *App) serveHTTP(ctx context.Context) error {
	mux := http.NewServeMux()
	health.New(a.checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

// consumeEvents keeps the gateway event stream open, reconnecting with a
// fixed backoff, and routes every frame through the manager.
func (a *App) consumeEvents(ctx context.Context, manager *Manager) error {
	if a.gateway == nil {
		// Collaborators fully injected; nothing to consume from.
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		frames, err := a.gateway.Stream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.log.Error("event stream connect failed, retrying", "error", err)
			if a.notifier != nil {
				if nerr := a.notifier.Error(ctx, "event_stream", err); nerr != nil {
					a.log.Warn("error notification failed", "error", nerr)
				}
			}
			select {
			case <-time.After(streamBackoff):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for f := range frames {
			manager.HandleFrame(ctx, f)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.log.Warn("event stream dropped, reconnecting")
	}
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires, remaining closers are skipped.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
