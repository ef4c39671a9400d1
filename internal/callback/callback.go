// Package callback defers outbound redial attempts for missed calls. A
// missed call is redialed once after a fixed delay; there is no retry chain.
package callback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// dispatchTimeout bounds the outbound dispatch request itself, not the delay
// before it.
const dispatchTimeout = 10 * time.Second

// Dispatcher places a fresh outbound call. The media gateway implements it.
type Dispatcher interface {
	DispatchCall(ctx context.Context, phone string, metadata map[string]string) error
}

// Scheduler sleeps out callback delays and fires a single dispatch attempt
// per scheduled identity. Pending sleeps are cancelled when the scheduler's
// context ends; a callback lost to process shutdown is acceptable, a retry
// storm is not.
type Scheduler struct {
	ctx        context.Context
	dispatcher Dispatcher
	log        *slog.Logger
	wg         sync.WaitGroup
}

// NewScheduler creates a Scheduler bound to ctx. Cancelling ctx drops all
// pending callbacks.
func NewScheduler(ctx context.Context, d Dispatcher, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{ctx: ctx, dispatcher: d, log: log}
}

// Schedule enqueues one callback to identity after delay. Fire and forget:
// it returns immediately, and a dispatch failure is logged, never retried.
func (s *Scheduler) Schedule(identity string, delay time.Duration) {
	// Correlates gateway-side dispatch records with our logs.
	id := uuid.NewString()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-s.ctx.Done():
			s.log.Debug("callback dropped, scheduler stopping", "callback_id", id, "identity", identity)
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(s.ctx, dispatchTimeout)
		defer cancel()
		err := s.dispatcher.DispatchCall(ctx, identity, map[string]string{
			"reason":      "callback",
			"callback_id": id,
		})
		if err != nil {
			s.log.Error("callback dispatch failed", "callback_id", id, "identity", identity, "error", err)
			return
		}
		s.log.Info("callback dispatched", "callback_id", id, "identity", identity, "delay", delay)
	}()
}

// Wait blocks until all scheduled callbacks have fired or been dropped.
func (s *Scheduler) Wait() { s.wg.Wait() }
