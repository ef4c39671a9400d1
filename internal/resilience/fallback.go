package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every channel in a [FallbackGroup] failed or
// sat behind an open breaker.
var ErrAllFailed = errors.New("all channels failed")

// FallbackConfig configures the per-channel circuit breaker created for each
// entry in a [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type entry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup delivers through a primary channel and falls through to the
// next healthy one when it fails or its breaker is open. Channels are tried
// in registration order.
//
// Safe for concurrent use once registration is done.
type FallbackGroup[T any] struct {
	entries []entry[T]
	cfg     FallbackConfig
	log     *slog.Logger
}

// NewFallbackGroup creates a group with primary as its first channel. Add
// fallbacks with [FallbackGroup.AddFallback] before first use.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	log := cfg.CircuitBreaker.Logger
	if log == nil {
		log = slog.Default()
	}
	fg := &FallbackGroup[T]{cfg: cfg, log: log}
	fg.add(primaryName, primary)
	return fg
}

// AddFallback appends one fallback channel.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.add(name, fallback)
}

func (fg *FallbackGroup[T]) add(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, entry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Execute runs fn against each channel in order until one succeeds. Entries
// with an open breaker are skipped without counting as an attempt. Returns
// [ErrAllFailed] wrapping the last error when nothing delivered.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	var lastErr error
	for i := range fg.entries {
		e := &fg.entries[i]
		err := e.breaker.Execute(func() error { return fn(e.value) })
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			fg.log.Debug("channel skipped, circuit open", "channel", e.name)
		} else {
			fg.log.Warn("channel failed, trying next", "channel", e.name, "error", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
