// Package events delivers reservation and conflict notifications to an
// external publisher without ever blocking the caller.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/core"
)

// Publisher is the external event transport. Publish may block or fail;
// callers reach it only through an Emitter.
type Publisher interface {
	Publish(ctx context.Context, ch core.Channel, eventType core.EventType, payload map[string]any) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ch core.Channel, eventType core.EventType, payload map[string]any) error

func (f PublisherFunc) Publish(ctx context.Context, ch core.Channel, eventType core.EventType, payload map[string]any) error {
	return f(ctx, ch, eventType, payload)
}

// Sink is what the reservation store emits into. Emit must not block.
type Sink interface {
	Emit(ch core.Channel, eventType core.EventType, payload map[string]any)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(core.Channel, core.EventType, map[string]any) {}

const (
	DefaultBufferSize       = 1024
	DefaultBreakerThreshold = 5
	DefaultBreakerReset     = 30 * time.Second
	DefaultPublishTimeout   = 5 * time.Second
)

type envelope struct {
	ch      core.Channel
	typ     core.EventType
	payload map[string]any
}

// Emitter queues events in a bounded buffer and delivers them from a single
// worker goroutine. A full buffer drops the event.
type Emitter struct {
	pub     Publisher
	logger  *slog.Logger
	breaker *Breaker
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan envelope
	done   chan struct{}

	dropped   atomic.Uint64
	failed    atomic.Uint64
	delivered atomic.Uint64
}

// EmitterOption configures an Emitter.
type EmitterOption func(*emitterConfig)

type emitterConfig struct {
	bufferSize int
	threshold  int
	reset      time.Duration
	timeout    time.Duration
	logger     *slog.Logger
}

func WithBufferSize(n int) EmitterOption {
	return func(c *emitterConfig) { c.bufferSize = n }
}

func WithBreaker(threshold int, reset time.Duration) EmitterOption {
	return func(c *emitterConfig) { c.threshold, c.reset = threshold, reset }
}

func WithPublishTimeout(d time.Duration) EmitterOption {
	return func(c *emitterConfig) { c.timeout = d }
}

func WithLogger(l *slog.Logger) EmitterOption {
	return func(c *emitterConfig) { c.logger = l }
}

// NewEmitter starts the delivery worker. Call Close to stop it.
func NewEmitter(pub Publisher, opts ...EmitterOption) *Emitter {
	cfg := emitterConfig{
		bufferSize: DefaultBufferSize,
		threshold:  DefaultBreakerThreshold,
		reset:      DefaultBreakerReset,
		timeout:    DefaultPublishTimeout,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.bufferSize <= 0 {
		cfg.bufferSize = DefaultBufferSize
	}
	e := &Emitter{
		pub:     pub,
		logger:  cfg.logger,
		breaker: NewBreaker(cfg.threshold, cfg.reset),
		timeout: cfg.timeout,
		queue:   make(chan envelope, cfg.bufferSize),
		done:    make(chan struct{}),
	}
	go e.run()
	return e
}

// Emit enqueues an event. It never blocks.
func (e *Emitter) Emit(ch core.Channel, eventType core.EventType, payload map[string]any) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.queue <- envelope{ch: ch, typ: eventType, payload: payload}:
	default:
		if e.dropped.Add(1)%100 == 1 {
			e.logger.Warn("event buffer full, dropping event",
				"event_type", string(eventType),
				"project_id", ch.ProjectID,
				"dropped_total", e.dropped.Load())
		}
	}
}

// Close stops accepting events, drains what is queued and waits for the worker.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()
	<-e.done
}

// Dropped returns the number of events discarded because the buffer was full
// or the emitter was closed.
func (e *Emitter) Dropped() uint64 { return e.dropped.Load() }

// Failed returns the number of deliveries the publisher rejected or the
// breaker refused.
func (e *Emitter) Failed() uint64 { return e.failed.Load() }

// Delivered returns the number of successful deliveries.
func (e *Emitter) Delivered() uint64 { return e.delivered.Load() }

// BreakerState exposes the delivery breaker for health reporting.
func (e *Emitter) BreakerState() BreakerState { return e.breaker.State() }

func (e *Emitter) run() {
	defer close(e.done)
	for env := range e.queue {
		e.deliver(env)
	}
}

func (e *Emitter) deliver(env envelope) {
	err := e.breaker.Do(func() error { return e.publish(env) })
	if err == nil {
		e.delivered.Add(1)
		return
	}
	e.failed.Add(1)
	if errors.Is(err, ErrCircuitOpen) {
		e.logger.Debug("event sink unavailable, skipping",
			"event_type", string(env.typ), "project_id", env.ch.ProjectID)
		return
	}
	e.logger.Warn("event delivery failed",
		"event_type", string(env.typ),
		"channel", env.ch.Type,
		"project_id", env.ch.ProjectID,
		"error", err)
}

func (e *Emitter) publish(env envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher panic: %v", r)
		}
	}()
	ctx := context.Background()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.pub.Publish(ctx, env.ch, env.typ, env.payload)
}
