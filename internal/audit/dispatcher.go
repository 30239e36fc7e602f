package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Config controls dispatcher buffering behavior.
//
// Retain marks events that must survive backpressure: with DropIfFull they
// wait for buffer space like a blocking dispatcher instead of being dropped.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	Retain     func(Event) bool
	Logger     zerolog.Logger
}

// envelope keeps the emitting request's values (request id, error hub) for
// the sink, detached from its cancellation.
type envelope struct {
	ctx   context.Context
	event Event
}

// Dispatcher asynchronously forwards audit events to a sink.
type Dispatcher struct {
	cfg       Config
	sink      Sink
	log       zerolog.Logger
	ch        chan envelope
	done      chan struct{}
	wg        sync.WaitGroup
	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is
// disabled; a nil Dispatcher accepts and discards events.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:  cfg,
		sink: sink,
		log:  cfg.Logger.With().Str("component", "audit_dispatcher").Logger(),
		ch:   make(chan envelope, cfg.BufferSize),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case env := <-d.ch:
			d.deliver(env)
		case <-d.done:
			for {
				select {
				case env := <-d.ch:
					d.deliver(env)
				default:
					return
				}
			}
		}
	}
}

// deliver hands one event to the sink. A panicking sink loses that event
// only; the worker keeps running.
func (d *Dispatcher) deliver(env envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			d.failed.Add(1)
			d.log.Error().
				Interface("panic", rec).
				Str("event_type", env.event.EventType).
				Msg("audit sink panicked")
		}
	}()
	d.sink.Emit(env.ctx, env.event)
	d.delivered.Add(1)
}

// Emit enqueues event. With DropIfFull it never blocks for ordinary events
// and counts drops; retained events and blocking dispatchers wait for buffer
// space, ctx cancellation or Close.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	env := envelope{ctx: context.WithoutCancel(ctx), event: event}

	if d.cfg.DropIfFull && (d.cfg.Retain == nil || !d.cfg.Retain(event)) {
		select {
		case d.ch <- env:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- env:
	case <-ctx.Done():
		d.dropped.Add(1)
		d.log.Warn().Str("event_type", event.EventType).Msg("audit event abandoned: caller context done")
	case <-d.done:
	}
}

// Close stops accepting events, drains the buffer and waits for the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped counts events lost to a full buffer or an expired caller context.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered counts events the sink accepted without panicking.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}

// Failed counts events lost to a panicking sink.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
