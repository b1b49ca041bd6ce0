// Package dispatch fans committed ledger events out to advisory sinks such
// as the off-chain mirror and the notifier.
//
// The engine publishes after commit; a single Run goroutine delivers events
// to every sink in publish order. A failing sink is logged and skipped, never
// retried: sinks are reconciled later from the event log (see
// mirror.CatchUp), so delivery here is best-effort.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/roach88/streampay/internal/ir"
)

// Sink consumes committed events.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev ir.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	ID string
	Fn func(ctx context.Context, ev ir.Event) error
}

// Name implements Sink.
func (s SinkFunc) Name() string { return s.ID }

// Handle implements Sink.
func (s SinkFunc) Handle(ctx context.Context, ev ir.Event) error { return s.Fn(ctx, ev) }

// Dispatcher queues events and delivers them to sinks.
//
// Thread-safety model:
//   - Publish(): safe from any goroutine
//   - Run() / Drain(): call from one goroutine at a time
type Dispatcher struct {
	queue  *eventQueue
	sinks  []Sink
	logger *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a dispatcher delivering to sinks in the given order.
func New(sinks []Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:  newEventQueue(),
		sinks:  append([]Sink(nil), sinks...),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Add appends a sink. Sinks that need the engine, such as the mirror, are
// added after the engine is built. Not safe once Run has started.
func (d *Dispatcher) Add(s Sink) {
	d.sinks = append(d.sinks, s)
}

// Publish queues ev for delivery. Implements engine.Publisher.
// Returns false once the dispatcher has been stopped.
func (d *Dispatcher) Publish(ev ir.Event) bool {
	return d.queue.Enqueue(ev)
}

// Pending returns the number of undelivered events.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Run delivers events until ctx is cancelled or Stop is called and the
// queue has drained.
//
// ERROR HANDLING: a sink error is logged with the event's seq and kind and
// delivery continues with the next sink.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Debug("dispatcher starting", "sinks", len(d.sinks))

	for {
		if ev, ok := d.queue.TryDequeue(); ok {
			d.deliver(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			d.logger.Debug("dispatcher stopping: context cancelled")
			d.queue.Close()
			return ctx.Err()

		case <-d.queue.Wait():
			// The signal channel is closed on Stop, so this fires
			// immediately once the queue is closed.
			if d.queue.Len() == 0 && d.closed() {
				d.logger.Debug("dispatcher stopping: queue closed")
				return nil
			}
		}
	}
}

// Drain delivers everything currently queued on the calling goroutine and
// returns the number of events delivered. Used in tests and to finish
// delivery after Run was cancelled.
func (d *Dispatcher) Drain(ctx context.Context) int {
	n := 0
	for {
		if ctx.Err() != nil {
			return n
		}
		ev, ok := d.queue.TryDequeue()
		if !ok {
			return n
		}
		d.deliver(ctx, ev)
		n++
	}
}

// Stop closes the queue. Run returns after delivering what is queued.
func (d *Dispatcher) Stop() {
	d.queue.Close()
}

func (d *Dispatcher) closed() bool {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	return d.queue.closed
}

func (d *Dispatcher) deliver(ctx context.Context, ev ir.Event) {
	for _, s := range d.sinks {
		if err := s.Handle(ctx, ev); err != nil {
			d.logger.Warn("sink failed",
				"sink", s.Name(),
				"seq", ev.Seq,
				"kind", ev.Kind,
				"stream_id", ev.StreamID,
				"error", err,
			)
		}
	}
}
