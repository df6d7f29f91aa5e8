package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit drop events instead of blocking the caller.
	DropIfFull bool
	// SinkTimeout bounds each Sink.Emit call; zero means no deadline.
	SinkTimeout time.Duration
}

// Dispatcher relays events to a Sink from one background worker. Request
// paths only wait when the buffer is full and DropIfFull is off.
type Dispatcher struct {
	cfg  Config
	sink Sink

	// mu guards closed and the send side of events: Emit holds it shared,
	// Close exclusively before closing the channel.
	mu     sync.RWMutex
	closed bool
	events chan Event
	done   chan struct{}

	dropped   atomic.Uint64
	delivered atomic.Uint64
}

// NewDispatcher starts the worker. It returns nil when cfg.Enabled is false;
// every method is safe on a nil Dispatcher. A nil sink logs through
// slog.Default().
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NewSlogSink(nil)
	}

	d := &Dispatcher{
		cfg:    cfg,
		sink:   sink,
		events: make(chan Event, max(cfg.BufferSize, 1)),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.events {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx := context.Background()
	if d.cfg.SinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SinkTimeout)
		defer cancel()
	}
	d.sink.Emit(ctx, event)
	d.delivered.Add(1)
}

// Emit queues event. Events that cannot be queued, because the buffer is
// full under DropIfFull or ctx ends first, are counted as dropped. Emit
// after Close is ignored.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.events <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.events <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close stops accepting events, delivers what is buffered and waits for the
// worker. It is idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}
