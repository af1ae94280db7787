package hook

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/gridpoint/internal/orchestrator"
)

// QueueSize is the number of events buffered for hooks.
const QueueSize = 64

// Dispatcher delivers orchestrator events to hooks on one worker
// goroutine. Events that arrive while the queue is full are dropped.
type Dispatcher struct {
	manager  *Manager
	executor *Executor
	queue    chan orchestrator.Event
	log      zerolog.Logger
}

// NewDispatcher creates a Dispatcher for the hooks known to m.
func NewDispatcher(m *Manager, e *Executor) *Dispatcher {
	return &Dispatcher{
		manager:  m,
		executor: e,
		queue:    make(chan orchestrator.Event, QueueSize),
		log:      log.With().Str("component", "hooks").Logger(),
	}
}

// Attach subscribes the dispatcher to o.
func (d *Dispatcher) Attach(o *orchestrator.Orchestrator) {
	o.Subscribe(d.Enqueue)
}

// Enqueue queues ev without blocking.
func (d *Dispatcher) Enqueue(ev orchestrator.Event) {
	select {
	case d.queue <- ev:
	default:
		d.log.Warn().Str("event", string(ev.Kind)).Msg("hook queue full, dropping event")
	}
}

// Run delivers queued events until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev orchestrator.Event) {
	req := requestFor(ev)
	for _, h := range d.manager.List() {
		if !h.Wants(req.Event) {
			continue
		}
		if _, err := d.executor.Execute(ctx, h, req); err != nil {
			d.log.Warn().Err(err).Str("hook", h.Manifest.Name).Str("event", req.Event).Msg("hook failed")
			continue
		}
		d.log.Debug().Str("hook", h.Manifest.Name).Str("event", req.Event).Msg("hook ran")
	}
}

func requestFor(ev orchestrator.Event) *Request {
	req := &Request{
		Event:      string(ev.Kind),
		Connection: ev.Connection,
		Mode:       ev.Mode.String(),
		At:         ev.At,
	}
	if ev.Cell != nil {
		row, col := ev.Cell.Row, ev.Cell.Col
		req.Row, req.Col = &row, &col
	}
	return req
}
