package event

import (
	"log/slog"
	"sync"
)

// Handler receives events one at a time, in the order they were queued.
type Handler func(Event)

// Dispatcher decouples the connection loop from application callbacks.
// Events queue onto a buffered channel and a single goroutine drains it,
// so a slow handler never stalls protocol processing and handlers never
// run concurrently with each other.
type Dispatcher struct {
	handler Handler
	queue   chan Event
	logger  *slog.Logger
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

func NewDispatcher(handler Handler, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		handler: handler,
		queue:   make(chan Event, 512),
		logger:  logger.With("component", "dispatcher"),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		if d.handler != nil {
			d.handler(ev)
		}
	}
}

// Dispatch queues an event for delivery. It blocks if the queue is full
// rather than dropping, so ordering guarantees hold under pressure.
// Events dispatched after Drain are discarded.
func (d *Dispatcher) Dispatch(ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Debug("event dropped after drain")
		return
	}
	d.queue <- ev
	d.mu.Unlock()
}

// Drain stops intake and blocks until every queued event has been
// delivered. Safe to call more than once.
func (d *Dispatcher) Drain() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
