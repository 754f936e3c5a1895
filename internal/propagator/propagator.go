// Package propagator implements the single-consumer fan-out worker that
// drains a Receiver's Queue and delivers each item to every registered
// sink in registration order.
package propagator

import (
	"fmt"
	"sync"

	"github.com/mupaco/controlunit/internal/logging"
	"github.com/mupaco/controlunit/internal/queue"
	"github.com/mupaco/controlunit/internal/sink"
)

// Propagator runs a single goroutine that removes items from a Queue and
// delivers them to every registered Sink. A failing sink is logged and
// skipped; it never blocks delivery to the remaining sinks or stops the
// worker loop.
type Propagator[T any] struct {
	queue *queue.Queue[T]
	log   *logging.Logger
	mu    sync.RWMutex
	sinks []sink.Sink[T]
	wg    sync.WaitGroup
	once  sync.Once
}

// New builds a Propagator bound to q. It does not start running until
// Start is called.
func New[T any](q *queue.Queue[T], log *logging.Logger) *Propagator[T] {
	return &Propagator[T]{
		queue: q,
		log:   log,
	}
}

// AddSink registers a sink to receive every subsequently propagated item.
// Safe to call before or after Start.
func (p *Propagator[T]) AddSink(s sink.Sink[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}

// Start launches the worker goroutine. Calling Start more than once is a
// no-op beyond the first call.
func (p *Propagator[T]) Start() {
	p.once.Do(func() {
		p.wg.Add(1)
		go p.run()
	})
}

// Join blocks until the worker goroutine has exited, which happens once
// the underlying queue is closed and drained.
func (p *Propagator[T]) Join() {
	p.wg.Wait()
}

func (p *Propagator[T]) run() {
	defer p.wg.Done()
	for {
		item, ok := p.queue.Remove()
		if !ok {
			return
		}
		p.deliver(item)
	}
}

func (p *Propagator[T]) deliver(item T) {
	p.mu.RLock()
	sinks := make([]sink.Sink[T], len(p.sinks))
	copy(sinks, p.sinks)
	p.mu.RUnlock()

	for _, s := range sinks {
		func() {
			defer func() {
				if r := recover(); r != nil && p.log != nil {
					p.log.Error(fmt.Errorf("sink panicked: %v", r), "sink delivery failed")
				}
			}()
			if err := s(item); err != nil && p.log != nil {
				p.log.Error(err, "sink delivery failed")
			}
		}()
	}
}
