// Package receiver composes an Endpoint, a Queue and a Propagator into
// the controller's reusable reception pipeline, used for the
// registration, monitoring and update channels. start blocks on a
// one-shot latch until the endpoint is established or fails, rather
// than busy-waiting on a volatile flag, per the resolved concurrency
// design note.
package receiver

import (
	"context"
	"sync"

	"github.com/mupaco/controlunit/internal/ctlerr"
	"github.com/mupaco/controlunit/internal/logging"
	"github.com/mupaco/controlunit/internal/propagator"
	"github.com/mupaco/controlunit/internal/queue"
	"github.com/mupaco/controlunit/internal/sink"
	"github.com/mupaco/controlunit/internal/transport"
)

// Receiver binds an Endpoint's inbound stream to a bounded Queue drained
// by a Propagator, one goroutine each.
type Receiver struct {
	endpoint transport.Endpoint
	cfg      transport.Config
	log      *logging.Logger

	queue      *queue.Queue[[]byte]
	propagator *propagator.Propagator[[]byte]

	established chan struct{}
	establishErr error
	once        sync.Once
}

// New builds a Receiver around endpoint, with a queue of the given
// capacity.
func New(endpoint transport.Endpoint, cfg transport.Config, capacity int, log *logging.Logger) *Receiver {
	q := queue.New[[]byte](capacity)
	return &Receiver{
		endpoint:    endpoint,
		cfg:         cfg,
		log:         log,
		queue:       q,
		propagator:  propagator.New(q, log),
		established: make(chan struct{}),
	}
}

// AddSink registers a downstream consumer of every inbound payload.
func (r *Receiver) AddSink(s sink.Sink[[]byte]) {
	r.propagator.AddSink(s)
}

// Start creates the endpoint, begins accepting inbound traffic, and
// starts the propagator worker, then blocks until the endpoint has
// reported success or failure exactly once.
func (r *Receiver) Start() error {
	if err := r.endpoint.Create(r.cfg); err != nil {
		return err
	}

	r.propagator.Start()

	err := r.endpoint.StartInbound(func(payload []byte) error {
		return r.queue.Add(payload)
	})
	r.once.Do(func() {
		r.establishErr = err
		close(r.established)
	})

	<-r.established
	return r.establishErr
}

// Publish sends a payload outbound through this receiver's endpoint
// (used by the aggregation-republish path, which reuses the Receiver's
// endpoint for outbound traffic as well).
func (r *Receiver) Publish(ctx context.Context, payload []byte) error {
	return r.endpoint.Publish(ctx, payload)
}

// Stop idempotently tears the receiver down: close the endpoint, close
// the queue so the propagator drains and exits, then join the
// propagator. The first sub-error encountered is returned; subsequent
// stop steps still run.
func (r *Receiver) Stop(ctx context.Context) error {
	var firstErr error

	if err := r.endpoint.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	r.queue.Close()
	r.propagator.Join()

	if firstErr != nil {
		return ctlerr.Wrap(ctlerr.State, "receiver stop encountered an error", firstErr)
	}
	return nil
}

// QueueDepth reports the number of items currently queued, used for the
// ambient /metrics gauge.
func (r *Receiver) QueueDepth() int {
	return r.queue.Len()
}
