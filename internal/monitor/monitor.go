// Package monitor implements the Monitoring Subscriber Pool: a
// refcounted map of physical broker/HTTP subscriptions keyed by
// {channel,url,port}, so N registry entries that share a monitoring
// address share exactly one physical subscription.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mupaco/controlunit/internal/aggregator"
	"github.com/mupaco/controlunit/internal/logging"
	"github.com/mupaco/controlunit/internal/model"
	"github.com/mupaco/controlunit/internal/transport"
)

// EndpointFactory builds a fresh Endpoint for a given monitoring address,
// letting the pool stay agnostic to the broker/HTTP distinction.
type EndpointFactory func(addr model.MonitoringAddress) transport.Endpoint

type subscription struct {
	endpoint transport.Endpoint
	refcount int
}

// Pool is the Monitoring Subscriber Pool. It is a plain value owned by a
// lifecycle.ControllerContext.
type Pool struct {
	factory    EndpointFactory
	aggregator *aggregator.Aggregator
	log        *logging.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

// New builds a Pool that opens subscriptions via factory and routes
// every received sample to agg.OnSample.
func New(factory EndpointFactory, agg *aggregator.Aggregator, log *logging.Logger) *Pool {
	return &Pool{
		factory:    factory,
		aggregator: agg,
		log:        log,
		subs:       make(map[string]*subscription),
	}
}

func key(addr model.MonitoringAddress) string {
	return fmt.Sprintf("%s@%s:%d", addr.Channel, addr.URL, addr.Port)
}

// AddObservable registers interest in addr, opening the physical
// subscription on the first reference and incrementing the refcount on
// subsequent ones. Returns true if a new physical subscription was
// opened.
func (p *Pool) AddObservable(addr model.MonitoringAddress) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := key(addr)
	if existing, ok := p.subs[k]; ok {
		existing.refcount++
		return false, nil
	}

	ep := p.factory(addr)
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := ep.Create(transport.Config{
		URL: addr.URL, Port: addr.Port, Channel: addr.Channel, Identifier: id,
	}); err != nil {
		return false, err
	}

	channel := addr.Channel
	if err := ep.StartInbound(func(payload []byte) error {
		p.aggregator.OnSample(context.Background(), channel, payload)
		return nil
	}); err != nil {
		return false, err
	}

	p.subs[k] = &subscription{endpoint: ep, refcount: 1}
	if p.log != nil {
		p.log.Info("monitoring subscription opened", "channel", addr.Channel, "url", addr.URL, "port", addr.Port)
	}
	return true, nil
}

// RemoveObservable decrements the refcount for addr, tearing the
// physical subscription down once it reaches zero. Returns true if the
// physical subscription was torn down. Calling RemoveObservable for an
// address with no tracked subscription is a no-op.
func (p *Pool) RemoveObservable(addr model.MonitoringAddress) (bool, error) {
	p.mu.Lock()
	k := key(addr)
	sub, ok := p.subs[k]
	if !ok {
		p.mu.Unlock()
		return false, nil
	}
	sub.refcount--
	if sub.refcount > 0 {
		p.mu.Unlock()
		return false, nil
	}
	delete(p.subs, k)
	p.mu.Unlock()

	if err := sub.endpoint.Stop(context.Background()); err != nil {
		return true, err
	}
	p.aggregator.Reset(addr.Channel)
	if p.log != nil {
		p.log.Info("monitoring subscription closed", "channel", addr.Channel, "url", addr.URL, "port", addr.Port)
	}
	return true, nil
}

// ActiveCount reports how many distinct physical subscriptions are
// currently open.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// RefCount reports the current refcount for addr, or 0 if untracked.
func (p *Pool) RefCount(addr model.MonitoringAddress) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.subs[key(addr)]; ok {
		return sub.refcount
	}
	return 0
}
