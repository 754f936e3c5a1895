// Package aggregator implements per-channel running-sum aggregation of
// monitoring samples. An Aggregator is a plain value owned by a
// lifecycle.ControllerContext — not a process-wide singleton — so setup is
// the ordinary New constructor; there is no guarded one-shot
// setUp/tearDown state machine and no tearDown method.
package aggregator

import (
	"context"
	"strconv"
	"sync"

	"github.com/mupaco/controlunit/internal/logging"
)

// Publisher sends an aggregated running sum for a channel downstream
// (the aggregation outbound Endpoint's Publish, in production).
type Publisher func(ctx context.Context, channel string, sum int64) error

// Aggregator holds one running sum per monitored channel.
type Aggregator struct {
	log     *logging.Logger
	publish Publisher

	mu    sync.Mutex
	sums  map[string]int64
	count map[string]int64
}

// New builds an Aggregator that calls publish after every successfully
// applied sample.
func New(publish Publisher, log *logging.Logger) *Aggregator {
	return &Aggregator{
		log:     log,
		publish: publish,
		sums:    make(map[string]int64),
		count:   make(map[string]int64),
	}
}

// OnSample parses payload as a signed integer and adds it to channel's
// running sum. A malformed payload is logged and dropped, per the
// resolved Open Question on malformed aggregation samples — there is no
// NACK channel in this transport model.
func (a *Aggregator) OnSample(ctx context.Context, channel string, payload []byte) {
	value, err := strconv.ParseInt(string(payload), 10, 64)
	if err != nil {
		if a.log != nil {
			a.log.Warn("dropping malformed aggregation sample", "channel", channel, "payload", string(payload))
		}
		return
	}

	a.mu.Lock()
	a.sums[channel] += value
	a.count[channel]++
	sum := a.sums[channel]
	a.mu.Unlock()

	if a.publish != nil {
		if err := a.publish(ctx, channel, sum); err != nil && a.log != nil {
			a.log.Error(err, "failed to publish aggregated sum", "channel", channel)
		}
	}
}

// Sum returns the current running sum for channel.
func (a *Aggregator) Sum(channel string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sums[channel]
}

// SampleCount returns how many samples have been successfully applied
// to channel.
func (a *Aggregator) SampleCount(channel string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count[channel]
}

// Reset clears a channel's running sum, used when tearing down a
// monitoring subscription so a later resubscription starts fresh.
func (a *Aggregator) Reset(channel string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sums, channel)
	delete(a.count, channel)
}
