package monitor_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mupaco/controlunit/internal/aggregator"
	"github.com/mupaco/controlunit/internal/model"
	"github.com/mupaco/controlunit/internal/monitor"
	"github.com/mupaco/controlunit/internal/transport"
)

// fakeEndpoint is an in-memory transport.Endpoint double that tracks how
// many times Create/Stop were called, letting tests assert the pool
// opens/closes exactly one physical subscription per address.
type fakeEndpoint struct {
	mu        sync.Mutex
	created   int
	stopped   int
	status    transport.Status
	handler   transport.Handler
}

func (f *fakeEndpoint) Create(cfg transport.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	f.status = transport.Initialized
	return nil
}

func (f *fakeEndpoint) StartInbound(handler transport.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	f.status = transport.Running
	return nil
}

func (f *fakeEndpoint) Publish(ctx context.Context, payload []byte) error { return nil }

func (f *fakeEndpoint) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	f.status = transport.Stopped
	return nil
}

func (f *fakeEndpoint) Status() transport.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func newPool(t *testing.T) (*monitor.Pool, *fakeEndpoint) {
	t.Helper()
	ep := &fakeEndpoint{}
	agg := aggregator.New(nil, nil)
	p := monitor.New(func(addr model.MonitoringAddress) transport.Endpoint { return ep }, agg, nil)
	return p, ep
}

func addr() model.MonitoringAddress {
	return model.MonitoringAddress{Channel: "temp", URL: "broker", Port: 1883}
}

func TestAddObservableOpensOnFirstReference(t *testing.T) {
	p, ep := newPool(t)

	opened, err := p.AddObservable(addr())
	require.NoError(t, err)
	assert.True(t, opened)
	assert.Equal(t, 1, ep.created)
	assert.Equal(t, 1, p.RefCount(addr()))
}

func TestAddObservableIsIdempotentPerAddress(t *testing.T) {
	p, ep := newPool(t)

	opened1, err := p.AddObservable(addr())
	require.NoError(t, err)
	opened2, err := p.AddObservable(addr())
	require.NoError(t, err)

	assert.True(t, opened1)
	assert.False(t, opened2)
	assert.Equal(t, 1, ep.created)
	assert.Equal(t, 2, p.RefCount(addr()))
	assert.Equal(t, 1, p.ActiveCount())
}

func TestRemoveObservableTearsDownOnZeroRefcount(t *testing.T) {
	p, ep := newPool(t)

	_, err := p.AddObservable(addr())
	require.NoError(t, err)
	_, err = p.AddObservable(addr())
	require.NoError(t, err)

	closed, err := p.RemoveObservable(addr())
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Equal(t, 0, ep.stopped)

	closed, err = p.RemoveObservable(addr())
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, 1, ep.stopped)
	assert.Equal(t, 0, p.ActiveCount())
}

func TestRemoveObservableUnknownAddressIsNoOp(t *testing.T) {
	p, _ := newPool(t)
	closed, err := p.RemoveObservable(addr())
	require.NoError(t, err)
	assert.False(t, closed)
}
