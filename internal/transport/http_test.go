package transport_test

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mupaco/controlunit/internal/transport"
)

func TestHTTPEndpointPublishToInbound(t *testing.T) {
	received := make(chan []byte, 1)

	server := transport.NewHTTPEndpoint(nil)
	require.NoError(t, server.Create(transport.Config{
		URL: "127.0.0.1", Port: 18181, Channel: "/registration",
	}))
	require.NoError(t, server.StartInbound(func(payload []byte) error {
		received <- payload
		return nil
	}))
	defer server.Stop(context.Background())

	client := transport.NewHTTPEndpoint(nil)
	require.NoError(t, client.Create(transport.Config{
		URL: "127.0.0.1", Port: 18181, Channel: "/registration",
	}))
	require.NoError(t, client.Publish(context.Background(), []byte(`{"id":"x"}`)))

	select {
	case payload := <-received:
		assert.JSONEq(t, `{"id":"x"}`, string(payload))
	case <-time.After(time.Second):
		t.Fatal("expected inbound handler to receive the published payload")
	}
}

func TestHTTPEndpointStopIsIdempotent(t *testing.T) {
	ep := transport.NewHTTPEndpoint(nil)
	require.NoError(t, ep.Create(transport.Config{URL: "127.0.0.1", Port: 18182, Channel: "/x"}))
	require.NoError(t, ep.StartInbound(func(payload []byte) error { return nil }))

	require.NoError(t, ep.Stop(context.Background()))
	require.NoError(t, ep.Stop(context.Background()))
	assert.Equal(t, transport.Stopped, ep.Status())
}

func TestHTTPEndpointRejectsInvalidConfig(t *testing.T) {
	ep := transport.NewHTTPEndpoint(nil)
	err := ep.Create(transport.Config{URL: "", Port: 1, Channel: "/x"})
	assert.Error(t, err)
}

func TestHTTPEndpointInboundResponseCodes(t *testing.T) {
	server := transport.NewHTTPEndpoint(nil)
	require.NoError(t, server.Create(transport.Config{URL: "127.0.0.1", Port: 18183, Channel: "/registration"}))
	require.NoError(t, server.StartInbound(func(payload []byte) error { return nil }))
	defer server.Stop(context.Background())

	addr := "http://127.0.0.1:18183/registration"

	ok, err := http.Post(addr, "application/json", bytes.NewReader([]byte(`{"id":"x"}`)))
	require.NoError(t, err)
	defer ok.Body.Close()
	assert.Equal(t, http.StatusOK, ok.StatusCode)

	empty, err := http.Post(addr, "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	defer empty.Body.Close()
	assert.Equal(t, http.StatusBadRequest, empty.StatusCode)

	notFound, err := http.Post("http://127.0.0.1:18183/no-such-channel", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer notFound.Body.Close()
	assert.Equal(t, http.StatusNotFound, notFound.StatusCode)
}
