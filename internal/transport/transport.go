// Package transport defines the protocol-neutral Endpoint facade and its
// two concrete variants: a broker-subscriber (internal/transport/broker.go)
// standing in for an external MQTT-like client, and an embedded-HTTP-server
// facade (internal/transport/http.go) built on gin.
package transport

import (
	"context"

	"github.com/mupaco/controlunit/internal/ctlerr"
)

// Status is an Endpoint's lifecycle state.
type Status int

const (
	Initialized Status = iota
	Running
	Stopped
)

// Config is the protocol-neutral endpoint configuration: an address,
// port and channel, shared by every Endpoint variant.
type Config struct {
	URL     string
	Port    int
	Channel string
	// Identifier names this endpoint on the wire (e.g. the broker client
	// id); required by the broker variant, ignored by the HTTP variant.
	Identifier string
	// Timeout bounds outbound publish round trips; the HTTP client role
	// defaults this to 1000ms when zero.
	Timeout int
}

func (c Config) Validate() error {
	if c.URL == "" {
		return ctlerr.Field(ctlerr.Validation, "url", "must not be blank")
	}
	if c.Port < 0 || c.Port > 65535 {
		return ctlerr.Field(ctlerr.Validation, "port", "out of range [0,65535]")
	}
	if c.Channel == "" {
		return ctlerr.Field(ctlerr.Validation, "channel", "must not be blank")
	}
	return nil
}

// Handler processes one inbound raw payload delivered to a channel.
type Handler func(payload []byte) error

// Endpoint unifies the broker-subscriber and embedded-HTTP-server
// facades behind one lifecycle: Create validates configuration and
// prepares resources without going live; StartInbound begins accepting
// inbound traffic on Config.Channel, invoking handler for each payload;
// Publish sends an outbound payload and blocks for
// acknowledgement; Stop tears the endpoint down, idempotently.
type Endpoint interface {
	Create(cfg Config) error
	StartInbound(handler Handler) error
	Publish(ctx context.Context, payload []byte) error
	Stop(ctx context.Context) error
	Status() Status
}
