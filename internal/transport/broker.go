package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mupaco/controlunit/internal/ctlerr"
	"github.com/mupaco/controlunit/internal/logging"
)

// identifierPattern is the broker client id charset: alphanumeric only.
var identifierPattern = regexp.MustCompile(`^[0-9a-zA-Z]+$`)

// brokerRequest is a JSON-over-TCP request frame, one per line.
type brokerRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// brokerResponse is the broker's reply to a brokerRequest, correlated by
// ID. A non-empty Error marks failure.
type brokerResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// brokerMessage is an unsolicited inbound delivery on a subscribed
// channel, distinguished from a brokerResponse by carrying no ID.
type brokerMessage struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

type subscribeParams struct {
	Channel string `json:"channel"`
}

type publishParams struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

const brokerAckTimeout = 5 * time.Second

// BrokerEndpoint is the broker-subscriber Endpoint variant: it dials a
// TCP broker, subscribes to Config.Channel for inbound delivery, and
// publishes outbound payloads with a request/ack round trip standing in
// for the broker's requested QoS 2 semantics.
type BrokerEndpoint struct {
	log *logging.Logger
	cfg Config

	mu      sync.Mutex
	conn    net.Conn
	enc     *json.Encoder
	status  Status
	pending map[string]chan brokerResponse
	handler Handler
}

// NewBrokerEndpoint builds a BrokerEndpoint. log may be nil.
func NewBrokerEndpoint(log *logging.Logger) *BrokerEndpoint {
	return &BrokerEndpoint{log: log, pending: make(map[string]chan brokerResponse)}
}

func (b *BrokerEndpoint) Create(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Identifier == "" || !identifierPattern.MatchString(cfg.Identifier) {
		return ctlerr.Field(ctlerr.Validation, "identifier", "must be non-blank and contain only [0-9a-zA-Z] characters")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != 0 && b.status != Initialized {
		return ctlerr.New(ctlerr.State, "endpoint already created")
	}
	b.cfg = cfg

	conn, err := b.dial(cfg)
	if err != nil {
		return b.reconnect(cfg)
	}
	b.bind(conn)

	if err := b.handshake(); err != nil {
		return err
	}
	b.status = Initialized
	return nil
}

func (b *BrokerEndpoint) dial(cfg Config) (net.Conn, error) {
	return net.DialTimeout("tcp", fmt.Sprintf("%s:%d", cfg.URL, cfg.Port), brokerAckTimeout)
}

// reconnect retries the dial exactly once, with no delay, per the
// resolved Open Question on broker reconnection back-off.
func (b *BrokerEndpoint) reconnect(cfg Config) error {
	conn, err := b.dial(cfg)
	if err != nil {
		return ctlerr.Wrap(ctlerr.Network, "failed to connect to broker after one retry", err)
	}
	b.bind(conn)
	if err := b.handshake(); err != nil {
		return err
	}
	b.status = Initialized
	return nil
}

func (b *BrokerEndpoint) bind(conn net.Conn) {
	b.conn = conn
	b.enc = json.NewEncoder(conn)
	go b.readLoop(conn)
}

func (b *BrokerEndpoint) handshake() error {
	_, err := b.call("connect", map[string]string{"identifier": b.cfg.Identifier})
	return err
}

func (b *BrokerEndpoint) StartInbound(handler Handler) error {
	b.mu.Lock()
	if b.status != Initialized {
		b.mu.Unlock()
		return ctlerr.New(ctlerr.State, "endpoint must be created before starting inbound")
	}
	b.handler = handler
	b.mu.Unlock()

	if _, err := b.call("subscribe", subscribeParams{Channel: b.cfg.Channel}); err != nil {
		return err
	}

	b.mu.Lock()
	b.status = Running
	b.mu.Unlock()
	return nil
}

func (b *BrokerEndpoint) Publish(ctx context.Context, payload []byte) error {
	b.mu.Lock()
	channel := b.cfg.Channel
	timeout := b.cfg.Timeout
	b.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Millisecond)
		defer cancel()
	}

	params := publishParams{Channel: channel, Payload: payload}
	_, err := b.callContext(ctx, "publish", params)
	return err
}

func (b *BrokerEndpoint) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *BrokerEndpoint) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.status == Stopped {
		b.mu.Unlock()
		return nil
	}
	conn := b.conn
	b.status = Stopped
	b.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return ctlerr.Wrap(ctlerr.Network, "failed to close broker connection", err)
	}
	return nil
}

func (b *BrokerEndpoint) call(method string, params interface{}) (json.RawMessage, error) {
	return b.callContext(context.Background(), method, params)
}

func (b *BrokerEndpoint) callContext(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, ctlerr.Wrap(ctlerr.Protocol, "failed to marshal broker request", err)
	}

	id := uuid.NewString()
	respCh := make(chan brokerResponse, 1)

	b.mu.Lock()
	b.pending[id] = respCh
	enc := b.enc
	b.mu.Unlock()

	if enc == nil {
		return nil, ctlerr.New(ctlerr.Network, "broker connection not established")
	}
	if err := enc.Encode(brokerRequest{ID: id, Method: method, Params: raw}); err != nil {
		b.forgetPending(id)
		return nil, ctlerr.Wrap(ctlerr.Network, "failed to send broker request", err)
	}

	timer := time.NewTimer(brokerAckTimeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if resp.Error != "" {
			return nil, ctlerr.New(ctlerr.Protocol, resp.Error)
		}
		return resp.Result, nil
	case <-timer.C:
		b.forgetPending(id)
		return nil, ctlerr.New(ctlerr.Network, "timed out waiting for broker acknowledgement")
	case <-ctx.Done():
		b.forgetPending(id)
		return nil, ctlerr.Wrap(ctlerr.Network, "broker request cancelled", ctx.Err())
	}
}

func (b *BrokerEndpoint) forgetPending(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// readLoop classifies each inbound line as either a correlated response
// (ID set, routed to the waiting pending channel) or an unsolicited
// message (no ID, routed to the registered Handler).
func (b *BrokerEndpoint) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()

		var probe struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(line, &probe); err == nil && probe.ID != "" {
			var resp brokerResponse
			if err := json.Unmarshal(line, &resp); err == nil {
				b.mu.Lock()
				ch, ok := b.pending[resp.ID]
				delete(b.pending, resp.ID)
				b.mu.Unlock()
				if ok {
					ch <- resp
				}
				continue
			}
		}

		var msg brokerMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			if b.log != nil {
				b.log.Warn("failed to decode inbound broker frame", "error", err)
			}
			continue
		}
		b.mu.Lock()
		handler := b.handler
		b.mu.Unlock()
		if handler != nil {
			if err := handler(msg.Payload); err != nil && b.log != nil {
				b.log.Error(err, "inbound handler failed", "channel", msg.Channel)
			}
		}
	}
	b.handleDisconnect()
}

// handleDisconnect runs once the read loop exits because the connection
// dropped. It retries the dial exactly once, mirroring Create's
// single-retry policy; if the redial, handshake or re-subscribe also
// fails, the drop is only logged rather than retried further.
func (b *BrokerEndpoint) handleDisconnect() {
	b.mu.Lock()
	if b.status == Stopped {
		b.mu.Unlock()
		return
	}
	cfg := b.cfg
	wasRunning := b.status == Running
	b.status = Initialized
	b.mu.Unlock()

	if b.log != nil {
		b.log.Warn("broker connection lost, attempting one reconnect", "url", cfg.URL, "port", cfg.Port)
	}

	conn, err := b.dial(cfg)
	if err != nil {
		if b.log != nil {
			b.log.Error(err, "broker reconnect failed, giving up", "url", cfg.URL, "port", cfg.Port)
		}
		return
	}
	b.bind(conn)

	if err := b.handshake(); err != nil {
		if b.log != nil {
			b.log.Error(err, "broker reconnect handshake failed", "url", cfg.URL, "port", cfg.Port)
		}
		return
	}

	b.mu.Lock()
	b.status = Initialized
	b.mu.Unlock()

	if !wasRunning {
		return
	}

	if _, err := b.call("subscribe", subscribeParams{Channel: cfg.Channel}); err != nil {
		if b.log != nil {
			b.log.Error(err, "failed to re-subscribe after broker reconnect", "channel", cfg.Channel)
		}
		return
	}

	b.mu.Lock()
	b.status = Running
	b.mu.Unlock()
}
