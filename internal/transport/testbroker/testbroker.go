// Package testbroker is an in-process test double for the broker wire
// protocol BrokerEndpoint speaks: connect/subscribe/publish over
// JSON-over-TCP, with per-channel fan-out to every subscribed
// connection. It exists purely to exercise internal/transport's
// BrokerEndpoint in tests without a real external broker.
package testbroker

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
)

type request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type message struct {
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

// Server is a minimal broker: it accepts connections, tracks which
// connection is subscribed to which channel, and on publish fans the
// payload out to every subscriber of that channel (including the
// publisher, matching a typical pub/sub broker).
type Server struct {
	listener net.Listener

	mu          sync.Mutex
	subscribers map[string][]*conn
	all         []*conn
}

type conn struct {
	enc     *json.Encoder
	mu      *sync.Mutex
	netConn net.Conn
}

// Start binds a TCP listener on addr ("127.0.0.1:0" for an ephemeral
// port) and begins accepting connections in the background.
func Start(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{listener: ln, subscribers: make(map[string][]*conn)}
	go s.acceptLoop()
	return s, nil
}

// Addr returns the bound address, useful when Start was called with an
// ephemeral port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close stops accepting connections and closes the listener.
func (s *Server) Close() error {
	return s.listener.Close()
}

// DropAll force-closes every connection accepted so far, simulating a
// broker-side disconnect so client reconnect logic can be exercised.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := append([]*conn(nil), s.all...)
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.netConn.Close()
	}
}

func (s *Server) acceptLoop() {
	for {
		c, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(c)
	}
}

func (s *Server) handleConn(netConn net.Conn) {
	defer netConn.Close()

	writeMu := &sync.Mutex{}
	enc := json.NewEncoder(netConn)
	c := &conn{enc: enc, mu: writeMu, netConn: netConn}

	s.mu.Lock()
	s.all = append(s.all, c)
	s.mu.Unlock()

	scanner := bufio.NewScanner(netConn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		s.handleRequest(c, req)
	}
}

func (s *Server) handleRequest(c *conn, req request) {
	switch req.Method {
	case "connect":
		s.reply(c, req.ID, json.RawMessage(`{}`), "")
	case "subscribe":
		var p subscribeParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			s.reply(c, req.ID, nil, "malformed subscribe params")
			return
		}
		s.mu.Lock()
		s.subscribers[p.Channel] = append(s.subscribers[p.Channel], c)
		s.mu.Unlock()
		s.reply(c, req.ID, json.RawMessage(`{}`), "")
	case "publish":
		var p publishParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			s.reply(c, req.ID, nil, "malformed publish params")
			return
		}
		s.mu.Lock()
		subs := append([]*conn(nil), s.subscribers[p.Channel]...)
		s.mu.Unlock()
		for _, sub := range subs {
			sub.send(message{Channel: p.Channel, Payload: p.Payload})
		}
		s.reply(c, req.ID, json.RawMessage(`{}`), "")
	default:
		s.reply(c, req.ID, nil, "unknown method: "+req.Method)
	}
}

func (s *Server) reply(c *conn, id string, result json.RawMessage, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.enc.Encode(response{ID: id, Result: result, Error: errMsg})
}

func (c *conn) send(m message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.enc.Encode(m)
}
