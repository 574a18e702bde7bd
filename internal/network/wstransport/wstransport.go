// Package wstransport is the reference TransportPeer implementation: a
// websocket-framed stand-in for a real ENet/raw-UDP transport, built on
// github.com/gorilla/websocket. Reliable and unreliable channels are
// multiplexed over one TCP-backed websocket connection: a leading channel
// byte tags each frame. Both channels write synchronously under one write
// lock, so an unreliable send blocks like a reliable one and no frame is
// dropped on the sending side.
package wstransport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/fractalforge/ecsruntime/infrastructure/errors"
	"github.com/fractalforge/ecsruntime/infrastructure/logging"
	"github.com/fractalforge/ecsruntime/internal/network"
)

// unreliableQueueDepth is not consulted by Send: there is no outbound
// unreliable queue, and unreliable frames are written synchronously like
// reliable ones.
const unreliableQueueDepth = 64

// Peer is a network.TransportPeer backed by one *websocket.Conn.
type Peer struct {
	conn   *websocket.Conn
	logger *logging.Logger

	writeMu sync.Mutex

	inbox  chan frame
	closed chan struct{}
	once   sync.Once
}

type frame struct {
	ch      network.Channel
	payload []byte
}

func newPeer(conn *websocket.Conn, logger *logging.Logger) *Peer {
	p := &Peer{
		conn:   conn,
		logger: logger,
		inbox:  make(chan frame, 256),
		closed: make(chan struct{}),
	}
	go p.readLoop()
	return p
}

func (p *Peer) readLoop() {
	defer close(p.inbox)
	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage || len(data) < 1 {
			continue
		}
		ch := network.ChannelReliable
		if data[0] == byte(network.ChannelUnreliable) {
			ch = network.ChannelUnreliable
		}
		select {
		case p.inbox <- frame{ch: ch, payload: data[1:]}:
		case <-p.closed:
			return
		}
	}
}

// Send implements network.TransportPeer.
func (p *Peer) Send(ctx context.Context, ch network.Channel, payload []byte) error {
	select {
	case <-p.closed:
		return network.ErrClosed
	default:
	}

	framed := make([]byte, 1+len(payload))
	framed[0] = byte(ch)
	copy(framed[1:], payload)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := p.conn.WriteMessage(websocket.BinaryMessage, framed); err != nil {
		return errors.Wrap(errors.CodeMalformedPacket, "websocket write failed", err)
	}
	return nil
}

// Receive implements network.TransportPeer.
func (p *Peer) Receive(ctx context.Context) (network.Channel, []byte, error) {
	select {
	case f, ok := <-p.inbox:
		if !ok {
			return 0, nil, network.ErrClosed
		}
		return f.ch, f.payload, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-p.closed:
		return 0, nil, network.ErrClosed
	}
}

// Close implements network.TransportPeer.
func (p *Peer) Close() error {
	p.once.Do(func() { close(p.closed) })
	return p.conn.Close()
}

// RemoteAddr implements network.TransportPeer.
func (p *Peer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}

// upgrader permits any origin: the core has no notion of browser same-origin
// policy; an embedding host that cares restricts this at its own reverse
// proxy.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ListenerConfig configures a Listener's HTTP server.
type ListenerConfig struct {
	Addr string // e.g. ":9100"
	Path string // e.g. "/ecs/replicate"
}

// Listener accepts inbound Peer connections over an HTTP server that
// upgrades a fixed path to a websocket.
type Listener struct {
	cfg    ListenerConfig
	logger *logging.Logger

	server   *http.Server
	listener net.Listener

	accepted chan *Peer
	closed   chan struct{}
	once     sync.Once
}

// Listen starts an HTTP server bound to cfg.Addr, upgrading websocket
// requests on cfg.Path to Peer connections queued for Accept.
func Listen(cfg ListenerConfig, logger *logging.Logger) (*Listener, error) {
	if cfg.Path == "" {
		cfg.Path = "/ecs/replicate"
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternalInvariant, "wstransport: listen failed", err)
	}

	l := &Listener{
		cfg:      cfg,
		logger:   logger,
		listener: ln,
		accepted: make(chan *Peer, 32),
		closed:   make(chan struct{}),
	}

	router := mux.NewRouter()
	router.HandleFunc(cfg.Path, l.handleUpgrade).Methods("GET")
	l.server = &http.Server{Handler: router}

	go func() {
		_ = l.server.Serve(ln)
	}()
	return l, nil
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if l.logger != nil {
			l.logger.WithFields(map[string]interface{}{"error": err.Error()}).Warn("wstransport: upgrade failed")
		}
		return
	}
	peer := newPeer(conn, l.logger)
	select {
	case l.accepted <- peer:
	case <-l.closed:
		_ = peer.Close()
	default:
		// Backlog full: refuse this connection rather than block the HTTP
		// handler goroutine indefinitely.
		_ = peer.Close()
	}
}

// Accept implements network.Listener.
func (l *Listener) Accept(ctx context.Context) (network.TransportPeer, error) {
	select {
	case p, ok := <-l.accepted:
		if !ok {
			return nil, network.ErrClosed
		}
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, network.ErrClosed
	}
}

// Close implements network.Listener.
func (l *Listener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return l.server.Close()
}

// Addr implements network.Listener.
func (l *Listener) Addr() string {
	return l.listener.Addr().String()
}

// Dial connects to a Listener's websocket endpoint, for the client role.
func Dial(ctx context.Context, url string, logger *logging.Logger) (*Peer, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrap(errors.CodeHandshakeTimeout, fmt.Sprintf("wstransport: dial %s failed", url), err)
	}
	return newPeer(conn, logger), nil
}
