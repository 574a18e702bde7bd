// Package network defines the transport abstraction the replication layer
// consumes: send/receive framed payloads over a reliable and an unreliable
// channel per peer. internal/network/wstransport provides a reference
// implementation for local development and tests; a production embedding
// substitutes its own ENet or raw-UDP transport behind the same interface.
package network

import (
	"context"
	"errors"
)

// Channel selects which delivery guarantee a packet travels over:
// handshake/spawn/despawn/authority/RPC/input-ack ride Reliable,
// tick-sync/snapshot/input/ping ride Unreliable.
type Channel uint8

const (
	ChannelReliable Channel = iota
	ChannelUnreliable
)

// String renders a Channel for logging.
func (c Channel) String() string {
	if c == ChannelReliable {
		return "reliable"
	}
	return "unreliable"
}

// ErrClosed is returned by Send/Receive once a TransportPeer has
// disconnected.
var ErrClosed = errors.New("network: transport closed")

// TransportPeer is a single connection to a remote peer offering a reliable
// and an unreliable channel, framed around opaque byte payloads (the
// replication wire protocol encodes/decodes the frame contents; the
// transport only moves bytes).
type TransportPeer interface {
	// Send transmits payload over ch. Unreliable sends may be silently
	// dropped by the underlying transport; reliable sends are retried by
	// the transport until acknowledged or the peer disconnects.
	Send(ctx context.Context, ch Channel, payload []byte) error
	// Receive blocks until one payload arrives on any channel, or ctx is
	// done, or the peer disconnects (ErrClosed).
	Receive(ctx context.Context) (Channel, []byte, error)
	// Close tears down the connection immediately.
	Close() error
	// RemoteAddr identifies the peer for logging/metrics; format is
	// transport-specific.
	RemoteAddr() string
}

// Listener accepts inbound TransportPeer connections, for the host role.
type Listener interface {
	Accept(ctx context.Context) (TransportPeer, error)
	Close() error
	Addr() string
}
