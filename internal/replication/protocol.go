package replication

import (
	"encoding/binary"
	"encoding/json"

	"github.com/fractalforge/ecsruntime/infrastructure/errors"
	"github.com/fractalforge/ecsruntime/internal/network"
	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
)

// PacketType identifies the body of one packet within a batch. The wire
// header is {packet_type: u16, channel: u8, payload_length: u32}.
type PacketType uint16

const (
	PacketHandshakeRequest PacketType = iota + 1
	PacketHandshakeResponse
	PacketHandshakeComplete
	PacketDisconnect
	PacketEntityUpdate
	PacketSpawn
	PacketDespawn
	PacketAuthorityChange
	PacketAuthorityRequest
	PacketPing
	PacketPong
	PacketTickSync
	PacketWorldSnapshot
	PacketInputCommand
	PacketInputAck
	PacketRPCCall
	PacketRPCResponse
)

// headerSize is the on-wire size of one packet header: 2 bytes packet_type,
// 1 byte channel, 4 bytes payload_length, all big-endian.
const headerSize = 7

// ComponentBlob is one serialized replicated component, tagged by its
// wire-stable type ID so a peer with no shared type registry can still
// dispatch it to the right deserializer, per ecscomponent.ComponentID's
// contract.
type ComponentBlob struct {
	Type ecscomponent.ID `json:"type"`
	Data []byte          `json:"data"`
}

// EntityUpdate is one entity's replicated state for a single tick;
// Components are ordered by ascending Type, the wire protocol's fixed
// per-entity component ordering.
type EntityUpdate struct {
	NetworkID  NetworkID       `json:"network_id"`
	Components []ComponentBlob `json:"components"`
}

// SpawnMessage announces a newly networked entity to a client, carrying its
// initial full state — every replicated component it currently carries,
// regardless of dirty state.
type SpawnMessage struct {
	NetworkID  NetworkID       `json:"network_id"`
	Components []ComponentBlob `json:"components"`
}

// DespawnMessage announces a networked entity's removal.
type DespawnMessage struct {
	NetworkID NetworkID `json:"network_id"`
}

// HandshakeRequest is the client's opening message.
type HandshakeRequest struct {
	ProtocolVersion uint8  `json:"protocol_version"`
	ClientName      string `json:"client_name"`
}

// HandshakeResponse is the host's reply: acceptance with an assigned peer
// ID, or a rejection reason.
type HandshakeResponse struct {
	Accepted   bool   `json:"accepted"`
	PeerID     PeerID `json:"peer_id,omitempty"`
	ServerTick uint64 `json:"server_tick,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// HandshakeComplete finalizes the handshake from the client, acknowledging
// the assigned peer ID.
type HandshakeComplete struct {
	PeerID PeerID `json:"peer_id"`
}

// DisconnectReason is the typed teardown cause carried by a Disconnect
// packet; no peer state survives it.
type DisconnectReason string

const (
	DisconnectUnsupportedProtocol DisconnectReason = "UNSUPPORTED_PROTOCOL"
	DisconnectTimeout             DisconnectReason = "TIMEOUT"
	DisconnectShutdown            DisconnectReason = "SHUTDOWN"
	DisconnectKicked              DisconnectReason = "KICKED"
)

// DisconnectMessage carries the typed reason for a connection teardown.
type DisconnectMessage struct {
	Reason DisconnectReason `json:"reason"`
}

// AuthorityChangeMessage announces which peer now holds authority over a
// networked entity, broadcast after arbitration resolves a transfer.
type AuthorityChangeMessage struct {
	NetworkID     NetworkID `json:"network_id"`
	AuthorityPeer PeerID    `json:"authority_peer"`
}

// AuthorityRequestMessage is a client's bid to take authority over a
// Transferable networked entity.
type AuthorityRequestMessage struct {
	NetworkID NetworkID `json:"network_id"`
}

// PingMessage/PongMessage measure round-trip time, sent every second.
type PingMessage struct {
	SentAtTick uint64 `json:"sent_at_tick"`
}

type PongMessage struct {
	EchoedTick uint64 `json:"echoed_tick"`
	HostTick   uint64 `json:"host_tick"`
}

// TickSyncMessage advances the client's view of server_tick; between
// TickSyncs the client projects the tick forward by elapsed wall-time.
type TickSyncMessage struct {
	ServerTick uint64 `json:"server_tick"`
}

// WorldSnapshotMessage carries a full or delta snapshot of the networked
// world state: one EntityUpdate per entity, the same shape the per-tick
// delta pipeline emits, flagged Full when it covers every networked entity.
type WorldSnapshotMessage struct {
	Tick     uint64         `json:"tick"`
	Full     bool           `json:"full"`
	Entities []EntityUpdate `json:"entities"`
}

// InputCommandMessage is a client's input sample for one tick, sent
// unreliable; the host acknowledges each sequence it receives with an
// InputAckMessage on the reliable channel.
type InputCommandMessage struct {
	Sequence uint64 `json:"sequence"`
	Payload  []byte `json:"payload"`
}

type InputAckMessage struct {
	Sequence uint64 `json:"sequence"`
}

// RPCCallMessage invokes a named procedure on the remote peer; the response
// echoes CallID so the caller can match it to its pending call.
type RPCCallMessage struct {
	CallID uint64          `json:"call_id"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

type RPCResponseMessage struct {
	CallID uint64          `json:"call_id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// packet is one decoded header+body pair read back out of a batch.
type packet struct {
	typ     PacketType
	channel network.Channel
	body    []byte
}

// encodePacket serializes body as JSON and prefixes it with a fixed header.
func encodePacket(typ PacketType, channel network.Channel, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(errors.CodeSerializeFailed, "replication: encode packet body failed", err)
	}
	out := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint16(out[0:2], uint16(typ))
	out[2] = byte(channel)
	binary.BigEndian.PutUint32(out[3:7], uint32(len(payload)))
	copy(out[headerSize:], payload)
	return out, nil
}

// appendPacket encodes one packet onto an existing batch buffer, for
// multi-packet batches sent in a single transport Send call.
func appendPacket(batch []byte, typ PacketType, channel network.Channel, body interface{}) ([]byte, error) {
	encoded, err := encodePacket(typ, channel, body)
	if err != nil {
		return nil, err
	}
	return append(batch, encoded...), nil
}

// decodeBatch splits a received byte slice into its constituent packets.
func decodeBatch(data []byte) ([]packet, error) {
	var packets []packet
	for len(data) > 0 {
		if len(data) < headerSize {
			return nil, errors.MalformedPacket("truncated header")
		}
		typ := PacketType(binary.BigEndian.Uint16(data[0:2]))
		ch := network.Channel(data[2])
		length := binary.BigEndian.Uint32(data[3:7])
		data = data[headerSize:]
		if uint32(len(data)) < length {
			return nil, errors.MalformedPacket("truncated body")
		}
		packets = append(packets, packet{typ: typ, channel: ch, body: data[:length]})
		data = data[length:]
	}
	return packets, nil
}

func decodeBody(body []byte, into interface{}) error {
	if err := json.Unmarshal(body, into); err != nil {
		return errors.Wrap(errors.CodeMalformedPacket, "replication: decode packet body failed", err)
	}
	return nil
}
