package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fractalforge/ecsruntime/infrastructure/errors"
	"github.com/fractalforge/ecsruntime/internal/network"
)

func TestEncodeDecodePacketRoundTrip(t *testing.T) {
	msg := HandshakeRequest{ProtocolVersion: 7, ClientName: "editor"}
	encoded, err := encodePacket(PacketHandshakeRequest, network.ChannelReliable, msg)
	require.NoError(t, err)

	packets, err := decodeBatch(encoded)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, PacketHandshakeRequest, packets[0].typ)
	assert.Equal(t, network.ChannelReliable, packets[0].channel)

	var decoded HandshakeRequest
	require.NoError(t, decodeBody(packets[0].body, &decoded))
	assert.Equal(t, msg, decoded)
}

func TestDecodeBatchSplitsMultiplePackets(t *testing.T) {
	batch, err := encodePacket(PacketPing, network.ChannelUnreliable, PingMessage{SentAtTick: 1})
	require.NoError(t, err)
	batch, err = appendPacket(batch, PacketPong, network.ChannelUnreliable, PongMessage{EchoedTick: 1})
	require.NoError(t, err)

	packets, err := decodeBatch(batch)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.Equal(t, PacketPing, packets[0].typ)
	assert.Equal(t, PacketPong, packets[1].typ)
}

func TestDecodeBatchRejectsTruncatedInput(t *testing.T) {
	encoded, err := encodePacket(PacketDespawn, network.ChannelReliable, DespawnMessage{NetworkID: 9})
	require.NoError(t, err)

	_, err = decodeBatch(encoded[:3])
	require.Error(t, err)
	assert.Equal(t, errors.CodeMalformedPacket, errors.CodeOf(err))

	_, err = decodeBatch(encoded[:len(encoded)-2])
	require.Error(t, err)
	assert.Equal(t, errors.CodeMalformedPacket, errors.CodeOf(err))
}
