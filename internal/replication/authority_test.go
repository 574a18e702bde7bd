package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEarliestRequestWinsWithinTick(t *testing.T) {
	a := newArbiter()
	st := newNetworkedState(1, AuthorityTransferable, HostPeerID, 0)

	assert.True(t, a.requestAuthority(st, 2))
	assert.Equal(t, PeerID(2), st.AuthorityPeer)

	// A racing request for the same entity in the same tick loses.
	assert.False(t, a.requestAuthority(st, 3))
	assert.Equal(t, PeerID(2), st.AuthorityPeer)

	// Next tick the entity is contestable again.
	a.resetTick()
	assert.True(t, a.requestAuthority(st, 3))
	assert.Equal(t, PeerID(3), st.AuthorityPeer)
}

func TestNonTransferableEntitiesRefuseTransfer(t *testing.T) {
	a := newArbiter()
	server := newNetworkedState(1, AuthorityServer, HostPeerID, 0)
	client := newNetworkedState(2, AuthorityClient, HostPeerID, 4)

	assert.False(t, a.requestAuthority(server, 2))
	assert.False(t, a.requestAuthority(client, 2))
}

func TestCanMutatePerAuthorityMode(t *testing.T) {
	server := newNetworkedState(1, AuthorityServer, HostPeerID, 0)
	assert.True(t, canMutate(server, HostPeerID))
	assert.False(t, canMutate(server, 2))

	owned := newNetworkedState(2, AuthorityClient, HostPeerID, 4)
	assert.True(t, canMutate(owned, 4))
	assert.False(t, canMutate(owned, 5))

	transferable := newNetworkedState(3, AuthorityTransferable, HostPeerID, 0)
	transferable.AuthorityPeer = 6
	assert.True(t, canMutate(transferable, 6))
	assert.False(t, canMutate(transferable, HostPeerID))
}
