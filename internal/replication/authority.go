package replication

// arbiter resolves authority-transfer requests for Transferable networked
// entities. When two peers contest the same entity, earliest request wins:
// the host processes AuthorityRequestMessages in the order its receive loop
// observed them within the tick, and the first request for a given
// NetworkID claims it; later requests in the same tick are silently
// ignored.
type arbiter struct {
	grantedThisTick map[NetworkID]bool
}

func newArbiter() *arbiter {
	return &arbiter{grantedThisTick: make(map[NetworkID]bool)}
}

// resetTick clears the per-tick grant set; call once at the start of each
// receive/apply pass.
func (a *arbiter) resetTick() {
	a.grantedThisTick = make(map[NetworkID]bool)
}

// requestAuthority attempts to grant requester authority over st, subject to
// st.Authority being Transferable and no earlier request this tick already
// having claimed it. Returns true if the request is granted.
func (a *arbiter) requestAuthority(st *NetworkedState, requester PeerID) bool {
	if st.Authority != AuthorityTransferable {
		return false
	}
	if a.grantedThisTick[st.NetworkID] {
		return false
	}
	a.grantedThisTick[st.NetworkID] = true
	st.AuthorityPeer = requester
	return true
}

// canMutate reports whether peer is permitted to write st's replicated
// components locally (as opposed to merely rendering replicated updates
// from the authority).
func canMutate(st *NetworkedState, peer PeerID) bool {
	switch st.Authority {
	case AuthorityServer:
		return peer == HostPeerID
	case AuthorityClient:
		return peer == st.OwnerPeer
	case AuthorityTransferable:
		return peer == st.AuthorityPeer
	default:
		return false
	}
}
