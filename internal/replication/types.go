// Package replication mirrors entity state across peers: network-ID
// assignment, dirty-component collection, a fixed-tick serialize/batch/send
// pipeline, and client-side receive/interpolate/apply, independent of the
// render tick.
package replication

import (
	"sync"
	"time"

	"github.com/fractalforge/ecsruntime/pkg/ecscomponent"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

// Role is a peer's position in the replication topology.
type Role int

const (
	RoleDisconnected Role = iota
	RoleHost
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleClient:
		return "client"
	default:
		return "disconnected"
	}
}

// Mode is a component's replication mode.
type Mode int

const (
	ModeNone Mode = iota
	ModeContinuous
	ModeOnChange
	ModeReliable
	ModeOnce
)

// Authority classifies who may mutate a networked entity's replicated
// state.
type Authority int

const (
	AuthorityServer Authority = iota
	AuthorityClient
	AuthorityTransferable
)

// PeerID identifies one connected peer. The host is always PeerID 1; peer
// IDs are assigned in connection order starting at 2.
type PeerID uint32

const HostPeerID PeerID = 1

// NetworkID is the wire-stable identifier assigned to every networked
// entity; injective per world, assigned only by the authoritative peer.
type NetworkID uint64

// TypeSpec is one component type's replication policy: mode, priority, and
// whether it's rendered through the interpolation snapshot buffer rather
// than written to the store directly.
type TypeSpec struct {
	Type        ecscomponent.ID
	Mode        Mode
	Priority    uint8 // higher sends first within a tick
	Interpolate bool
}

// Spec is the process-wide (or world-wide) registry of which component
// types replicate and how. Built once via RegisterType before any World
// starts ticking replication.
type Spec struct {
	mu    sync.RWMutex
	types map[ecscomponent.ID]TypeSpec
	order []ecscomponent.ID // registration order; keeps iteration deterministic
}

// NewSpec creates an empty replication Spec.
func NewSpec() *Spec {
	return &Spec{types: make(map[ecscomponent.ID]TypeSpec)}
}

// RegisterType adds or overwrites typ's replication policy.
func (s *Spec) RegisterType(spec TypeSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.types[spec.Type]; !exists {
		s.order = append(s.order, spec.Type)
	}
	s.types[spec.Type] = spec
}

// Lookup returns typ's replication policy, if registered.
func (s *Spec) Lookup(typ ecscomponent.ID) (TypeSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.types[typ]
	return spec, ok
}

// Types returns every registered replicated type, in registration order —
// used to build per-type DetectChanges queries. Registration order is not
// TypeID order; the wire protocol's TypeID-ascending component order within
// one entity's update is produced by sorting where updates are built.
func (s *Spec) Types() []ecscomponent.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ecscomponent.ID, len(s.order))
	copy(out, s.order)
	return out
}

// NetworkedState is the per-networked-entity bookkeeping: network_id,
// authority/owner peer, and a dirty bit per replicated type set during
// Collect and cleared once serialized into a packet.
type NetworkedState struct {
	NetworkID     NetworkID
	Authority     Authority
	AuthorityPeer PeerID
	OwnerPeer     PeerID
	Dirty         map[ecscomponent.ID]bool
	LastSent      map[ecscomponent.ID]uint64 // last-sent counter per replicated column
}

// newNetworkedState creates an empty NetworkedState for a freshly networked
// entity.
func newNetworkedState(id NetworkID, authority Authority, authorityPeer, ownerPeer PeerID) *NetworkedState {
	return &NetworkedState{
		NetworkID:     id,
		Authority:     authority,
		AuthorityPeer: authorityPeer,
		OwnerPeer:     ownerPeer,
		Dirty:         make(map[ecscomponent.ID]bool),
		LastSent:      make(map[ecscomponent.ID]uint64),
	}
}

// pendingSpawn buffers an update for a network_id the client hasn't seen
// yet, for up to SpawnBufferTicks before being dropped.
type pendingSpawn struct {
	update      EntityUpdate
	bufferedAt  uint64 // local tick count when first buffered
}

// snapshot is one entry in an interpolated component's circular buffer.
type snapshot struct {
	tick  uint64
	value interface{}
}

// entityHandle is a package-local alias for handle.Handle.
type entityHandle = handle.Handle

// defaultTickInterval converts a Hz rate into the loop's sleep interval.
func defaultTickInterval(hz float64) time.Duration {
	if hz <= 0 {
		hz = 20
	}
	return time.Duration(float64(time.Second) / hz)
}
