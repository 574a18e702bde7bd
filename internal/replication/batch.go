package replication

import (
	"github.com/fractalforge/ecsruntime/internal/network"
)

// DefaultMTU bounds one physical transport Send. 1200 bytes keeps a
// websocket frame (or a future UDP datagram) clear of typical path MTU
// fragmentation.
const DefaultMTU = 1200

// splitByMode partitions updates into a reliable batch (components whose
// registered Mode is ModeReliable or ModeOnce) and an unreliable batch
// (Continuous/OnChange). An update may appear in both batches if its
// components span both modes; each copy carries only the components
// belonging to that channel.
func splitByMode(updates []EntityUpdate, spec *Spec) (reliable, unreliable []EntityUpdate) {
	for _, u := range updates {
		var rel, unrel []ComponentBlob
		for _, c := range u.Components {
			tspec, ok := spec.Lookup(c.Type)
			if !ok {
				continue
			}
			if tspec.Mode == ModeReliable || tspec.Mode == ModeOnce {
				rel = append(rel, c)
			} else {
				unrel = append(unrel, c)
			}
		}
		if len(rel) > 0 {
			reliable = append(reliable, EntityUpdate{NetworkID: u.NetworkID, Components: rel})
		}
		if len(unrel) > 0 {
			unreliable = append(unreliable, EntityUpdate{NetworkID: u.NetworkID, Components: unrel})
		}
	}
	return reliable, unreliable
}

// packBatches encodes updates into one or more physical wire batches, each
// bounded by mtu bytes. A single EntityUpdate larger than mtu still gets its
// own batch (never split mid-entity) rather than being dropped.
func packBatches(updates []EntityUpdate, channel network.Channel, mtu int) ([][]byte, error) {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	var batches [][]byte
	var current []byte
	for _, u := range updates {
		encoded, err := encodePacket(PacketEntityUpdate, channel, u)
		if err != nil {
			return nil, err
		}
		if len(current) > 0 && len(current)+len(encoded) > mtu {
			batches = append(batches, current)
			current = nil
		}
		current = append(current, encoded...)
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches, nil
}
