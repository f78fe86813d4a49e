// Package flooding implements controlled flooding: every non-HELLO packet
// is retransmitted to all peers except the sender, guarded by a per-
// algorithm seen-set and the packet's own rolling path window.
//
// Grounded on original_source/src/algorithms/flooding.py, translated from
// its set+deque seen-id filter into the shared internal/dedupe cache, and
// on the teacher's device/router.routeFloodForward for the "append hash,
// re-broadcast" shape of the decision.
package flooding

import (
	"github.com/kabili207/meshrouted/internal/dedupe"
	"github.com/kabili207/meshrouted/internal/packet"
	"github.com/kabili207/meshrouted/internal/routing"
)

// Algorithm is the controlled-flooding routing variant. It keeps no routing
// table: GetNextHop always answers Flood.
type Algorithm struct {
	routerID string
	seen     *dedupe.MsgIDCache
}

// New creates a flooding Algorithm for routerID.
func New(routerID string) *Algorithm {
	return &Algorithm{
		routerID: routerID,
		seen:     dedupe.NewMsgIDCache(dedupe.DefaultCapacity),
	}
}

var _ routing.Algorithm = (*Algorithm)(nil)

// Name returns "flooding".
func (a *Algorithm) Name() string { return "flooding" }

// UpdateNeighbor is a no-op: flooding has no per-neighbor cost model, and
// the engine's fan-out goes to every peer the transport is connected to.
func (a *Algorithm) UpdateNeighbor(id string, info routing.NeighborInfo) {}

// ProcessPacket absorbs HELLO packets, drops anything already seen (by
// msg_id) or already carrying this router in its path window, and floods
// everything else.
func (a *Algorithm) ProcessPacket(pkt *packet.Packet, fromNeighbor string) routing.Decision {
	if pkt.Type == packet.TypeHello {
		return routing.Decision{Kind: routing.ConsumeLocal}
	}

	if pkt.PathContains(a.routerID) {
		return routing.Decision{Kind: routing.CycleDetected}
	}

	mid := pkt.EnsureMsgID()
	if a.seen.Seen(mid) {
		return routing.Decision{Kind: routing.ConsumeLocal}
	}

	pkt.AppendToPath(a.routerID)
	return routing.Decision{Kind: routing.Flood}
}

// GetNextHop always answers Flood: every destination is reached by
// broadcasting.
func (a *Algorithm) GetNextHop(destination string) routing.Decision {
	return routing.Decision{Kind: routing.Flood}
}
