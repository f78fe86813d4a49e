// Package routing declares the polymorphic routing-algorithm contract
// shared by the flooding, dijkstra, and lsr variants, plus the Decision
// values the router engine dispatches on.
//
// This corresponds to the teacher's transport.Transport interface split
// (one small interface, several independent implementations selected at
// startup) applied to the routing layer instead of the transport layer.
package routing

import "github.com/kabili207/meshrouted/internal/packet"

// DecisionKind enumerates the forwarding decisions a routing algorithm can
// return from ProcessPacket.
type DecisionKind int

const (
	// ConsumeLocal means the algorithm fully handled the packet (e.g. a
	// HELLO was absorbed); the engine does nothing further.
	ConsumeLocal DecisionKind = iota
	// Flood means retransmit to every peer except the sender.
	Flood
	// FloodLSA is the same fan-out as Flood but marks an LSA reflood path
	// for counters/logging purposes.
	FloodLSA
	// NextHop means unicast to the neighbor named in Decision.Neighbor.
	NextHop
	// NoRoute means drop with a RouteError log.
	NoRoute
	// CycleDetected means the packet's path window already contains this
	// router's id: drop silently (no reply sent), logged as CycleDetected.
	CycleDetected
)

// Decision is returned by ProcessPacket and by GetNextHop to tell the
// router engine how to dispatch a packet.
type Decision struct {
	Kind     DecisionKind
	Neighbor string // populated only when Kind == NextHop
}

// NeighborInfo describes what the engine knows about a direct neighbor when
// calling UpdateNeighbor: its link cost.
type NeighborInfo struct {
	Cost int
}

// Algorithm is the contract every routing variant implements. UpdateNeighbor
// and ProcessPacket are called from the engine's inbound dispatch path,
// which a transport may enter from several goroutines at once (the stream
// transport runs one read loop per peer); implementations that also run a
// periodic scheduler (LSR) must guard their own state independently since
// timer maintenance runs on a different goroutine.
type Algorithm interface {
	// Name returns the protocol tag placed in outgoing packets.
	Name() string

	// UpdateNeighbor learns or refreshes a direct neighbor. Idempotent.
	UpdateNeighbor(id string, info NeighborInfo)

	// ProcessPacket decides how to handle an inbound packet that was not
	// already resolved as a duplicate or TTL-expired by the engine.
	// fromNeighbor is the neighbor id the packet arrived from, or "" if
	// unknown (the transport could not identify the sender).
	ProcessPacket(pkt *packet.Packet, fromNeighbor string) Decision

	// GetNextHop answers a unicast routing query without any packet-level
	// side effects (used by the engine for self-originated packets and by
	// the `routes` REPL command).
	GetNextHop(destination string) Decision
}

// Scheduled is implemented by algorithms that originate their own control
// traffic on a timer (LSR). The router engine's periodic scheduler polls
// these methods and calls the matching Create*Packet when Should* reports
// true — this is the "pull" discipline from the design notes: the
// algorithm never performs I/O itself, it only hands the engine a packet to
// send.
type Scheduled interface {
	ShouldSendHello() bool
	CreateHelloPacket() *packet.Packet

	ShouldSendLSA() bool
	CreateLSAPacket() *packet.Packet

	CheckNeighborTimeouts()
	AgeLSADatabase()
}
