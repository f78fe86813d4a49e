// Package transport provides the polymorphic delivery abstraction the
// router engine drives: a stream variant (point-to-point TCP, or serial)
// and a pub/sub variant (Redis or MQTT). Both expose the same Transport
// interface so the engine never needs to know which one it is holding.
//
// Grounded on transport.Transport (interfaces.go) in the teacher repo: the
// Start/Stop lifecycle, SetPacketHandler/SetStateHandler callback wiring,
// and IsConnected polling are kept verbatim in shape. What changes is the
// unit of addressing — the teacher's Transport is a single logical link to
// one firmware device, while this one must address many named peers (a
// mesh has many neighbors), so SendPacket becomes SendTo(peerID, ...) plus
// a Broadcast helper for the flood/FloodLSA fan-out case.
package transport

import (
	"context"

	"github.com/kabili207/meshrouted/internal/packet"
)

// Transport is the base interface implemented by every delivery backend.
type Transport interface {
	// Start begins the transport's connection and message handling. The
	// provided context controls the transport's lifetime.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the transport.
	Stop() error
	// IsConnected reports whether the transport currently has at least one
	// usable peer connection (stream) or an open broker session (pub/sub).
	IsConnected() bool
	// SetPacketHandler sets the callback invoked for every inbound packet.
	SetPacketHandler(fn PacketHandler)
	// SetStateHandler sets the callback invoked on transport state changes.
	SetStateHandler(fn StateHandler)
	// SendTo delivers pkt to the named peer only (unicast / next-hop send).
	SendTo(peerID string, pkt *packet.Packet) error
	// Broadcast delivers pkt to every known peer except excludePeerID (pass
	// "" to exclude none, used for self-origination).
	Broadcast(pkt *packet.Packet, excludePeerID string) error
}

// PacketHandler is called when a packet is received, tagged with the peer
// id it arrived from.
type PacketHandler func(pkt *packet.Packet, fromPeer string)

// StateHandler is called when the transport's connection state changes for
// a given peer (stream transports report per-peer events; pub/sub
// transports report broker-level events with peerID "").
type StateHandler func(peerID string, event Event)

// Event enumerates transport state changes.
type Event int

const (
	EventConnected Event = iota
	EventDisconnected
	EventReconnecting
	EventError
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}
