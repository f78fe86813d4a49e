package router

import "sync/atomic"

// Counters tracks packet routing statistics using atomic counters, for the
// `debug` REPL command.
//
// Grounded on device/router.RouterCounters's atomic-field/Snapshot shape,
// relabeled for decision-based (rather than flood/direct-route-type-based)
// forwarding.
type Counters struct {
	PacketsRecv    atomic.Uint64
	PacketsSent    atomic.Uint64
	Duplicates     atomic.Uint64
	TTLExpired     atomic.Uint64
	NoRoute        atomic.Uint64
	CyclesDetected atomic.Uint64
	Consumed       atomic.Uint64
	Flooded        atomic.Uint64
	Unicast        atomic.Uint64
}

// CountersSnapshot is a plain-value copy of Counters for reading.
type CountersSnapshot struct {
	PacketsRecv    uint64
	PacketsSent    uint64
	Duplicates     uint64
	TTLExpired     uint64
	NoRoute        uint64
	CyclesDetected uint64
	Consumed       uint64
	Flooded        uint64
	Unicast        uint64
}

// Snapshot returns a consistent point-in-time copy of all counters.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		PacketsRecv:    c.PacketsRecv.Load(),
		PacketsSent:    c.PacketsSent.Load(),
		Duplicates:     c.Duplicates.Load(),
		TTLExpired:     c.TTLExpired.Load(),
		NoRoute:        c.NoRoute.Load(),
		CyclesDetected: c.CyclesDetected.Load(),
		Consumed:       c.Consumed.Load(),
		Flooded:        c.Flooded.Load(),
		Unicast:        c.Unicast.Load(),
	}
}
