// Package router wires a transport to a routing algorithm and makes the
// per-packet forwarding decisions described in the data flow: decode,
// dedup, destination check, TTL accounting, algorithm decision, dispatch.
//
// Grounded on device/router.Router (device/router/router.go): the
// Config-with-Logger shape, the AddTransport-installs-itself-as-handler
// wiring, and the "dispatch to app before/after forwarding decision"
// split are kept. What changes is the decision surface — the teacher's
// router only knows flood/direct/ack/trace over one fixed wire format;
// this one delegates the decision itself to a pluggable routing.Algorithm
// and must additionally resolve "to = self" against its own id rather than
// a fixed path-walk.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/meshrouted/internal/dedupe"
	"github.com/kabili207/meshrouted/internal/echo"
	"github.com/kabili207/meshrouted/internal/errs"
	"github.com/kabili207/meshrouted/internal/packet"
	"github.com/kabili207/meshrouted/internal/routing"
	"github.com/kabili207/meshrouted/internal/transport"
)

// DefaultTTL is used for self-originated message/echo/echo_reply packets,
// matching the original router's send/echo REPL handlers (ttl=5).
const DefaultTTL = 5

// DefaultSchedulerTick is how often the periodic scheduler polls a
// routing.Scheduled algorithm for HELLO/LSA origination and neighbor/LSA
// aging.
const DefaultSchedulerTick = time.Second

// MessageHandler is invoked when an inbound `message` packet addressed to
// self is received.
type MessageHandler func(from string, payload any)

// EchoReplyHandler is invoked when an inbound `echo_reply` addressed to
// self is received. rtt is zero if the reply could not be correlated to a
// pending echo (e.g. it arrived after echo.DefaultTimeout).
type EchoReplyHandler func(from string, rtt time.Duration, payload any)

// Config configures a Router.
type Config struct {
	// SelfID is this node's router id.
	SelfID string
	// Algorithm is the routing variant in use (flooding, dijkstra, or lsr).
	Algorithm routing.Algorithm
	// Transport delivers packets to and from peers.
	Transport transport.Transport

	// DedupCapacity bounds the receive-side msg_id cache. Default:
	// dedupe.DefaultCapacity.
	DedupCapacity int
	// LogCapacity bounds the packet-decision log ring. Default:
	// DefaultLogCapacity.
	LogCapacity int
	// SchedulerTick is how often HELLO/LSA origination and neighbor/LSA
	// aging are polled for a Scheduled algorithm. Default:
	// DefaultSchedulerTick.
	SchedulerTick time.Duration
	// EchoTimeout bounds how long a pending echo waits for its reply.
	// Default: echo.DefaultTimeout.
	EchoTimeout time.Duration
	// DefaultTTL is the hop budget for self-originated message, echo, and
	// echo_reply packets. Default: DefaultTTL.
	DefaultTTL int

	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger

	nowFn func() time.Time
}

// Router is the packet-forwarding engine: it owns the receive-side
// duplicate cache, TTL policy, and dispatch between one transport and one
// routing algorithm.
type Router struct {
	cfg   Config
	log   *slog.Logger
	dedup *dedupe.MsgIDCache
	echo  *echo.Tracker
	logs  *LogRing
	nowFn func() time.Time

	counters Counters

	mu               sync.RWMutex
	messageHandler   MessageHandler
	echoReplyHandler EchoReplyHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Router with the given configuration. cfg.Algorithm and
// cfg.Transport must be non-nil.
func New(cfg Config) *Router {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.SchedulerTick <= 0 {
		cfg.SchedulerTick = DefaultSchedulerTick
	}
	if cfg.nowFn == nil {
		cfg.nowFn = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.WithGroup("router")

	r := &Router{
		cfg:   cfg,
		log:   logger,
		dedup: dedupe.NewMsgIDCache(cfg.DedupCapacity),
		logs:  NewLogRing(cfg.LogCapacity),
		nowFn: cfg.nowFn,
		echo: echo.NewTracker(echo.TrackerConfig{
			Timeout: cfg.EchoTimeout,
			Logger:  logger,
		}),
	}
	return r
}

// SetMessageHandler sets the callback for inbound `message` packets
// addressed to self.
func (r *Router) SetMessageHandler(fn MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messageHandler = fn
}

// SetEchoReplyHandler sets the callback for inbound `echo_reply` packets
// addressed to self.
func (r *Router) SetEchoReplyHandler(fn EchoReplyHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.echoReplyHandler = fn
}

// SelfID returns this router's id.
func (r *Router) SelfID() string { return r.cfg.SelfID }

// Algorithm returns the configured routing algorithm, for REPL commands
// that need algorithm-specific introspection (debug, lsr, path).
func (r *Router) Algorithm() routing.Algorithm { return r.cfg.Algorithm }

// Counters returns a point-in-time snapshot of engine statistics.
func (r *Router) Counters() CountersSnapshot { return r.counters.Snapshot() }

// Logs returns the recent packet-decision log, oldest first.
func (r *Router) Logs() []LogEntry { return r.logs.All() }

// Start installs the engine as the transport's packet handler, starts the
// transport, the echo-timeout sweeper, and (if the algorithm implements
// routing.Scheduled) the periodic HELLO/LSA scheduler.
func (r *Router) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.cfg.Transport.SetPacketHandler(r.handleInbound)
	if err := r.cfg.Transport.Start(ctx); err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.echo.Start(ctx)
	}()

	if sched, ok := r.cfg.Algorithm.(routing.Scheduled); ok {
		r.wg.Add(1)
		go r.schedulerLoop(ctx, sched)
	}
	return nil
}

// Stop stops the scheduler, echo sweeper, and transport.
func (r *Router) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.echo.Stop()
	return r.cfg.Transport.Stop()
}

// UpdateNeighbor informs the routing algorithm of a direct neighbor's cost.
func (r *Router) UpdateNeighbor(id string, cost int) {
	r.cfg.Algorithm.UpdateNeighbor(id, routing.NeighborInfo{Cost: cost})
}

// Send originates a `message` packet to dest.
func (r *Router) Send(dest string, payload any) {
	pkt := &packet.Packet{
		Proto:   r.cfg.Algorithm.Name(),
		Type:    packet.TypeMessage,
		From:    r.cfg.SelfID,
		To:      dest,
		TTL:     r.cfg.DefaultTTL,
		Payload: payload,
	}
	r.originate(pkt)
}

// Echo originates an `echo` packet to dest and tracks it for round-trip
// timing against the eventual echo_reply.
func (r *Router) Echo(dest string) {
	pkt := &packet.Packet{
		Proto: r.cfg.Algorithm.Name(),
		Type:  packet.TypeEcho,
		From:  r.cfg.SelfID,
		To:    dest,
		TTL:   r.cfg.DefaultTTL,
	}
	msgID := pkt.EnsureMsgID()
	r.echo.Track(msgID, dest)
	r.originate(pkt)
}

// handleInbound is installed as the transport's PacketHandler. It must
// never panic the goroutine it's called on: a panicking algorithm is
// caught at the dispatch boundary (callProcessPacket/callGetNextHop), but
// this defer is a last-resort backstop so one bad packet never kills the
// transport's read loop.
func (r *Router) handleInbound(pkt *packet.Packet, fromPeer string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("recovered from panic handling inbound packet", "panic", rec, "from_peer", fromPeer)
		}
	}()

	r.counters.PacketsRecv.Add(1)
	msgID := pkt.EnsureMsgID()
	if r.dedup.Seen(msgID) {
		r.counters.Duplicates.Add(1)
		r.recordLog(DirectionInbound, pkt, "duplicate")
		return
	}

	switch {
	case pkt.To == packet.Broadcast || pkt.To == packet.Multicast:
		r.handleBroadcastOrMulticast(pkt, fromPeer)
	case pkt.To == r.cfg.SelfID:
		r.handleSelf(pkt)
	default:
		r.handleUnicastForward(pkt, fromPeer)
	}
}

func (r *Router) handleBroadcastOrMulticast(pkt *packet.Packet, fromPeer string) {
	decision := r.callProcessPacket(pkt, fromPeer)
	switch decision.Kind {
	case routing.Flood, routing.FloodLSA:
		if !pkt.DecrementTTL() {
			r.counters.TTLExpired.Add(1)
			r.recordLog(DirectionInbound, pkt, "ttl_expired")
			r.log.Debug("dropping packet", "error", errs.ErrTTLExpired, "to", pkt.To)
			return
		}
		r.floodExcept(pkt, fromPeer)
		r.recordLog(DirectionInbound, pkt, floodDecisionLabel(decision.Kind))
	case routing.CycleDetected:
		r.counters.CyclesDetected.Add(1)
		r.recordLog(DirectionInbound, pkt, "cycle_detected")
		r.log.Debug("dropping packet", "error", errs.ErrCycleDetected, "from", pkt.From)
	default:
		r.recordLog(DirectionInbound, pkt, "consume")
	}
}

// handleSelf dispatches a packet addressed to this router by type, per
// spec.md's "message surfaces to the user interface; echo generates an
// echo_reply originated at self and forwarded; echo_reply surfaces to UI".
func (r *Router) handleSelf(pkt *packet.Packet) {
	r.counters.Consumed.Add(1)
	switch pkt.Type {
	case packet.TypeMessage:
		r.recordLog(DirectionInbound, pkt, "consume_local")
		if h := r.getMessageHandler(); h != nil {
			h(pkt.From, pkt.Payload)
		}
	case packet.TypeEcho:
		r.recordLog(DirectionInbound, pkt, "echo_reply")
		reply := &packet.Packet{
			Proto: r.cfg.Algorithm.Name(),
			Type:  packet.TypeEchoReply,
			From:  r.cfg.SelfID,
			To:    pkt.From,
			TTL:   r.cfg.DefaultTTL,
			// reply_to carries the echo's own msg_id since the reply must
			// allocate its own fresh msg_id per spec.md §4.3 and therefore
			// can't be correlated by msg_id alone. See SUPPLEMENTED
			// FEATURES #3.
			Payload: map[string]any{"reply_to": pkt.GetMsgID()},
		}
		r.originate(reply)
	case packet.TypeEchoReply:
		replyTo := replyToFromPayload(pkt.Payload)
		var rtt time.Duration
		if replyTo != "" {
			if d, ok := r.echo.Resolve(replyTo); ok {
				rtt = d
			}
		}
		r.recordLog(DirectionInbound, pkt, "consume_local")
		if h := r.getEchoReplyHandler(); h != nil {
			h(pkt.From, rtt, pkt.Payload)
		}
	default:
		r.log.Debug("dropping self-addressed packet of unhandled type", "type", pkt.Type)
	}
}

func (r *Router) handleUnicastForward(pkt *packet.Packet, fromPeer string) {
	if !pkt.DecrementTTL() {
		r.counters.TTLExpired.Add(1)
		r.recordLog(DirectionInbound, pkt, "ttl_expired")
		r.log.Debug("dropping packet", "error", errs.ErrTTLExpired, "to", pkt.To)
		return
	}
	decision := r.callProcessPacket(pkt, fromPeer)
	r.dispatchDecision(pkt, fromPeer, decision, DirectionInbound)
}

// dispatchDecision sends pkt per decision for inbound forwarding;
// self-originated packets are dispatched by originate's own switch.
func (r *Router) dispatchDecision(pkt *packet.Packet, fromPeer string, decision routing.Decision, dir Direction) {
	switch decision.Kind {
	case routing.NextHop:
		r.sendToNeighbor(decision.Neighbor, pkt)
		r.counters.Unicast.Add(1)
		r.counters.PacketsSent.Add(1)
		r.recordLog(dir, pkt, "next_hop:"+decision.Neighbor)
	case routing.Flood, routing.FloodLSA:
		r.floodExcept(pkt, fromPeer)
		r.recordLog(dir, pkt, floodDecisionLabel(decision.Kind))
	case routing.NoRoute:
		r.counters.NoRoute.Add(1)
		r.recordLog(dir, pkt, "no_route")
		r.log.Debug("[DROPPED] No route", "error", errs.ErrNoRoute, "to", pkt.To)
	case routing.CycleDetected:
		r.counters.CyclesDetected.Add(1)
		r.recordLog(dir, pkt, "cycle_detected")
		r.log.Debug("dropping packet", "error", errs.ErrCycleDetected, "from", pkt.From)
	case routing.ConsumeLocal:
		r.counters.Consumed.Add(1)
		r.recordLog(dir, pkt, "consume")
	}
}

// originate handles every self-origination path (Send, Echo, echo_reply,
// and scheduler-driven HELLO/LSA): allocate a fresh msg_id, pre-install it
// into the receive-side dedup cache so a broadcast that loops back is
// dropped rather than reprocessed, then dispatch.
func (r *Router) originate(pkt *packet.Packet) {
	msgID := pkt.EnsureMsgID()
	r.dedup.Seen(msgID)
	r.counters.PacketsSent.Add(1)

	if pkt.To == packet.Broadcast || pkt.To == packet.Multicast {
		r.floodExcept(pkt, "")
		r.recordLog(DirectionOutbound, pkt, "flood")
		return
	}

	decision := r.callGetNextHop(pkt.To)
	switch decision.Kind {
	case routing.NextHop:
		r.sendToNeighbor(decision.Neighbor, pkt)
		r.counters.Unicast.Add(1)
		r.recordLog(DirectionOutbound, pkt, "next_hop:"+decision.Neighbor)
	case routing.Flood, routing.FloodLSA:
		r.floodExcept(pkt, "")
		r.recordLog(DirectionOutbound, pkt, floodDecisionLabel(decision.Kind))
	case routing.NoRoute:
		r.counters.NoRoute.Add(1)
		r.recordLog(DirectionOutbound, pkt, "no_route")
		r.log.Warn("[DROPPED] No route", "error", errs.ErrNoRoute, "to", pkt.To)
	case routing.CycleDetected:
		r.counters.CyclesDetected.Add(1)
		r.recordLog(DirectionOutbound, pkt, "cycle_detected")
		r.log.Debug("dropping packet", "error", errs.ErrCycleDetected, "from", pkt.From)
	case routing.ConsumeLocal:
		r.recordLog(DirectionOutbound, pkt, "consume")
	}
}

// sendToNeighbor delivers pkt to a single peer, logging a TransportError on
// failure. Per spec.md §7 the peer is not removed from any neighbor table
// here — LSR decides liveness exclusively from HELLO timeouts.
func (r *Router) sendToNeighbor(peerID string, pkt *packet.Packet) {
	if err := r.cfg.Transport.SendTo(peerID, pkt); err != nil {
		r.log.Warn("send to neighbor failed", "neighbor", peerID, "error", fmt.Errorf("%w: %v", errs.ErrTransport, err))
	}
}

func (r *Router) floodExcept(pkt *packet.Packet, excludePeer string) {
	if err := r.cfg.Transport.Broadcast(pkt, excludePeer); err != nil {
		r.log.Warn("broadcast failed", "error", fmt.Errorf("%w: %v", errs.ErrTransport, err))
	}
	r.counters.Flooded.Add(1)
	r.counters.PacketsSent.Add(1)
}

// callProcessPacket invokes the algorithm's ProcessPacket, recovering from
// a panic per spec.md §4.3's "an unhandled exception inside the algorithm
// must not kill the engine" failure semantics.
func (r *Router) callProcessPacket(pkt *packet.Packet, fromNeighbor string) (decision routing.Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("algorithm panicked in ProcessPacket", "error", errs.ErrAlgorithm, "panic", rec)
			decision = routing.Decision{Kind: routing.NoRoute}
		}
	}()
	return r.cfg.Algorithm.ProcessPacket(pkt, fromNeighbor)
}

func (r *Router) callGetNextHop(destination string) (decision routing.Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("algorithm panicked in GetNextHop", "error", errs.ErrAlgorithm, "panic", rec)
			decision = routing.Decision{Kind: routing.NoRoute}
		}
	}()
	return r.cfg.Algorithm.GetNextHop(destination)
}

func (r *Router) schedulerLoop(ctx context.Context, sched routing.Scheduled) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.SchedulerTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runScheduledTasks(sched)
		}
	}
}

func (r *Router) runScheduledTasks(sched routing.Scheduled) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("algorithm panicked in scheduled task", "error", errs.ErrAlgorithm, "panic", rec)
		}
	}()

	if sched.ShouldSendHello() {
		r.originate(sched.CreateHelloPacket())
	}
	if sched.ShouldSendLSA() {
		r.originate(sched.CreateLSAPacket())
	}
	sched.CheckNeighborTimeouts()
	sched.AgeLSADatabase()
}

func (r *Router) recordLog(dir Direction, pkt *packet.Packet, decision string) {
	r.logs.Add(LogEntry{
		Timestamp: r.nowFn(),
		Direction: dir,
		Summary:   summarizePacket(pkt),
		Decision:  decision,
	})
}

func (r *Router) getMessageHandler() MessageHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.messageHandler
}

func (r *Router) getEchoReplyHandler() EchoReplyHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.echoReplyHandler
}

func summarizePacket(pkt *packet.Packet) string {
	return fmt.Sprintf("%s %s->%s ttl=%d", pkt.Type, pkt.From, pkt.To, pkt.TTL)
}

func floodDecisionLabel(kind routing.DecisionKind) string {
	if kind == routing.FloodLSA {
		return "flood_lsa"
	}
	return "flood"
}

// replyToFromPayload extracts the "reply_to" correlation id an echo_reply's
// payload carries. Returns "" if payload isn't shaped as expected (e.g. a
// plain-string payload, or one fabricated by a non-conforming peer).
func replyToFromPayload(payload any) string {
	m, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	v, _ := m["reply_to"].(string)
	return v
}
