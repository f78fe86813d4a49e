package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kabili207/meshrouted/internal/packet"
	"github.com/kabili207/meshrouted/internal/routing"
	"github.com/kabili207/meshrouted/internal/transport"
)

// fakeTransport is an in-memory transport.Transport double recording every
// send/broadcast call for assertion.
type fakeTransport struct {
	mu sync.Mutex

	handler transport.PacketHandler
	sentTo  []sentCall
	bcasts  []broadcastCall

	sendErr      error
	broadcastErr error
}

type sentCall struct {
	peer string
	pkt  *packet.Packet
}

type broadcastCall struct {
	pkt     *packet.Packet
	exclude string
}

func (f *fakeTransport) Start(ctx context.Context) error { return nil }
func (f *fakeTransport) Stop() error                     { return nil }
func (f *fakeTransport) IsConnected() bool               { return true }
func (f *fakeTransport) SetPacketHandler(fn transport.PacketHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}
func (f *fakeTransport) SetStateHandler(fn transport.StateHandler) {}

func (f *fakeTransport) SendTo(peerID string, pkt *packet.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentTo = append(f.sentTo, sentCall{peer: peerID, pkt: pkt})
	return f.sendErr
}

func (f *fakeTransport) Broadcast(pkt *packet.Packet, excludePeerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bcasts = append(f.bcasts, broadcastCall{pkt: pkt, exclude: excludePeerID})
	return f.broadcastErr
}

func (f *fakeTransport) deliver(pkt *packet.Packet, fromPeer string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(pkt, fromPeer)
}

// fakeAlgorithm is a routing.Algorithm double with scripted decisions.
type fakeAlgorithm struct {
	name string

	processDecision routing.Decision
	nextHopDecision map[string]routing.Decision

	processCalls []string
	panicOnProcess bool
}

func (a *fakeAlgorithm) Name() string { return a.name }
func (a *fakeAlgorithm) UpdateNeighbor(id string, info routing.NeighborInfo) {}

func (a *fakeAlgorithm) ProcessPacket(pkt *packet.Packet, fromNeighbor string) routing.Decision {
	a.processCalls = append(a.processCalls, fromNeighbor)
	if a.panicOnProcess {
		panic("boom")
	}
	return a.processDecision
}

func (a *fakeAlgorithm) GetNextHop(destination string) routing.Decision {
	if d, ok := a.nextHopDecision[destination]; ok {
		return d
	}
	return routing.Decision{Kind: routing.NoRoute}
}

func newTestRouter(t *testing.T, alg *fakeAlgorithm, tr *fakeTransport) *Router {
	t.Helper()
	r := New(Config{
		SelfID:    "A",
		Algorithm: alg,
		Transport: tr,
	})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { r.Stop() })
	return r
}

func TestDuplicateInboundIsDropped(t *testing.T) {
	alg := &fakeAlgorithm{name: "flooding", processDecision: routing.Decision{Kind: routing.Flood}}
	tr := &fakeTransport{}
	r := newTestRouter(t, alg, tr)

	pkt := &packet.Packet{Type: packet.TypeMessage, From: "B", To: packet.Broadcast, TTL: 5}
	pkt.EnsureMsgID()

	tr.deliver(pkt.Clone(), "B")
	tr.deliver(pkt.Clone(), "C")

	if len(alg.processCalls) != 1 {
		t.Errorf("ProcessPacket called %d times, want 1 (second delivery should be deduped)", len(alg.processCalls))
	}
	if got := r.Counters().Duplicates; got != 1 {
		t.Errorf("Duplicates = %d, want 1", got)
	}
}

func TestBroadcastFloodDecrementsTTLAndExcludesSender(t *testing.T) {
	alg := &fakeAlgorithm{name: "flooding", processDecision: routing.Decision{Kind: routing.Flood}}
	tr := &fakeTransport{}
	r := newTestRouter(t, alg, tr)

	pkt := &packet.Packet{Type: packet.TypeMessage, From: "B", To: packet.Broadcast, TTL: 5}
	tr.deliver(pkt, "B")

	if len(tr.bcasts) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(tr.bcasts))
	}
	if tr.bcasts[0].exclude != "B" {
		t.Errorf("broadcast exclude = %q, want B", tr.bcasts[0].exclude)
	}
	if tr.bcasts[0].pkt.TTL != 4 {
		t.Errorf("forwarded TTL = %d, want 4", tr.bcasts[0].pkt.TTL)
	}
	if got := r.Counters().Flooded; got != 1 {
		t.Errorf("Flooded = %d, want 1", got)
	}
}

func TestBroadcastTTLExpiryDropsBeforeForwarding(t *testing.T) {
	alg := &fakeAlgorithm{name: "flooding", processDecision: routing.Decision{Kind: routing.Flood}}
	tr := &fakeTransport{}
	r := newTestRouter(t, alg, tr)

	pkt := &packet.Packet{Type: packet.TypeMessage, From: "B", To: packet.Broadcast, TTL: 1}
	tr.deliver(pkt, "B")

	if len(tr.bcasts) != 0 {
		t.Errorf("expected no broadcast once TTL expires, got %d", len(tr.bcasts))
	}
	if got := r.Counters().TTLExpired; got != 1 {
		t.Errorf("TTLExpired = %d, want 1", got)
	}
}

func TestUnicastForwardDecrementsTTLBeforeDecision(t *testing.T) {
	alg := &fakeAlgorithm{
		name:            "dijkstra",
		nextHopDecision: map[string]routing.Decision{},
	}
	alg.processDecision = routing.Decision{Kind: routing.NextHop, Neighbor: "C"}
	tr := &fakeTransport{}
	newTestRouter(t, alg, tr)

	pkt := &packet.Packet{Type: packet.TypeMessage, From: "B", To: "Z", TTL: 3}
	tr.deliver(pkt, "B")

	if len(tr.sentTo) != 1 {
		t.Fatalf("expected one unicast send, got %d", len(tr.sentTo))
	}
	if tr.sentTo[0].peer != "C" {
		t.Errorf("sent to %q, want C", tr.sentTo[0].peer)
	}
	if tr.sentTo[0].pkt.TTL != 2 {
		t.Errorf("forwarded TTL = %d, want 2 (decremented before decision)", tr.sentTo[0].pkt.TTL)
	}
}

func TestUnicastForwardTTLExpiryDropsBeforeProcessPacket(t *testing.T) {
	alg := &fakeAlgorithm{name: "dijkstra", processDecision: routing.Decision{Kind: routing.NextHop, Neighbor: "C"}}
	tr := &fakeTransport{}
	newTestRouter(t, alg, tr)

	pkt := &packet.Packet{Type: packet.TypeMessage, From: "B", To: "Z", TTL: 1}
	tr.deliver(pkt, "B")

	if len(alg.processCalls) != 0 {
		t.Errorf("ProcessPacket should not be called once TTL expires pre-decision, got %d calls", len(alg.processCalls))
	}
	if len(tr.sentTo) != 0 {
		t.Errorf("expected no send once TTL expires, got %d", len(tr.sentTo))
	}
}

func TestUnicastNoRouteIsDroppedAndCounted(t *testing.T) {
	alg := &fakeAlgorithm{name: "dijkstra", processDecision: routing.Decision{Kind: routing.NoRoute}}
	tr := &fakeTransport{}
	r := newTestRouter(t, alg, tr)

	pkt := &packet.Packet{Type: packet.TypeMessage, From: "B", To: "Z", TTL: 3}
	tr.deliver(pkt, "B")

	if len(tr.sentTo) != 0 || len(tr.bcasts) != 0 {
		t.Errorf("no-route packet should not be sent anywhere")
	}
	if got := r.Counters().NoRoute; got != 1 {
		t.Errorf("NoRoute = %d, want 1", got)
	}
}

func TestUnicastCycleDetectedIsDroppedAndCounted(t *testing.T) {
	alg := &fakeAlgorithm{name: "lsr", processDecision: routing.Decision{Kind: routing.CycleDetected}}
	tr := &fakeTransport{}
	r := newTestRouter(t, alg, tr)

	pkt := &packet.Packet{Type: packet.TypeMessage, From: "B", To: "Z", TTL: 3}
	tr.deliver(pkt, "B")

	if len(tr.sentTo) != 0 || len(tr.bcasts) != 0 {
		t.Errorf("cycle-detected packet should not be sent anywhere")
	}
	if got := r.Counters().CyclesDetected; got != 1 {
		t.Errorf("CyclesDetected = %d, want 1", got)
	}
}

func TestBroadcastCycleDetectedIsDroppedAndCounted(t *testing.T) {
	alg := &fakeAlgorithm{name: "flooding", processDecision: routing.Decision{Kind: routing.CycleDetected}}
	tr := &fakeTransport{}
	r := newTestRouter(t, alg, tr)

	pkt := &packet.Packet{Type: packet.TypeMessage, From: "B", To: packet.Broadcast, TTL: 3}
	tr.deliver(pkt, "B")

	if len(tr.bcasts) != 0 {
		t.Errorf("cycle-detected broadcast should not be re-flooded")
	}
	if got := r.Counters().CyclesDetected; got != 1 {
		t.Errorf("CyclesDetected = %d, want 1", got)
	}
}

func TestSelfMessageSurfacesToHandler(t *testing.T) {
	alg := &fakeAlgorithm{name: "dijkstra"}
	tr := &fakeTransport{}
	r := newTestRouter(t, alg, tr)

	var gotFrom string
	var gotPayload any
	r.SetMessageHandler(func(from string, payload any) {
		gotFrom, gotPayload = from, payload
	})

	pkt := &packet.Packet{Type: packet.TypeMessage, From: "B", To: "A", TTL: 3, Payload: "hi"}
	tr.deliver(pkt, "B")

	if gotFrom != "B" || gotPayload != "hi" {
		t.Errorf("message handler got (%q, %v), want (B, hi)", gotFrom, gotPayload)
	}
}

func TestSelfEchoGeneratesForwardedEchoReply(t *testing.T) {
	alg := &fakeAlgorithm{
		name:            "dijkstra",
		nextHopDecision: map[string]routing.Decision{"B": {Kind: routing.NextHop, Neighbor: "B"}},
	}
	tr := &fakeTransport{}
	newTestRouter(t, alg, tr)

	echoPkt := &packet.Packet{Type: packet.TypeEcho, From: "B", To: "A", TTL: 3}
	echoMsgID := echoPkt.EnsureMsgID()
	tr.deliver(echoPkt, "B")

	if len(tr.sentTo) != 1 {
		t.Fatalf("expected echo_reply to be forwarded via unicast, got %d sends", len(tr.sentTo))
	}
	reply := tr.sentTo[0].pkt
	if reply.Type != packet.TypeEchoReply || reply.To != "B" || reply.From != "A" {
		t.Errorf("unexpected echo_reply: %+v", reply)
	}
	replyTo, _ := reply.Payload.(map[string]any)["reply_to"].(string)
	if replyTo != echoMsgID {
		t.Errorf("echo_reply reply_to = %q, want %q (original echo's msg_id)", replyTo, echoMsgID)
	}
}

func TestEchoRoundTripResolvesRTTViaReplyToNotReplyMsgID(t *testing.T) {
	alg := &fakeAlgorithm{
		name:            "dijkstra",
		nextHopDecision: map[string]routing.Decision{"B": {Kind: routing.NextHop, Neighbor: "B"}},
	}
	tr := &fakeTransport{}
	r := newTestRouter(t, alg, tr)

	var gotFrom string
	var gotRTT time.Duration
	gotRTTCh := make(chan struct{})
	r.SetEchoReplyHandler(func(from string, rtt time.Duration, payload any) {
		gotFrom, gotRTT = from, rtt
		close(gotRTTCh)
	})

	r.Echo("B")
	if len(tr.sentTo) != 1 {
		t.Fatalf("expected outbound echo to be sent, got %d", len(tr.sentTo))
	}
	originalEchoMsgID := tr.sentTo[0].pkt.GetMsgID()

	// Simulate B's reply: a fresh msg_id, but payload.reply_to pointing back
	// at the original echo's msg_id.
	reply := &packet.Packet{
		Type: packet.TypeEchoReply, From: "B", To: "A", TTL: 5,
		Payload: map[string]any{"reply_to": originalEchoMsgID},
	}
	reply.EnsureMsgID()
	if reply.GetMsgID() == originalEchoMsgID {
		t.Fatal("test setup bug: reply msg_id must differ from the original echo's msg_id")
	}
	tr.deliver(reply, "B")

	<-gotRTTCh
	if gotFrom != "B" {
		t.Errorf("echo reply handler from = %q, want B", gotFrom)
	}
	if gotRTT < 0 {
		t.Errorf("rtt = %v, want >= 0", gotRTT)
	}
}

func TestSendOriginatesWithFreshMsgIDAndPreInstallsDedup(t *testing.T) {
	alg := &fakeAlgorithm{
		name:            "dijkstra",
		nextHopDecision: map[string]routing.Decision{"Z": {Kind: routing.NextHop, Neighbor: "C"}},
	}
	tr := &fakeTransport{}
	r := newTestRouter(t, alg, tr)

	r.Send("Z", "hello")
	if len(tr.sentTo) != 1 {
		t.Fatalf("expected one unicast send, got %d", len(tr.sentTo))
	}
	msgID := tr.sentTo[0].pkt.GetMsgID()
	if msgID == "" {
		t.Fatal("originated packet must carry a msg_id")
	}

	// If this msg_id loops back in as an inbound broadcast, it must be
	// dropped as a duplicate rather than reprocessed.
	looped := tr.sentTo[0].pkt.Clone()
	looped.To = packet.Broadcast
	tr.deliver(looped, "C")
	if got := r.Counters().Duplicates; got != 1 {
		t.Errorf("Duplicates = %d, want 1 (self-originated msg_id should be pre-installed)", got)
	}
}

func TestAlgorithmPanicInProcessPacketIsRecovered(t *testing.T) {
	alg := &fakeAlgorithm{name: "dijkstra", panicOnProcess: true}
	tr := &fakeTransport{}
	r := newTestRouter(t, alg, tr)

	pkt := &packet.Packet{Type: packet.TypeMessage, From: "B", To: "Z", TTL: 3}
	tr.deliver(pkt, "B") // must not panic the test

	if got := r.Counters().NoRoute; got != 1 {
		t.Errorf("a panicking algorithm should fall back to NoRoute, got NoRoute=%d", got)
	}
}

func TestSchedulerOriginatesHelloWhenAlgorithmRequestsIt(t *testing.T) {
	alg := &scheduledAlgorithm{fakeAlgorithm: fakeAlgorithm{name: "lsr"}, sendHello: true}
	tr := &fakeTransport{}
	r := New(Config{
		SelfID:        "A",
		Algorithm:     alg,
		Transport:     tr,
		SchedulerTick: 10 * time.Millisecond,
	})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	deadline := time.After(time.Second)
	for {
		tr.mu.Lock()
		n := len(tr.bcasts)
		tr.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected a scheduled HELLO to be broadcast")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// scheduledAlgorithm additionally implements routing.Scheduled.
type scheduledAlgorithm struct {
	fakeAlgorithm
	sendHello bool
}

func (a *scheduledAlgorithm) ShouldSendHello() bool { return a.sendHello }
func (a *scheduledAlgorithm) CreateHelloPacket() *packet.Packet {
	a.sendHello = false
	return &packet.Packet{Type: packet.TypeHello, From: "A", To: packet.Broadcast, TTL: 5}
}
func (a *scheduledAlgorithm) ShouldSendLSA() bool                 { return false }
func (a *scheduledAlgorithm) CreateLSAPacket() *packet.Packet     { return &packet.Packet{} }
func (a *scheduledAlgorithm) CheckNeighborTimeouts()              {}
func (a *scheduledAlgorithm) AgeLSADatabase()                     {}
