// Package stream implements the point-to-point TCP transport: a listener
// accepts inbound peer connections, and the transport separately dials
// every configured neighbor outbound, retrying on a fixed tick.
//
// Grounded on transport/serial.Transport's Start/Stop/read-loop shape
// (context-cancellable read goroutine, state-handler callbacks on
// connect/disconnect, mutex-guarded connection handle) generalized from
// "one fixed device" to "many named peers, dialed and accepted
// concurrently" per spec.md's stream-transport description.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/kabili207/meshrouted/internal/errs"
	"github.com/kabili207/meshrouted/internal/packet"
	"github.com/kabili207/meshrouted/internal/transport"
)

var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultConnectTimeout bounds a single outbound dial attempt.
	DefaultConnectTimeout = 2 * time.Second
	// DefaultRetryInterval is the tick on which failed outbound dials are
	// retried.
	DefaultRetryInterval = 15 * time.Second
	// maxFrameSize caps each Read from a peer socket at 4 KiB. The JSON
	// decoder assembles a packet across as many reads as it needs, so the
	// size of a single packet is not bounded by it.
	maxFrameSize = 4096
)

// Config holds the configuration for a stream transport.
type Config struct {
	// ListenAddr is the address to accept inbound peer connections on
	// (e.g. ":7000"). Empty disables listening (dial-only node).
	ListenAddr string
	// Neighbors maps neighbor id to its dialable address.
	Neighbors map[string]string
	// ConnectTimeout bounds a single outbound dial. Default: 2s.
	ConnectTimeout time.Duration
	// RetryInterval is the tick on which failed dials are retried. Default: 15s.
	RetryInterval time.Duration
	// Logger for transport events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

type peerConn struct {
	conn net.Conn
	mu   sync.Mutex // serializes writes
}

// Transport implements transport.Transport over plain TCP sockets.
type Transport struct {
	cfg Config
	log *slog.Logger

	mu      sync.RWMutex
	peers   map[string]*peerConn // id -> active connection
	pending map[string]struct{}  // ids currently being (re)dialed

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	packetHandler transport.PacketHandler
	stateHandler  transport.StateHandler
}

// New creates a stream transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:     cfg,
		log:     logger.WithGroup("stream"),
		peers:   map[string]*peerConn{},
		pending: map[string]struct{}{},
	}
}

// Start begins accepting inbound connections (if ListenAddr is set),
// dials every configured neighbor, and begins the retry tick.
func (t *Transport) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	if t.cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", t.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("stream: listen %s: %w", t.cfg.ListenAddr, err)
		}
		t.listener = ln
		t.wg.Add(1)
		go t.acceptLoop(runCtx)
	}

	t.dialAllNeighbors(runCtx)

	t.wg.Add(1)
	go t.retryLoop(runCtx)

	return nil
}

// Stop closes the listener and every active peer connection.
func (t *Transport) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.listener != nil {
		t.listener.Close()
	}

	t.mu.Lock()
	conns := make([]*peerConn, 0, len(t.peers))
	for _, p := range t.peers {
		conns = append(conns, p)
	}
	t.peers = map[string]*peerConn{}
	t.mu.Unlock()

	for _, p := range conns {
		p.conn.Close()
	}

	t.wg.Wait()
	return nil
}

// IsConnected reports whether at least one peer connection is active.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers) > 0
}

// SetPacketHandler sets the inbound packet callback.
func (t *Transport) SetPacketHandler(fn transport.PacketHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.packetHandler = fn
}

// SetStateHandler sets the connection state-change callback.
func (t *Transport) SetStateHandler(fn transport.StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandler = fn
}

// SendTo writes pkt to the named peer's connection.
func (t *Transport) SendTo(peerID string, pkt *packet.Packet) error {
	t.mu.RLock()
	p, ok := t.peers[peerID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("stream: no active connection to %s", peerID)
	}
	return t.writePacket(p, pkt)
}

// Broadcast writes pkt to every connected peer except excludePeerID. Per-peer
// failures are logged, not returned, matching spec.md's failure semantics
// ("a transport-level send failure to peer N is logged; N is not removed").
func (t *Transport) Broadcast(pkt *packet.Packet, excludePeerID string) error {
	t.mu.RLock()
	targets := make(map[string]*peerConn, len(t.peers))
	for id, p := range t.peers {
		if id != excludePeerID {
			targets[id] = p
		}
	}
	t.mu.RUnlock()

	for id, p := range targets {
		if err := t.writePacket(p, pkt); err != nil {
			t.log.Warn("broadcast send failed", "peer", id, "error", err)
		}
	}
	return nil
}

func (t *Transport) writePacket(p *peerConn, pkt *packet.Packet) error {
	data, err := pkt.Encode()
	if err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = p.conn.Write(data)
	return err
}

func (t *Transport) acceptLoop(ctx context.Context) {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.Error("accept failed", "error", err)
			continue
		}
		t.wg.Add(1)
		go t.handleAccepted(ctx, conn)
	}
}

// handleAccepted reads the first packet off a freshly accepted socket to
// late-bind its peer id (spec.md 4.4: "the from field of the first packet
// received from an accepted socket"), registers it, then continues the
// ordinary read loop.
func (t *Transport) handleAccepted(ctx context.Context, conn net.Conn) {
	defer t.wg.Done()
	dec := json.NewDecoder(&limitedReader{r: conn, limit: maxFrameSize})

	var first packet.Packet
	if err := dec.Decode(&first); err != nil {
		t.log.Debug("discarding malformed first packet on accepted socket", "error", fmt.Errorf("%w: %v", errs.ErrDecode, err))
		conn.Close()
		return
	}
	if first.From == "" {
		conn.Close()
		return
	}

	p := &peerConn{conn: conn}
	t.registerPeer(first.From, p)
	t.dispatchInbound(&first, first.From)
	t.readLoop(ctx, dec, p, first.From)
}

func (t *Transport) dialAllNeighbors(ctx context.Context) {
	for id, addr := range t.cfg.Neighbors {
		t.mu.RLock()
		_, connected := t.peers[id]
		t.mu.RUnlock()
		if connected {
			continue
		}
		t.dialOne(ctx, id, addr)
	}
}

func (t *Transport) dialOne(ctx context.Context, id, addr string) {
	t.mu.Lock()
	if _, busy := t.pending[id]; busy {
		t.mu.Unlock()
		return
	}
	t.pending[id] = struct{}{}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	conn, err := net.DialTimeout("tcp", addr, t.cfg.ConnectTimeout)
	if err != nil {
		t.log.Debug("dial failed, will retry", "peer", id, "address", addr, "error", err)
		return
	}

	p := &peerConn{conn: conn}
	t.registerPeer(id, p)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		dec := json.NewDecoder(&limitedReader{r: conn, limit: maxFrameSize})
		t.readLoop(ctx, dec, p, id)
	}()
}

func (t *Transport) retryLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.dialAllNeighbors(ctx)
		}
	}
}

func (t *Transport) readLoop(ctx context.Context, dec *json.Decoder, p *peerConn, id string) {
	for {
		select {
		case <-ctx.Done():
			t.unregisterPeer(id, nil)
			return
		default:
		}

		var pkt packet.Packet
		if err := dec.Decode(&pkt); err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, net.ErrClosed) {
				t.log.Debug("peer read error", "peer", id, "error", err)
			}
			t.unregisterPeer(id, p)
			return
		}
		t.dispatchInbound(&pkt, id)
	}
}

func (t *Transport) dispatchInbound(pkt *packet.Packet, fromPeer string) {
	t.mu.RLock()
	handler := t.packetHandler
	t.mu.RUnlock()
	if handler != nil {
		handler(pkt, fromPeer)
	}
}

func (t *Transport) registerPeer(id string, p *peerConn) {
	t.mu.Lock()
	if old, ok := t.peers[id]; ok {
		old.conn.Close()
	}
	t.peers[id] = p
	handler := t.stateHandler
	t.mu.Unlock()

	t.log.Info("peer connected", "peer", id)
	if handler != nil {
		handler(id, transport.EventConnected)
	}
}

func (t *Transport) unregisterPeer(id string, p *peerConn) {
	t.mu.Lock()
	cur, ok := t.peers[id]
	if ok && (p == nil || cur == p) {
		delete(t.peers, id)
	} else {
		ok = false
	}
	handler := t.stateHandler
	t.mu.Unlock()

	if p != nil {
		p.conn.Close()
	}
	if ok {
		t.log.Info("peer disconnected", "peer", id)
		if handler != nil {
			handler(id, transport.EventDisconnected)
		}
	}
}

// limitedReader caps a single Read() at limit bytes, so each recv from the
// socket is at most 4 KiB.
type limitedReader struct {
	r     net.Conn
	limit int
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if len(p) > l.limit {
		p = p[:l.limit]
	}
	return l.r.Read(p)
}
