// Package redisbus implements the publish/subscribe transport variant
// backed by Redis channels: one channel per node id. It is the CLI's
// default pub/sub backend (`--mode redis`).
//
// Grounded on persistence.RedisPersister's client-interface-over-go-redis
// shape (etalazz-vsa/internal/ratelimiter/persistence/redis.go) for how to
// wrap a go-redis/v9 client behind a small local interface, adapted from a
// scripted-command client to Cmdable's native PubSub surface, which is the
// natural fit for spec.md's channel-per-node broadcast model.
package redisbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/kabili207/meshrouted/internal/errs"
	"github.com/kabili207/meshrouted/internal/packet"
	"github.com/kabili207/meshrouted/internal/transport"
)

var _ transport.Transport = (*Transport)(nil)

// Config holds the configuration for a Redis pub/sub transport.
type Config struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password and DB select the Redis auth/database, as in redis.Options.
	Password string
	DB       int

	// SelfID is this node's router id, used for the self-filter (a message
	// whose packet.From equals SelfID is dropped on receipt).
	SelfID string
	// SelfChannel is this node's own channel, always subscribed (for
	// unicast receipt).
	SelfChannel string
	// NeighborChannels maps neighbor id to its channel name.
	NeighborChannels map[string]string
	// SubscribeNeighborChannels additionally subscribes to every neighbor
	// channel, needed so this node observes broadcasts neighbors publish —
	// required for the flooding and LSR algorithms, not for Dijkstra's
	// unicast-only traffic.
	SubscribeNeighborChannels bool

	// Logger for transport events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Transport implements transport.Transport over Redis pub/sub.
type Transport struct {
	cfg Config
	log *slog.Logger

	client *redis.Client
	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.RWMutex
	connected     bool
	packetHandler transport.PacketHandler
	stateHandler  transport.StateHandler
}

// New creates a Redis pub/sub transport with the given configuration.
func New(cfg Config) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg: cfg,
		log: logger.WithGroup("redisbus"),
	}
}

// Start connects to Redis, subscribes to the self channel (and every
// neighbor channel when configured), and begins the receive loop.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.SelfChannel == "" {
		return fmt.Errorf("redisbus: self channel is required")
	}

	t.client = redis.NewClient(&redis.Options{
		Addr:     t.cfg.Addr,
		Password: t.cfg.Password,
		DB:       t.cfg.DB,
	})

	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisbus: connecting to %s: %w", t.cfg.Addr, err)
	}

	channels := []string{t.cfg.SelfChannel}
	if t.cfg.SubscribeNeighborChannels {
		for _, ch := range t.cfg.NeighborChannels {
			channels = append(channels, ch)
		}
	}

	t.pubsub = t.client.Subscribe(ctx, channels...)
	if _, err := t.pubsub.Receive(ctx); err != nil {
		t.client.Close()
		return fmt.Errorf("redisbus: subscribing: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.mu.Lock()
	t.connected = true
	handler := t.stateHandler
	t.mu.Unlock()

	t.log.Info("connected to redis", "addr", t.cfg.Addr, "channels", channels)
	if handler != nil {
		handler("", transport.EventConnected)
	}

	t.wg.Add(1)
	go t.receiveLoop(runCtx)

	return nil
}

// Stop closes the subscription and the client connection.
func (t *Transport) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	var err error
	if t.pubsub != nil {
		err = t.pubsub.Close()
	}
	if t.client != nil {
		if cerr := t.client.Close(); err == nil {
			err = cerr
		}
	}
	t.wg.Wait()

	t.mu.Lock()
	t.connected = false
	handler := t.stateHandler
	t.mu.Unlock()
	if handler != nil {
		handler("", transport.EventDisconnected)
	}
	return err
}

// IsConnected reports whether the Redis session is open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
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

// SendTo publishes pkt on peerID's channel.
func (t *Transport) SendTo(peerID string, pkt *packet.Packet) error {
	ch, ok := t.cfg.NeighborChannels[peerID]
	if !ok {
		return fmt.Errorf("redisbus: no channel configured for %s", peerID)
	}
	return t.publish(ch, pkt)
}

// Broadcast publishes pkt on every neighbor channel except excludePeerID's.
func (t *Transport) Broadcast(pkt *packet.Packet, excludePeerID string) error {
	for id, ch := range t.cfg.NeighborChannels {
		if id == excludePeerID {
			continue
		}
		if err := t.publish(ch, pkt); err != nil {
			t.log.Warn("broadcast publish failed", "peer", id, "channel", ch, "error", err)
		}
	}
	return nil
}

func (t *Transport) publish(channel string, pkt *packet.Packet) error {
	data, err := pkt.Encode()
	if err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}
	return t.client.Publish(context.Background(), channel, data).Err()
}

// receiveLoop drains the pub/sub channel, decodes each message as a packet,
// and applies the self-filter: a message whose `from` equals this node's own
// id is dropped (suppresses self-echo from the multi-channel subscription
// overlap described in spec.md 4.4).
func (t *Transport) receiveLoop(ctx context.Context) {
	defer t.wg.Done()
	ch := t.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			pkt, deliver, err := decodeAndFilter(msg.Payload, t.cfg.SelfID)
			if err != nil {
				t.log.Debug("discarding malformed message", "channel", msg.Channel, "error", err)
				continue
			}
			if !deliver {
				continue
			}

			t.mu.RLock()
			handler := t.packetHandler
			t.mu.RUnlock()
			if handler != nil {
				handler(pkt, pkt.From)
			}
		}
	}
}

// decodeAndFilter decodes a raw pub/sub message payload and applies the
// self-filter. Returns (nil, false, ErrDecode) on a decode failure, or
// (pkt, false, nil) for a validly decoded self-originated packet that
// should be dropped.
func decodeAndFilter(payload string, selfID string) (*packet.Packet, bool, error) {
	pkt, err := packet.Decode([]byte(payload))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", errs.ErrDecode, err)
	}
	if pkt.From == selfID {
		return pkt, false, nil
	}
	return pkt, true, nil
}
