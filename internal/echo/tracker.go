// Package echo tracks outstanding `echo` requests so a matching
// `echo_reply` can be paired back to its round-trip time.
//
// Grounded on core/ack.Tracker's pending-entry-with-timeout-sweep shape,
// trimmed to what echo actually needs: there is no retry (spec.md states
// nothing is retried beyond the stream transport's own reconnect tick), so
// a timed-out entry is simply dropped and logged rather than resent.
package echo

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout bounds how long an echo is tracked before it is considered
// lost and dropped from the pending set.
const DefaultTimeout = 30 * time.Second

// checkInterval is the resolution of the timeout sweep.
const checkInterval = time.Second

type pending struct {
	dest   string
	sentAt time.Time
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// Timeout bounds how long an echo is tracked. Default: DefaultTimeout.
	Timeout time.Duration

	// Logger for tracker events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Tracker pairs outbound echo packets with their inbound echo_reply by
// msg_id and reports round-trip time.
type Tracker struct {
	cfg TrackerConfig
	log *slog.Logger

	mu      sync.Mutex
	pending map[string]pending
	cancel  context.CancelFunc

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

// NewTracker creates an echo Tracker with the given configuration.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		cfg:     cfg,
		log:     logger.WithGroup("echo"),
		pending: make(map[string]pending),
		nowFn:   time.Now,
	}
}

// Track registers an outbound echo awaiting its reply.
func (t *Tracker) Track(msgID, dest string) {
	if msgID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[msgID] = pending{dest: dest, sentAt: t.nowFn()}
}

// Resolve matches an inbound echo_reply's msg_id against the pending set.
// Returns the round-trip time and true if msgID was pending.
func (t *Tracker) Resolve(msgID string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[msgID]
	if !ok {
		return 0, false
	}
	delete(t.pending, msgID)
	return t.nowFn().Sub(p.sentAt), true
}

// PendingCount returns the number of outstanding echoes.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Start begins the timeout sweep loop. Blocks until ctx is cancelled.
func (t *Tracker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweepTimeouts()
		}
	}
}

// Stop cancels the tracker's sweep loop.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *Tracker) sweepTimeouts() {
	t.mu.Lock()
	now := t.nowFn()
	var expired []string
	for msgID, p := range t.pending {
		if now.Sub(p.sentAt) >= t.cfg.Timeout {
			expired = append(expired, msgID)
		}
	}
	for _, msgID := range expired {
		delete(t.pending, msgID)
	}
	t.mu.Unlock()

	for _, msgID := range expired {
		t.log.Debug("echo timed out", "msg_id", msgID)
	}
}
