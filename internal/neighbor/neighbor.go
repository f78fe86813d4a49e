// Package neighbor stores the router engine's view of directly connected
// peers: identity, configured cost, transport address, and liveness.
//
// This is distinct from an algorithm's own neighbor bookkeeping (LSR tracks
// its own alive/dead state driven by HELLO) — the engine-level store is
// filled by cmd/meshrouted from the topology and names files, and the REPL's
// `neighbors` command reads it to answer "who do we know and how do we reach
// them" without reaching into a specific algorithm implementation. The
// stream transport keeps its own neighbor address map and does not use it.
//
// Grounded on device/contact.ContactManager's thread-safe store-with-callback
// shape, simplified: no favorites, no eviction (mesh topologies here are
// small and statically configured), keyed directly by router id instead of
// a public key.
package neighbor

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a lookup or removal targets an unknown id.
var ErrNotFound = errors.New("neighbor: not found")

// Record describes one directly connected peer.
type Record struct {
	ID        string
	Cost      int
	Address   string // transport-address: host:port, serial device, or channel name
	LastSeen  time.Time
	Alive     bool
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// Logger receives add/remove events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Store is a thread-safe registry of neighbor records.
type Store struct {
	log *slog.Logger

	mu      sync.RWMutex
	records map[string]*Record

	onAdded   func(r Record)
	onRemoved func(id string)
}

// NewStore creates an empty Store.
func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		log:     logger.WithGroup("neighbors"),
		records: map[string]*Record{},
	}
}

// SetOnAdded sets the callback invoked whenever a neighbor is added or its
// configuration is replaced via Upsert.
func (s *Store) SetOnAdded(fn func(r Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAdded = fn
}

// SetOnRemoved sets the callback invoked when a neighbor is removed.
func (s *Store) SetOnRemoved(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemoved = fn
}

// Upsert adds a neighbor or replaces its configured cost/address, preserving
// any existing liveness state. cost below 1 is normalized to 1, matching the
// topology loader's "costs default to 1" rule.
func (s *Store) Upsert(id string, cost int, address string) {
	if cost < 1 {
		cost = 1
	}
	s.mu.Lock()
	r, ok := s.records[id]
	if !ok {
		r = &Record{ID: id}
		s.records[id] = r
	}
	r.Cost = cost
	r.Address = address
	snapshot := *r
	cb := s.onAdded
	s.mu.Unlock()

	if !ok {
		s.log.Debug("neighbor added", "id", id, "cost", cost, "address", address)
	}
	if cb != nil {
		cb(snapshot)
	}
}

// Remove deletes a neighbor record. Returns ErrNotFound if id is unknown.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	_, ok := s.records[id]
	if ok {
		delete(s.records, id)
	}
	cb := s.onRemoved
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	s.log.Debug("neighbor removed", "id", id)
	if cb != nil {
		cb(id)
	}
	return nil
}

// MarkSeen updates last_seen and alive=true for id. No-op if id is unknown —
// callers that want to learn never-configured peers should Upsert first.
func (s *Store) MarkSeen(id string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return
	}
	r.LastSeen = now
	r.Alive = true
}

// MarkDead sets alive=false for id without removing the record, so the
// configured cost/address survive a liveness flap.
func (s *Store) MarkDead(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok {
		r.Alive = false
	}
}

// Get returns a copy of the record for id, or false if unknown.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// All returns a snapshot of every known neighbor, sorted by id.
func (s *Store) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the ids of every known neighbor, sorted.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of known neighbors.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
