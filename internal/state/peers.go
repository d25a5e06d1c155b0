// Package state holds the swarm event loop's in-memory peer bookkeeping:
// the PeerRecord registry (spec.md §3) and the reconnection-throttle caches
// (spec.md §4.1 "Reconnection throttling").
//
// Grounded on the teacher's state/peers.go PeerTable — same
// mutex-guarded-map-plus-listener-notify idiom, generalized from chat
// presence fields to the spec's PeerRecord attributes.
package state

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerRecord is spec.md §3's PeerRecord entity: what the node knows about a
// peer independent of any one Connection.
type PeerRecord struct {
	ID          peer.ID
	Alias       string
	Addrs       []string // multi-address strings, most-recently-seen first
	LastSeen    time.Time
	ConnCount   int
}

// PeerEvent notifies registry subscribers of an upsert or removal.
type PeerEvent struct {
	Type   string // "update" | "remove"
	PeerID peer.ID
	Record PeerRecord
}

// Registry tracks every peer the node has discovered or connected to.
// Safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	peers     map[peer.ID]PeerRecord
	listeners []chan PeerEvent
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[peer.ID]PeerRecord)}
}

// Upsert records a sighting of id, merging addrs into the existing address
// list (most-recent first, deduplicated) and bumping LastSeen. alias is
// only overwritten when non-empty, so a later sighting that doesn't carry
// an alias (e.g. a bare mDNS discovery) never clobbers one learned earlier
// from node-desc/1.
func (r *Registry) Upsert(id peer.ID, alias string, addrs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.peers[id]
	if !ok {
		rec = PeerRecord{ID: id}
	}
	if alias != "" {
		rec.Alias = alias
	}
	rec.Addrs = mergeAddrs(rec.Addrs, addrs)
	rec.LastSeen = time.Now()
	r.peers[id] = rec
	r.notify(PeerEvent{Type: "update", PeerID: id, Record: rec})
}

func mergeAddrs(existing, fresh []string) []string {
	seen := make(map[string]bool, len(existing)+len(fresh))
	out := make([]string, 0, len(existing)+len(fresh))
	for _, a := range fresh {
		if a != "" && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	for _, a := range existing {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// IncrConnCount adjusts id's connection count by delta (positive on
// Connection creation, negative on close), floored at zero.
func (r *Registry) IncrConnCount(id peer.ID, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.peers[id]
	if !ok {
		rec = PeerRecord{ID: id}
	}
	rec.ConnCount += delta
	if rec.ConnCount < 0 {
		rec.ConnCount = 0
	}
	rec.LastSeen = time.Now()
	r.peers[id] = rec
	r.notify(PeerEvent{Type: "update", PeerID: id, Record: rec})
}

// Get returns the record for id, if known.
func (r *Registry) Get(id peer.ID) (PeerRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.peers[id]
	return rec, ok
}

// Remove evicts id entirely (e.g. after prolonged absence, per spec.md §3's
// PeerRecord lifecycle).
func (r *Registry) Remove(id peer.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[id]; !ok {
		return
	}
	delete(r.peers, id)
	r.notify(PeerEvent{Type: "remove", PeerID: id})
}

// EvictStale removes every peer record whose LastSeen predates cutoff and
// whose ConnCount is zero — a connected peer is never evicted regardless of
// how long ago it was last "seen" by discovery.
func (r *Registry) EvictStale(cutoff time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rec := range r.peers {
		if rec.ConnCount == 0 && rec.LastSeen.Before(cutoff) {
			delete(r.peers, id)
			r.notify(PeerEvent{Type: "remove", PeerID: id})
		}
	}
}

// Snapshot returns a copy of every known peer record.
func (r *Registry) Snapshot() []PeerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PeerRecord, 0, len(r.peers))
	for _, rec := range r.peers {
		out = append(out, rec)
	}
	return out
}

// Subscribe returns a channel that receives every update/remove event.
func (r *Registry) Subscribe() chan PeerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan PeerEvent, 32)
	r.listeners = append(r.listeners, ch)
	return ch
}

// Unsubscribe removes and closes a previously-returned channel.
func (r *Registry) Unsubscribe(ch chan PeerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, l := range r.listeners {
		if l == ch {
			close(l)
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

func (r *Registry) notify(evt PeerEvent) {
	for _, ch := range r.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}

// reconnectRecord is one peer's throttle bookkeeping.
type reconnectRecord struct {
	lastAttempt time.Time
	lastSuccess time.Time
}

// ThrottleCache implements spec.md §4.1's reconnection throttling: two
// caches keyed by peer (last-attempt, last-success) consulted together to
// decide whether a redial is currently permitted.
//
// Grounded on the teacher's state.PeerTable locking idiom; kept as its own
// small type (rather than folded into Registry) because its GC policy
// (one-hour entry lifetime) is independent of PeerRecord eviction.
type ThrottleCache struct {
	mu      sync.Mutex
	records map[peer.ID]*reconnectRecord
}

// NewThrottleCache constructs an empty cache.
func NewThrottleCache() *ThrottleCache {
	return &ThrottleCache{records: make(map[peer.ID]*reconnectRecord)}
}

const (
	// RecentSuccessWindow bounds how far back a last-successful-connection
	// may be for the short 5s throttle interval to apply.
	RecentSuccessWindow = 5 * time.Minute
	shortGap            = 5 * time.Second
	longGap             = 30 * time.Second
	entryTTL            = time.Hour
)

// Allow reports whether a reconnection attempt to id is permitted right
// now, per spec.md §4.1: permitted if no attempt is recorded, or if enough
// time has passed since the last attempt — 5s when id connected
// successfully within the last 5 minutes, otherwise 30s.
func (c *ThrottleCache) Allow(id peer.ID, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return true
	}
	gap := longGap
	if !rec.lastSuccess.IsZero() && now.Sub(rec.lastSuccess) <= RecentSuccessWindow {
		gap = shortGap
	}
	return now.Sub(rec.lastAttempt) >= gap
}

// RecordAttempt stamps id's last-attempt time.
func (c *ThrottleCache) RecordAttempt(id peer.ID, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		rec = &reconnectRecord{}
		c.records[id] = rec
	}
	rec.lastAttempt = now
}

// RecordSuccess stamps id's last-successful-connection time.
func (c *ThrottleCache) RecordSuccess(id peer.ID, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		rec = &reconnectRecord{}
		c.records[id] = rec
	}
	rec.lastSuccess = now
}

// GC removes entries whose last-attempt (or, if later, last-success) is
// older than one hour, per spec.md §4.1's maintenance-tick sweep.
func (c *ThrottleCache) GC(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, rec := range c.records {
		last := rec.lastAttempt
		if rec.lastSuccess.After(last) {
			last = rec.lastSuccess
		}
		if now.Sub(last) > entryTTL {
			delete(c.records, id)
		}
	}
}
