package relay

import (
	"sync"
	"time"

	"github.com/bhagdave/p2pplay/internal/wire"
)

// seenSet is the replay-protection cache keyed by message_id, grounded on
// the teacher's state.PeerTable mutex-guarded-map idiom (state/peers.go).
// Entries carry their own expiry rather than relying on a background
// sweep alone, so checkAndAdd can treat an expired entry as fresh.
type seenSet struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newSeenSet() *seenSet {
	return &seenSet{seen: make(map[string]time.Time)}
}

// checkAndAdd reports whether id is new (not already seen and unexpired).
// If new, it is inserted with the given expiry.
func (s *seenSet) checkAndAdd(id string, expiresAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.seen[id]; ok && time.Now().Before(exp) {
		return false
	}
	s.seen[id] = expiresAt
	return true
}

// gc removes every entry whose expiry has passed.
func (s *seenSet) gc(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, exp := range s.seen {
		if now.After(exp) {
			delete(s.seen, id)
		}
	}
}

func (s *seenSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// pendingEntry is one locally-originated envelope still awaiting delivery.
type pendingEntry struct {
	envelope  *wire.RelayEnvelope
	expiresAt time.Time
}

// pendingCache holds locally-originated envelopes that failed direct
// delivery, bounded by capacity with first-in-first-out eviction (spec.md
// §4.2's "Pending-relay cache"). Entries are removed early on
// acknowledgment, not just on FIFO overflow or expiry.
type pendingCache struct {
	mu       sync.Mutex
	capacity int
	order    []string // message ids, oldest first
	entries  map[string]pendingEntry
}

func newPendingCache(capacity int) *pendingCache {
	return &pendingCache{
		capacity: capacity,
		entries:  make(map[string]pendingEntry),
	}
}

// add inserts or replaces the pending entry for env, then evicts the oldest
// entries until the cache is back within capacity.
func (c *pendingCache) add(env *wire.RelayEnvelope, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[env.MessageID]; !exists {
		c.order = append(c.order, env.MessageID)
	}
	c.entries[env.MessageID] = pendingEntry{envelope: env, expiresAt: expiresAt}
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// remove discards a pending entry (acknowledged). Reports whether it had
// been present.
func (c *pendingCache) remove(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[messageID]
	if !ok {
		return false
	}
	delete(c.entries, messageID)
	for i, id := range c.order {
		if id == messageID {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// evictExpired removes and returns every entry whose expiry has passed.
func (c *pendingCache) evictExpired(now time.Time) []*wire.RelayEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expired []*wire.RelayEnvelope
	kept := c.order[:0:0]
	for _, id := range c.order {
		e, ok := c.entries[id]
		if !ok {
			continue
		}
		if now.After(e.expiresAt) {
			expired = append(expired, e.envelope)
			delete(c.entries, id)
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
	return expired
}

// snapshot returns every currently-pending envelope, oldest first, for
// retry against a newly-connected peer.
func (c *pendingCache) snapshot() []*wire.RelayEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*wire.RelayEnvelope, 0, len(c.order))
	for _, id := range c.order {
		if e, ok := c.entries[id]; ok {
			out = append(out, e.envelope)
		}
	}
	return out
}

func (c *pendingCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
