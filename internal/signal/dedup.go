// SPDX-License-Identifier: MIT

package signal

import (
	"sync"
	"time"
)

// Dedup is the consumer-side duplicate filter. Delivery is at-least-once
// and unordered, so every consumer keeps a small seen-set keyed by
// (kind, target, issuedAt) and drops repeats and stale arrivals.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time // dedup key -> expiry
}

func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]time.Time)}
}

// FirstSeen reports whether sig should be acted on: true exactly once per
// dedup key, and never for a signal whose TTL has elapsed.
func (d *Dedup) FirstSeen(sig Signal, now time.Time) bool {
	if sig.IsStale(now) {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Prune entries whose signals can no longer arrive fresh.
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}

	key := sig.DedupKey()
	if _, dup := d.seen[key]; dup {
		return false
	}
	d.seen[key] = sig.ExpiresAt()
	return true
}
