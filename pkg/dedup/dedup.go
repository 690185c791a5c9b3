// Package dedup filters redundant update notifications from the subscription
// channel before they reach the application registry.
package dedup

import (
	"math"
	"sync"

	"github.com/sage3/foresight/pkg/models"
)

// Policy decides whether a changed updatedAt is forwarded.
type Policy int

const (
	// Equality forwards any updatedAt that differs from the last one seen,
	// including older values delivered out of order.
	Equality Policy = iota
	// Monotonic forwards only updatedAt values newer than the last one seen.
	Monotonic
)

// deleted marks a document whose DELETE has been forwarded. A delete
// usually carries the same _updatedAt as the last update of the document,
// so it is tracked separately from timestamps.
const deleted int64 = math.MinInt64

// SeenRecord maps a document id to the last forwarded updatedAt. Entries are
// never evicted; the number of live documents bounds its size.
type SeenRecord map[string]int64

// Deduplicator is safe for concurrent use.
type Deduplicator struct {
	mu         sync.Mutex
	policy     Policy
	seen       SeenRecord
	forwarded  uint64
	suppressed uint64
}

// New creates a Deduplicator with the given policy.
func New(policy Policy) *Deduplicator {
	return &Deduplicator{
		policy: policy,
		seen:   make(SeenRecord),
	}
}

// ShouldForward reports whether ev is new and records it if so.
// An identical (id, updatedAt) pair is forwarded exactly once.
func (d *Deduplicator) ShouldForward(ev models.UpdateEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := ev.UpdatedAt
	if ev.Type == models.EventDelete {
		key = deleted
	}

	last, ok := d.seen[ev.ID]
	forward := !ok || last != key
	if forward && ok && d.policy == Monotonic && key != deleted && last != deleted && key < last {
		forward = false
	}

	if !forward {
		d.suppressed++
		return false
	}
	d.seen[ev.ID] = key
	d.forwarded++
	return true
}

// Seen returns the last recorded updatedAt for id. Deleted documents report
// ok=false.
func (d *Deduplicator) Seen(id string) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.seen[id]
	if v == deleted {
		return 0, false
	}
	return v, ok
}

// Stats returns how many events were forwarded and suppressed.
func (d *Deduplicator) Stats() (forwarded, suppressed uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.forwarded, d.suppressed
}

// Len returns the number of tracked documents.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
