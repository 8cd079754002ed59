// In-memory per-(table, column) hash index (spec §3, §4.2).
//
// An index maps a column value to the set of data-page block ids whose
// slotted array contains at least one matching record. It is rebuilt by
// a full table scan when installed and refreshed incrementally by every
// subsequent insert/update/delete that touches the indexed column —
// mirroring how folio's optional bloom filter is populated on Open and
// maintained on every Add thereafter (folio/bloom.go).
package pagestore

import (
	"fmt"
	"sync"

	"github.com/zeebo/xxh3"
)

// HashIndex is an in-memory equality index on one column of one table.
type HashIndex struct {
	mu      sync.RWMutex
	Column  string
	buckets map[uint64]map[BlockID]struct{}
}

func newHashIndex(column string) *HashIndex {
	return &HashIndex{Column: column, buckets: make(map[uint64]map[BlockID]struct{})}
}

func bucketKey(v Value) uint64 {
	return xxh3.HashString(fmt.Sprintf("%v", v))
}

// Add records that block id may contain a record whose Column equals v.
func (h *HashIndex) Add(v Value, block BlockID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := bucketKey(v)
	set, ok := h.buckets[k]
	if !ok {
		set = make(map[BlockID]struct{})
		h.buckets[k] = set
	}
	set[block] = struct{}{}
}

// Blocks returns the candidate block ids for v, or nil if none are
// known. A non-nil, empty-after-filtering result still means "scan
// these blocks" — the index only narrows candidates, callers must still
// verify equality against the decoded row (hash buckets can collide).
func (h *HashIndex) Blocks(v Value) []BlockID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set, ok := h.buckets[bucketKey(v)]
	if !ok {
		return nil
	}
	out := make([]BlockID, 0, len(set))
	for b := range set {
		out = append(out, b)
	}
	return out
}

// Reset clears the index (used before a full rebuild).
func (h *HashIndex) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buckets = make(map[uint64]map[BlockID]struct{})
}

// RemoveBlock drops block from every bucket. Called before re-indexing a
// page that was just rewritten, so a value whose only occurrence on that
// page was just updated away does not leave a stale (value, block)
// association behind (spec §8 index invariant).
func (h *HashIndex) RemoveBlock(block BlockID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, set := range h.buckets {
		delete(set, block)
		if len(set) == 0 {
			delete(h.buckets, k)
		}
	}
}
