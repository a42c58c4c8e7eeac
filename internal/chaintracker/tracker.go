// Package chaintracker maintains the in-memory height↔hash index a P2P
// transport builds from header sync and live block messages, and detects
// chain reorganizations. A tracker is exclusively owned and mutated by one
// transport instance; it is never shared across transports.
package chaintracker

import (
	"sync"

	"github.com/easylayer/blockchain-provider/pkg/common/logger"
)

// Tracker keeps exactly one hash per height and a reverse index for O(1)
// hash→height lookups. The reverse index costs roughly twice the memory of
// a bare height→hash map; at chain scale (10^6+ entries) the O(1) lookup is
// worth it over a linear scan.
type Tracker struct {
	mu       sync.RWMutex
	byHeight map[uint32]string
	byHash   map[string]uint32
	tip      uint32
	hasTip   bool
}

func New() *Tracker {
	return &Tracker{
		byHeight: make(map[uint32]string),
		byHash:   make(map[string]uint32),
	}
}

// TipHeight returns the highest tracked height. ok is false while the
// tracker is empty.
func (t *Tracker) TipHeight() (height uint32, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tip, t.hasTip
}

// HashAtHeight returns the hash tracked at the given height.
func (t *Tracker) HashAtHeight(height uint32) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.byHeight[height]
	return h, ok
}

// HeightOfHash returns the height a hash is tracked at.
func (t *Tracker) HeightOfHash(hash string) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.byHash[hash]
	return h, ok
}

// Len returns the number of tracked entries.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byHeight)
}

// Add records hash at height. Re-adding the identical hash is a no-op.
// Adding a different hash at an occupied height is a reorganization: every
// entry from that height through the old tip is deleted before the new hash
// is inserted, making the conflict height the new tip. The work is
// proportional to the reorg depth, not the chain length.
//
// Add reports whether a reorg was performed.
func (t *Tracker) Add(height uint32, hash string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, occupied := t.byHeight[height]
	if occupied && existing == hash {
		return false
	}

	reorg := false
	if occupied {
		logger.Warn("Chain reorganization detected",
			"height", height,
			"old_hash", existing,
			"new_hash", hash,
			"old_tip", t.tip)
		for h := height; h <= t.tip; h++ {
			if old, ok := t.byHeight[h]; ok {
				delete(t.byHeight, h)
				delete(t.byHash, old)
			}
		}
		reorg = true
	}

	t.byHeight[height] = hash
	t.byHash[hash] = height
	if !t.hasTip || height > t.tip || reorg {
		t.tip = height
		t.hasTip = true
	}
	return reorg
}

// Clear drops all entries; used on transport disconnect.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byHeight = make(map[uint32]string)
	t.byHash = make(map[string]uint32)
	t.tip = 0
	t.hasTip = false
}
