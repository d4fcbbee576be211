package locator

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

const boundaryCacheDegree = 16

// boundaryEntry records one resynchronized record boundary: the key of the
// record starting at offset.
type boundaryEntry struct {
	key    []byte
	offset int64
}

func boundaryLess(a, b boundaryEntry) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// boundaryCache remembers record boundaries discovered by earlier probes
// so later searches start from a tighter window. Entries are advisory: an
// exact hit is re-read and verified before being returned, and the
// inserter invalidates everything at or past a splice point.
type boundaryCache struct {
	mu   sync.Mutex
	tree *btree.BTreeG[boundaryEntry]
	max  int
}

func newBoundaryCache(max int) *boundaryCache {
	return &boundaryCache{
		tree: btree.NewG(boundaryCacheDegree, boundaryLess),
		max:  max,
	}
}

func (c *boundaryCache) add(key []byte, offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tree.ReplaceOrInsert(boundaryEntry{
		key:    append([]byte(nil), key...),
		offset: offset,
	})
	for c.tree.Len() > c.max {
		c.tree.DeleteMin()
	}
}

// exact returns the cached offset for key, if any.
func (c *boundaryCache) exact(key []byte) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.tree.Get(boundaryEntry{key: key})
	if !ok {
		return 0, false
	}
	return entry.offset, true
}

// tighten narrows the window [low, high) using the cached boundaries that
// bracket target most closely. Offsets outside the current window are
// ignored, so a stale or hint-reduced window is never widened.
func (c *boundaryCache) tighten(target []byte, low, high int64, lowKey, highKey []byte) (int64, int64, []byte, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	probe := boundaryEntry{key: target}

	c.tree.DescendLessOrEqual(probe, func(e boundaryEntry) bool {
		if bytes.Equal(e.key, target) {
			return true // keep descending past an exact entry
		}
		if e.offset > low && e.offset < high {
			low = e.offset
			lowKey = nil // key of the record ending at low is unknown
		}
		return false
	})

	c.tree.AscendGreaterOrEqual(probe, func(e boundaryEntry) bool {
		if bytes.Equal(e.key, target) {
			return true
		}
		if e.offset > low && e.offset < high {
			high = e.offset
			highKey = append([]byte(nil), e.key...)
		}
		return false
	})

	return low, high, lowKey, highKey
}

// invalidateFrom removes every entry whose offset is at or past the given
// splice offset.
func (c *boundaryCache) invalidateFrom(offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var doomed []boundaryEntry
	c.tree.Ascend(func(e boundaryEntry) bool {
		if e.offset >= offset {
			doomed = append(doomed, e)
		}
		return true
	})
	for _, e := range doomed {
		c.tree.Delete(e)
	}
}
