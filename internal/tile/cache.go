package tile

import (
	"fmt"
	"sync"

	"github.com/pspoerri/freemap-tiler/internal/boundsplanner"
)

// Fingerprint uniquely identifies a pending or persisted tile.
type Fingerprint struct {
	Z, X, Y int
}

func (fp Fingerprint) String() string {
	return fmt.Sprintf("%d/%d/%d", fp.Z, fp.X, fp.Y)
}

// quadrant maps a tile's parity to its position among its three Z-order
// siblings: NW=0, NE=1, SW=2, SE=3 — the same order downsampleTile expects.
func quadrant(x, y int) int {
	return (x & 1) + 2*(y&1)
}

// CompletedGroup is handed back by Cache.Insert when inserting a tile
// completes its parent's set of (up to four) children. The four slots are
// nil where a sibling is either fully transparent or structurally
// out-of-bounds at a pyramid edge.
type CompletedGroup struct {
	Parent   Fingerprint
	Children [4]*TileData
}

// cacheEntry tracks, for one parent-in-progress, which of its four children
// have arrived (present with data, or confirmed empty/out-of-bounds).
type cacheEntry struct {
	children  [4]*TileData
	delivered [4]bool
}

func (e *cacheEntry) complete() bool {
	return e.delivered[0] && e.delivered[1] && e.delivered[2] && e.delivered[3]
}

// Cache is the O(max_zoom × 4) in-memory sibling-completion store described
// in spec §4.5: a flat map keyed by parent fingerprint, holding at most one
// in-flight entry per active zoom level. Critical sections are limited to
// map bookkeeping — the cache never downsamples, encodes, or does I/O while
// holding its lock (§5).
type Cache struct {
	mu      sync.Mutex
	entries map[Fingerprint]*cacheEntry
	planner *boundsplanner.Planner
	tileSize int
}

// NewCache builds a cache that consults planner to recognise out-of-bounds
// siblings at pyramid edges without needing them delivered explicitly.
func NewCache(planner *boundsplanner.Planner, tileSize int) *Cache {
	return &Cache{
		entries:  make(map[Fingerprint]*cacheEntry),
		planner:  planner,
		tileSize: tileSize,
	}
}

// Insert delivers a tile at (z,x,y) — td is nil for a fully-transparent or
// otherwise empty tile, per spec §4.5's "fully-transparent tiles are never
// inserted; instead the cache is told child at (fp) is empty". z must be
// >= 1: the root (z=0) is never itself inserted, only ever produced as a
// CompletedGroup's Parent.
//
// Returns a non-nil CompletedGroup exactly when this insert completed its
// parent's set of siblings; the caller is then responsible for downsampling,
// encoding, and sinking the parent off the critical path, and for feeding
// the result back into Insert one level up.
func (c *Cache) Insert(z, x, y int, td *TileData) (*CompletedGroup, error) {
	if z < 1 {
		return nil, &InvariantViolation{What: fmt.Sprintf("Insert called for root or negative zoom %d", z)}
	}

	pz, px, py := z-1, x>>1, y>>1
	fp := Fingerprint{Z: pz, X: px, Y: py}
	quad := quadrant(x, y)

	c.mu.Lock()
	e, ok := c.entries[fp]
	if !ok {
		e = &cacheEntry{}
		c.markOutOfBoundsLocked(z, px, py, e)
		c.entries[fp] = e
	}
	if e.delivered[quad] {
		c.mu.Unlock()
		return nil, &InvariantViolation{What: fmt.Sprintf("duplicate delivery for child (%d,%d,%d) of parent %s", z, x, y, fp)}
	}
	e.children[quad] = td
	e.delivered[quad] = true

	if !e.complete() {
		c.mu.Unlock()
		return nil, nil
	}
	delete(c.entries, fp)
	c.mu.Unlock()

	return &CompletedGroup{Parent: fp, Children: e.children}, nil
}

// markOutOfBoundsLocked marks, for a newly-created entry at parent (pz,px,py),
// any of the four children at level z=pz+1 that fall outside the planner's
// rectangle as already-delivered-empty. Must be called with c.mu held.
func (c *Cache) markOutOfBoundsLocked(z, px, py int, e *cacheEntry) {
	if c.planner == nil {
		return
	}
	corners := [4][2]int{
		{2 * px, 2 * py}, {2*px + 1, 2 * py},
		{2 * px, 2*py + 1}, {2*px + 1, 2*py + 1},
	}
	for quad, cc := range corners {
		if !c.planner.InRect(z, cc[0], cc[1]) {
			e.delivered[quad] = true
			e.children[quad] = nil
		}
	}
}

// Pending reports the number of parents currently awaiting completion,
// i.e. the cache's live size — used by callers verifying the O(max_zoom)
// memory bound.
func (c *Cache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
