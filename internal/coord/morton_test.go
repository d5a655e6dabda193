package coord

import "testing"

func TestMorton_RoundTrip(t *testing.T) {
	coords := [][2]uint32{
		{0, 0},
		{1, 0},
		{0, 1},
		{1, 1},
		{5, 9},
		{1023, 1023},
		{0xFFFFFFFF, 0},
		{0, 0xFFFFFFFF},
		{0xFFFFFFFF, 0xFFFFFFFF},
		{12345, 67890},
	}

	for _, c := range coords {
		m := Morton(c[0], c[1])
		x, y := MortonDecode(m)
		if x != c[0] || y != c[1] {
			t.Errorf("Morton(%d, %d) round-trip = (%d, %d)", c[0], c[1], x, y)
		}
	}
}

func TestMorton_SiblingsContiguous(t *testing.T) {
	// The four children of tile (tx, ty) at zoom z are (2tx,2ty), (2tx+1,2ty),
	// (2tx,2ty+1), (2tx+1,2ty+1). Sorting any set containing a full 2x2 block
	// by Morton index must place those four consecutively.
	parents := [][2]uint32{{0, 0}, {3, 7}, {100, 200}}

	for _, p := range parents {
		cx, cy := 2*p[0], 2*p[1]
		children := [][2]int{
			{int(cx), int(cy)},
			{int(cx + 1), int(cy)},
			{int(cx), int(cy + 1)},
			{int(cx + 1), int(cy + 1)},
		}

		// Interleave with unrelated tiles to confirm sorting clusters siblings.
		tiles := [][2]int{
			{int(cx) + 50, int(cy) + 50},
			children[2],
			{int(cx) - 50, int(cy) - 50},
			children[0],
			children[3],
			{int(cx) + 1000, int(cy) + 1000},
			children[1],
		}

		SortByMorton(tiles)

		childSet := map[[2]int]bool{
			children[0]: true, children[1]: true,
			children[2]: true, children[3]: true,
		}

		start := -1
		for i, tl := range tiles {
			if childSet[tl] {
				start = i
				break
			}
		}
		if start == -1 || start+4 > len(tiles) {
			t.Fatalf("parent %v: siblings not found contiguously in %v", p, tiles)
		}
		for i := start; i < start+4; i++ {
			if !childSet[tiles[i]] {
				t.Errorf("parent %v: expected sibling at position %d, got %v (sorted: %v)", p, i, tiles[i], tiles)
			}
		}
	}
}

func TestMorton_NoCollisions(t *testing.T) {
	// Z-order is not monotonic in (x,y) individually, but scanning a small
	// grid should produce a distinct index per cell with no collisions.
	seen := make(map[uint64][2]uint32)
	for x := uint32(0); x < 16; x++ {
		for y := uint32(0); y < 16; y++ {
			m := Morton(x, y)
			if prev, ok := seen[m]; ok {
				t.Fatalf("collision: (%d,%d) and (%d,%d) both map to %d", x, y, prev[0], prev[1], m)
			}
			seen[m] = [2]uint32{x, y}
		}
	}
}

func TestSortByMorton_Empty(t *testing.T) {
	tiles := [][2]int{}
	SortByMorton(tiles)
	if len(tiles) != 0 {
		t.Errorf("expected empty slice to remain empty")
	}
}

func TestSortByMorton_Single(t *testing.T) {
	tiles := [][2]int{{42, 7}}
	SortByMorton(tiles)
	if tiles[0] != [2]int{42, 7} {
		t.Errorf("single-element slice mutated: %v", tiles)
	}
}
