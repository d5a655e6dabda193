package coord

import "sort"

// Morton interleaves the bits of x and y into a single Z-order index.
// Ordering tiles by Morton index guarantees that the four children of any
// tile at the level below are contiguous in the sequence: closing a 2x2
// block requires holding at most the active descent stack in memory, never
// a full row of a zoom level.
func Morton(x, y uint32) uint64 {
	return interleave(uint64(x)) | (interleave(uint64(y)) << 1)
}

// interleave spreads the low 32 bits of v so that bit i moves to bit 2*i,
// leaving the odd bits zero. Combined with a second interleaved value
// shifted left by one, this produces the classic Z-order bit-interleaving.
func interleave(v uint64) uint64 {
	v &= 0x00000000ffffffff
	v = (v | (v << 16)) & 0x0000FFFF0000FFFF
	v = (v | (v << 8)) & 0x00FF00FF00FF00FF
	v = (v | (v << 4)) & 0x0F0F0F0F0F0F0F0F
	v = (v | (v << 2)) & 0x3333333333333333
	v = (v | (v << 1)) & 0x5555555555555555
	return v
}

// MortonDecode recovers (x, y) from a Z-order index produced by Morton.
func MortonDecode(m uint64) (x, y uint32) {
	x = uint32(deinterleave(m))
	y = uint32(deinterleave(m >> 1))
	return
}

func deinterleave(v uint64) uint64 {
	v &= 0x5555555555555555
	v = (v | (v >> 1)) & 0x3333333333333333
	v = (v | (v >> 2)) & 0x0F0F0F0F0F0F0F0F
	v = (v | (v >> 4)) & 0x00FF00FF00FF00FF
	v = (v | (v >> 8)) & 0x0000FFFF0000FFFF
	v = (v | (v >> 16)) & 0x00000000FFFFFFFF
	return v
}

// mortonSorter sorts [2]int{x, y} tiles (all assumed to share one zoom
// level) by their precomputed Morton index, avoiding repeated interleaving
// work inside the comparator.
type mortonSorter struct {
	tiles   [][2]int
	indices []uint64
}

func (s *mortonSorter) Len() int { return len(s.tiles) }
func (s *mortonSorter) Less(i, j int) bool { return s.indices[i] < s.indices[j] }
func (s *mortonSorter) Swap(i, j int) {
	s.tiles[i], s.tiles[j] = s.tiles[j], s.tiles[i]
	s.indices[i], s.indices[j] = s.indices[j], s.indices[i]
}

// SortByMorton orders a set of (x, y) coordinates at a single zoom level by
// their Morton index, so that any four siblings end up contiguous.
func SortByMorton(tiles [][2]int) {
	indices := make([]uint64, len(tiles))
	for i, t := range tiles {
		indices[i] = Morton(uint32(t[0]), uint32(t[1]))
	}
	sort.Sort(&mortonSorter{tiles: tiles, indices: indices})
}
