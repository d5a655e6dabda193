package boundsplanner

import (
	"testing"

	"github.com/paulmach/orb"
)

func TestNew_LevelsHalveTowardZoomZero(t *testing.T) {
	p := New(Config{
		MinLon: -10, MinLat: -10, MaxLon: 10, MaxLat: 10,
		MaxZoom: 8, TileSize: 256,
	})

	leaf := p.Bounds(8)
	if leaf.MaxCol < leaf.MinCol || leaf.MaxRow < leaf.MinRow {
		t.Fatalf("degenerate leaf rectangle: %+v", leaf)
	}

	for z := 8; z > 0; z-- {
		child := p.Bounds(z)
		parent := p.Bounds(z - 1)
		if parent.MinCol != child.MinCol/2 || parent.MaxCol != child.MaxCol/2 {
			t.Errorf("zoom %d: col bounds not halved: child=%+v parent=%+v", z, child, parent)
		}
		if parent.MinRow != child.MinRow/2 || parent.MaxRow != child.MaxRow/2 {
			t.Errorf("zoom %d: row bounds not halved: child=%+v parent=%+v", z, child, parent)
		}
	}
}

func TestNew_ZoomZeroIsWholeWorldTile(t *testing.T) {
	p := New(Config{
		MinLon: -179, MinLat: -60, MaxLon: 179, MaxLat: 60,
		MaxZoom: 10, TileSize: 256,
	})
	root := p.Bounds(0)
	if root.MinCol != 0 || root.MaxCol != 0 || root.MinRow != 0 || root.MaxRow != 0 {
		t.Errorf("zoom 0 bounds = %+v, want the single (0,0) tile", root)
	}
}

func TestInRect(t *testing.T) {
	p := New(Config{
		MinLon: -10, MinLat: -10, MaxLon: 10, MaxLat: 10,
		MaxZoom: 4, TileSize: 256,
	})
	b := p.Bounds(4)
	if !p.InRect(4, b.MinCol, b.MinRow) {
		t.Errorf("expected (%d,%d,%d) in rect %+v", 4, b.MinCol, b.MinRow, b)
	}
	if p.InRect(4, b.MaxCol+1, b.MinRow) {
		t.Errorf("expected one column past MaxCol to be out of rect")
	}
	if p.InRect(-1, 0, 0) {
		t.Errorf("negative zoom must never be in rect")
	}
	if p.InRect(5, 0, 0) {
		t.Errorf("zoom beyond MaxZoom must never be in rect")
	}
}

func TestContains_NoPolygonAlwaysTrue(t *testing.T) {
	p := New(Config{MinLon: -1, MinLat: -1, MaxLon: 1, MaxLat: 1, MaxZoom: 2, TileSize: 256})
	if !p.Contains(1000, 1000) {
		t.Errorf("with no polygon configured, Contains must always return true")
	}
}

func TestContains_PolygonRestricts(t *testing.T) {
	poly := squareDegrees(0, 0, 1)
	p := New(Config{MinLon: -2, MinLat: -2, MaxLon: 2, MaxLat: 2, MaxZoom: 4, TileSize: 256, Polygon: poly})

	if !p.Contains(0.5, 0.5) {
		t.Errorf("expected point inside the polygon to be contained")
	}
	if p.Contains(1.5, 1.5) {
		t.Errorf("expected point outside the polygon to be excluded")
	}
}

func TestNew_PolygonTightensLeafRectangle(t *testing.T) {
	wide := New(Config{MinLon: -20, MinLat: -20, MaxLon: 20, MaxLat: 20, MaxZoom: 6, TileSize: 256})
	poly := squareDegrees(0, 0, 1)
	tight := New(Config{MinLon: -20, MinLat: -20, MaxLon: 20, MaxLat: 20, MaxZoom: 6, TileSize: 256, Polygon: poly})

	wb, tb := wide.Bounds(6), tight.Bounds(6)
	if tb.MaxCol-tb.MinCol >= wb.MaxCol-wb.MinCol {
		t.Errorf("polygon-tightened rectangle %+v not narrower than unrestricted %+v", tb, wb)
	}
}

// squareDegrees builds a closed square ring centered at (lon,lat) with the
// given half-width in degrees, already in WGS84, the shape LoadPolygon would
// hand back after reprojection.
func squareDegrees(lon, lat, half float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{lon - half, lat - half},
		{lon + half, lat - half},
		{lon + half, lat + half},
		{lon - half, lat + half},
		{lon - half, lat - half},
	}}
}
