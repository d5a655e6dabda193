// Package boundsplanner computes, for every zoom level from 0 up to a
// configured maximum, the rectangle of tiles that intersect a source
// raster's footprint, optionally tightened by a bounding polygon.
package boundsplanner

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/pspoerri/freemap-tiler/internal/coord"
)

// ZoomBounds is the inclusive tile rectangle covering the footprint at one
// zoom level.
type ZoomBounds struct {
	MinCol, MaxCol, MinRow, MaxRow int
}

// Config supplies the planner with the source footprint in WGS84 and an
// optional bounding polygon, already reprojected to WGS84 (see LoadPolygon).
type Config struct {
	MinLon, MinLat, MaxLon, MaxLat float64
	MaxZoom                        int
	TileSize                       int
	Polygon                        orb.Polygon // nil/empty when unset
}

// Planner holds the per-zoom tile rectangle and, if configured, the
// WGS84-projected bounding polygon used to mask individual pixels during
// warping.
type Planner struct {
	maxZoom int
	levels  []ZoomBounds
	polygon orb.Polygon
}

// New computes the zoom-0..MaxZoom rectangles. At MaxZoom the rectangle is
// the tile-index bounding box of the source footprint (intersected with the
// polygon's own bounding box, if one was supplied, per spec §4.1's "tightened
// by the bounding polygon"). Each coarser level's rectangle is its child's
// scaled by one half, per the pyramid-bounds invariant.
func New(cfg Config) *Planner {
	minX, minY := coord.LonLatToTile(cfg.MinLon, cfg.MaxLat, cfg.MaxZoom)
	maxX, maxY := coord.LonLatToTile(cfg.MaxLon, cfg.MinLat, cfg.MaxZoom)

	if len(cfg.Polygon) > 0 {
		pb := cfg.Polygon.Bound()
		pMinX, pMinY := coord.LonLatToTile(pb.Min[0], pb.Max[1], cfg.MaxZoom)
		pMaxX, pMaxY := coord.LonLatToTile(pb.Max[0], pb.Min[1], cfg.MaxZoom)
		minX, maxX = maxInt(minX, pMinX), minInt(maxX, pMaxX)
		minY, maxY = maxInt(minY, pMinY), minInt(maxY, pMaxY)
	}

	levels := make([]ZoomBounds, cfg.MaxZoom+1)
	levels[cfg.MaxZoom] = ZoomBounds{MinCol: minX, MaxCol: maxX, MinRow: minY, MaxRow: maxY}
	for z := cfg.MaxZoom - 1; z >= 0; z-- {
		child := levels[z+1]
		levels[z] = ZoomBounds{
			MinCol: child.MinCol / 2, MaxCol: child.MaxCol / 2,
			MinRow: child.MinRow / 2, MaxRow: child.MaxRow / 2,
		}
	}

	return &Planner{maxZoom: cfg.MaxZoom, levels: levels, polygon: cfg.Polygon}
}

// MaxZoom returns the configured maximum (leaf) zoom level.
func (p *Planner) MaxZoom() int { return p.maxZoom }

// Bounds returns the tile rectangle at zoom z.
func (p *Planner) Bounds(z int) ZoomBounds { return p.levels[z] }

// InRect reports whether tile (z,x,y) falls within the planner's rectangle
// for that level. Used to tell apart a pyramid-edge "this sibling does not
// exist" from "this sibling exists but hasn't arrived yet".
func (p *Planner) InRect(z, x, y int) bool {
	if z < 0 || z >= len(p.levels) {
		return false
	}
	b := p.levels[z]
	return x >= b.MinCol && x <= b.MaxCol && y >= b.MinRow && y <= b.MaxRow
}

// Contains reports whether a WGS84 point lies inside the bounding polygon.
// Always true when no polygon was configured — the rectangle is then the
// only restriction in effect.
func (p *Planner) Contains(lon, lat float64) bool {
	if len(p.polygon) == 0 {
		return true
	}
	return planar.PolygonContains(p.polygon, orb.Point{lon, lat})
}

// LimitsJSON returns the MBTiles "limits" extension metadata value: for
// every zoom 0..MaxZoom, the rectangle's four bounds keyed "min_x"/"max_x"/
// "min_y"/"max_y".
func (p *Planner) LimitsJSON() map[string]ZoomBoundsJSON {
	out := make(map[string]ZoomBoundsJSON, len(p.levels))
	for z, b := range p.levels {
		out[fmt.Sprintf("%d", z)] = ZoomBoundsJSON{
			MinX: b.MinCol, MaxX: b.MaxCol, MinY: b.MinRow, MaxY: b.MaxRow,
		}
	}
	return out
}

// ZoomBoundsJSON is the JSON shape of one zoom level's entry in the "limits"
// metadata value.
type ZoomBoundsJSON struct {
	MinX int `json:"min_x"`
	MaxX int `json:"max_x"`
	MinY int `json:"min_y"`
	MaxY int `json:"max_y"`
}

// LoadPolygon reads a GeoJSON polygon (a single Feature, FeatureCollection,
// or bare Geometry) whose coordinates are in the given projection's native
// CRS — per spec §6 `--bounding-polygon` is "GeoJSON polygon, source-SRS
// coordinates" — and reprojects every vertex to WGS84 so the rest of the
// pipeline (which works in lon/lat throughout) can test against it directly.
func LoadPolygon(path string, proj coord.Projection) (orb.Polygon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bounding polygon %s: %w", path, err)
	}

	geom, err := extractGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("parsing bounding polygon %s: %w", path, err)
	}

	poly, err := asPolygon(geom)
	if err != nil {
		return nil, fmt.Errorf("bounding polygon %s: %w", path, err)
	}

	return projectPolygon(poly, proj), nil
}

func extractGeometry(data []byte) (orb.Geometry, error) {
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil {
		if len(fc.Features) == 0 {
			return nil, fmt.Errorf("feature collection has no features")
		}
		return fc.Features[0].Geometry, nil
	}
	if f, err := geojson.UnmarshalFeature(data); err == nil {
		return f.Geometry, nil
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, err
	}
	return g.Geometry(), nil
}

func asPolygon(g orb.Geometry) (orb.Polygon, error) {
	switch v := g.(type) {
	case orb.Polygon:
		return v, nil
	case orb.MultiPolygon:
		if len(v) == 0 {
			return nil, fmt.Errorf("multipolygon has no rings")
		}
		return v[0], nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %T, want Polygon", g)
	}
}

func projectPolygon(poly orb.Polygon, proj coord.Projection) orb.Polygon {
	out := make(orb.Polygon, len(poly))
	for i, ring := range poly {
		nr := make(orb.Ring, len(ring))
		for j, pt := range ring {
			lon, lat := proj.ToWGS84(pt[0], pt[1])
			nr[j] = orb.Point{lon, lat}
		}
		out[i] = nr
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
