package cog

import (
	"image"
	"image/color"
	"math"

	"github.com/pspoerri/freemap-tiler/internal/coord"
)

// SourceSet is the pre-opened collection of input rasters a warp draws from,
// augmented with the CRS bounding box of each so a given anchor region can
// cheaply skip sources it doesn't overlap.
type SourceSet struct {
	infos       []sourceInfo
	proj        coord.Projection
	cache       *TileCache
	polygonTest func(lon, lat float64) bool
}

type sourceInfo struct {
	reader  *Reader
	minCRSX float64
	minCRSY float64
	maxCRSX float64
	maxCRSY float64
	geo     GeoInfo
}

// NewSourceSet builds the per-source CRS bounds used to filter candidates
// during warping, and attaches the shared tile cache every source reads
// through.
func NewSourceSet(sources []*Reader, proj coord.Projection, cache *TileCache) *SourceSet {
	infos := make([]sourceInfo, len(sources))
	for i, src := range sources {
		minX, minY, maxX, maxY := src.BoundsInCRS()
		infos[i] = sourceInfo{
			reader:  src,
			minCRSX: minX,
			minCRSY: minY,
			maxCRSX: maxX,
			maxCRSY: maxY,
			geo:     src.GeoInfo(),
		}
	}
	return &SourceSet{infos: infos, proj: proj, cache: cache}
}

// SetPolygonTest installs a WGS84 lon/lat predicate used to mask warped
// pixels outside an optional bounding polygon — per spec §4.2, pixels
// outside the bounding polygon get alpha=0 just like pixels outside the
// source footprint. A nil predicate (the default) warps the full footprint.
func (s *SourceSet) SetPolygonTest(test func(lon, lat float64) bool) {
	s.polygonTest = test
}

// anchorSource augments a sourceInfo with the overview level and pixel
// dimensions appropriate for one anchor's output resolution. These are
// constant across every pixel of the anchor, so computing them once instead
// of per-pixel eliminates a per-pixel OverviewForZoom scan.
type anchorSource struct {
	reader         *Reader
	geo            GeoInfo
	minCRSX        float64
	minCRSY        float64
	maxCRSX        float64
	maxCRSY        float64
	level          int
	levelPixelSize float64
	imgW           int
	imgH           int
}

func (s *SourceSet) prepare(outputResCRS, minX, minY, maxX, maxY float64) []anchorSource {
	var result []anchorSource
	for i := range s.infos {
		src := &s.infos[i]
		if maxX < src.minCRSX || minX > src.maxCRSX || maxY < src.minCRSY || minY > src.maxCRSY {
			continue
		}
		level := src.reader.OverviewForZoom(outputResCRS)
		result = append(result, anchorSource{
			reader:         src.reader,
			geo:            src.geo,
			minCRSX:        src.minCRSX,
			minCRSY:        src.minCRSY,
			maxCRSX:        src.maxCRSX,
			maxCRSY:        src.maxCRSY,
			level:          level,
			levelPixelSize: src.reader.IFDPixelSize(level),
			imgW:           src.reader.IFDWidth(level),
			imgH:           src.reader.IFDHeight(level),
		})
	}
	return result
}

// anchorCRSBounds computes the CRS bounding box of a square global-pixel
// region by projecting all four corners through WGS84 and taking the
// extremes.
func anchorCRSBounds(zoom, tileSize int, globalX0, globalY0, globalX1, globalY1 float64, proj coord.Projection) (minX, minY, maxX, maxY float64) {
	corners := [4][2]float64{
		{globalX0, globalY0}, {globalX1, globalY0},
		{globalX0, globalY1}, {globalX1, globalY1},
	}
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		lon, lat := coord.GlobalPixelToLonLat(zoom, tileSize, c[0], c[1])
		x, y := proj.FromWGS84(lon, lat)
		minX = math.Min(minX, x)
		maxX = math.Max(maxX, x)
		minY = math.Min(minY, y)
		maxY = math.Max(maxY, y)
	}
	return
}

// Warp renders a square region of the output pixel grid at the given zoom
// level by per-pixel inverse reprojection: each output pixel's center is
// carried through WGS84 into the source CRS and bilinearly sampled from
// whichever source raster covers it. anchorX, anchorY are the global pixel
// coordinates (in the zoom's grid of 2^zoom*tileSize pixels per side) of the region's
// top-left corner, and side is the region's width and height in pixels —
// callers warp an entire anchor (a tileSize*2^k square covering one subtree
// of the pyramid) in one call rather than one leaf tile at a time, so the
// per-anchor overview/bounds setup in prepare is amortized across every
// pixel the anchor will ever downsample from.
func (s *SourceSet) Warp(zoom, tileSize int, anchorX, anchorY, side int) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, side, side))

	globalX0 := float64(anchorX)
	globalY0 := float64(anchorY)
	_, midLat := coord.GlobalPixelToLonLat(zoom, tileSize, globalX0+float64(side)/2, globalY0+float64(side)/2)
	outputResMeters := coord.ResolutionAtLat(midLat, zoom, tileSize)
	outputResCRS := coord.MetersToPixelSizeCRS(outputResMeters, s.proj.EPSG(), midLat)

	minX, minY, maxX, maxY := anchorCRSBounds(zoom, tileSize, globalX0, globalY0, globalX0+float64(side), globalY0+float64(side), s.proj)
	sources := s.prepare(outputResCRS, minX, minY, maxX, maxY)
	if len(sources) == 0 {
		return nil, nil
	}

	hasData := false
	var firstErr error

	for py := 0; py < side; py++ {
		for px := 0; px < side; px++ {
			lon, lat := coord.GlobalPixelToLonLat(zoom, tileSize, globalX0+float64(px)+0.5, globalY0+float64(py)+0.5)
			if s.polygonTest != nil && !s.polygonTest(lon, lat) {
				continue // outside the bounding polygon: leave transparent
			}
			srcX, srcY := s.proj.FromWGS84(lon, lat)

			r, g, b, a, found, err := s.sample(sources, srcX, srcY)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			if found {
				img.SetRGBA(px, py, color.RGBA{R: r, G: g, B: b, A: a})
				hasData = true
			}
		}
	}

	if !hasData {
		if firstErr != nil {
			return nil, &SourceReadError{Op: "warp", Err: firstErr}
		}
		return nil, nil
	}
	return img, nil
}

// sample locates the first candidate source whose CRS bounds cover
// (srcX, srcY) and bilinearly samples it. A source outside those bounds is
// skipped silently (expected: sources rarely cover the whole mosaic); a
// source inside the bounds that fails to decode is recorded as err and the
// next candidate is tried, so one damaged source tile doesn't blank out a
// region another source also covers.
func (s *SourceSet) sample(sources []anchorSource, srcX, srcY float64) (r, g, b, a uint8, found bool, err error) {
	for i := range sources {
		src := &sources[i]
		if srcX < src.minCRSX || srcX > src.maxCRSX || srcY < src.minCRSY || srcY > src.maxCRSY {
			continue
		}

		pixX := (srcX - src.geo.OriginX) / src.levelPixelSize
		pixY := (src.geo.OriginY - srcY) / src.levelPixelSize
		if pixX < 0 || pixX >= float64(src.imgW) || pixY < 0 || pixY >= float64(src.imgH) {
			continue
		}

		rr, gg, bb, aa, sampleErr := s.bilinearSample(src, pixX, pixY)
		if sampleErr != nil {
			err = sampleErr
			continue
		}
		return rr, gg, bb, aa, true, nil
	}
	return 0, 0, 0, 0, false, err
}

// bilinearSample interpolates the four source pixels surrounding (fx, fy)
// in the source's chosen overview level, reading each through the shared
// tile cache so repeated samples from the same source tile — common when
// many output pixels land in one source tile — decode it only once.
func (s *SourceSet) bilinearSample(src *anchorSource, fx, fy float64) (uint8, uint8, uint8, uint8, error) {
	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	x1 := x0 + 1
	y1 := y0 + 1

	x0 = clampInt(x0, 0, src.imgW-1)
	y0 = clampInt(y0, 0, src.imgH-1)
	x1 = clampInt(x1, 0, src.imgW-1)
	y1 = clampInt(y1, 0, src.imgH-1)

	dx := fx - math.Floor(fx)
	dy := fy - math.Floor(fy)

	p00, err := s.readPixel(src, x0, y0)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	p10, err := s.readPixel(src, x1, y0)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	p01, err := s.readPixel(src, x0, y1)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	p11, err := s.readPixel(src, x1, y1)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	lerp := func(a, b, t float64) float64 { return a*(1-t) + b*t }
	bilerp := func(v00, v10, v01, v11 uint8) uint8 {
		top := lerp(float64(v00), float64(v10), dx)
		bot := lerp(float64(v01), float64(v11), dx)
		v := lerp(top, bot, dy)
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		return uint8(v)
	}

	return bilerp(p00[0], p10[0], p01[0], p11[0]),
		bilerp(p00[1], p10[1], p01[1], p11[1]),
		bilerp(p00[2], p10[2], p01[2], p11[2]),
		bilerp(p00[3], p10[3], p01[3], p11[3]), nil
}

func (s *SourceSet) readPixel(src *anchorSource, px, py int) ([4]uint8, error) {
	dims := src.reader.IFDTileSize(src.level)
	tw, th := dims[0], dims[1]

	col := px / tw
	row := py / th
	localX := px % tw
	localY := py % th

	var tile image.Image
	if s.cache != nil {
		tile = s.cache.Get(src.reader.ID(), src.level, col, row)
	}
	if tile == nil {
		var err error
		tile, err = src.reader.ReadTile(src.level, col, row)
		if err != nil {
			return [4]uint8{}, err
		}
		if s.cache != nil {
			s.cache.Put(src.reader.ID(), src.level, col, row, tile)
		}
	}

	switch img := tile.(type) {
	case *image.YCbCr:
		c := img.YCbCrAt(localX, localY)
		rr, g, b, _ := c.RGBA()
		return [4]uint8{uint8(rr >> 8), uint8(g >> 8), uint8(b >> 8), 255}, nil
	case *image.RGBA:
		c := img.RGBAAt(localX, localY)
		return [4]uint8{c.R, c.G, c.B, c.A}, nil
	default:
		rr, g, b, a := tile.At(localX, localY).RGBA()
		return [4]uint8{uint8(rr >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}, nil
	}
}
