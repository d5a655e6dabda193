package tile

import (
	"image"
	"image/color"
)

// downsampleTile creates a parent tile by combining up to 4 child tiles.
// The children correspond to the four quadrants:
//
//	topLeft     = (z+1, 2x,   2y)
//	topRight    = (z+1, 2x+1, 2y)
//	bottomLeft  = (z+1, 2x,   2y+1)
//	bottomRight = (z+1, 2x+1, 2y+1)
//
// Any child may be nil (edge tiles / partial coverage). Nil children
// contribute transparent black pixels.
//
// When all four children are uniform with the same color, the result is
// returned as a compact uniform TileData without allocating a full image.
func downsampleTile(topLeft, topRight, bottomLeft, bottomRight *TileData, tileSize int) *TileData {
	children := [4]*TileData{topLeft, topRight, bottomLeft, bottomRight}

	nonNilCount := 0
	allUniform := true
	for _, c := range children {
		if c == nil {
			continue
		}
		nonNilCount++
		if !c.IsUniform() {
			allUniform = false
		}
	}

	if nonNilCount == 0 {
		return nil
	}

	// Fast path: all 4 children present and uniform with the same color.
	if nonNilCount == 4 && allUniform {
		c0 := children[0].Color()
		if children[1].Color() == c0 && children[2].Color() == c0 && children[3].Color() == c0 {
			return newTileDataUniform(c0, tileSize)
		}
	}

	imgs := [4]*image.RGBA{
		tileDataToRGBA(topLeft),
		tileDataToRGBA(topRight),
		tileDataToRGBA(bottomLeft),
		tileDataToRGBA(bottomRight),
	}

	dst := image.NewRGBA(image.Rect(0, 0, tileSize, tileSize))
	half := tileSize / 2

	quadrants := [4]struct {
		src  *image.RGBA
		dstX int
		dstY int
	}{
		{imgs[0], 0, 0},
		{imgs[1], half, 0},
		{imgs[2], 0, half},
		{imgs[3], half, half},
	}

	for _, q := range quadrants {
		if q.src == nil {
			continue
		}
		downsampleQuadrantBilinear(dst, q.src, q.dstX, q.dstY, half, tileSize)
	}

	return newTileData(dst, tileSize)
}

// downsampleQuadrantBilinear produces each output pixel as a 2x2 box average
// of the source, with RGB channels weighted by each source pixel's alpha so
// that transparent (nodata) pixels contribute no colour. Alpha itself is a
// straight average of all 4 source pixels, nodata included — this is what
// lets a child tile's opaque/transparent split propagate upward unchanged.
func downsampleQuadrantBilinear(dst *image.RGBA, src *image.RGBA, dstOffX, dstOffY, half, tileSize int) {
	for dy := 0; dy < half; dy++ {
		for dx := 0; dx < half; dx++ {
			// Map destination pixel to a 2x2 block in the source.
			sx := dx * 2
			sy := dy * 2

			// Read the 2x2 source block, clamping to source bounds.
			p00 := srcPixel(src, sx, sy, tileSize)
			p10 := srcPixel(src, sx+1, sy, tileSize)
			p01 := srcPixel(src, sx, sy+1, tileSize)
			p11 := srcPixel(src, sx+1, sy+1, tileSize)

			pixels := [4]color.RGBA{p00, p10, p01, p11}

			// Alpha: straight average of all 4 (nodata contributes 0).
			aSum := uint32(p00.A) + uint32(p10.A) + uint32(p01.A) + uint32(p11.A)
			a := (aSum + 2) / 4

			// RGB: alpha-weighted average, so a pixel's influence on colour
			// is proportional to its own opacity.
			var rSum, gSum, bSum, aWeightSum uint32
			for _, p := range pixels {
				if p.A == 0 {
					continue
				}
				w := uint32(p.A)
				rSum += uint32(p.R) * w
				gSum += uint32(p.G) * w
				bSum += uint32(p.B) * w
				aWeightSum += w
			}

			if aWeightSum == 0 {
				continue // all nodata — leave transparent
			}

			r := (rSum + aWeightSum/2) / aWeightSum
			g := (gSum + aWeightSum/2) / aWeightSum
			b := (bSum + aWeightSum/2) / aWeightSum

			dst.SetRGBA(dstOffX+dx, dstOffY+dy, color.RGBA{
				R: uint8(r), G: uint8(g), B: uint8(b), A: uint8(a),
			})
		}
	}
}

// srcPixel reads a pixel from src, clamping coordinates to bounds.
func srcPixel(src *image.RGBA, x, y, tileSize int) color.RGBA {
	if x >= tileSize {
		x = tileSize - 1
	}
	if y >= tileSize {
		y = tileSize - 1
	}
	return src.RGBAAt(x, y)
}
