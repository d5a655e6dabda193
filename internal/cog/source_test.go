package cog

import (
	"math"
	"testing"

	"github.com/pspoerri/freemap-tiler/internal/coord"
)

func TestClampInt(t *testing.T) {
	tests := []struct {
		v, lo, hi, want int
	}{
		{5, 0, 10, 5},
		{-5, 0, 10, 0},
		{15, 0, 10, 10},
		{0, 0, 10, 0},
		{10, 0, 10, 10},
	}
	for _, tt := range tests {
		if got := clampInt(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("clampInt(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}

func TestAnchorCRSBounds_WebMercator(t *testing.T) {
	proj := &coord.WebMercatorProj{}
	tileSize := 256

	// A single zoom-0 tile spans the whole world; its global pixel bounds
	// are [0, 256) in both axes.
	minX, minY, maxX, maxY := anchorCRSBounds(0, tileSize, 0, 0, 256, 256, proj)

	if minX >= maxX || minY >= maxY {
		t.Fatalf("degenerate bounds: (%v,%v)-(%v,%v)", minX, minY, maxX, maxY)
	}

	// The whole world in Web Mercator is +/- OriginShift in X.
	if math.Abs(minX+coord.OriginShift) > 1 {
		t.Errorf("minX = %v, want ~%v", minX, -coord.OriginShift)
	}
	if math.Abs(maxX-coord.OriginShift) > 1 {
		t.Errorf("maxX = %v, want ~%v", maxX, coord.OriginShift)
	}
}

func TestAnchorCRSBounds_SubsetIsNarrower(t *testing.T) {
	proj := &coord.WebMercatorProj{}
	tileSize := 256

	fullMinX, fullMinY, fullMaxX, fullMaxY := anchorCRSBounds(2, tileSize, 0, 0, 4*256, 4*256, proj)
	subMinX, subMinY, subMaxX, subMaxY := anchorCRSBounds(2, tileSize, 256, 256, 2*256, 2*256, proj)

	if subMinX < fullMinX || subMaxX > fullMaxX {
		t.Errorf("sub-anchor X bounds (%v,%v) not within full bounds (%v,%v)", subMinX, subMaxX, fullMinX, fullMaxX)
	}
	if subMinY < fullMinY || subMaxY > fullMaxY {
		t.Errorf("sub-anchor Y bounds (%v,%v) not within full bounds (%v,%v)", subMinY, subMaxY, fullMinY, fullMaxY)
	}
}

func TestNewSourceSet_EmptySources(t *testing.T) {
	ss := NewSourceSet(nil, &coord.WebMercatorProj{}, NewTileCache(16))
	img, err := ss.Warp(5, 256, 0, 0, 256)
	if err != nil {
		t.Fatalf("Warp with no sources returned error: %v", err)
	}
	if img != nil {
		t.Errorf("Warp with no sources should return nil image, got %v", img)
	}
}

func TestSourceReadError_Unwrap(t *testing.T) {
	inner := errSentinel("boom")
	e := &SourceReadError{Path: "x.tif", Op: "read", Err: inner}
	if e.Unwrap() != inner {
		t.Errorf("Unwrap() did not return the wrapped error")
	}
	if e.Error() == "" {
		t.Errorf("Error() returned empty string")
	}
}

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
