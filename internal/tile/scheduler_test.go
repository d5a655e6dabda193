package tile

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/pspoerri/freemap-tiler/internal/boundsplanner"
	"github.com/pspoerri/freemap-tiler/internal/encode"
)

// fakeSource paints every anchor as a uniform opaque color derived from its
// position, so downsampled parents are trivially checkable for presence
// without decoding JPEG bytes.
type fakeSource struct {
	mu       sync.Mutex
	warps    int
	failOnce map[[2]int]bool
}

func (f *fakeSource) Warp(zoom, tileSize, anchorX, anchorY, side int) (*image.RGBA, error) {
	f.mu.Lock()
	f.warps++
	fail := f.failOnce != nil && f.failOnce[[2]int{anchorX, anchorY}]
	if fail {
		f.failOnce[[2]int{anchorX, anchorY}] = false
	}
	f.mu.Unlock()

	if fail {
		return nil, errors.New("transient warp failure")
	}

	img := image.NewRGBA(image.Rect(0, 0, side, side))
	for i := range img.Pix {
		if i%4 == 3 {
			img.Pix[i] = 255
		} else {
			img.Pix[i] = uint8((anchorX + anchorY) % 251)
		}
	}
	return img, nil
}

// fakeSink records every persisted tile in memory.
type fakeSink struct {
	mu    sync.Mutex
	tiles map[[3]int]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{tiles: make(map[[3]int]bool)}
}

func (s *fakeSink) Put(z, x, y int, jpeg, alpha []byte) error {
	if len(jpeg) == 0 {
		return fmt.Errorf("empty jpeg payload for %d/%d/%d", z, x, y)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiles[[3]int{z, x, y}] = true
	return nil
}

func (s *fakeSink) HasTile(z, x, y int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tiles[[3]int{z, x, y}]
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tiles)
}

func testPlanner(maxZoom int) *boundsplanner.Planner {
	return boundsplanner.New(boundsplanner.Config{
		MinLon: -10, MinLat: -10, MaxLon: 10, MaxLat: 10,
		MaxZoom: maxZoom, TileSize: 4,
	})
}

func testConfig(maxZoom int) Config {
	return Config{
		MaxZoom:        maxZoom,
		TileSize:       4,
		WarpZoomOffset: 0,
		NumWorkers:     2,
		JPEGQuality:    80,
	}
}

func TestRun_WritesRootTile(t *testing.T) {
	cfg := testConfig(2)
	planner := testPlanner(2)
	source := &fakeSource{}
	sink := newFakeSink()

	stats, err := Run(cfg, planner, source, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.AnchorsProcessed == 0 {
		t.Fatal("expected at least one anchor processed")
	}
	if !sink.HasTile(0, 0, 0) {
		t.Error("expected root tile 0/0/0 to be written")
	}
	if stats.TilesWritten != int64(sink.count()) {
		t.Errorf("stats.TilesWritten = %d, want %d", stats.TilesWritten, sink.count())
	}
}

func TestRun_WritesEveryLevelDownToMaxZoom(t *testing.T) {
	cfg := testConfig(2)
	planner := testPlanner(2)
	source := &fakeSource{}
	sink := newFakeSink()

	if _, err := Run(cfg, planner, source, sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for z := 0; z <= 2; z++ {
		b := planner.Bounds(z)
		found := false
		for y := b.MinRow; y <= b.MaxRow; y++ {
			for x := b.MinCol; x <= b.MaxCol; x++ {
				if sink.HasTile(z, x, y) {
					found = true
				}
			}
		}
		if !found {
			t.Errorf("expected at least one tile written at zoom %d", z)
		}
	}
}

func TestRun_ResumeSkipsFullyWrittenAnchors(t *testing.T) {
	cfg := testConfig(1)
	cfg.Resume = true
	planner := testPlanner(1)
	source := &fakeSource{}
	sink := newFakeSink()

	if _, err := Run(cfg, planner, source, sink); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstWarps := source.warps

	if _, err := Run(cfg, planner, source, sink); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if source.warps != firstWarps {
		t.Errorf("expected resume to skip all anchors on second run: warps went from %d to %d", firstWarps, source.warps)
	}
}

func TestRun_WarpFailureIsRetriedOnce(t *testing.T) {
	cfg := testConfig(1)
	planner := testPlanner(1)
	b := planner.Bounds(cfg.MaxZoom)
	source := &fakeSource{failOnce: map[[2]int]bool{{b.MinCol, b.MinRow}: true}}
	sink := newFakeSink()

	if _, err := Run(cfg, planner, source, sink); err != nil {
		t.Fatalf("expected the retried warp to succeed, got error: %v", err)
	}
}

func TestRun_PermanentWarpFailurePropagates(t *testing.T) {
	cfg := testConfig(1)
	planner := testPlanner(1)
	source := &alwaysFailSource{}
	sink := newFakeSink()

	_, err := Run(cfg, planner, source, sink)
	if err == nil {
		t.Fatal("expected error when every warp fails")
	}
}

type alwaysFailSource struct{}

func (alwaysFailSource) Warp(zoom, tileSize, anchorX, anchorY, side int) (*image.RGBA, error) {
	return nil, errors.New("permanent failure")
}

func TestRun_InvalidConfigIsRejected(t *testing.T) {
	cfg := testConfig(1)
	cfg.JPEGQuality = 0
	planner := testPlanner(1)

	_, err := Run(cfg, planner, &fakeSource{}, newFakeSink())
	if err == nil {
		t.Fatal("expected validation error for out-of-range JPEG quality")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Errorf("expected *ConfigError, got %T", err)
	}
}

// sanity check that encode.EncodeAlphaZstd round-trips whatever fakeSource
// produces, exercised indirectly by Run's encodeAndSink path above.
func TestFakeSource_ProducesOpaqueAlpha(t *testing.T) {
	src := &fakeSource{}
	img, err := src.Warp(0, 4, 0, 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	alpha, err := encode.EncodeAlphaZstd(img, 4)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := encode.DecodeAlphaZstd(alpha, 4)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range decoded {
		if v != 255 {
			t.Fatalf("expected fully opaque alpha, got %d", v)
		}
	}
	_ = color.RGBA{}
}
