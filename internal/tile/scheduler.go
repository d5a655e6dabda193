package tile

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/pspoerri/freemap-tiler/internal/boundsplanner"
	"github.com/pspoerri/freemap-tiler/internal/coord"
	"github.com/pspoerri/freemap-tiler/internal/encode"
)

// Source is the minimal warp interface the scheduler needs from a source
// adapter — satisfied by *cog.SourceSet. anchorX/anchorY are global pixel
// coordinates at zoom, side is the square region's width and height.
type Source interface {
	Warp(zoom, tileSize, anchorX, anchorY, side int) (*image.RGBA, error)
}

// Sink is the minimal persistence interface the scheduler needs — satisfied
// by *mbtiles.Sink via a thin adapter in cmd/freemap-tiler. Kept narrow so
// this package never imports internal/mbtiles directly.
type Sink interface {
	Put(z, x, y int, jpeg, alpha []byte) error
	HasTile(z, x, y int) bool
}

// Stats summarizes one completed run.
type Stats struct {
	AnchorsProcessed int64
	TilesWritten     int64
}

// scheduler drives the Z-order traversal described in spec §4.3: a bounded
// work channel of anchor tasks feeds a fixed worker pool. A worker that
// closes a parent's set of siblings downsamples, encodes, and sinks it — and
// if that completes the parent's own siblings one level up, climbs the
// spine itself rather than handing the follow-up off through the channel:
// with as many as 4^k completions falling out of a single anchor, routing
// every one of them back onto a channel only N goroutines drain risks each
// of those goroutines blocking on a full send with nobody left to receive.
// Climbing inline keeps that cascade on the stack of the worker that
// discovered it, which is always free to make progress.
type scheduler struct {
	cfg     Config
	planner *boundsplanner.Planner
	source  Source
	sink    Sink
	cache   *Cache
	jpegEnc *encode.JPEGEncoder
	side    int

	workCh chan [2]int // pending anchor (x, y) tasks
	wg     sync.WaitGroup

	shutdown atomic.Bool
	errOnce  sync.Once
	fatalErr error

	anchorsProcessed atomic.Int64
	tilesWritten     atomic.Int64

	progress *progressBar
}

// Run builds the full pyramid described by cfg and planner, warping anchors
// through source and persisting finished tiles to sink. It returns once
// every anchor has been processed and every completed tile, up to the root,
// has been written — or once a fatal error has propagated through every
// in-flight task.
func Run(cfg Config, planner *boundsplanner.Planner, source Source, sink Sink) (Stats, error) {
	if err := cfg.Validate(); err != nil {
		return Stats{}, err
	}

	anchorZ, k := cfg.anchorZoom()
	side := cfg.TileSize << uint(k)
	n := 1 << uint(k)

	b := planner.Bounds(anchorZ)
	var anchors [][2]int
	for y := b.MinRow; y <= b.MaxRow; y++ {
		for x := b.MinCol; x <= b.MaxCol; x++ {
			if !planner.InRect(anchorZ, x, y) {
				continue
			}
			if cfg.Resume && anchorFullyResumed(sink, cfg, x, y, n) {
				continue
			}
			anchors = append(anchors, [2]int{x, y})
		}
	}
	coord.SortByMorton(anchors)

	numWorkers := ResolveWorkerCount(cfg, cfg.Debug)

	sc := &scheduler{
		cfg:     cfg,
		planner: planner,
		source:  source,
		sink:    sink,
		cache:   NewCache(planner, cfg.TileSize),
		jpegEnc: &encode.JPEGEncoder{Quality: cfg.JPEGQuality},
		side:    side,
		workCh:  make(chan [2]int, numWorkers*2),
	}
	sc.progress = newProgressBar("Building pyramid", int64(len(anchors)))
	sc.progress.SetCommitCounter(&sc.tilesWritten)

	var workerWG sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			sc.workerLoop()
		}()
	}

	for _, a := range anchors {
		if sc.shutdown.Load() {
			break
		}
		sc.wg.Add(1)
		sc.workCh <- [2]int{a[0], a[1]}
	}
	close(sc.workCh)

	waitDone := make(chan struct{})
	go func() {
		sc.wg.Wait()
		close(waitDone)
	}()
	<-waitDone

	workerWG.Wait()
	sc.progress.Finish()

	if sc.fatalErr != nil {
		return Stats{}, sc.fatalErr
	}
	return Stats{
		AnchorsProcessed: sc.anchorsProcessed.Load(),
		TilesWritten:     sc.tilesWritten.Load(),
	}, nil
}

// anchorFullyResumed reports whether every one of an anchor's n*n leaf tiles
// is already present in sink, per spec §9's resumability rule: an anchor is
// only skipped if every leaf beneath it survived the prior run.
func anchorFullyResumed(sink Sink, cfg Config, anchorX, anchorY, n int) bool {
	for ly := 0; ly < n; ly++ {
		for lx := 0; lx < n; lx++ {
			if !sink.HasTile(cfg.MaxZoom, anchorX*n+lx, anchorY*n+ly) {
				return false
			}
		}
	}
	return true
}

func (sc *scheduler) workerLoop() {
	for xy := range sc.workCh {
		sc.processAnchor(xy[0], xy[1])
	}
}

// processAnchor warps one anchor region, slices it into leaf tiles, and
// hands each leaf to deliverLeaf, which persists the non-transparent ones and
// (unless max-zoom is 0, where the anchor IS the root) reports every leaf to
// the cache.
func (sc *scheduler) processAnchor(x, y int) {
	defer sc.wg.Done()
	if sc.shutdown.Load() {
		return
	}

	gx, gy := x*sc.side, y*sc.side
	rgba, err := sc.warpWithRetry(gx, gy, sc.side)
	if err != nil {
		sc.fail(err)
		return
	}

	leaf := sc.cfg.TileSize
	n := sc.side / leaf
	for ly := 0; ly < n; ly++ {
		for lx := 0; lx < n; lx++ {
			leafX, leafY := x*n+lx, y*n+ly
			if !sc.planner.InRect(sc.cfg.MaxZoom, leafX, leafY) {
				continue
			}

			var td *TileData
			if rgba != nil {
				sub := sliceLeaf(rgba, lx*leaf, ly*leaf, leaf)
				if isFullyTransparent(sub) {
					PutRGBA(sub)
				} else {
					td = newTileData(sub, leaf)
				}
			}
			sc.deliverLeaf(sc.cfg.MaxZoom, leafX, leafY, td)
		}
	}

	sc.anchorsProcessed.Add(1)
	sc.progress.Increment()
}

// warpWithRetry retries a failed warp exactly once, per spec §4.2.
func (sc *scheduler) warpWithRetry(gx, gy, side int) (*image.RGBA, error) {
	rgba, err := sc.source.Warp(sc.cfg.MaxZoom, sc.cfg.TileSize, gx, gy, side)
	if err == nil {
		return rgba, nil
	}
	return sc.source.Warp(sc.cfg.MaxZoom, sc.cfg.TileSize, gx, gy, side)
}

// processGroup downsamples a completed set of siblings into their parent,
// releases the children, and hands the parent to deliverLeaf, which persists
// it and, unless it is the root, inserts it into the cache one level up.
// Called synchronously from deliver, on
// the stack of whichever worker discovered the completed group, so a
// cascade that climbs all the way to the root never touches workCh.
func (sc *scheduler) processGroup(cg *CompletedGroup) {
	if sc.shutdown.Load() {
		return
	}

	parent := downsampleTile(cg.Children[0], cg.Children[1], cg.Children[2], cg.Children[3], sc.cfg.TileSize)
	for _, c := range cg.Children {
		if c != nil {
			c.release()
		}
	}

	sc.deliverLeaf(cg.Parent.Z, cg.Parent.X, cg.Parent.Y, parent)
}

// deliverLeaf persists a produced tile and then routes it to the cache so
// its parent can complete. The root has no parent, so its buffer is
// released right after it is written.
func (sc *scheduler) deliverLeaf(z, x, y int, td *TileData) {
	sc.encodeAndSink(z, x, y, td)
	if z == 0 {
		if td != nil {
			td.release()
		}
		return
	}
	sc.deliver(z, x, y, td)
}

func (sc *scheduler) deliver(z, x, y int, td *TileData) {
	cg, err := sc.cache.Insert(z, x, y, td)
	if err != nil {
		sc.fail(err)
		return
	}
	if cg == nil {
		return
	}
	sc.processGroup(cg)
}

// encodeAndSink JPEG-encodes the RGB plane, ZSTD-compresses the alpha
// plane, and persists both. A nil td (fully transparent, per spec §3) is
// silently dropped — it is never written. td is not released here: below
// the root the cache still needs it for the parent's downsample.
func (sc *scheduler) encodeAndSink(z, x, y int, td *TileData) {
	if td == nil || sc.shutdown.Load() {
		return
	}

	jpegBytes, err := sc.jpegEnc.Encode(td.AsImage())
	if err != nil {
		sc.fail(err)
		return
	}
	alphaBytes, err := encode.EncodeAlphaZstd(td.ToRGBA(), sc.cfg.TileSize)
	if err != nil {
		sc.fail(err)
		return
	}
	if err := sc.sink.Put(z, x, y, jpegBytes, alphaBytes); err != nil {
		sc.fail(err)
		return
	}

	sc.tilesWritten.Add(1)
}

func (sc *scheduler) fail(err error) {
	sc.errOnce.Do(func() {
		sc.fatalErr = err
		sc.shutdown.Store(true)
	})
}

// sliceLeaf copies one tileSize*tileSize region out of a larger anchor
// buffer into a standalone, pool-backed *image.RGBA — a straight SubImage
// would keep the anchor's stride, breaking TileData's contiguous-Pix
// uniform-color scan.
func sliceLeaf(anchor *image.RGBA, ox, oy, size int) *image.RGBA {
	dst := GetRGBA(size, size)
	for row := 0; row < size; row++ {
		srcOff := (oy+row)*anchor.Stride + ox*4
		dstOff := row * dst.Stride
		copy(dst.Pix[dstOff:dstOff+size*4], anchor.Pix[srcOff:srcOff+size*4])
	}
	return dst
}
