// Command freemap-tiler converts a GeoTIFF/COG raster into a Web Mercator
// MBTiles pyramid: RGB as JPEG, a per-tile ZSTD-compressed alpha mask, and
// per-zoom column/row extents in the "limits" metadata key.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pspoerri/freemap-tiler/internal/boundsplanner"
	"github.com/pspoerri/freemap-tiler/internal/cog"
	"github.com/pspoerri/freemap-tiler/internal/coord"
	"github.com/pspoerri/freemap-tiler/internal/mbtiles"
	"github.com/pspoerri/freemap-tiler/internal/tile"
)

func main() {
	var (
		sourceFile      string
		targetFile      string
		maxZoom         int
		sourceSRS       string
		transformPipe   string
		boundingPolygon string
		tileSize        int
		numThreads      int
		jpegQuality     int
		warpZoomOffset  int
		resume          bool
		debug           bool
		attribution     string
		name            string
	)

	flag.StringVar(&sourceFile, "source-file", "", "Input raster (GeoTIFF/COG)")
	flag.StringVar(&targetFile, "target-file", "", "Output MBTiles file")
	flag.IntVar(&maxZoom, "max-zoom", -1, "Highest zoom level to produce (leaves)")
	flag.StringVar(&sourceSRS, "source-srs", "", "SRS authority code for the source, e.g. 4326, 3857, 2056 (default: detected from the GeoTIFF tags)")
	flag.StringVar(&transformPipe, "transform-pipeline", "", "Explicit projection pipeline expression (advanced override of --source-srs)")
	flag.StringVar(&boundingPolygon, "bounding-polygon", "", "GeoJSON polygon, source-SRS coordinates")
	flag.IntVar(&tileSize, "tile-size", 256, "Output tile size in pixels; must be a positive multiple of 2")
	flag.IntVar(&numThreads, "num-threads", runtime.GOMAXPROCS(0), "Number of parallel workers")
	flag.IntVar(&jpegQuality, "jpeg-quality", 85, "JPEG quality 1-100")
	flag.IntVar(&warpZoomOffset, "warp-zoom-offset", 3, "Anchor offset k: anchors are warped at zoom max-zoom-k")
	flag.BoolVar(&resume, "resume", false, "Continue an existing target")
	flag.BoolVar(&debug, "debug", false, "Emit additional diagnostics")
	flag.StringVar(&attribution, "attribution", "", "MBTiles attribution metadata value")
	flag.StringVar(&name, "name", "", "MBTiles name metadata value (default: source file base name)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: freemap-tiler --source-file PATH --target-file PATH --max-zoom N [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Convert a GeoTIFF/COG raster into a Web Mercator MBTiles tile pyramid.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if err := run(runArgs{
		sourceFile:      sourceFile,
		targetFile:      targetFile,
		maxZoom:         maxZoom,
		sourceSRS:       sourceSRS,
		transformPipe:   transformPipe,
		boundingPolygon: boundingPolygon,
		tileSize:        tileSize,
		numThreads:      numThreads,
		jpegQuality:     jpegQuality,
		warpZoomOffset:  warpZoomOffset,
		resume:          resume,
		debug:           debug,
		attribution:     attribution,
		name:            name,
	}); err != nil {
		log.Fatalf("%v", err)
	}
}

type runArgs struct {
	sourceFile      string
	targetFile      string
	maxZoom         int
	sourceSRS       string
	transformPipe   string
	boundingPolygon string
	tileSize        int
	numThreads      int
	jpegQuality     int
	warpZoomOffset  int
	resume          bool
	debug           bool
	attribution     string
	name            string
}

func run(a runArgs) error {
	if a.sourceFile == "" {
		return &tile.ConfigError{Flag: "--source-file", Err: errRequired}
	}
	if a.targetFile == "" {
		return &tile.ConfigError{Flag: "--target-file", Err: errRequired}
	}
	if a.maxZoom < 0 {
		return &tile.ConfigError{Flag: "--max-zoom", Err: errRequired}
	}

	start := time.Now()

	source, err := cog.Open(a.sourceFile)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer source.Close()

	proj, err := resolveProjection(source, a.sourceSRS, a.transformPipe)
	if err != nil {
		return err
	}

	if a.debug {
		log.Printf("Source: %s (EPSG:%d)", a.sourceFile, proj.EPSG())
	}

	cfg := tile.Config{
		MaxZoom:        a.maxZoom,
		TileSize:       a.tileSize,
		WarpZoomOffset: a.warpZoomOffset,
		NumWorkers:     a.numThreads,
		JPEGQuality:    a.jpegQuality,
		Resume:         a.resume,
		Debug:          a.debug,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	minLon, minLat, maxLon, maxLat := sourceBoundsWGS84(source, proj)

	plannerCfg := boundsplanner.Config{
		MinLon: minLon, MinLat: minLat, MaxLon: maxLon, MaxLat: maxLat,
		MaxZoom: a.maxZoom, TileSize: a.tileSize,
	}
	if a.boundingPolygon != "" {
		poly, err := boundsplanner.LoadPolygon(a.boundingPolygon, proj)
		if err != nil {
			return err
		}
		plannerCfg.Polygon = poly
	}
	planner := boundsplanner.New(plannerCfg)

	cache := cog.NewTileCache(1024)
	sourceSet := cog.NewSourceSet([]*cog.Reader{source}, proj, cache)
	if len(plannerCfg.Polygon) > 0 {
		sourceSet.SetPolygonTest(planner.Contains)
	}

	sink, err := mbtiles.Open(a.targetFile, a.resume)
	if err != nil {
		return err
	}
	defer sink.Close()

	sinkAdapter := &schedulerSink{sink: sink}

	if a.debug {
		log.Printf("Zoom 0-%d, tile size %d, warp-zoom-offset %d, %d worker(s)",
			a.maxZoom, a.tileSize, a.warpZoomOffset, tile.ResolveWorkerCount(cfg, a.debug))
	}

	stats, err := tile.Run(cfg, planner, sourceSet, sinkAdapter)
	if err != nil {
		return fmt.Errorf("tile generation: %w", err)
	}

	tileName := a.name
	if tileName == "" {
		tileName = baseNameWithoutExt(a.sourceFile)
	}
	meta := mbtiles.Metadata{
		Name:        tileName,
		Attribution: a.attribution,
		MinZoom:     0,
		MaxZoom:     a.maxZoom,
		Bounds:      [4]float64{minLon, minLat, maxLon, maxLat},
		Center:      [3]float64{(minLon + maxLon) / 2, (minLat + maxLat) / 2, float64(a.maxZoom) / 2},
		Limits:      toZoomLimits(planner.LimitsJSON()),
	}
	if err := sink.Finalize(meta); err != nil {
		return fmt.Errorf("finalizing mbtiles: %w", err)
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	fi, _ := os.Stat(a.targetFile)
	fmt.Printf("Done: %d anchors, %d tiles written, %s, %v -> %s\n",
		stats.AnchorsProcessed, stats.TilesWritten, humanSize(fileSize(fi)), elapsed, a.targetFile)
	return nil
}

// schedulerSink adapts *mbtiles.Sink's Record-based Put to the narrow
// tile.Sink interface the scheduler depends on, so internal/tile never
// imports internal/mbtiles directly.
type schedulerSink struct {
	sink *mbtiles.Sink
}

func (s *schedulerSink) Put(z, x, y int, jpeg, alpha []byte) error {
	return s.sink.Put(mbtiles.Record{Z: z, X: x, Y: y, JPEG: jpeg, Alpha: alpha})
}

func (s *schedulerSink) HasTile(z, x, y int) bool {
	return s.sink.HasTile(z, x, y)
}

var errRequired = fmt.Errorf("required")

var epsgDigits = regexp.MustCompile(`\d+`)

// resolveProjection picks the Projection to reproject output pixels against
// the source CRS. --transform-pipeline, when given, is an advanced override
// whose authority code (e.g. embedded in "EPSG:4326" or
// "urn:ogc:def:crs:EPSG::3857") takes precedence over --source-srs; plain
// --source-srs is parsed the same way; with neither given, the EPSG code
// embedded in the GeoTIFF's own tags is used.
func resolveProjection(source *cog.Reader, sourceSRS, transformPipeline string) (coord.Projection, error) {
	epsg := 0
	flagName := "--source-srs"
	switch {
	case transformPipeline != "":
		flagName = "--transform-pipeline"
		digits := epsgDigits.FindString(transformPipeline)
		if digits == "" {
			return nil, &tile.ConfigError{Flag: flagName, Err: fmt.Errorf("could not find an EPSG authority code in %q", transformPipeline)}
		}
		v, err := strconv.Atoi(digits)
		if err != nil {
			return nil, &tile.ConfigError{Flag: flagName, Err: err}
		}
		epsg = v
	case sourceSRS != "":
		digits := epsgDigits.FindString(sourceSRS)
		if digits == "" {
			return nil, &tile.ConfigError{Flag: flagName, Err: fmt.Errorf("unrecognized SRS authority code %q", sourceSRS)}
		}
		v, err := strconv.Atoi(digits)
		if err != nil {
			return nil, &tile.ConfigError{Flag: flagName, Err: err}
		}
		epsg = v
	default:
		epsg = source.EPSG()
	}

	proj := coord.ForEPSG(epsg)
	if proj == nil {
		return nil, &tile.ConfigError{Flag: flagName, Err: fmt.Errorf("unsupported EPSG:%d", epsg)}
	}
	return proj, nil
}

// sourceBoundsWGS84 projects the source raster's CRS bounding box corners
// into WGS84 lon/lat, using the explicitly resolved projection rather than
// the source's own embedded-tag dispatch, so a --source-srs/
// --transform-pipeline override is honored end to end.
func sourceBoundsWGS84(source *cog.Reader, proj coord.Projection) (minLon, minLat, maxLon, maxLat float64) {
	minX, minY, maxX, maxY := source.BoundsInCRS()
	corners := [4][2]float64{
		{minX, minY}, {minX, maxY}, {maxX, minY}, {maxX, maxY},
	}

	minLon, minLat = 180, 90
	maxLon, maxLat = -180, -90
	for _, c := range corners {
		lon, lat := proj.ToWGS84(c[0], c[1])
		if lon < minLon {
			minLon = lon
		}
		if lon > maxLon {
			maxLon = lon
		}
		if lat < minLat {
			minLat = lat
		}
		if lat > maxLat {
			maxLat = lat
		}
	}
	return
}

func toZoomLimits(in map[string]boundsplanner.ZoomBoundsJSON) map[string]mbtiles.ZoomLimit {
	out := make(map[string]mbtiles.ZoomLimit, len(in))
	for k, v := range in {
		out[k] = mbtiles.ZoomLimit{MinX: v.MinX, MaxX: v.MaxX, MinY: v.MinY, MaxY: v.MaxY}
	}
	return out
}

func baseNameWithoutExt(path string) string {
	base := path
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return base
}

func fileSize(fi os.FileInfo) int64 {
	if fi == nil {
		return 0
	}
	return fi.Size()
}

func humanSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
