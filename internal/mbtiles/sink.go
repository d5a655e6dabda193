// Package mbtiles writes a Web Mercator tile pyramid to an MBTiles
// container: a SQLite database with a tiles table and a metadata table,
// per the MBTiles 1.3 spec. Tiles are inserted in batched transactions and
// rows use the TMS (bottom-left-origin) row convention.
package mbtiles

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	_ "modernc.org/sqlite"
)

// DefaultBatchSize is the number of tiles buffered before a transaction is
// committed. Grouping inserts amortises SQLite's per-transaction fsync cost
// across many tiles instead of paying it per row.
const DefaultBatchSize = 1000

// SinkError reports a failure writing to the MBTiles database: a failed
// insert, a broken transaction, a schema error. The scheduler retries once
// before treating it as fatal.
type SinkError struct {
	Op  string
	Err error
}

func (e *SinkError) Error() string { return fmt.Sprintf("mbtiles %s: %v", e.Op, e.Err) }
func (e *SinkError) Unwrap() error { return e.Err }

// Record is one ready-to-persist tile: JPEG-encoded RGB plus ZSTD-compressed
// alpha plane, keyed by Web Mercator (z, x, y) with origin top-left. Put
// converts x/y to the MBTiles TMS row convention internally.
type Record struct {
	Z, X, Y int
	JPEG    []byte
	Alpha   []byte
}

// Sink owns the MBTiles SQLite file for the lifetime of a run. Put and Flush
// (which Finalize and Close call) take the batch mutex and hold it across
// the flush, so
// concurrent Put calls from several worker goroutines are serialized; the
// scheduler calls Put directly from its workers.
type Sink struct {
	db        *sql.DB
	batchSize int

	mu    sync.Mutex
	batch []Record

	existing map[tileKey]struct{} // populated only when resuming
}

type tileKey struct{ Z, X, Y int }

// Open creates or opens path as an MBTiles database. If resume is false and
// path already exists, Open fails rather than silently clobbering a previous
// run. If resume is true, Open indexes every already-present (z, x, y) so
// the scheduler can recognise anchors whose leaves are all already persisted.
func Open(path string, resume bool) (*Sink, error) {
	if !resume {
		if _, err := os.Stat(path); err == nil {
			return nil, &SinkError{Op: "open", Err: fmt.Errorf("%s already exists; pass --resume to continue", path)}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &SinkError{Op: "open", Err: err}
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 50000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, &SinkError{Op: "pragma", Err: err}
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Sink{db: db, batchSize: DefaultBatchSize}

	count, err := s.tileCount()
	if err != nil {
		db.Close()
		return nil, err
	}
	if count > 0 && !resume {
		db.Close()
		return nil, &SinkError{Op: "open", Err: fmt.Errorf("%s already contains %d tiles; pass --resume to continue", path, count)}
	}
	if resume {
		existing, err := s.loadExisting()
		if err != nil {
			db.Close()
			return nil, err
		}
		s.existing = existing
	}

	return s, nil
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS metadata (
			name TEXT UNIQUE,
			value TEXT
		);

		CREATE TABLE IF NOT EXISTS tiles (
			zoom_level INTEGER NOT NULL,
			tile_column INTEGER NOT NULL,
			tile_row INTEGER NOT NULL,
			tile_data BLOB NOT NULL,
			tile_alpha BLOB NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles (zoom_level, tile_column, tile_row);
	`
	if _, err := db.Exec(schema); err != nil {
		return &SinkError{Op: "create schema", Err: err}
	}
	return nil
}

func (s *Sink) tileCount() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM tiles").Scan(&n); err != nil {
		return 0, &SinkError{Op: "count", Err: err}
	}
	return n, nil
}

func (s *Sink) loadExisting() (map[tileKey]struct{}, error) {
	rows, err := s.db.Query("SELECT zoom_level, tile_column, tile_row FROM tiles")
	if err != nil {
		return nil, &SinkError{Op: "resume scan", Err: err}
	}
	defer rows.Close()

	existing := make(map[tileKey]struct{})
	for rows.Next() {
		var z, x, tmsY int
		if err := rows.Scan(&z, &x, &tmsY); err != nil {
			return nil, &SinkError{Op: "resume scan", Err: err}
		}
		y := tmsRowToXYZ(z, tmsY)
		existing[tileKey{Z: z, X: x, Y: y}] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, &SinkError{Op: "resume scan", Err: err}
	}
	return existing, nil
}

// HasTile reports whether (z, x, y) was already persisted by a prior run —
// only meaningful after Open(path, resume=true); always false otherwise.
func (s *Sink) HasTile(z, x, y int) bool {
	if s.existing == nil {
		return false
	}
	_, ok := s.existing[tileKey{Z: z, X: x, Y: y}]
	return ok
}

// tmsRowToXYZ and xyzRowToTMS are self-inverse: TMS row flips the same way
// in either direction, (2^z - 1) - row.
func tmsRowToXYZ(z, row int) int { return (1<<uint(z) - 1) - row }
func xyzRowToTMS(z, row int) int { return (1<<uint(z) - 1) - row }

// Put buffers one tile for insertion. Fully-transparent tiles must never be
// passed here — the caller elides them before reaching the sink. When the
// buffer reaches the batch size, it is flushed in one transaction; a failed
// flush is retried once before returning a fatal *SinkError.
func (s *Sink) Put(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batch = append(s.batch, rec)
	if len(s.batch) >= s.batchSize {
		return s.flushLocked()
	}
	return nil
}

// Flush writes any buffered tiles immediately, without waiting for a full
// batch. Safe to call at any point, including from Finalize.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Sink) flushLocked() error {
	if len(s.batch) == 0 {
		return nil
	}
	if err := s.commitBatch(s.batch); err != nil {
		// One retry of the whole batch before giving up, per the sink's
		// documented failure policy.
		if err := s.commitBatch(s.batch); err != nil {
			return err
		}
	}
	s.batch = s.batch[:0]
	return nil
}

func (s *Sink) commitBatch(batch []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &SinkError{Op: "begin tx", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO tiles
		(zoom_level, tile_column, tile_row, tile_data, tile_alpha) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return &SinkError{Op: "prepare insert", Err: err}
	}
	defer stmt.Close()

	for _, rec := range batch {
		tmsY := xyzRowToTMS(rec.Z, rec.Y)
		if _, err := stmt.Exec(rec.Z, rec.X, tmsY, rec.JPEG, rec.Alpha); err != nil {
			return &SinkError{Op: fmt.Sprintf("insert %d/%d/%d", rec.Z, rec.X, rec.Y), Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &SinkError{Op: "commit tx", Err: err}
	}
	return nil
}

// Metadata holds the standard MBTiles metadata keys plus the pyramid-bounds
// extension this repo adds.
type Metadata struct {
	Name        string
	Attribution string
	MinZoom     int
	MaxZoom     int
	Bounds      [4]float64 // minLon, minLat, maxLon, maxLat
	Center      [3]float64 // lon, lat, zoom
	Limits      map[string]ZoomLimit
}

// ZoomLimit is one entry of the "limits" metadata JSON: the tile rectangle
// the bounds planner computed for a zoom level.
type ZoomLimit struct {
	MinX int `json:"min_x"`
	MaxX int `json:"max_x"`
	MinY int `json:"min_y"`
	MaxY int `json:"max_y"`
}

// Finalize flushes any remaining buffered tiles and writes the MBTiles
// metadata table. It does not close the database — call Close afterward.
func (s *Sink) Finalize(meta Metadata) error {
	if err := s.Flush(); err != nil {
		return err
	}

	limitsJSON, err := json.Marshal(meta.Limits)
	if err != nil {
		return &SinkError{Op: "marshal limits", Err: err}
	}

	rows := [][2]string{
		{"name", meta.Name},
		{"attribution", meta.Attribution},
		{"format", "jpg"},
		{"minzoom", fmt.Sprintf("%d", meta.MinZoom)},
		{"maxzoom", fmt.Sprintf("%d", meta.MaxZoom)},
		{"bounds", fmt.Sprintf("%g,%g,%g,%g", meta.Bounds[0], meta.Bounds[1], meta.Bounds[2], meta.Bounds[3])},
		{"center", fmt.Sprintf("%g,%g,%g", meta.Center[0], meta.Center[1], meta.Center[2])},
		{"limits", string(limitsJSON)},
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &SinkError{Op: "begin metadata tx", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)`)
	if err != nil {
		return &SinkError{Op: "prepare metadata insert", Err: err}
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(r[0], r[1]); err != nil {
			return &SinkError{Op: "insert metadata " + r[0], Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &SinkError{Op: "commit metadata tx", Err: err}
	}
	return nil
}

// Close flushes any remaining buffered tiles and closes the database
// handle. Safe to call after a failed run: it persists as much as possible
// so --resume has something to continue from.
func (s *Sink) Close() error {
	if err := s.Flush(); err != nil {
		s.db.Close()
		return err
	}
	if err := s.db.Close(); err != nil {
		return &SinkError{Op: "close", Err: err}
	}
	return nil
}
