package mbtiles

import (
	"path/filepath"
	"testing"
)

func TestOpen_RejectsExistingWithoutResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mbtiles")

	s, err := Open(path, false)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s.Put(Record{Z: 0, X: 0, Y: 0, JPEG: []byte("jpg"), Alpha: []byte("alpha")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := Open(path, false); err == nil {
		t.Fatal("expected Open without --resume to reject a non-empty target")
	}
	s2, err := Open(path, true)
	if err != nil {
		t.Fatalf("resume open: %v", err)
	}
	defer s2.Close()
	if !s2.HasTile(0, 0, 0) {
		t.Error("expected resumed sink to recognise the previously-written tile")
	}
	if s2.HasTile(1, 1, 1) {
		t.Error("unexpected tile reported present")
	}
}

func TestPut_FlushesOnBatchSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mbtiles")
	s, err := Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	s.batchSize = 2

	for i := 0; i < 3; i++ {
		if err := s.Put(Record{Z: 1, X: i, Y: 0, JPEG: []byte("j"), Alpha: []byte("a")}); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	if len(s.batch) != 1 {
		t.Errorf("expected 1 tile left buffered after two flushes of batch size 2, got %d", len(s.batch))
	}

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM tiles").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 committed rows, got %d", n)
	}
}

func TestPut_TMSRowFlip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mbtiles")
	s, err := Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// z=2, y=1 (XYZ, origin top-left) should store as TMS row (2^2-1)-1 = 2.
	if err := s.Put(Record{Z: 2, X: 0, Y: 1, JPEG: []byte("j"), Alpha: []byte("a")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}

	var tmsRow int
	if err := s.db.QueryRow("SELECT tile_row FROM tiles WHERE zoom_level=2 AND tile_column=0").Scan(&tmsRow); err != nil {
		t.Fatal(err)
	}
	if tmsRow != 2 {
		t.Errorf("tile_row = %d, want 2", tmsRow)
	}
}

func TestFinalize_WritesMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mbtiles")
	s, err := Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	meta := Metadata{
		Name: "test", MinZoom: 0, MaxZoom: 3,
		Bounds: [4]float64{-1, -1, 1, 1},
		Center: [3]float64{0, 0, 1},
		Limits: map[string]ZoomLimit{"0": {MinX: 0, MaxX: 0, MinY: 0, MaxY: 0}},
	}
	if err := s.Finalize(meta); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	want := map[string]string{"name": "test", "format": "jpg", "minzoom": "0", "maxzoom": "3"}
	for k, v := range want {
		var got string
		if err := s.db.QueryRow("SELECT value FROM metadata WHERE name=?", k).Scan(&got); err != nil {
			t.Fatalf("reading metadata %q: %v", k, err)
		}
		if got != v {
			t.Errorf("metadata[%q] = %q, want %q", k, got, v)
		}
	}
}

func TestHasTile_WithoutResumeAlwaysFalse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mbtiles")
	s, err := Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.HasTile(0, 0, 0) {
		t.Error("HasTile must be false when not resuming, even for tiles not yet written")
	}
}
