package rebindcache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/spaced/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "rebindcache_test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNearestEmptyCache(t *testing.T) {
	s := testStore(t)

	_, ok, err := s.Nearest(model.Rect{X: 0, Y: 0}, nil)
	if err != nil {
		t.Fatalf("Nearest() error: %v", err)
	}
	if ok {
		t.Error("Nearest() on empty cache should return ok=false")
	}
}

func TestRecordAndNearest(t *testing.T) {
	s := testStore(t)
	now := time.Now()

	if err := s.Record("uuid-left", model.Rect{X: 0, Y: 0, Width: 1920, Height: 1080}, now); err != nil {
		t.Fatalf("Record(left): %v", err)
	}
	if err := s.Record("uuid-right", model.Rect{X: 1920, Y: 0, Width: 1920, Height: 1080}, now); err != nil {
		t.Fatalf("Record(right): %v", err)
	}

	rec, ok, err := s.Nearest(model.Rect{X: 10, Y: 5, Width: 1920, Height: 1080}, nil)
	if err != nil {
		t.Fatalf("Nearest(): %v", err)
	}
	if !ok {
		t.Fatal("Nearest() should find a candidate")
	}
	if rec.UUID != "uuid-left" {
		t.Errorf("Nearest() = %q, want uuid-left", rec.UUID)
	}
}

func TestNearestExcludesLiveUUIDs(t *testing.T) {
	s := testStore(t)
	now := time.Now()

	if err := s.Record("uuid-left", model.Rect{X: 0, Y: 0}, now); err != nil {
		t.Fatalf("Record(left): %v", err)
	}
	if err := s.Record("uuid-right", model.Rect{X: 1920, Y: 0}, now); err != nil {
		t.Fatalf("Record(right): %v", err)
	}

	rec, ok, err := s.Nearest(model.Rect{X: 0, Y: 0}, map[string]bool{"uuid-left": true})
	if err != nil {
		t.Fatalf("Nearest(): %v", err)
	}
	if !ok || rec.UUID != "uuid-right" {
		t.Fatalf("Nearest() = %+v, ok=%v, want uuid-right", rec, ok)
	}
}

func TestForgetRemovesRecord(t *testing.T) {
	s := testStore(t)
	now := time.Now()

	if err := s.Record("uuid-1", model.Rect{X: 0, Y: 0}, now); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Forget("uuid-1"); err != nil {
		t.Fatalf("Forget: %v", err)
	}

	_, ok, err := s.Nearest(model.Rect{X: 0, Y: 0}, nil)
	if err != nil {
		t.Fatalf("Nearest(): %v", err)
	}
	if ok {
		t.Error("Nearest() should find nothing after Forget")
	}
}

func TestRecordUpsertsExisting(t *testing.T) {
	s := testStore(t)
	now := time.Now()

	if err := s.Record("uuid-1", model.Rect{X: 0, Y: 0}, now); err != nil {
		t.Fatalf("Record(1): %v", err)
	}
	if err := s.Record("uuid-1", model.Rect{X: 500, Y: 500}, now.Add(time.Minute)); err != nil {
		t.Fatalf("Record(2): %v", err)
	}

	all, err := s.All()
	if err != nil {
		t.Fatalf("All(): %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("All() returned %d records, want 1 after upsert", len(all))
	}
	if all[0].Frame.X != 500 {
		t.Errorf("All()[0].Frame.X = %v, want 500 after upsert", all[0].Frame.X)
	}
}

func TestPersistAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist_test.db")
	now := time.Now()

	s1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open(1): %v", err)
	}
	if err := s1.Record("uuid-1", model.Rect{X: 42, Y: 7}, now); err != nil {
		t.Fatalf("Record: %v", err)
	}
	s1.Close()

	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open(2): %v", err)
	}
	defer s2.Close()

	rec, ok, err := s2.Nearest(model.Rect{X: 42, Y: 7}, nil)
	if err != nil {
		t.Fatalf("Nearest(): %v", err)
	}
	if !ok || rec.UUID != "uuid-1" {
		t.Fatalf("Nearest() after reopen = %+v, ok=%v, want uuid-1", rec, ok)
	}
}
