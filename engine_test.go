package lsmkv_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	lsmkv "github.com/soumyaprakashdatta/lsm-tree-cache"
)

func TestEngine_S1_BasicRoundTrip(t *testing.T) {
	db, err := lsmkv.Open(t.TempDir(), lsmkv.WithMaxMemtableSize(4), lsmkv.WithMaxSegments(2))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Shutdown() })

	if err := db.Put("a", []byte("1"), 60000); err != nil {
		t.Fatalf("Put(a): %v", err)
	}
	if err := db.Put("b", []byte("2"), 60000); err != nil {
		t.Fatalf("Put(b): %v", err)
	}

	got, err := db.Get("a")
	if err != nil {
		t.Fatalf("Get(a): %v", err)
	}
	if diff := cmp.Diff([]byte("1"), got.Value); diff != "" {
		t.Fatalf("unexpected value (-want +got):\n%s", diff)
	}

	if _, err := db.Get("c"); !errors.Is(err, lsmkv.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound for missing key, got %v", err)
	}

	list, err := db.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
	wantKeys := []string{"a", "b"}
	var gotKeys []string
	for _, kv := range list {
		gotKeys = append(gotKeys, kv.Key)
	}
	if diff := cmp.Diff(wantKeys, gotKeys); diff != "" {
		t.Fatalf("unexpected list keys (-want +got):\n%s", diff)
	}
}

func TestEngine_S2_FlushAtCapacity(t *testing.T) {
	dir := t.TempDir()
	db, err := lsmkv.Open(dir, lsmkv.WithMaxMemtableSize(2), lsmkv.WithMaxSegments(10))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Shutdown() })

	if err := db.Put("k1", []byte("v1"), 60000); err != nil {
		t.Fatalf("Put(k1): %v", err)
	}
	if err := db.Put("k2", []byte("v2"), 60000); err != nil {
		t.Fatalf("Put(k2): %v", err)
	}

	stats := db.Stats()
	if stats.MemtableSize != 0 {
		t.Errorf("expected empty memtable after flush, got size=%d", stats.MemtableSize)
	}
	if stats.SegmentsCount != 1 {
		t.Errorf("expected 1 segment after flush, got %d", stats.SegmentsCount)
	}
	if stats.OnDiskSegmentFiles != 1 {
		t.Errorf("expected 1 on-disk segment file, got %d", stats.OnDiskSegmentFiles)
	}

	walBytes, err := os.ReadFile(filepath.Join(dir, "wal.json"))
	if err != nil {
		t.Fatalf("ReadFile(wal.json): %v", err)
	}
	if len(walBytes) != 0 {
		// A freshly truncated WAL should decode back to an empty snapshot.
		if !walIsEmpty(t, walBytes) {
			t.Errorf("expected WAL to be empty after flush, got %q", walBytes)
		}
	}

	got, err := db.Get("k1")
	if err != nil {
		t.Fatalf("Get(k1): %v", err)
	}
	if diff := cmp.Diff([]byte("v1"), got.Value); diff != "" {
		t.Fatalf("unexpected value (-want +got):\n%s", diff)
	}
}

func walIsEmpty(t *testing.T, b []byte) bool {
	t.Helper()
	var doc struct {
		MemTable []json.RawMessage `json:"memTable"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("decode wal.json: %v", err)
	}
	return len(doc.MemTable) == 0
}

func TestEngine_S3_TombstoneShadowing(t *testing.T) {
	dir := t.TempDir()
	db, err := lsmkv.Open(dir, lsmkv.WithMaxMemtableSize(100), lsmkv.WithMaxSegments(100))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Shutdown() })

	if err := db.Put("k", []byte("old"), 60000); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	db, err = lsmkv.Open(dir, lsmkv.WithMaxMemtableSize(100), lsmkv.WithMaxSegments(100))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { db.Shutdown() })

	if err := db.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := db.Get("k"); !errors.Is(err, lsmkv.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}

	list, err := db.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, kv := range list {
		if kv.Key == "k" {
			t.Fatalf("expected deleted key to be absent from List, found %+v", kv)
		}
	}
}

func TestEngine_S4_TTLExpiry(t *testing.T) {
	db, err := lsmkv.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Shutdown() })

	if err := db.Put("e", []byte("x"), 50); err != nil {
		t.Fatalf("Put: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if _, err := db.Get("e"); !errors.Is(err, lsmkv.ErrKeyNotFound) {
		t.Fatalf("expected expired key to miss, got %v", err)
	}

	list, err := db.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, kv := range list {
		if kv.Key == "e" {
			t.Fatalf("expected expired key to be omitted from List")
		}
	}
}

func TestEngine_S5_CrashRecovery(t *testing.T) {
	dir := t.TempDir()
	db, err := lsmkv.Open(dir, lsmkv.WithMaxMemtableSize(1000))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := db.Put("p", []byte("q"), 60000); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Simulate a crash: no Shutdown call, so the WAL is the only durable copy.

	db2, err := lsmkv.Open(dir, lsmkv.WithMaxMemtableSize(1000))
	if err != nil {
		t.Fatalf("reopen after crash: %v", err)
	}
	t.Cleanup(func() { db2.Shutdown() })

	got, err := db2.Get("p")
	if err != nil {
		t.Fatalf("Get(p) after recovery: %v", err)
	}
	if diff := cmp.Diff([]byte("q"), got.Value); diff != "" {
		t.Fatalf("unexpected value (-want +got):\n%s", diff)
	}

	if stats := db2.Stats(); stats.MemtableSize != 1 {
		t.Errorf("expected recovered memtable to have 1 entry, got %d", stats.MemtableSize)
	}
}

func TestEngine_S6_CompactionTrigger(t *testing.T) {
	dir := t.TempDir()
	db, err := lsmkv.Open(dir, lsmkv.WithMaxMemtableSize(1), lsmkv.WithMaxSegments(2))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Shutdown() })

	for _, kv := range []struct{ key, value string }{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		if err := db.Put(kv.key, []byte(kv.value), 60000); err != nil {
			t.Fatalf("Put(%s): %v", kv.key, err)
		}
	}

	stats := db.Stats()
	if stats.SegmentsCount != 1 {
		t.Fatalf("expected compaction to collapse to 1 segment, got %d", stats.SegmentsCount)
	}
	if stats.OnDiskSegmentFiles != 1 {
		t.Fatalf("expected exactly 1 on-disk segment file, got %d", stats.OnDiskSegmentFiles)
	}

	for _, key := range []string{"a", "b", "c"} {
		if _, err := db.Get(key); err != nil {
			t.Errorf("Get(%s) after compaction: %v", key, err)
		}
	}
}

func TestEngine_DeleteNonExistentKeySucceeds(t *testing.T) {
	db, err := lsmkv.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Shutdown() })

	if err := db.Delete("nope"); err != nil {
		t.Fatalf("Delete of absent key should succeed, got %v", err)
	}
}

func TestEngine_PutRejectsEmptyKeyAndNilValue(t *testing.T) {
	db, err := lsmkv.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Shutdown() })

	if err := db.Put("", []byte("v")); !errors.Is(err, lsmkv.ErrKeyEmpty) {
		t.Errorf("expected ErrKeyEmpty, got %v", err)
	}
	if err := db.Put("k", nil); !errors.Is(err, lsmkv.ErrNilValue) {
		t.Errorf("expected ErrNilValue, got %v", err)
	}
}

func TestEngine_ShutdownIsIdempotent(t *testing.T) {
	db, err := lsmkv.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Shutdown(); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := db.Shutdown(); err != nil {
		t.Fatalf("second Shutdown should be a no-op, got %v", err)
	}
}

func TestEngine_TTLZeroMeansNoExpiry(t *testing.T) {
	db, err := lsmkv.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Shutdown() })

	if err := db.Put("forever", []byte("v"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := db.Get("forever"); err != nil {
		t.Fatalf("expected ttl=0 to mean no expiry, got %v", err)
	}
}
