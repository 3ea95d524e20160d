// Package lsmkv is an embeddable key-value store organized as a
// Log-Structured Merge tree with time-to-live semantics and
// crash-recoverable durability. See the presentation this design traces
// back to: https://go-talks.appspot.com/github.com/marselester/storage-engines/log-structured-engine.slide.
//
// Writes land in a bounded MemTable and are mirrored into a write-ahead log
// before Put/Delete acknowledge. When the MemTable is full it is sealed into
// an immutable Segment on disk; when too many Segments accumulate they are
// compacted into one, dropping tombstones and expired entries.
package lsmkv

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soumyaprakashdatta/lsm-tree-cache/internal/compaction"
	"github.com/soumyaprakashdatta/lsm-tree-cache/internal/entry"
	"github.com/soumyaprakashdatta/lsm-tree-cache/internal/memtable"
	"github.com/soumyaprakashdatta/lsm-tree-cache/internal/segment"
	"github.com/soumyaprakashdatta/lsm-tree-cache/internal/wal"
)

// Entry is the value tuple the engine returns from Get/List, re-exported from
// internal/entry so callers never need to import an internal package.
type Entry = entry.Entry

// KVEntry pairs a key with its Entry, the shape List returns.
type KVEntry = entry.KVEntry

// Stats summarizes the engine's current state, as returned by Stats.
type Stats struct {
	MemtableSize       int
	SegmentsCount      int
	TotalEntries       int
	DefaultTTL         int64
	OnDiskSegmentFiles int
	DataDir            string
}

// Engine is a single-writer, embeddable LSM key-value store rooted at a data
// directory on disk. The zero value is not usable; construct one with Open.
type Engine struct {
	// mu serializes Put, Delete, Flush, Compact, Shutdown, and WAL rewrites,
	// and is also held by Get/List: the simplest correct model per spec §5.
	mu sync.Mutex

	dataDir string
	cfg     Config
	logger  *zap.Logger

	mt  *memtable.Memtable
	w   *wal.WAL
	// segments is kept sorted ascending by CreatedAt (oldest first), per
	// spec invariant §3.2; readers walk it in reverse for newest-to-oldest
	// shadowing.
	segments []*segment.Segment

	closed bool
}

// Open opens the database directory at dataDir, creating it if necessary,
// and recovers engine state from any existing metadata/WAL/segment files.
// Call Shutdown to persist outstanding state and release resources.
func Open(dataDir string, opts ...ConfigOption) (*Engine, error) {
	cfg := Config{
		maxMemtableSize: DefaultMaxMemtableSize,
		maxSegments:     DefaultMaxSegments,
		defaultTTL:      DefaultTTLMillis,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database dir: %w", err)
	}

	e := &Engine{
		dataDir: dataDir,
		cfg:     cfg,
		logger:  cfg.logger,
		mt:      memtable.New(),
		w:       wal.Open(wal.PathIn(dataDir)),
	}

	// Recovery is best-effort: an unreadable metadata, WAL or segment
	// directory is logged and skipped rather than failing Open.
	meta, err := loadMetadata(dataDir)
	if err != nil {
		e.logger.Warn("skipping unreadable metadata file", zap.Error(err))
	}
	// An explicit WithDefaultTTL option always wins over what a prior
	// Shutdown persisted.
	if meta != nil && !cfg.defaultTTLSet {
		e.cfg.defaultTTL = meta.DefaultTTL
	}

	pairs, err := e.w.Load()
	if err != nil {
		e.logger.Warn("skipping unreadable WAL file", zap.Error(err))
	}
	if len(pairs) > 0 {
		e.mt.LoadPairs(pairs)
	}

	segments, err := loadSegments(dataDir, e.logger)
	if err != nil {
		e.logger.Warn("failed to scan segment files", zap.Error(err))
	}
	e.segments = segments

	e.logger.Info("database recovered",
		zap.Int("segments", len(e.segments)),
		zap.Int("memtable_entries", e.mt.Size()),
		zap.String("data_dir", dataDir),
	)

	return e, nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Put stores value under key. ttlMillis is variadic to distinguish "use the
// configured default TTL" (zero arguments) from "never expire" (one argument
// equal to 0) from "expire after this many milliseconds" (one positive
// argument) — see DESIGN.md's Open Question resolution.
func (e *Engine) Put(key string, value []byte, ttlMillis ...int64) error {
	if key == "" {
		return ErrKeyEmpty
	}
	if value == nil {
		return ErrNilValue
	}

	ttl := e.cfg.defaultTTL
	if len(ttlMillis) > 0 {
		ttl = ttlMillis[0]
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.putLocked(key, entry.New(value, nowMillis(), ttl))
}

// Delete removes key, expressed internally as a tombstone Entry so the
// deletion propagates to Segments via the next flush (spec §9). Delete
// always succeeds even if the key does not currently exist.
func (e *Engine) Delete(key string) error {
	if key == "" {
		return ErrKeyEmpty
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.putLocked(key, entry.NewTombstone(nowMillis()))
}

// putLocked performs the write flow common to Put and Delete: insert into the
// MemTable, rewrite the WAL, flush if full, compact if the Segment count
// threshold is then exceeded. Must be called with mu held.
func (e *Engine) putLocked(key string, ent entry.Entry) error {
	full := e.mt.Insert(key, ent, e.cfg.maxMemtableSize)

	if err := e.w.Rewrite(e.mt.SnapshotPairs(), nowMillis()); err != nil {
		return fmt.Errorf("failed to write record to WAL file: %w", err)
	}

	if !full {
		return nil
	}
	if err := e.flushLocked(); err != nil {
		return err
	}
	if len(e.segments) > e.cfg.maxSegments {
		if err := e.compactLocked(); err != nil {
			// Compaction errors abort the compaction attempt but do not fail
			// the triggering flush, per spec §4.5/§7.
			e.logger.Warn("compaction failed, segments left unmerged", zap.Error(err))
		}
	}
	return nil
}

// flushLocked seals the current MemTable into a new Segment, persists it,
// and clears the MemTable and WAL. Must be called with mu held.
func (e *Engine) flushLocked() error {
	if e.mt.Size() == 0 {
		return nil
	}

	now := nowMillis()
	seg := segment.Seal(segment.NewID(now), now, e.mt.SnapshotPairs())
	if err := seg.Persist(e.dataDir); err != nil {
		return fmt.Errorf("failed to flush memtable to segment: %w", err)
	}

	e.segments = append(e.segments, seg)
	e.mt.Clear()

	if err := e.w.Truncate(nowMillis()); err != nil {
		// The new segment and the stale WAL both now hold these keys; that's
		// fine per spec §4.4 — recovery replaying the WAL just re-populates
		// the MemTable, which shadows the segment anyway.
		return fmt.Errorf("failed to truncate WAL after flush: %w", err)
	}
	return nil
}

// compactLocked merges every Segment into one, dropping tombstones and
// expired entries, and replaces the Segment list. Must be called with mu
// held. A no-op for zero or one Segment.
func (e *Engine) compactLocked() error {
	if len(e.segments) <= 1 {
		return nil
	}

	sources := make([]compaction.Source, len(e.segments))
	for i, s := range e.segments {
		sources[i] = s
	}

	now := nowMillis()
	merged := compaction.Merge(sources, now)

	newSeg := segment.Seal(segment.NewID(now), now, merged)
	if err := newSeg.Persist(e.dataDir); err != nil {
		return fmt.Errorf("failed to persist compacted segment: %w", err)
	}

	old := e.segments
	e.segments = []*segment.Segment{newSeg}

	for _, s := range old {
		if err := s.Discard(); err != nil {
			e.logger.Warn("failed to discard superseded segment file", zap.String("path", s.Path()), zap.Error(err))
		}
	}

	e.logger.Info("compaction complete", zap.Int("input_segments", len(old)), zap.Int("entries", len(merged)))
	return nil
}

// Get returns the Entry stored under key, or ErrKeyNotFound if there is no
// live (non-expired, non-tombstoned) entry.
func (e *Engine) Get(key string) (Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Entry{}, ErrClosed
	}

	now := nowMillis()
	if ent, ok := e.mt.Lookup(key, now); ok {
		if ent.Tombstone() {
			return Entry{}, ErrKeyNotFound
		}
		return ent, nil
	}

	for i := len(e.segments) - 1; i >= 0; i-- {
		if ent, ok := e.segments[i].Lookup(key, now); ok {
			if ent.Tombstone() {
				return Entry{}, ErrKeyNotFound
			}
			return ent, nil
		}
	}

	return Entry{}, ErrKeyNotFound
}

// List returns every live (non-expired, non-tombstoned) Entry across
// Segments and the MemTable. Algorithm: accumulate oldest Segment to newest,
// then apply the MemTable last so its tombstones remove entries from the
// result (spec §4.6).
func (e *Engine) List() ([]KVEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	now := nowMillis()
	merged := make(map[string]entry.Entry)
	for _, s := range e.segments {
		for _, kv := range s.List(now) {
			merged[kv.Key] = kv.Entry
		}
	}
	for _, kv := range e.mt.List(now) {
		merged[kv.Key] = kv.Entry
	}

	out := make([]KVEntry, 0, len(merged))
	for k, ent := range merged {
		if ent.Tombstone() {
			continue
		}
		out = append(out, KVEntry{Key: k, Entry: ent})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Stats reports the engine's current state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := e.mt.Size()
	now := nowMillis()
	for _, s := range e.segments {
		total += len(s.List(now))
	}

	onDisk := 0
	if files, err := os.ReadDir(e.dataDir); err == nil {
		for _, f := range files {
			if !f.IsDir() && strings.HasPrefix(f.Name(), "sstable_") {
				onDisk++
			}
		}
	}

	return Stats{
		MemtableSize:       e.mt.Size(),
		SegmentsCount:      len(e.segments),
		TotalEntries:       total,
		DefaultTTL:         e.cfg.defaultTTL,
		OnDiskSegmentFiles: onDisk,
		DataDir:            e.dataDir,
	}
}

// Shutdown force-flushes any non-empty MemTable and persists metadata.
// Shutdown is idempotent and best-effort per spec §7: a failure to flush or
// persist metadata is logged, and also returned so callers that want to
// retry can, but Shutdown never leaves the engine's in-memory state
// inconsistent with what's on disk — the WAL still has everything until a
// flush actually succeeds.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if err := e.flushLocked(); err != nil {
		e.logger.Warn("shutdown: failed to flush memtable", zap.Error(err))
		errs = append(errs, err)
	}
	if err := persistMetadata(e.dataDir, e.cfg.defaultTTL, nowMillis()); err != nil {
		e.logger.Warn("shutdown: failed to persist metadata", zap.Error(err))
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
