// Package segment implements the engine's immutable on-disk SSTable-like
// snapshot of a sealed MemTable: an Segment file addressable by a unique
// identifier, carrying a creation timestamp used to order Segments relative
// to each other.
package segment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/soumyaprakashdatta/lsm-tree-cache/internal/entry"
)

// Segment is an immutable, in-memory-indexed snapshot of a MemTable sealed at
// CreatedAt. Its ID, CreatedAt and entries never change after construction;
// only the recorded file path is set when it is persisted.
type Segment struct {
	ID        string
	CreatedAt int64
	path      string

	// index is the key->Entry mapping sealed from the Memtable. Segment files
	// in this engine are small enough (bounded by memtable_max_size) to keep
	// fully resident, so there is no need for the teacher's on-disk byte-offset
	// index — every lookup is served directly from this map.
	index map[string]entry.Entry
}

// NewID mints a Segment identifier that is both unique (UUID-derived
// randomness) and lexicographically ordered by creation time, so ties in
// CreatedAt break stably across reopens per spec §9.
func NewID(nowMillis int64) string {
	return fmt.Sprintf("%020d-%s", nowMillis, uuid.New().String())
}

// Seal builds a new Segment in memory from pairs, ready to be Persisted.
func Seal(id string, createdAt int64, pairs []entry.KVEntry) *Segment {
	idx := make(map[string]entry.Entry, len(pairs))
	for _, p := range pairs {
		idx[p.Key] = p.Entry
	}
	return &Segment{ID: id, CreatedAt: createdAt, index: idx}
}

// FileName returns the filename (not full path) this segment is stored under.
func (s *Segment) FileName() string {
	return "sstable_" + s.ID + ".json"
}

// Path returns the path the Segment was loaded from or persisted to, or "" if
// it has never been persisted.
func (s *Segment) Path() string {
	return s.path
}

// Lookup returns the Entry stored under key, if present and not expired.
// Lookup never mutates the Segment: an expired hit is simply reported as a
// miss, left on disk for the next compaction to reclaim.
func (s *Segment) Lookup(key string, nowMillis int64) (entry.Entry, bool) {
	e, ok := s.index[key]
	if !ok || e.Expired(nowMillis) {
		return entry.Entry{}, false
	}
	return e, true
}

// List returns every non-expired Entry in the Segment.
func (s *Segment) List(nowMillis int64) []entry.KVEntry {
	out := make([]entry.KVEntry, 0, len(s.index))
	for k, e := range s.index {
		if e.Expired(nowMillis) {
			continue
		}
		out = append(out, entry.KVEntry{Key: k, Entry: e})
	}
	return out
}

// Pairs returns every key-value pair in the Segment regardless of expiry,
// used by the compactor which applies its own TTL cutoff at the compaction
// instant.
func (s *Segment) Pairs() []entry.KVEntry {
	out := make([]entry.KVEntry, 0, len(s.index))
	for k, e := range s.index {
		out = append(out, entry.KVEntry{Key: k, Entry: e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Persist writes the Segment to dir under its derived filename. Persist is
// complete-or-absent under crash: it writes to a temporary file in the same
// directory and renames it into place, relying on filesystem atomicity of
// rename (spec §5).
func (s *Segment) Persist(dir string) error {
	pairs := s.Pairs()
	raw := make([][2]json.RawMessage, len(pairs))
	for i, p := range pairs {
		keyJSON, err := json.Marshal(p.Key)
		if err != nil {
			return fmt.Errorf("failed to encode segment key: %w", err)
		}
		entryJSON, err := json.Marshal(p.Entry)
		if err != nil {
			return fmt.Errorf("failed to encode segment entry: %w", err)
		}
		raw[i] = [2]json.RawMessage{keyJSON, entryJSON}
	}

	doc := struct {
		ID        string               `json:"id"`
		CreatedAt int64                `json:"created_at"`
		Entries   [][2]json.RawMessage `json:"entries"`
	}{ID: s.ID, CreatedAt: s.CreatedAt, Entries: raw}

	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode segment %q: %w", s.ID, err)
	}

	path := filepath.Join(dir, s.FileName())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0600); err != nil {
		return fmt.Errorf("failed to write temp segment file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename segment file into place %q: %w", path, err)
	}
	s.path = path
	return nil
}

// CorruptError is returned by Load when a segment file cannot be parsed.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt segment file %q: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// Load parses a segment file from path. A malformed file is reported as a
// *CorruptError so the caller can log the corruption and skip the file
// instead of failing recovery outright.
func Load(path string) (*Segment, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read segment file %q: %w", path, err)
	}

	var doc struct {
		ID        string               `json:"id"`
		CreatedAt int64                `json:"created_at"`
		Entries   [][2]json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}

	idx := make(map[string]entry.Entry, len(doc.Entries))
	for _, pair := range doc.Entries {
		var key string
		if err := json.Unmarshal(pair[0], &key); err != nil {
			return nil, &CorruptError{Path: path, Err: err}
		}
		var e entry.Entry
		if err := json.Unmarshal(pair[1], &e); err != nil {
			return nil, &CorruptError{Path: path, Err: err}
		}
		idx[key] = e
	}

	return &Segment{ID: doc.ID, CreatedAt: doc.CreatedAt, path: path, index: idx}, nil
}

// Discard removes the Segment's backing file from disk.
func (s *Segment) Discard() error {
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil {
		return fmt.Errorf("failed to discard segment file %q: %w", s.path, err)
	}
	return nil
}
