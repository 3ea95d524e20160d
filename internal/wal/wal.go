// Package wal implements the engine's write-ahead log: a single file holding
// a full serialization of the current MemTable, rewritten after every
// mutation so an unclean shutdown can be recovered from.
//
// Unlike an append-only log, this WAL is rewritten in full on every call to
// Rewrite. That keeps recovery O(MemTable size) and the file format trivial,
// at the cost of O(MemTable size) write amplification per mutation — the
// tradeoff spec §4.3/§9 calls for explicitly.
package wal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/soumyaprakashdatta/lsm-tree-cache/internal/entry"
)

// fileDoc is the on-disk JSON shape of the WAL file (spec §6).
type fileDoc struct {
	Timestamp int64                `json:"timestamp"`
	MemTable  [][2]json.RawMessage `json:"memTable"`
}

// WAL manages the single well-known write-ahead log file at path.
type WAL struct {
	path string
}

// Open returns a WAL bound to path. The file itself is created lazily by the
// first Rewrite; Open never touches the filesystem.
func Open(path string) *WAL {
	return &WAL{path: path}
}

// Rewrite replaces the WAL file's contents with a full snapshot of pairs,
// taken at nowMillis. Rewrite writes to a temporary file and renames it into
// place so the WAL is complete-or-absent under crash (spec §5).
func (w *WAL) Rewrite(pairs []entry.KVEntry, nowMillis int64) error {
	raw := make([][2]json.RawMessage, len(pairs))
	for i, p := range pairs {
		keyJSON, err := json.Marshal(p.Key)
		if err != nil {
			return fmt.Errorf("failed to encode WAL key: %w", err)
		}
		entryJSON, err := json.Marshal(p.Entry)
		if err != nil {
			return fmt.Errorf("failed to encode WAL entry: %w", err)
		}
		raw[i] = [2]json.RawMessage{keyJSON, entryJSON}
	}

	doc := fileDoc{Timestamp: nowMillis, MemTable: raw}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode WAL snapshot: %w", err)
	}

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0600); err != nil {
		return fmt.Errorf("failed to write temp WAL file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("failed to rename WAL file into place %q: %w", w.path, err)
	}
	return nil
}

// Truncate rewrites the WAL to the empty snapshot, used after a successful
// flush.
func (w *WAL) Truncate(nowMillis int64) error {
	return w.Rewrite(nil, nowMillis)
}

// Load reads the WAL's current snapshot. A missing file is reported as
// (nil, nil): absence means the MemTable was empty at last shutdown.
func (w *WAL) Load() ([]entry.KVEntry, error) {
	b, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read WAL file %q: %w", w.path, err)
	}
	if len(b) == 0 {
		return nil, nil
	}

	var doc fileDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode WAL file %q: %w", w.path, err)
	}

	pairs := make([]entry.KVEntry, len(doc.MemTable))
	for i, pair := range doc.MemTable {
		var key string
		if err := json.Unmarshal(pair[0], &key); err != nil {
			return nil, fmt.Errorf("failed to decode WAL key in %q: %w", w.path, err)
		}
		var e entry.Entry
		if err := json.Unmarshal(pair[1], &e); err != nil {
			return nil, fmt.Errorf("failed to decode WAL entry in %q: %w", w.path, err)
		}
		pairs[i] = entry.KVEntry{Key: key, Entry: e}
	}
	return pairs, nil
}

// Path returns the filesystem path of the WAL file.
func (w *WAL) Path() string {
	return w.path
}

// DefaultFileName is the WAL's well-known filename inside the data directory.
const DefaultFileName = "wal.json"

// PathIn joins dataDir with DefaultFileName.
func PathIn(dataDir string) string {
	return filepath.Join(dataDir, DefaultFileName)
}
