// Package memtable implements the engine's bounded in-memory write buffer:
// the mapping from key to entry.Entry that absorbs every mutation before it
// is sealed into a Segment.
package memtable

import (
	"sync"

	"github.com/soumyaprakashdatta/lsm-tree-cache/internal/entry"
)

// Memtable is a bounded key-value map with lazy TTL expiry.
// The zero value is ready to use.
type Memtable struct {
	mu   sync.RWMutex
	data map[string]entry.Entry
}

// New creates an empty Memtable.
func New() *Memtable {
	return &Memtable{data: make(map[string]entry.Entry)}
}

// Insert stores an Entry under key and reports whether the Memtable has
// reached capacity (size >= capacity) after the insert.
func (m *Memtable) Insert(key string, e entry.Entry, capacity int) (full bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		m.data = make(map[string]entry.Entry)
	}
	m.data[key] = e
	return len(m.data) >= capacity
}

// Lookup returns the Entry stored under key, if present and not expired.
// An expired Entry is swept (removed) as a side effect, per the spec's lazy
// expiration policy.
func (m *Memtable) Lookup(key string, nowMillis int64) (entry.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[key]
	if !ok {
		return entry.Entry{}, false
	}
	if e.Expired(nowMillis) {
		delete(m.data, key)
		return entry.Entry{}, false
	}
	return e, true
}

// Remove deletes the mapping for key outright. Used internally only — the
// public API expresses deletions as tombstone Entries via Insert so the
// deletion propagates to Segments at flush time.
func (m *Memtable) Remove(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[key]; !ok {
		return false
	}
	delete(m.data, key)
	return true
}

// List returns every non-expired Entry, sweeping expired ones along the way.
func (m *Memtable) List(nowMillis int64) []entry.KVEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]entry.KVEntry, 0, len(m.data))
	for k, e := range m.data {
		if e.Expired(nowMillis) {
			delete(m.data, k)
			continue
		}
		out = append(out, entry.KVEntry{Key: k, Entry: e})
	}
	return out
}

// Size returns the number of keys currently stored, including any not-yet-swept
// expired ones.
func (m *Memtable) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Clear empties the Memtable.
func (m *Memtable) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]entry.Entry)
}

// SnapshotPairs returns every key-value pair currently stored, expired or not,
// in no particular order. Used to seal a Segment or rewrite the WAL, both of
// which must capture the Memtable exactly as it stands.
func (m *Memtable) SnapshotPairs() []entry.KVEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]entry.KVEntry, 0, len(m.data))
	for k, e := range m.data {
		out = append(out, entry.KVEntry{Key: k, Entry: e})
	}
	return out
}

// LoadPairs replaces the Memtable's contents with pairs, used to replay a WAL
// snapshot during recovery.
func (m *Memtable) LoadPairs(pairs []entry.KVEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string]entry.Entry, len(pairs))
	for _, p := range pairs {
		m.data[p.Key] = p.Entry
	}
}
