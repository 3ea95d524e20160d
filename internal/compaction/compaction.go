// Package compaction implements the engine's segment merge: a k-way merge of
// already-sorted per-segment key streams that keeps only the newest version
// of each key (last-writer-wins) and drops tombstones and expired entries.
//
// The merge algorithm itself — an indexed binary min-heap merging N sorted
// streams with an explicit stream-order tie-break — is carried over from the
// teacher's segmentMerger.mergeStreams/indexMinHeap (merge.go), generalized
// from raw []byte records read off bufio.Scanner streams to entry.KVEntry
// slices already decoded in memory, and with the tie-break switched from
// "stream arrival order" to "segment recency" (oldest segment is stream 0,
// so a higher order always means a newer segment wins).
package compaction

import (
	"github.com/soumyaprakashdatta/lsm-tree-cache/internal/entry"
)

// Source is anything compaction can pull a sorted-by-key stream of pairs
// from. *segment.Segment satisfies this via Pairs().
type Source interface {
	Pairs() []entry.KVEntry
}

// Merge merges sources ordered oldest-to-newest (sources[0] is the oldest)
// into a single last-writer-wins key-value set, then drops tombstones and
// entries expired as of nowMillis. The result is sorted by key.
func Merge(sources []Source, nowMillis int64) []entry.KVEntry {
	streams := make([][]entry.KVEntry, len(sources))
	for i, src := range sources {
		streams[i] = src.Pairs()
	}

	merged := mergeStreams(streams)

	out := make([]entry.KVEntry, 0, len(merged))
	for _, kv := range merged {
		if kv.Entry.Tombstone() || kv.Entry.Expired(nowMillis) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// streamItem is one pending element of a stream, tagged with which stream it
// came from so winner-take-all ties can favor the newer segment.
type streamItem struct {
	kv    entry.KVEntry
	order int
}

// mergeStreams merges sorted-by-key streams (streams[i] must already be
// sorted ascending by Key), keeping the entry from the highest-order stream
// whenever two streams share a key.
func mergeStreams(streams [][]entry.KVEntry) []entry.KVEntry {
	h := newIndexMinHeap(len(streams))
	cursor := make([]int, len(streams))

	for i := range streams {
		if len(streams[i]) == 0 {
			continue
		}
		h.insert(i, streamItem{kv: streams[i][0], order: i})
		cursor[i] = 1
	}

	var out []entry.KVEntry
	var prev *streamItem
	for h.size() != 0 {
		i, item := h.min()

		if prev == nil {
			prev = &item
		} else if prev.kv.Key != item.kv.Key {
			out = append(out, prev.kv)
			prev = &item
		} else if item.order >= prev.order {
			// Same key from a stream of equal-or-newer order: it wins.
			prev = &item
		}

		if cursor[i] < len(streams[i]) {
			h.insert(i, streamItem{kv: streams[i][cursor[i]], order: i})
			cursor[i]++
		}
	}
	if prev != nil {
		out = append(out, prev.kv)
	}
	return out
}

// indexMinHeap is a binary heap that allows clients to refer to items by the
// stream index they came from, ordered first by key and then by stream order
// (on equal keys the lower-order, older stream comes out first, so
// mergeStreams sees the newer entry last and keeps it). Carried over
// near-verbatim from the teacher's merge.go.
type indexMinHeap struct {
	n     int
	pq    []int
	qp    []int
	items []*streamItem
}

func newIndexMinHeap(n int) *indexMinHeap {
	h := indexMinHeap{
		pq:    make([]int, n+1),
		qp:    make([]int, n+1),
		items: make([]*streamItem, n+1),
	}
	for i := 0; i <= n; i++ {
		h.qp[i] = -1
	}
	return &h
}

func (h *indexMinHeap) insert(i int, item streamItem) {
	h.n++
	h.qp[i] = h.n
	h.pq[h.n] = i
	h.items[i] = &item
	h.swim(h.n)
}

func (h *indexMinHeap) min() (int, streamItem) {
	indexOfMin := h.pq[1]
	min := *h.items[indexOfMin]

	h.exchange(1, h.n)
	h.n--
	h.sink(1)

	h.items[indexOfMin] = nil
	h.qp[indexOfMin] = -1
	h.pq[h.n+1] = -1

	return indexOfMin, min
}

func (h *indexMinHeap) size() int {
	return h.n
}

func (h *indexMinHeap) greater(i, j int) bool {
	a, b := h.items[h.pq[i]], h.items[h.pq[j]]
	if a.kv.Key != b.kv.Key {
		return a.kv.Key > b.kv.Key
	}
	return a.order > b.order
}

func (h *indexMinHeap) exchange(i, j int) {
	h.pq[i], h.pq[j] = h.pq[j], h.pq[i]
	h.qp[h.pq[i]] = i
	h.qp[h.pq[j]] = j
}

func (h *indexMinHeap) swim(k int) {
	for k > 1 && h.greater(k/2, k) {
		h.exchange(k, k/2)
		k = k / 2
	}
}

func (h *indexMinHeap) sink(k int) {
	for 2*k <= h.n {
		j := 2 * k
		if j < h.n && h.greater(j, j+1) {
			j++
		}
		if !h.greater(k, j) {
			break
		}
		h.exchange(k, j)
		k = j
	}
}
