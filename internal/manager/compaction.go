package manager

import (
	"bytes"
	"container/heap"

	"github.com/guycipher/lsmstore/internal/record"
)

// mergeInput is one SSTable's full, already-sorted record set, tagged
// with its recency rank: 0 is the newest table being merged, higher
// numbers are older. This is the "restartable sorted iterator" the
// design calls for, materialized up front rather than streamed lazily.
type mergeInput struct {
	records []record.Record
	rank    int
}

// iterState tracks one mergeInput's current read position and is the
// type pushed onto the merge heap.
type iterState struct {
	records []record.Record
	pos     int
	rank    int
}

func (s *iterState) key() []byte {
	return s.records[s.pos].Key
}

// mergeHeap orders iterState entries by their current key only; ties
// (same key from multiple tables) are resolved explicitly in Merge, not
// by the heap, since heap.Interface can't express "pop the whole tie
// group together".
type mergeHeap []*iterState

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return bytes.Compare(h[i].key(), h[j].key()) < 0 }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(*iterState)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Merge performs the k-way merge with recency priority described in the
// manager's compaction algorithm: among tables sharing a key, the one
// with the smallest rank (newest) wins, and every iterator sharing that
// key advances together so stale duplicates are skipped.
func Merge(inputs []mergeInput) []record.Record {
	h := &mergeHeap{}
	heap.Init(h)
	for _, in := range inputs {
		if len(in.records) == 0 {
			continue
		}
		heap.Push(h, &iterState{records: in.records, pos: 0, rank: in.rank})
	}

	var out []record.Record
	for h.Len() > 0 {
		key := (*h)[0].key()

		var group []*iterState
		for h.Len() > 0 && bytes.Equal((*h)[0].key(), key) {
			group = append(group, heap.Pop(h).(*iterState))
		}

		best := group[0]
		for _, g := range group[1:] {
			if g.rank < best.rank {
				best = g
			}
		}
		out = append(out, best.records[best.pos])

		for _, g := range group {
			g.pos++
			if g.pos < len(g.records) {
				heap.Push(h, g)
			}
		}
	}
	return out
}
