/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package mpsort

import "container/heap"

// mergeHeapItem is one candidate record in the k-way merge frontier: the
// run it came from, its position within that run, and its key (cached so
// the heap's Less never re-derives it).
type mergeHeapItem struct {
	run int
	pos int
	key []byte
}

// mergeHeap orders candidates by key ascending, breaking ties by run index
// ascending. Runs are merged in the order they were handed to mergeRuns, so
// giving earlier runs priority on a tie preserves the stable, rank-major
// ordering the rest of the engine relies on -- the same shape as the
// taskHeap priority ordering used for scheduling, just keyed on record
// bytes instead of a task priority.
type mergeHeap []mergeHeapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if c := compareKeyBytes(h[i].key, h[j].key); c != 0 {
		return c < 0
	}
	return h[i].run < h[j].run
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(mergeHeapItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeRuns merges len(runs) sorted runs (each a []byte of whole
// elemBytes-wide records; nil/empty runs are allowed) into dst, which must
// be exactly sum(len(r) for r in runs) bytes. Each run must already be
// sorted by the key window, and stable with respect to the global
// (rank-major) record order the runs were derived from; mergeRuns preserves
// that by breaking ties in favor of the lower run index.
func mergeRuns(runs [][]byte, elemBytes, keyOffset, keyBytes int, dst []byte) {
	counts := make([]int, len(runs))
	h := make(mergeHeap, 0, len(runs))
	for i, r := range runs {
		counts[i] = len(r) / elemBytes
		if counts[i] > 0 {
			h = append(h, mergeHeapItem{run: i, pos: 0, key: keyAt(r, elemBytes, keyOffset, keyBytes, 0)})
		}
	}
	heap.Init(&h)
	out := 0
	for h.Len() > 0 {
		it := heap.Pop(&h).(mergeHeapItem)
		copy(dst[out*elemBytes:(out+1)*elemBytes], runs[it.run][it.pos*elemBytes:(it.pos+1)*elemBytes])
		out++
		next := it.pos + 1
		if next < counts[it.run] {
			heap.Push(&h, mergeHeapItem{run: it.run, pos: next, key: keyAt(runs[it.run], elemBytes, keyOffset, keyBytes, next)})
		}
	}
}
