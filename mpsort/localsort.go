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

import (
	"bytes"
	"runtime"
	"sort"
	"sync"
)

// localSort returns a new buffer holding buf's records stably sorted by
// their key window; a buf of at most one record is returned as is. Large
// buffers are split into contiguous chunks, each
// chunk sorted by a worker drawn from a fixed-size pool (the job-channel
// fan-out storage/partition.go uses to shard work across goroutines), and
// the sorted chunks are then k-way merged back together with mergeRuns --
// since the chunks partition the original buffer in order, merging them
// with run-index tie-break reproduces the same stability a single
// sequential stable sort would give.
func localSort(buf []byte, elemBytes, keyOffset, keyBytes int) []byte {
	n := len(buf) / elemBytes
	if n <= 1 {
		return buf
	}

	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	chunkSize := (n + workers - 1) / workers
	if chunkSize < 1 {
		chunkSize = n
	}

	type span struct{ start, end int }
	var spans []span
	for s := 0; s < n; s += chunkSize {
		e := s + chunkSize
		if e > n {
			e = n
		}
		spans = append(spans, span{s, e})
	}

	sorted := make([][]byte, len(spans))
	jobs := make(chan int, len(spans))
	var wg sync.WaitGroup
	wg.Add(len(spans))

	worker := func() {
		for idx := range jobs {
			sp := spans[idx]
			sorted[idx] = sortSpanStable(buf, elemBytes, keyOffset, keyBytes, sp.start, sp.end)
			wg.Done()
		}
	}
	poolSize := workers
	if poolSize > len(spans) {
		poolSize = len(spans)
	}
	for i := 0; i < poolSize; i++ {
		go worker()
	}
	for i := range spans {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if len(sorted) == 1 {
		return sorted[0]
	}
	out := make([]byte, len(buf))
	mergeRuns(sorted, elemBytes, keyOffset, keyBytes, out)
	return out
}

// sortSpanStable stably sorts the [start,end) record range of buf by key
// and returns it as a freshly allocated, tightly packed buffer.
func sortSpanStable(buf []byte, elemBytes, keyOffset, keyBytes, start, end int) []byte {
	n := end - start
	idx := make([]int, n)
	for i := range idx {
		idx[i] = start + i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return compareKeyBytes(
			keyAt(buf, elemBytes, keyOffset, keyBytes, idx[i]),
			keyAt(buf, elemBytes, keyOffset, keyBytes, idx[j]),
		) < 0
	})
	out := make([]byte, n*elemBytes)
	for i, srcIdx := range idx {
		copy(out[i*elemBytes:(i+1)*elemBytes], buf[srcIdx*elemBytes:(srcIdx+1)*elemBytes])
	}
	return out
}

// lowerBoundKey returns the index of the first record in the (already
// key-sorted) buf whose key is >= target.
func lowerBoundKey(buf []byte, elemBytes, keyOffset, keyBytes int, target []byte) int {
	n := len(buf) / elemBytes
	return sort.Search(n, func(i int) bool {
		return bytes.Compare(keyAt(buf, elemBytes, keyOffset, keyBytes, i), target) >= 0
	})
}

// upperBoundKey returns the index of the first record in the (already
// key-sorted) buf whose key is > target.
func upperBoundKey(buf []byte, elemBytes, keyOffset, keyBytes int, target []byte) int {
	n := len(buf) / elemBytes
	return sort.Search(n, func(i int) bool {
		return bytes.Compare(keyAt(buf, elemBytes, keyOffset, keyBytes, i), target) > 0
	})
}
