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
	"context"
	"sort"
)

// bucketPlan is the per-record destination-rank assignment computed from a
// resolved splitter set.
type bucketPlan struct {
	dest       []int // destination rank per local record, in original local order
	sendCounts []int // per destination rank record count
}

// assignBuckets assigns every record in local (already sorted by key) to a
// destination rank by binary search against splitters, resolving ties
// against equal-valued splitters with the global (rank, local-index) order
// of same-keyed records: assignBuckets first learns, via a global exchange
// of local equal-counts, how many records equal to each splitter value live
// on lower-ranked processes (exPrefix), then for each local record ties a
// global position against the splitter's leftTies quota.
//
// A single key value may equal more than one consecutive splitter when
// duplicate keys span more than two output partitions; assignBuckets walks
// the whole contiguous window of equal splitters to find the exact
// destination rather than assuming a tie touches only one boundary.
func assignBuckets(ctx context.Context, g Group, tag uint64, local []byte, elemBytes, keyOffset, keyBytes int, splitters []splitterTag) (*bucketPlan, error) {
	p := g.Size()
	n := len(local) / elemBytes
	nb := len(splitters)

	localEq := make([]uint64, nb)
	for i, sp := range splitters {
		lo := lowerBoundKey(local, elemBytes, keyOffset, keyBytes, sp.key)
		hi := upperBoundKey(local, elemBytes, keyOffset, keyBytes, sp.key)
		localEq[i] = uint64(hi - lo)
	}

	allEq, err := allGatherUint64(ctx, g, tag, localEq)
	if err != nil {
		return nil, err
	}

	rank := g.Rank()
	exPrefix := make([]uint64, nb)
	for i := 0; i < nb; i++ {
		var sum uint64
		for r := 0; r < rank; r++ {
			sum += allEq[r][i]
		}
		exPrefix[i] = sum
	}

	dest := make([]int, n)
	sendCounts := make([]int, p)

	idx := 0
	for idx < n {
		k := keyAt(local, elemBytes, keyOffset, keyBytes, idx)
		r := sort.Search(nb, func(i int) bool {
			return compareKeyBytes(splitters[i].key, k) >= 0
		})
		if r == nb || compareKeyBytes(splitters[r].key, k) != 0 {
			dest[idx] = r
			sendCounts[r]++
			idx++
			continue
		}

		r2 := r
		for r2 < nb && compareKeyBytes(splitters[r2].key, k) == 0 {
			r2++
		}

		eqStart := lowerBoundKey(local, elemBytes, keyOffset, keyBytes, splitters[r].key)
		localPos := idx - eqStart
		globalPos := exPrefix[r] + uint64(localPos)

		assigned := r2
		for j := r; j < r2; j++ {
			if globalPos < splitters[j].leftTies {
				assigned = j
				break
			}
		}
		dest[idx] = assigned
		sendCounts[assigned]++
		idx++
	}

	return &bucketPlan{dest: dest, sendCounts: sendCounts}, nil
}
