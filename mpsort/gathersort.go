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

import "context"

// gatherSortFallback implements the small-input path: every rank's raw
// (unsorted) local buffer is gathered to rank 0 in rank order, rank 0 runs
// one ordinary localSort over the concatenation -- which is already
// correctly stable because concatenating in rank order reproduces the
// global (rank, local-index) order the stability invariant is defined
// over -- and the sorted whole is scattered back out according to
// sizesOut.
func gatherSortFallback(ctx context.Context, g Group, tag uint64, local []byte, elemBytes, keyOffset, keyBytes int, sizesOut []uint64) ([]byte, error) {
	gathered, err := gatherV(ctx, g, tag, 0, local)
	if err != nil {
		return nil, err
	}

	var sortedAll []byte
	if g.Rank() == 0 {
		total := 0
		for _, b := range gathered {
			total += len(b)
		}
		merged := make([]byte, 0, total)
		for _, b := range gathered {
			merged = append(merged, b...)
		}
		sortedAll = localSort(merged, elemBytes, keyOffset, keyBytes)
	}

	out, err := scatterV(ctx, g, tag, 0, sortedAll, sizesOut, elemBytes)
	if err != nil {
		return nil, err
	}
	return out, nil
}
