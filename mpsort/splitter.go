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

// splitterTag is one resolved splitter: the boundary key itself, plus how
// many globally-ordered records exactly equal to that key are reserved for
// the left (lower-rank) side of the boundary. Records with a key strictly
// less than the splitter always go left; records strictly greater always go
// right; records equal to it are split by leftTies, in (rank, local index)
// order, per spec's stability invariant.
type splitterTag struct {
	key      []byte
	leftTies uint64
}

// searchSplitters finds the p-1 splitters that partition the union of every
// rank's sorted local buffer into exactly the sizes implied by
// targetPrefix: targetPrefix[i] is the total number of records that must
// land at or before output partition i (0-indexed), i.e. the inclusive
// prefix sum of the desired per-rank output sizes. len(targetPrefix) must
// equal g.Size()-1.
//
// Each splitter is found independently by parallel binary search over the
// key space [0, 2^(8*keyBytes)-1]: every rank proposes the same midpoint
// candidate (since the search is seeded identically on every rank and
// narrowed only by globally agreed-upon counts), counts its own local
// records against it, and an AllReduceSum folds every rank's counts into a
// global verdict that either resolves the splitter or halves its bracket.
// Starting from the full key range rather than the true global min/max
// trades a handful of extra rounds (bounded by 8*keyBytes+1 regardless) for
// not needing an extra reduction to find that min/max first.
func searchSplitters(ctx context.Context, g Group, local []byte, elemBytes, keyOffset, keyBytes int, targetPrefix []uint64) ([]splitterTag, error) {
	nb := len(targetPrefix)
	if nb == 0 {
		return nil, nil
	}

	lo := make([][]byte, nb)
	hi := make([][]byte, nb)
	for i := range lo {
		lo[i] = zeroKey(keyBytes)
		hi[i] = maxKey(keyBytes)
	}

	result := make([]splitterTag, nb)
	active := make([]int, nb)
	for i := range active {
		active[i] = i
	}

	maxRounds := 8*keyBytes + 1
	for round := 0; round < maxRounds && len(active) > 0; round++ {
		cand := make([][]byte, len(active))
		for ai, bi := range active {
			cand[ai] = midpointKey(lo[bi], hi[bi], keyBytes)
		}

		localCounts := make([]uint64, 2*len(active))
		for ai, c := range cand {
			ltIdx := lowerBoundKey(local, elemBytes, keyOffset, keyBytes, c)
			leIdx := upperBoundKey(local, elemBytes, keyOffset, keyBytes, c)
			localCounts[2*ai] = uint64(ltIdx)
			localCounts[2*ai+1] = uint64(leIdx - ltIdx)
		}

		globalCounts, err := g.AllReduceSum(ctx, localCounts)
		if err != nil {
			return nil, transportError(err)
		}

		var nextActive []int
		for ai, bi := range active {
			rg := globalCounts[2*ai]
			eg := globalCounts[2*ai+1]
			target := targetPrefix[bi]
			switch {
			case rg <= target && target <= rg+eg:
				result[bi] = splitterTag{key: cand[ai], leftTies: target - rg}
			case rg > target:
				newHi, ok := decrementKey(cand[ai], keyBytes)
				if !ok {
					result[bi] = splitterTag{key: cand[ai], leftTies: 0}
					break
				}
				hi[bi] = newHi
				nextActive = append(nextActive, bi)
			default: // rg+eg < target
				newLo, ok := incrementKey(cand[ai], keyBytes)
				if !ok {
					result[bi] = splitterTag{key: cand[ai], leftTies: eg}
					break
				}
				lo[bi] = newLo
				nextActive = append(nextActive, bi)
			}
		}
		active = nextActive
	}

	// Any boundary that did not converge within maxRounds (should not
	// happen: the bracket halves every round and starts with 8*keyBytes
	// bits of width) is resolved conservatively at its current midpoint
	// with no left ties, rather than left unset.
	for _, bi := range active {
		result[bi] = splitterTag{key: midpointKey(lo[bi], hi[bi], keyBytes), leftTies: 0}
	}
	return result, nil
}
