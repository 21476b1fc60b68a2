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

// Sort performs a stable, distributed, sample-sorted arrangement of the
// fixed-width records spread across the group: every rank's in is some
// contiguous slice of the conceptual global array (in rank order), and on
// return every rank's out holds the sorted records that belong at its
// position in the global output partitioning (determined by len(out) on
// each rank -- ranks may request differently sized output partitions than
// their input partition, as long as the global totals match).
//
// in and out must each be a whole number of elementBytes-wide records. The
// key window [keyOffset, keyOffset+keyBytes) must lie within
// [0, elementBytes), and is compared as an unsigned big-endian magnitude.
//
// Sort is itself a collective: every rank in g must call it, with the same
// elementBytes/keyOffset/keyBytes and the same tuning, in the same order
// relative to any other collective call against g.
func Sort(ctx context.Context, g Group, in, out []byte, elementBytes, keyOffset, keyBytes int, tuning TuningSet) error {
	if elementBytes <= 0 {
		return newError(BadKey, "element_bytes must be positive, got %d", elementBytes)
	}
	if keyBytes <= 0 || keyOffset < 0 || keyOffset+keyBytes > elementBytes {
		return newError(BadKey, "key window [%d,%d) must lie within [0,%d)", keyOffset, keyOffset+keyBytes, elementBytes)
	}
	if len(in)%elementBytes != 0 {
		return newError(BadInvariant, "input buffer length %d is not a multiple of element_bytes %d", len(in), elementBytes)
	}
	if len(out)%elementBytes != 0 {
		return newError(BadInvariant, "output buffer length %d is not a multiple of element_bytes %d", len(out), elementBytes)
	}

	tag := nextOpID()
	return coreSort(ctx, g, tag, in, out, elementBytes, keyOffset, keyBytes, tuning)
}

// coreSort is Sort's body, factored out so sortKeyedPayload (behind
// Permute/Take) can drive it with a tag it mints itself, without going
// through Sort's argument validation.
func coreSort(ctx context.Context, g Group, tag uint64, in, out []byte, elementBytes, keyOffset, keyBytes int, tuning TuningSet) error {
	inCount := len(in) / elementBytes
	outCount := len(out) / elementBytes

	sums, err := g.AllReduceSum(ctx, []uint64{uint64(inCount), uint64(outCount)})
	if err != nil {
		return transportError(err)
	}
	if sums[0] != sums[1] {
		return newError(BadInvariant, "global input record count %d != global output record count %d", sums[0], sums[1])
	}
	globalTotal := sums[0]
	if globalTotal == 0 {
		return nil
	}

	p := g.Size()
	if p == 1 {
		sorted := localSort(append([]byte(nil), in...), elementBytes, keyOffset, keyBytes)
		if len(sorted) != len(out) {
			return newError(BadInvariant, "single-rank sort produced %d bytes, out has %d", len(sorted), len(out))
		}
		copy(out, sorted)
		return nil
	}

	outCounts, err := allGatherUint64(ctx, g, tag, []uint64{uint64(outCount)})
	if err != nil {
		return err
	}
	sizesOut := make([]uint64, p)
	for i, v := range outCounts {
		sizesOut[i] = v[0]
	}

	useGather := tuning.Has(RequireGatherSort) ||
		(!tuning.Has(DisableGatherSort) && globalTotal < gatherSortThreshold)

	if useGather {
		result, err := gatherSortFallback(ctx, g, tag, in, elementBytes, keyOffset, keyBytes, sizesOut)
		if err != nil {
			return err
		}
		if len(result) != len(out) {
			return newError(BadInvariant, "gather-sort produced %d bytes, out has %d", len(result), len(out))
		}
		copy(out, result)
		return nil
	}

	sortedLocal := localSort(append([]byte(nil), in...), elementBytes, keyOffset, keyBytes)

	prefix := make([]uint64, p)
	var running uint64
	for i := 0; i < p; i++ {
		running += sizesOut[i]
		prefix[i] = running
	}

	splitters, err := searchSplitters(ctx, g, sortedLocal, elementBytes, keyOffset, keyBytes, prefix[:p-1])
	if err != nil {
		return err
	}

	plan, err := assignBuckets(ctx, g, tag, sortedLocal, elementBytes, keyOffset, keyBytes, splitters)
	if err != nil {
		return err
	}

	received, err := exchangeRecords(ctx, g, tag, sortedLocal, elementBytes, plan, tuning)
	if err != nil {
		return err
	}

	mergeRuns(received, elementBytes, keyOffset, keyBytes, out)
	return nil
}
