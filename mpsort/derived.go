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
	"encoding/binary"
	"sort"
)

// GlobalIndices returns, for each of this rank's n local elements, its
// 0-based position in the conceptual global (rank-major) concatenation:
// the sum of every lower-ranked process's local count, plus the local
// offset. This is globalindices() in the original mpsort binding
// (the mpi4py-based reference this package's distributed-sort semantics
// were ported from).
func GlobalIndices(ctx context.Context, g Group, n int) ([]uint64, error) {
	return globalIndices(ctx, g, nextOpID(), n)
}

func globalIndices(ctx context.Context, g Group, tag uint64, n int) ([]uint64, error) {
	counts, err := allGatherUint64(ctx, g, tag, []uint64{uint64(n)})
	if err != nil {
		return nil, err
	}
	var start uint64
	for i := 0; i < g.Rank(); i++ {
		start += counts[i][0]
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = start + uint64(i)
	}
	return out, nil
}

// Histogram buckets local values into the bins defined by the global,
// ascending bin_edges (identical on every rank) and returns the global
// per-bin counts: len(binEdges)+1 bins total, bin 0 catching values below
// binEdges[0] and the last bin catching values >= binEdges[len-1]. right
// mirrors numpy.digitize's `right` parameter from the original mpsort
// binding: right=false places a value equal to an edge in the bin above
// the edge (edges[i-1] <= x < edges[i]); right=true places it in the bin
// below (edges[i-1] < x <= edges[i]).
func Histogram(ctx context.Context, g Group, values []uint64, binEdges []uint64, right bool) ([]uint64, error) {
	local := make([]uint64, len(binEdges)+1)
	for _, v := range values {
		local[digitize(v, binEdges, right)]++
	}
	sums, err := g.AllReduceSum(ctx, local)
	if err != nil {
		return nil, transportError(err)
	}
	return sums, nil
}

func digitize(v uint64, edges []uint64, right bool) int {
	if right {
		return sort.Search(len(edges), func(i int) bool { return edges[i] >= v })
	}
	return sort.Search(len(edges), func(i int) bool { return edges[i] > v })
}

// sortKeyedPayload sorts a payloadWidth-wide payload array (local element
// count len(keys)), keyed by the parallel uint64 array keys, producing this
// rank's outCount payload elements in the resulting distributed order. It
// is the common machinery behind Permute and Take: Permute is built from
// two calls to it (mirroring the original mpsort binding's two-sort
// composition), Take from three.
func sortKeyedPayload(ctx context.Context, g Group, keys []uint64, payload []byte, payloadWidth int, outCount int, tuning TuningSet) ([]byte, error) {
	n := len(keys)
	if n*payloadWidth != len(payload) {
		return nil, newError(BadInvariant, "key count %d does not match payload element count %d", n, len(payload)/payloadWidth)
	}
	const keyWidth = 8
	elementBytes := keyWidth + payloadWidth
	packed := make([]byte, n*elementBytes)
	for i := 0; i < n; i++ {
		rec := packed[i*elementBytes : (i+1)*elementBytes]
		binary.BigEndian.PutUint64(rec[:keyWidth], keys[i])
		copy(rec[keyWidth:], payload[i*payloadWidth:(i+1)*payloadWidth])
	}
	out := make([]byte, outCount*elementBytes)
	if err := coreSort(ctx, g, nextOpID(), packed, out, elementBytes, 0, keyWidth, tuning); err != nil {
		return nil, err
	}
	result := make([]byte, outCount*payloadWidth)
	for i := 0; i < outCount; i++ {
		copy(result[i*payloadWidth:(i+1)*payloadWidth], out[i*elementBytes+keyWidth:(i+1)*elementBytes])
	}
	return result, nil
}

// Permute computes, for every rank, source[index] redistributed onto
// index's own partitioning: index must be a distributed permutation of
// 0..G-1 (every value in 0..G-1 appearing exactly once across all ranks).
// See Take for the general gather-by-index case, where index need not be a
// permutation.
//
// Ported from permute() in the original mpsort binding: two sorts. The
// first reorders each element's origin position by the index value itself,
// landing the result on source's own partitioning; the second reorders
// source by that result, landing on index's (equivalently out's)
// partitioning.
func Permute(ctx context.Context, g Group, source []byte, index []uint64, elementBytes int, out []byte, tuning TuningSet) error {
	srcLocal := len(source) / elementBytes
	idxLocal := len(index)

	sums, err := g.AllReduceSum(ctx, []uint64{uint64(srcLocal), uint64(idxLocal)})
	if err != nil {
		return transportError(err)
	}
	if sums[0] != sums[1] {
		return newError(BadInvariant, "global size of source (%d) and index (%d) differ", sums[0], sums[1])
	}

	tag := nextOpID()
	origin, err := globalIndices(ctx, g, tag, idxLocal)
	if err != nil {
		return err
	}

	originPayload := uint64sToBytesBE(origin)
	originInd2Bytes, err := sortKeyedPayload(ctx, g, index, originPayload, 8, srcLocal, tuning)
	if err != nil {
		return err
	}
	originInd2 := bytesBEToUint64s(originInd2Bytes)

	outLocal := len(out) / elementBytes
	resultBytes, err := sortKeyedPayload(ctx, g, originInd2, source, elementBytes, outLocal, tuning)
	if err != nil {
		return err
	}
	copy(out, resultBytes)
	return nil
}

// Take computes, for every rank, source[index] redistributed onto index's
// own partitioning, where index need not be a permutation (values may
// repeat or be omitted). Ported from take() in the original mpsort
// binding: a histogram first tells each rank how many index values target
// its own local source range, then the same two-sort composition as
// Permute gathers those values locally (a plain slice read, no
// communication, since the sort already routed every targeting index value
// to the rank that owns the source element) before a final sort scatters
// the gathered values back to the requesting ranks.
func Take(ctx context.Context, g Group, source []byte, index []uint64, elementBytes int, out []byte, tuning TuningSet) error {
	srcLocal := len(source) / elementBytes
	idxLocal := len(index)
	p := g.Size()

	tag := nextOpID()

	ends, err := allGatherUint64(ctx, g, tag, []uint64{uint64(srcLocal)})
	if err != nil {
		return err
	}
	binEdges := make([]uint64, p)
	var running uint64
	for i := 0; i < p; i++ {
		running += ends[i][0]
		binEdges[i] = running
	}
	start := binEdges[g.Rank()] - uint64(srcLocal)

	counts, err := Histogram(ctx, g, index, binEdges, false)
	if err != nil {
		return err
	}
	nactive := int(counts[g.Rank()])

	origin, err := globalIndices(ctx, g, tag, idxLocal)
	if err != nil {
		return err
	}

	originPayload := uint64sToBytesBE(origin)
	myOriginBytes, err := sortKeyedPayload(ctx, g, index, originPayload, 8, nactive, tuning)
	if err != nil {
		return err
	}
	myOrigin := bytesBEToUint64s(myOriginBytes)

	indexPayload := uint64sToBytesBE(index)
	myIndexBytes, err := sortKeyedPayload(ctx, g, index, indexPayload, 8, nactive, tuning)
	if err != nil {
		return err
	}
	myIndex := bytesBEToUint64s(myIndexBytes)

	myResult := make([]byte, nactive*elementBytes)
	for i, v := range myIndex {
		if v < start || v-start >= uint64(srcLocal) {
			return newError(BadInvariant, "take: index value %d routed to a rank whose source range does not contain it", v)
		}
		localPos := int(v - start)
		copy(myResult[i*elementBytes:(i+1)*elementBytes], source[localPos*elementBytes:(localPos+1)*elementBytes])
	}

	outLocal := len(out) / elementBytes
	resultBytes, err := sortKeyedPayload(ctx, g, myOrigin, myResult, elementBytes, outLocal, tuning)
	if err != nil {
		return err
	}
	copy(out, resultBytes)
	return nil
}
