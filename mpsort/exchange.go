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
	"sync"

	"github.com/pierrec/lz4/v4"
)

// exchangeRecords buckets local's records by plan.dest, optionally
// lz4-compresses each bucket, performs the all-to-all exchange (dense or
// sparse, chosen adaptively unless tuning forces one), and returns the
// decompressed payload received from every source rank, indexed by source
// rank.
func exchangeRecords(ctx context.Context, g Group, tag uint64, local []byte, elemBytes int, plan *bucketPlan, t TuningSet) ([][]byte, error) {
	p := g.Size()
	cursor := make([]int, p)
	bufs := make([][]byte, p)
	for i, c := range plan.sendCounts {
		bufs[i] = make([]byte, c*elemBytes)
	}
	for i, d := range plan.dest {
		copy(bufs[d][cursor[d]*elemBytes:(cursor[d]+1)*elemBytes], local[i*elemBytes:(i+1)*elemBytes])
		cursor[d]++
	}

	send := make([][]byte, p)
	for i, b := range bufs {
		send[i] = maybeCompress(b, t)
	}

	dense, err := chooseStrategy(ctx, g, plan.sendCounts, t)
	if err != nil {
		return nil, err
	}

	var recv [][]byte
	if dense {
		recv, err = alltoallvDense(ctx, g, tag, send)
	} else {
		recv, err = alltoallvSparse(ctx, g, tag, send)
	}
	if err != nil {
		return nil, err
	}

	out := make([][]byte, p)
	for i, b := range recv {
		d, err := maybeDecompress(b, t)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

// chooseStrategy picks dense or sparse all-to-all. REQUIRE and DISABLE
// tunings short-circuit the decision; otherwise every rank contributes its
// own non-self destination count to an AllReduceSum, and the resulting
// average density is compared against sparseDensityThreshold. Because the
// reduction result is identical on every rank, every rank reaches the same
// verdict -- required so the same sequence of collectives runs everywhere.
//
// At exactly the threshold, dense wins: density is a continuous estimate
// and ties are rare in practice, so the simpler, more predictable path is
// preferred as the default.
func chooseStrategy(ctx context.Context, g Group, sendCounts []int, t TuningSet) (dense bool, err error) {
	if t.Has(RequireSparseAllToAllV) {
		return false, nil
	}
	if t.Has(DisableSparseAllToAllV) {
		return true, nil
	}
	p := g.Size()
	if p <= 1 {
		return true, nil
	}
	rank := g.Rank()
	nonZero := 0
	for i, c := range sendCounts {
		if i != rank && c > 0 {
			nonZero++
		}
	}
	sums, err := g.AllReduceSum(ctx, []uint64{uint64(nonZero)})
	if err != nil {
		return true, transportError(err)
	}
	avgNonZero := float64(sums[0]) / float64(p)
	density := avgNonZero / float64(p-1)
	return density >= sparseDensityThreshold, nil
}

// alltoallvDense exchanges send[i] with every rank i, including ranks it
// sends zero bytes to/receives zero bytes from: all P*P send/recv pairs are
// issued concurrently and waited on together.
func alltoallvDense(ctx context.Context, g Group, tag uint64, send [][]byte) ([][]byte, error) {
	p := g.Size()
	recv := make([][]byte, p)
	sendErrs := make([]error, p)
	recvErrs := make([]error, p)
	var wg sync.WaitGroup
	wg.Add(2 * p)
	for dest := 0; dest < p; dest++ {
		dest := dest
		go func() {
			defer wg.Done()
			sendErrs[dest] = g.Send(ctx, dest, tag, send[dest])
		}()
	}
	for src := 0; src < p; src++ {
		src := src
		go func() {
			defer wg.Done()
			data, err := g.Recv(ctx, src, tag)
			recv[src] = data
			recvErrs[src] = err
		}()
	}
	wg.Wait()
	for _, err := range sendErrs {
		if err != nil {
			return nil, transportError(err)
		}
	}
	for _, err := range recvErrs {
		if err != nil {
			return nil, transportError(err)
		}
	}
	return recv, nil
}

// alltoallvSparse exchanges only with ranks that actually have data: a
// handshake first lets every rank learn which peers will send to it, so
// that only non-zero sends and recvs are posted. The handshake lays out a
// P-row adjacency bitmap, one row per destination rank and one word per 64
// source ranks; each rank sets its own source bit in the row of every
// destination it sends to, and the bitmaps are AllReduceSummed together.
// Since each rank only ever sets its own bit, summing is equivalent to
// OR-ing, giving every rank the full adjacency matrix in a single
// collective.
func alltoallvSparse(ctx context.Context, g Group, tag uint64, send [][]byte) ([][]byte, error) {
	p := g.Size()
	rank := g.Rank()
	words := (p + 63) / 64

	sendTo := make([]bool, p)
	for i, b := range send {
		sendTo[i] = len(b) > 0
	}

	local := make([]uint64, p*words)
	for dest := 0; dest < p; dest++ {
		if sendTo[dest] {
			w := rank / 64
			bit := uint(rank % 64)
			local[dest*words+w] |= 1 << bit
		}
	}
	global, err := g.AllReduceSum(ctx, local)
	if err != nil {
		return nil, transportError(err)
	}
	recvFrom := make([]bool, p)
	for src := 0; src < p; src++ {
		w := src / 64
		bit := uint(src % 64)
		if global[rank*words+w]&(1<<bit) != 0 {
			recvFrom[src] = true
		}
	}

	recv := make([][]byte, p)
	var wg sync.WaitGroup
	sendErrs := make([]error, p)
	recvErrs := make([]error, p)
	for dest := 0; dest < p; dest++ {
		if !sendTo[dest] {
			continue
		}
		dest := dest
		wg.Add(1)
		go func() {
			defer wg.Done()
			sendErrs[dest] = g.Send(ctx, dest, tag, send[dest])
		}()
	}
	for src := 0; src < p; src++ {
		if !recvFrom[src] {
			continue
		}
		src := src
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := g.Recv(ctx, src, tag)
			recv[src] = data
			recvErrs[src] = err
		}()
	}
	wg.Wait()
	for _, err := range sendErrs {
		if err != nil {
			return nil, transportError(err)
		}
	}
	for _, err := range recvErrs {
		if err != nil {
			return nil, transportError(err)
		}
	}
	return recv, nil
}

// maybeCompress lz4-compresses b when EnableLZ4Wire is set; otherwise it
// returns b unchanged. The wire format is a 4-byte big-endian original
// length followed by the lz4 block, so maybeDecompress can size its output
// buffer without a second round trip.
func maybeCompress(b []byte, t TuningSet) []byte {
	if !t.Has(EnableLZ4Wire) || len(b) == 0 {
		return b
	}
	bound := lz4.CompressBlockBound(len(b))
	out := make([]byte, 4+bound)
	var c lz4.Compressor
	n, err := c.CompressBlock(b, out[4:])
	if err != nil || n == 0 || n >= len(b) {
		// incompressible or too small to bother: ship raw, flagged by a
		// zero length prefix.
		return append([]byte{0, 0, 0, 0}, b...)
	}
	out = out[:4+n]
	putUint32BE(out, uint32(len(b)))
	return out
}

func maybeDecompress(b []byte, t TuningSet) ([]byte, error) {
	if !t.Has(EnableLZ4Wire) || len(b) == 0 {
		return b, nil
	}
	origLen := getUint32BE(b)
	if origLen == 0 {
		return append([]byte(nil), b[4:]...), nil
	}
	out := make([]byte, origLen)
	n, err := lz4.UncompressBlock(b[4:], out)
	if err != nil {
		return nil, newError(BadInvariant, "lz4 wire decompress: %w", err)
	}
	return out[:n], nil
}

func putUint32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32BE(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
