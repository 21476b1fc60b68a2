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
	"sync"
)

// gatherV collects local from every rank onto root, in rank order. On
// root the result has length g.Size() and result[r] is rank r's local
// (result[g.Rank()] is simply local itself, not round-tripped). On
// non-root ranks it returns nil, nil after handing local to root.
func gatherV(ctx context.Context, g Group, tag uint64, root int, local []byte) ([][]byte, error) {
	rank := g.Rank()
	p := g.Size()
	if rank != root {
		if err := g.Send(ctx, root, tag, local); err != nil {
			return nil, transportError(err)
		}
		return nil, nil
	}
	result := make([][]byte, p)
	result[rank] = local
	errs := make([]error, p)
	var wg sync.WaitGroup
	for src := 0; src < p; src++ {
		if src == rank {
			continue
		}
		src := src
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := g.Recv(ctx, src, tag)
			result[src] = data
			errs[src] = err
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, transportError(err)
		}
	}
	return result, nil
}

// scatterV is gatherV's inverse: on root, data holds every rank's output
// chunk back to back (sizesOut[i]*elemBytes bytes for rank i); every rank,
// including root, receives its own chunk back.
func scatterV(ctx context.Context, g Group, tag uint64, root int, data []byte, sizesOut []uint64, elemBytes int) ([]byte, error) {
	rank := g.Rank()
	p := g.Size()
	if rank != root {
		out, err := g.Recv(ctx, root, tag)
		if err != nil {
			return nil, transportError(err)
		}
		return out, nil
	}
	errs := make([]error, p)
	var wg sync.WaitGroup
	var mine []byte
	offset := 0
	for i := 0; i < p; i++ {
		chunkLen := int(sizesOut[i]) * elemBytes
		chunk := data[offset : offset+chunkLen]
		offset += chunkLen
		if i == rank {
			mine = append([]byte(nil), chunk...)
			continue
		}
		dest := i
		payload := chunk
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[dest] = g.Send(ctx, dest, tag, payload)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, transportError(err)
		}
	}
	return mine, nil
}

// broadcastBytes sends data (meaningful only as passed by root) to every
// rank.
func broadcastBytes(ctx context.Context, g Group, tag uint64, root int, data []byte) ([]byte, error) {
	rank := g.Rank()
	p := g.Size()
	if rank != root {
		out, err := g.Recv(ctx, root, tag)
		if err != nil {
			return nil, transportError(err)
		}
		return out, nil
	}
	errs := make([]error, p)
	var wg sync.WaitGroup
	for dest := 0; dest < p; dest++ {
		if dest == rank {
			continue
		}
		dest := dest
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[dest] = g.Send(ctx, dest, tag, data)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, transportError(err)
		}
	}
	return data, nil
}

// allGatherUint64 gives every rank every rank's local vector, built from
// gatherV followed by broadcastBytes: root assembles the full table, then
// broadcasts it back out. len(local) may differ per rank.
func allGatherUint64(ctx context.Context, g Group, tag uint64, local []uint64) ([][]uint64, error) {
	buf := uint64sToBytesBE(local)
	gathered, err := gatherV(ctx, g, tag, 0, buf)
	if err != nil {
		return nil, err
	}
	var blob []byte
	if g.Rank() == 0 {
		blob = encodeByteSlices(gathered)
	}
	out, err := broadcastBytes(ctx, g, tag, 0, blob)
	if err != nil {
		return nil, err
	}
	parts := decodeByteSlices(out)
	result := make([][]uint64, len(parts))
	for i, part := range parts {
		result[i] = bytesBEToUint64s(part)
	}
	return result, nil
}

func uint64sToBytesBE(vs []uint64) []byte {
	out := make([]byte, len(vs)*8)
	for i, v := range vs {
		binary.BigEndian.PutUint64(out[i*8:], v)
	}
	return out
}

func bytesBEToUint64s(b []byte) []uint64 {
	n := len(b) / 8
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint64(b[i*8:])
	}
	return out
}

// encodeByteSlices frames a [][]byte as a 4-byte count followed by
// (4-byte length, payload) pairs, so it can travel as a single Send/Recv
// payload.
func encodeByteSlices(parts [][]byte) []byte {
	total := 4
	for _, p := range parts {
		total += 4 + len(p)
	}
	out := make([]byte, 0, total)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(parts)))
	out = append(out, lenBuf[:]...)
	for _, p := range parts {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p)))
		out = append(out, lenBuf[:]...)
		out = append(out, p...)
	}
	return out
}

func decodeByteSlices(b []byte) [][]byte {
	if len(b) < 4 {
		return nil
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	out := make([][]byte, n)
	for i := uint32(0); i < n; i++ {
		l := binary.BigEndian.Uint32(b[:4])
		b = b[4:]
		out[i] = b[:l:l]
		b = b[l:]
	}
	return out
}
