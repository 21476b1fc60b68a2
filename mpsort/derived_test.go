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

package mpsort_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/launix-de/mpsort/inproc"
	"github.com/launix-de/mpsort/mpsort"
)

func TestGlobalIndices(t *testing.T) {
	sizes := []int{3, 0, 5, 2}
	groups := inproc.New(len(sizes))
	results := make([][]uint64, len(sizes))
	errs := inproc.Run(groups, func(g *inproc.Group, rank int) error {
		idx, err := mpsort.GlobalIndices(context.Background(), g, sizes[rank])
		if err != nil {
			return err
		}
		results[rank] = idx
		return nil
	})
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", r, err)
		}
	}

	var next uint64
	for r, sz := range sizes {
		if len(results[r]) != sz {
			t.Fatalf("rank %d: got %d indices, want %d", r, len(results[r]), sz)
		}
		for i, v := range results[r] {
			if v != next {
				t.Fatalf("rank %d index %d: got %d, want %d", r, i, v, next)
			}
			next++
		}
	}
}

func TestHistogram(t *testing.T) {
	// Two ranks each holding some values; bin edges split the value space
	// into three bins: [0,10), [10,20), [20,inf).
	values := [][]uint64{
		{1, 5, 9, 15},
		{22, 3, 19, 20, 20},
	}
	binEdges := []uint64{10, 20}
	groups := inproc.New(2)
	var got [][]uint64
	errs := inproc.Run(groups, func(g *inproc.Group, rank int) error {
		counts, err := mpsort.Histogram(context.Background(), g, values[rank], binEdges, false)
		if err != nil {
			return err
		}
		got = append(got, counts)
		return nil
	})
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", r, err)
		}
	}
	// bin0 [.,10): 1,5,9,3 = 4; bin1 [10,20): 15,19 = 2; bin2 [20,.): 22,20,20 = 3
	want := []uint64{4, 2, 3}
	for _, counts := range got {
		for i, w := range want {
			if counts[i] != w {
				t.Fatalf("bin %d: got %d, want %d (counts=%v)", i, counts[i], w, counts)
			}
		}
	}
}

func TestHistogramRightFlag(t *testing.T) {
	values := [][]uint64{{10, 20}}
	binEdges := []uint64{10, 20}
	groups := inproc.New(1)

	var gotLeft, gotRight []uint64
	inproc.Run(groups, func(g *inproc.Group, rank int) error {
		var err error
		gotLeft, err = mpsort.Histogram(context.Background(), g, values[rank], binEdges, false)
		return err
	})
	inproc.Run(groups, func(g *inproc.Group, rank int) error {
		var err error
		gotRight, err = mpsort.Histogram(context.Background(), g, values[rank], binEdges, true)
		return err
	})

	// right=false: value==edge goes to the bin above the edge.
	// 10 -> bin1 ([10,20)), 20 -> bin2 ([20,.))
	if gotLeft[1] != 1 || gotLeft[2] != 1 {
		t.Fatalf("right=false: got %v", gotLeft)
	}
	// right=true: value==edge goes to the bin below the edge.
	// 10 -> bin0 (.,10]), 20 -> bin1 (10,20]
	if gotRight[0] != 1 || gotRight[1] != 1 {
		t.Fatalf("right=true: got %v", gotRight)
	}
}

func u64bytes(vs []uint64) []byte {
	out := make([]byte, len(vs)*8)
	for i, v := range vs {
		binary.BigEndian.PutUint64(out[i*8:], v)
	}
	return out
}

func bytesU64(b []byte) []uint64 {
	out := make([]uint64, len(b)/8)
	for i := range out {
		out[i] = binary.BigEndian.Uint64(b[i*8:])
	}
	return out
}

// TestPermute verifies that Permute, applied with the identity permutation
// reversed (index[i] = G-1-i), reverses a distributed array split evenly
// across three ranks.
func TestPermute(t *testing.T) {
	p := 3
	n := 9 // evenly divides p for a simple partitioning
	perPart := n / p

	source := make([][]byte, p)
	index := make([][]uint64, p)
	for r := 0; r < p; r++ {
		source[r] = u64bytes(func() []uint64 {
			vs := make([]uint64, perPart)
			for i := range vs {
				vs[i] = uint64(r*perPart + i)
			}
			return vs
		}())
		idx := make([]uint64, perPart)
		for i := range idx {
			global := r*perPart + i
			idx[i] = uint64(n - 1 - global)
		}
		index[r] = idx
	}

	groups := inproc.New(p)
	out := make([][]byte, p)
	errs := inproc.Run(groups, func(g *inproc.Group, rank int) error {
		out[rank] = make([]byte, len(source[rank]))
		return mpsort.Permute(context.Background(), g, source[rank], index[rank], 8, out[rank], mpsort.TuningSet{})
	})
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", r, err)
		}
	}

	var all []uint64
	for r := 0; r < p; r++ {
		all = append(all, bytesU64(out[r])...)
	}
	for i, v := range all {
		want := uint64(n - 1 - i)
		if v != want {
			t.Fatalf("position %d: got %d, want %d", i, v, want)
		}
	}
}

// TestTake verifies that Take with a repeating, non-permutation index (every
// rank requests element 0 of the global array) gathers the same source
// value to every requesting position.
func TestTake(t *testing.T) {
	p := 3
	perPart := 4
	n := p * perPart

	source := make([][]byte, p)
	for r := 0; r < p; r++ {
		vs := make([]uint64, perPart)
		for i := range vs {
			vs[i] = uint64(100 + r*perPart + i)
		}
		source[r] = u64bytes(vs)
	}

	index := make([][]uint64, p)
	for r := 0; r < p; r++ {
		idx := make([]uint64, perPart)
		for i := range idx {
			idx[i] = 0
		}
		index[r] = idx
	}

	groups := inproc.New(p)
	out := make([][]byte, p)
	errs := inproc.Run(groups, func(g *inproc.Group, rank int) error {
		out[rank] = make([]byte, len(source[rank]))
		return mpsort.Take(context.Background(), g, source[rank], index[rank], 8, out[rank], mpsort.TuningSet{})
	})
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", r, err)
		}
	}

	for r := 0; r < p; r++ {
		vs := bytesU64(out[r])
		for i, v := range vs {
			if v != 100 {
				t.Fatalf("rank %d position %d: got %d, want 100 (source[0])", r, i, v)
			}
		}
	}
}
