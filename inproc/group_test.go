package inproc

import (
	"context"
	"testing"
)

func TestSendRecvRoundTrip(t *testing.T) {
	groups := New(2)
	errs := Run(groups, func(g *Group, rank int) error {
		if rank == 0 {
			return g.Send(context.Background(), 1, 7, []byte("hello"))
		}
		data, err := g.Recv(context.Background(), 0, 7)
		if err != nil {
			return err
		}
		if string(data) != "hello" {
			t.Errorf("rank 1: got %q, want %q", data, "hello")
		}
		return nil
	})
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", r, err)
		}
	}
}

func TestAllReduceSum(t *testing.T) {
	groups := New(4)
	results := make([][]uint64, 4)
	errs := Run(groups, func(g *Group, rank int) error {
		local := []uint64{uint64(rank), uint64(rank * 2)}
		sums, err := g.AllReduceSum(context.Background(), local)
		if err != nil {
			return err
		}
		results[rank] = sums
		return nil
	})
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", r, err)
		}
	}
	// sum of 0..3 = 6, sum of 0,2,4,6 = 12
	for r, sums := range results {
		if sums[0] != 6 || sums[1] != 12 {
			t.Fatalf("rank %d: got %v, want [6 12]", r, sums)
		}
	}
}

func TestAllReduceSumRepeatedRounds(t *testing.T) {
	// Each rank performs three sequential AllReduceSum rounds; a stale
	// barrier left over from a prior round would corrupt a later one.
	groups := New(3)
	errs := Run(groups, func(g *Group, rank int) error {
		for round := 0; round < 3; round++ {
			sums, err := g.AllReduceSum(context.Background(), []uint64{uint64(rank + round)})
			if err != nil {
				return err
			}
			want := uint64(3*round + 3) // sum of rank+round for rank in 0..2
			if sums[0] != want {
				t.Errorf("rank %d round %d: got %d, want %d", rank, round, sums[0], want)
			}
		}
		return nil
	})
	for r, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", r, err)
		}
	}
}

func TestSizeAndRank(t *testing.T) {
	groups := New(3)
	for i, g := range groups {
		if g.Size() != 3 {
			t.Fatalf("Size() = %d, want 3", g.Size())
		}
		if g.Rank() != i {
			t.Fatalf("Rank() = %d, want %d", g.Rank(), i)
		}
	}
}
