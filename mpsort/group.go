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

// Group is the polymorphic capability set the engine depends on: a
// fixed-size collection of P cooperating processes, each aware of its own
// rank, able to run collectives together. No concrete transport is named
// here -- mpsort ships two reference realizations, mpsort/inproc
// (goroutines, for tests and single-process benchmarks) and mpsort/netgroup
// (TCP, for a real cluster), and accepts any other type satisfying this
// interface.
//
// Every method must be invoked identically -- same sequence, same set of
// ranks participating -- on every rank for a given logical operation. This
// is the SPMD contract: a Sort (or Permute, Take, Histogram) call issues
// the same sequence of Group calls on every rank, in the same order, and
// implementations are free to match collectives purely by call order
// (the way MPI matches a communicator's collectives) rather than by an
// explicit tag.
type Group interface {
	// Size returns P, the number of ranks in the group. Identical on
	// every rank.
	Size() int

	// Rank returns this process's 0-based rank, 0 <= Rank() < Size().
	Rank() int

	// AllReduceSum element-wise sums local across every rank and returns
	// the identical result vector to every rank. len(local) must be the
	// same on every rank for a given call; this, together with program
	// order, is how implementations match up a given AllReduceSum call
	// across ranks without a tag.
	AllReduceSum(ctx context.Context, local []uint64) ([]uint64, error)

	// Send delivers data to rank dest under tag. The matching Recv on
	// dest must use the same tag. Distinct tags may be in flight
	// concurrently on the same peer pair; mpsort uses a fresh tag per
	// top-level operation (Sort, Permute, Take, GlobalIndices call) so
	// that concurrent operations sharing one Group do not cross-talk, as
	// long as every rank issues them in the same order.
	Send(ctx context.Context, dest int, tag uint64, data []byte) error

	// Recv blocks until a Send from source under tag has arrived and
	// returns its payload. The returned slice is owned by the caller.
	Recv(ctx context.Context, source int, tag uint64) ([]byte, error)
}
