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

import "sync/atomic"

// opCounter hands out per-process-local operation tags. Because every Sort,
// Permute, Take, or GlobalIndices call is itself a collective -- every rank
// must call it the same number of times, in the same order, per the SPMD
// contract documented on Group -- a purely local counter starting at the
// same value on every rank stays in lockstep across ranks without any
// communication: rank A's Nth top-level call and rank B's Nth top-level
// call always share the same tag. Concurrent top-level calls against one
// Group are safe only if every rank issues them in the same order; that
// requirement is documented on Group and on each exported entry point.
var opCounter atomic.Uint64

func nextOpID() uint64 { return opCounter.Add(1) }
