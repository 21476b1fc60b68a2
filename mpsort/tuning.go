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

// Tuning is a single recognized tuning flag. Flags are combined into a
// TuningSet with NewTuningSet; an unset TuningSet is the all-defaults
// configuration (adaptive dense/sparse choice, gather-sort below the
// default threshold, blocking allreduce).
type Tuning uint32

const (
	// EnableSparseAllToAllV affirms the adaptive density heuristic in
	// exchange.go's chooseStrategy. It has no effect beyond the default
	// behavior (the heuristic already runs unless REQUIRE or DISABLE say
	// otherwise) -- kept only because callers migrating from systems that
	// required an explicit opt-in expect the flag to exist.
	EnableSparseAllToAllV Tuning = 1 << iota
	// DisableSparseAllToAllV forces the dense all-to-all path regardless
	// of estimated density.
	DisableSparseAllToAllV
	// RequireSparseAllToAllV forces the sparse all-to-all path regardless
	// of estimated density.
	RequireSparseAllToAllV
	// DisableIAllreduce disables overlap between a splitter-search round's
	// allreduce and the next round's candidate preparation. The reference
	// Group interface only exposes a blocking AllReduceSum, so there is no
	// overlap opportunity to disable in this implementation; the flag is
	// accepted for API compatibility, is not read by any code path, and
	// has no effect on the result or on the code path taken.
	DisableIAllreduce
	// DisableGatherSort forces the principal distributed path even for
	// small global totals that would otherwise trip the gather-sort
	// fallback.
	DisableGatherSort
	// RequireGatherSort forces the gather-sort fallback regardless of
	// global total size.
	RequireGatherSort
	// EnableLZ4Wire transparently lz4-compresses exchange-phase payloads
	// before handing them to the Group and decompresses on receipt. It is
	// an additive wire-format choice outside the core sort contract and
	// does not change the sorted result.
	EnableLZ4Wire
)

// TuningSet is a validated, immutable bundle of Tuning flags.
type TuningSet struct {
	bits Tuning
}

// NewTuningSet validates and combines flags. REQUIRE/DISABLE pairs that
// contradict each other are rejected; everything else composes freely.
func NewTuningSet(flags ...Tuning) (TuningSet, error) {
	var t TuningSet
	for _, f := range flags {
		t.bits |= f
	}
	if t.bits&RequireSparseAllToAllV != 0 && t.bits&DisableSparseAllToAllV != 0 {
		return TuningSet{}, newError(BadTuning, "REQUIRE_SPARSE_ALLTOALLV and DISABLE_SPARSE_ALLTOALLV are mutually exclusive")
	}
	if t.bits&RequireGatherSort != 0 && t.bits&DisableGatherSort != 0 {
		return TuningSet{}, newError(BadTuning, "REQUIRE_GATHER_SORT and DISABLE_GATHER_SORT are mutually exclusive")
	}
	return t, nil
}

// Has reports whether f is set.
func (t TuningSet) Has(f Tuning) bool { return t.bits&f != 0 }

// gatherSortThreshold is the default global record count below which the
// gather-sort fallback is used instead of the distributed path, absent an
// explicit REQUIRE/DISABLE override. Below this size the O(P) collective
// overhead of splitter search dominates whatever the distributed path could
// save.
const gatherSortThreshold = 1 << 14

// sparseDensityThreshold is the fraction of non-self destination ranks (out
// of P-1) below which the sparse all-to-all path is judged cheaper than the
// dense one. Exactly at the threshold, dense wins (see chooseStrategy).
const sparseDensityThreshold = 0.25
