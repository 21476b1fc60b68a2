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
	"errors"
	"fmt"
)

// Code classifies what went wrong with a Sort/Permute/Take/Histogram call.
type Code int

const (
	// OK is never actually returned as an error code; it exists so the
	// zero value of Code prints sensibly.
	OK Code = iota
	// BadInvariant marks a violated cross-rank invariant: mismatched
	// global totals, a buffer sized wrong for its declared element width,
	// and the like.
	BadInvariant
	// BadKey marks a malformed key descriptor: key window outside the
	// record, non-positive widths.
	BadKey
	// BadTuning marks a rejected tuning set: contradictory REQUIRE/DISABLE
	// flags.
	BadTuning
	// TransportError wraps a failure surfaced by the underlying Group
	// (connection loss, context cancellation, peer panic).
	TransportError
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case BadInvariant:
		return "BadInvariant"
	case BadKey:
		return "BadKey"
	case BadTuning:
		return "BadTuning"
	case TransportError:
		return "TransportError"
	default:
		return "Unknown"
	}
}

// Error is the error type every exported mpsort function returns. Wrap with
// errors.As to recover the Code.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code.String() + ": " + e.Err.Error()
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

func transportError(err error) *Error {
	return &Error{Code: TransportError, Err: err}
}
