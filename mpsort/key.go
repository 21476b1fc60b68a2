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
	"bytes"
	"math/big"
)

// keyAt returns the keyBytes-wide key window of record i within buf, a
// buffer of fixed-width elemBytes records.
func keyAt(buf []byte, elemBytes, keyOffset, keyBytes, i int) []byte {
	base := i * elemBytes
	return buf[base+keyOffset : base+keyOffset+keyBytes]
}

func compareKeyBytes(a, b []byte) int { return bytes.Compare(a, b) }

func zeroKey(keyBytes int) []byte { return make([]byte, keyBytes) }

func maxKey(keyBytes int) []byte {
	k := make([]byte, keyBytes)
	for i := range k {
		k[i] = 0xFF
	}
	return k
}

func keyToBigInt(k []byte) *big.Int { return new(big.Int).SetBytes(k) }

func bigIntToKey(v *big.Int, keyBytes int) []byte {
	b := v.Bytes()
	out := make([]byte, keyBytes)
	if len(b) > keyBytes {
		b = b[len(b)-keyBytes:]
	}
	copy(out[keyBytes-len(b):], b)
	return out
}

// midpointKey returns floor((lo+hi)/2) as a keyBytes-wide big-endian key.
func midpointKey(lo, hi []byte, keyBytes int) []byte {
	l := keyToBigInt(lo)
	h := keyToBigInt(hi)
	sum := new(big.Int).Add(l, h)
	sum.Rsh(sum, 1)
	return bigIntToKey(sum, keyBytes)
}

// incrementKey returns k+1, or ok=false if k is already the maximum key.
func incrementKey(k []byte, keyBytes int) (next []byte, ok bool) {
	v := keyToBigInt(k)
	v.Add(v, big.NewInt(1))
	if v.BitLen() > keyBytes*8 {
		return nil, false
	}
	return bigIntToKey(v, keyBytes), true
}

// decrementKey returns k-1, or ok=false if k is already zero.
func decrementKey(k []byte, keyBytes int) (prev []byte, ok bool) {
	v := keyToBigInt(k)
	if v.Sign() == 0 {
		return nil, false
	}
	v.Sub(v, big.NewInt(1))
	return bigIntToKey(v, keyBytes), true
}
