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

package netgroup

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// frame is the unit of exchange on a peer connection: Tag matches it to a
// pending Send/Recv pair (see pendingTable). ConnID is a slot in the
// encoded frame for a connection identifier; peerConn.send does not fill
// it, so frames on a live connection carry the zero UUID.
type frame struct {
	ConnID uuid.UUID
	Tag    uint64
	Data   []byte
}

// writeFrame gob-encodes f and writes it as a 4-byte big-endian length
// prefix followed by the encoded body, so readFrame can size its read
// without scanning for a delimiter.
func writeFrame(w io.Writer, f frame) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f); err != nil {
		return fmt.Errorf("netgroup: encode frame: %w", err)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("netgroup: write frame length: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("netgroup: write frame body: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) (frame, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return frame{}, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return frame{}, fmt.Errorf("netgroup: read frame body: %w", err)
	}
	var f frame
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&f); err != nil {
		return frame{}, fmt.Errorf("netgroup: decode frame: %w", err)
	}
	return f, nil
}

// writeHandshake/readHandshake identify which rank just dialed in, ahead of
// any frame traffic on the connection: 4 bytes, big-endian rank number.
func writeHandshake(w io.Writer, rank int) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(rank))
	_, err := w.Write(buf[:])
	if err != nil {
		return fmt.Errorf("netgroup: write handshake: %w", err)
	}
	return nil
}

func readHandshake(r io.Reader) (int, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("netgroup: read handshake: %w", err)
	}
	return int(binary.BigEndian.Uint32(buf[:])), nil
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
