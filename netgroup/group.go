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

// Package netgroup is a TCP realization of mpsort.Group: every rank dials
// or accepts a persistent connection to every other rank, frames are
// length-prefixed gob (see wire.go), and AllReduceSum is implemented as a
// star reduction through rank 0 riding the same Send/Recv machinery as
// everything else, on a tag range reserved for it.
package netgroup

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/launix-de/mpsort/mpsort"
)

// Group is one rank's live connection set.
type Group struct {
	size     int
	rank     int
	connID   uuid.UUID
	registry *registry
	loopback *pendingTable

	reduceSeq atomic.Uint64
}

var _ mpsort.Group = (*Group)(nil)

// Dial forms the group: addrs[i] is rank i's listen address (addrs[rank]
// is this process's own, used only to size the peer set). Ranks below
// rank are expected to dial in and are accepted off listener; ranks above
// rank are dialed out to. This half-duplex ordering (only the
// lower-numbered rank of a pair dials) avoids a simultaneous-connect race
// without needing a separate rendezvous step.
func Dial(ctx context.Context, rank int, addrs []string, listener net.Listener) (*Group, error) {
	size := len(addrs)
	g := &Group{
		size:     size,
		rank:     rank,
		connID:   uuid.New(),
		registry: newRegistry(),
		loopback: newPendingTable(),
	}

	var wg sync.WaitGroup
	errs := make([]error, size)

	if rank > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rank; i++ {
				conn, err := listener.Accept()
				if err != nil {
					errs[i] = fmt.Errorf("netgroup: accept: %w", err)
					continue
				}
				peerRank, err := readHandshake(conn)
				if err != nil {
					errs[i] = err
					conn.Close()
					continue
				}
				pc := newPeerConn(peerRank, conn)
				g.registry.set(pc)
				go pc.readLoop()
			}
		}()
	}

	for i := rank + 1; i < size; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", addrs[i])
			if err != nil {
				errs[i] = fmt.Errorf("netgroup: dial rank %d at %s: %w", i, addrs[i], err)
				return
			}
			if err := writeHandshake(conn, rank); err != nil {
				errs[i] = err
				conn.Close()
				return
			}
			pc := newPeerConn(i, conn)
			g.registry.set(pc)
			go pc.readLoop()
		}()
	}

	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Close tears down every peer connection.
func (g *Group) Close() error {
	var firstErr error
	for i := 0; i < g.size; i++ {
		if i == g.rank {
			continue
		}
		if peer := g.registry.get(i); peer != nil {
			if err := peer.conn.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (g *Group) Size() int { return g.size }
func (g *Group) Rank() int { return g.rank }

func (g *Group) Send(ctx context.Context, dest int, tag uint64, data []byte) error {
	if dest == g.rank {
		select {
		case g.loopback.box(tag) <- data:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	peer := g.registry.get(dest)
	if peer == nil {
		return &mpsort.Error{Code: mpsort.TransportError, Err: fmt.Errorf("netgroup: no connection to rank %d", dest)}
	}
	if err := peer.send(tag, data); err != nil {
		return &mpsort.Error{Code: mpsort.TransportError, Err: err}
	}
	return nil
}

func (g *Group) Recv(ctx context.Context, source int, tag uint64) ([]byte, error) {
	var box chan []byte
	if source == g.rank {
		box = g.loopback.box(tag)
	} else {
		peer := g.registry.get(source)
		if peer == nil {
			return nil, &mpsort.Error{Code: mpsort.TransportError, Err: fmt.Errorf("netgroup: no connection to rank %d", source)}
		}
		box = peer.pending.box(tag)
	}
	select {
	case data := <-box:
		return data, nil
	case <-ctx.Done():
		return nil, &mpsort.Error{Code: mpsort.TransportError, Err: ctx.Err()}
	}
}

// reduceTagBase is a tag range reserved for AllReduceSum's internal
// Send/Recv traffic, disjoint from the opID-derived tags mpsort's exported
// entry points generate (those start at 1 and grow by ordinary call
// volume, nowhere near this range).
const reduceTagBase uint64 = 1 << 63

// AllReduceSum implements the collective as a star reduction through rank
// 0: every other rank sends its local vector to rank 0 and waits for the
// summed result back. Matching across the P concurrent AllReduceSum calls
// that make up one round relies on the same call-order guarantee as
// mpsort's own opID scheme: every rank's Nth AllReduceSum call is part of
// the same logical round.
func (g *Group) AllReduceSum(ctx context.Context, local []uint64) ([]uint64, error) {
	seq := g.reduceSeq.Add(1)
	tag := reduceTagBase + seq

	if g.rank == 0 {
		sums := append([]uint64(nil), local...)
		for i := 1; i < g.size; i++ {
			data, err := g.Recv(ctx, i, tag)
			if err != nil {
				return nil, err
			}
			contrib := bytesBEToUint64s(data)
			for j := range sums {
				if j < len(contrib) {
					sums[j] += contrib[j]
				}
			}
		}
		payload := uint64sToBytesBE(sums)
		for i := 1; i < g.size; i++ {
			if err := g.Send(ctx, i, tag, payload); err != nil {
				return nil, err
			}
		}
		return sums, nil
	}

	if err := g.Send(ctx, 0, tag, uint64sToBytesBE(local)); err != nil {
		return nil, err
	}
	data, err := g.Recv(ctx, 0, tag)
	if err != nil {
		return nil, err
	}
	return bytesBEToUint64s(data), nil
}
