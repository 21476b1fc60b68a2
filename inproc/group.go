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

// Package inproc is a goroutine/channel realization of mpsort.Group: P ranks
// live as goroutines within one process, sharing a hub that matches Sends to
// Recvs by (source, dest, tag) and runs AllReduceSum as a simple
// arrive-sum-release barrier. It exists for tests and single-process
// benchmarking; mpsort/netgroup is the realization for an actual cluster.
package inproc

import (
	"context"
	"sync"

	"github.com/jtolds/gls"

	"github.com/launix-de/mpsort/mpsort"
)

type msgKey struct {
	src, dest int
	tag       uint64
}

type allReduceBarrier struct {
	mu      sync.Mutex
	arrived int
	sums    []uint64
	done    chan struct{}
}

type hub struct {
	size  int
	boxes sync.Map // msgKey -> chan []byte

	arMu      sync.Mutex
	arCurrent *allReduceBarrier
}

func (h *hub) box(key msgKey) chan []byte {
	if v, ok := h.boxes.Load(key); ok {
		return v.(chan []byte)
	}
	newBox := make(chan []byte, 1)
	actual, _ := h.boxes.LoadOrStore(key, newBox)
	return actual.(chan []byte)
}

// allReduceSum matches ranks up purely by call order: the first rank to
// arrive for a given round creates the barrier, later ranks join it, and the
// rank that completes it (the Pth arrival) closes its done channel to
// release everyone with the same summed vector.
func (h *hub) allReduceSum(ctx context.Context, local []uint64) ([]uint64, error) {
	h.arMu.Lock()
	if h.arCurrent == nil {
		h.arCurrent = &allReduceBarrier{sums: make([]uint64, len(local)), done: make(chan struct{})}
	}
	b := h.arCurrent
	h.arMu.Unlock()

	b.mu.Lock()
	for i, v := range local {
		b.sums[i] += v
	}
	b.arrived++
	last := b.arrived == h.size
	if last {
		h.arMu.Lock()
		h.arCurrent = nil
		h.arMu.Unlock()
	}
	result := b.sums
	b.mu.Unlock()

	if last {
		close(b.done)
	}

	select {
	case <-b.done:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Group is one rank's view of an in-process mpsort.Group.
type Group struct {
	hub  *hub
	rank int
}

var _ mpsort.Group = (*Group)(nil)

// New creates size ranks sharing one in-process transport.
func New(size int) []*Group {
	if size <= 0 {
		panic("inproc: size must be positive")
	}
	h := &hub{size: size}
	groups := make([]*Group, size)
	for r := 0; r < size; r++ {
		groups[r] = &Group{hub: h, rank: r}
	}
	return groups
}

func (g *Group) Size() int { return g.hub.size }
func (g *Group) Rank() int { return g.rank }

func (g *Group) AllReduceSum(ctx context.Context, local []uint64) ([]uint64, error) {
	return g.hub.allReduceSum(ctx, local)
}

func (g *Group) Send(ctx context.Context, dest int, tag uint64, data []byte) error {
	box := g.hub.box(msgKey{src: g.rank, dest: dest, tag: tag})
	select {
	case box <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Group) Recv(ctx context.Context, source int, tag uint64) ([]byte, error) {
	box := g.hub.box(msgKey{src: source, dest: g.rank, tag: tag})
	select {
	case data := <-box:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run launches fn once per rank, each in its own gls-tagged goroutine (named
// purely for trace/panic attribution, the convention storage/partition.go
// uses for its shard workers), and waits for every rank to return.
func Run(groups []*Group, fn func(g *Group, rank int) error) []error {
	errs := make([]error, len(groups))
	var wg sync.WaitGroup
	wg.Add(len(groups))
	for i, grp := range groups {
		i, grp := i, grp
		gls.Go(func() {
			defer wg.Done()
			errs[i] = fn(grp, i)
		})
	}
	wg.Wait()
	return errs
}
