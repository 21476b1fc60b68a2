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
	"bufio"
	"net"
	"sync"

	"github.com/launix-de/NonLockingReadMap"
)

// pendingTable matches inbound frames to the Recv call waiting for a given
// tag; it is netgroup's equivalent of inproc's hub box map, scoped to one
// peer connection (or, as Group.loopback, to self-addressed traffic).
type pendingTable struct {
	mu    sync.Mutex
	boxes map[uint64]chan []byte
}

func newPendingTable() *pendingTable {
	return &pendingTable{boxes: make(map[uint64]chan []byte)}
}

func (t *pendingTable) box(tag uint64) chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.boxes[tag]; ok {
		return ch
	}
	ch := make(chan []byte, 1)
	t.boxes[tag] = ch
	return ch
}

// peerConn is one rank's live connection to one other rank. Rank assignment
// happens once, at handshake time, which is exactly the read-mostly access
// pattern NonLockingReadMap is built for: ranks are registered once when the
// cluster forms and looked up on every collective thereafter.
type peerConn struct {
	rank    int
	conn    net.Conn
	writer  *bufio.Writer
	wmu     *sync.Mutex
	pending *pendingTable
}

func (p peerConn) GetKey() int      { return p.rank }
func (p peerConn) ComputeSize() uint { return 128 }

func newPeerConn(rank int, conn net.Conn) *peerConn {
	return &peerConn{
		rank:    rank,
		conn:    conn,
		writer:  bufio.NewWriter(conn),
		wmu:     &sync.Mutex{},
		pending: newPendingTable(),
	}
}

func (p *peerConn) send(tag uint64, data []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if err := writeFrame(p.writer, frame{Tag: tag, Data: data}); err != nil {
		return err
	}
	return p.writer.Flush()
}

func (p *peerConn) readLoop() {
	for {
		f, err := readFrame(p.conn)
		if err != nil {
			return
		}
		p.pending.box(f.Tag) <- f.Data
	}
}

// registry is the rank -> peerConn directory, one per Group.
type registry struct {
	peers NonLockingReadMap.NonLockingReadMap[peerConn, int]
}

func newRegistry() *registry {
	return &registry{peers: NonLockingReadMap.New[peerConn, int]()}
}

func (r *registry) set(p *peerConn) { r.peers.Set(p) }
func (r *registry) get(rank int) *peerConn { return r.peers.Get(rank) }
