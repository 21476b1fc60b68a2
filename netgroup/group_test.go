package netgroup

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

// dialCluster brings up size ranks on localhost TCP sockets and forms a
// full mesh via Dial, mirroring how a real deployment would wire addrs up
// front (here, by listening first to learn the ephemeral ports).
func dialCluster(t *testing.T, size int) ([]*Group, func()) {
	t.Helper()
	listeners := make([]net.Listener, size)
	addrs := make([]string, size)
	for i := 0; i < size; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen rank %d: %v", i, err)
		}
		listeners[i] = l
		addrs[i] = l.Addr().String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	groups := make([]*Group, size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for i := 0; i < size; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := Dial(ctx, i, addrs, listeners[i])
			groups[i] = g
			errs[i] = err
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: Dial: %v", i, err)
		}
	}

	cleanup := func() {
		for _, g := range groups {
			g.Close()
		}
	}
	return groups, cleanup
}

func TestDialFormsFullMesh(t *testing.T) {
	groups, cleanup := dialCluster(t, 3)
	defer cleanup()
	for i, g := range groups {
		if g.Size() != 3 {
			t.Fatalf("rank %d: Size() = %d, want 3", i, g.Size())
		}
		if g.Rank() != i {
			t.Fatalf("rank %d: Rank() = %d, want %d", i, g.Rank(), i)
		}
	}
}

func TestSendRecvOverTCP(t *testing.T) {
	groups, cleanup := dialCluster(t, 2)
	defer cleanup()

	var wg sync.WaitGroup
	var recvErr error
	var got []byte
	wg.Add(2)
	go func() {
		defer wg.Done()
		recvErr = groups[0].Send(context.Background(), 1, 99, []byte("ping"))
	}()
	go func() {
		defer wg.Done()
		got, _ = groups[1].Recv(context.Background(), 0, 99)
	}()
	wg.Wait()
	if recvErr != nil {
		t.Fatalf("Send: %v", recvErr)
	}
	if string(got) != "ping" {
		t.Fatalf("got %q, want %q", got, "ping")
	}
}

func TestSendRecvSelfLoopback(t *testing.T) {
	groups, cleanup := dialCluster(t, 2)
	defer cleanup()

	var wg sync.WaitGroup
	var got []byte
	wg.Add(2)
	go func() {
		defer wg.Done()
		groups[0].Send(context.Background(), 0, 5, []byte("self"))
	}()
	go func() {
		defer wg.Done()
		got, _ = groups[0].Recv(context.Background(), 0, 5)
	}()
	wg.Wait()
	if string(got) != "self" {
		t.Fatalf("got %q, want %q", got, "self")
	}
}

func TestAllReduceSumOverTCP(t *testing.T) {
	groups, cleanup := dialCluster(t, 4)
	defer cleanup()

	results := make([][]uint64, 4)
	var wg sync.WaitGroup
	wg.Add(4)
	for i := 0; i < 4; i++ {
		i := i
		go func() {
			defer wg.Done()
			sums, err := groups[i].AllReduceSum(context.Background(), []uint64{uint64(i)})
			if err != nil {
				t.Errorf("rank %d: AllReduceSum: %v", i, err)
				return
			}
			results[i] = sums
		}()
	}
	wg.Wait()
	for i, sums := range results {
		if sums[0] != 6 {
			t.Fatalf("rank %d: got %d, want 6", i, sums[0])
		}
	}
}
