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

// mpsortd is a long-running cluster peer: it dials into the other ranks
// named on its command line over netgroup, serves an inspection REPL and a
// websocket progress feed, and hot-reloads its tuning flags from a file so
// an operator can nudge a running cluster without a restart.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/dc0d/onexit"
	"github.com/fsnotify/fsnotify"
	"github.com/google/btree"
	"github.com/gorilla/websocket"

	"github.com/launix-de/mpsort/mpsort"
	"github.com/launix-de/mpsort/netgroup"
)

func main() {
	rankFlag := flag.Int("rank", 0, "this process's rank")
	peersFlag := flag.String("peers", "", "comma-separated host:port list, one per rank, index = rank")
	tuningFile := flag.String("tuning-file", "", "path to a tuning file, re-read on every write")
	httpAddr := flag.String("http", "", "address to serve the websocket progress feed on, e.g. :8090")
	flag.Parse()

	peers := strings.Split(*peersFlag, ",")
	if *peersFlag == "" || len(peers) < 1 {
		fmt.Fprintln(os.Stderr, "mpsortd: -peers is required")
		os.Exit(1)
	}

	d := newDaemon(*rankFlag, len(peers))
	if *tuningFile != "" {
		if err := d.loadTuningFile(*tuningFile); err != nil {
			fmt.Fprintln(os.Stderr, "mpsortd: loading tuning file:", err)
			os.Exit(1)
		}
		go d.watchTuningFile(*tuningFile)
	}

	listener, err := net.Listen("tcp", peers[*rankFlag])
	if err != nil {
		fmt.Fprintln(os.Stderr, "mpsortd: listen:", err)
		os.Exit(1)
	}
	onexit.Register(func() { listener.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	g, err := netgroup.Dial(ctx, *rankFlag, peers, listener)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "mpsortd: forming group:", err)
		os.Exit(1)
	}
	onexit.Register(func() { g.Close() })
	d.group = g

	fmt.Printf("mpsortd: rank %d/%d online\n", g.Rank(), g.Size())

	if *httpAddr != "" {
		go d.serveProgress(*httpAddr)
	}

	d.repl()
}

// daemon holds one rank's live tuning state and a record of recently
// completed REPL-invoked operations, keyed by a daemon-local sequence
// number so the REPL and progress feed can answer "what's running".
type daemon struct {
	rank, size int
	group      *netgroup.Group

	mu     sync.RWMutex
	tuning mpsort.TuningSet

	opSeq uint64
	opsMu sync.Mutex
	ops   *btree.BTreeG[opRecord]

	progressMu sync.Mutex
	progress   []*websocket.Conn
}

type opRecord struct {
	tag       uint64
	label     string
	startedAt time.Time
	done      bool
}

func opLess(a, b opRecord) bool { return a.tag < b.tag }

func newDaemon(rank, size int) *daemon {
	return &daemon{
		rank: rank,
		size: size,
		ops:  btree.NewG(32, opLess),
	}
}

func (d *daemon) recordOpStart(tag uint64, label string) {
	d.opsMu.Lock()
	defer d.opsMu.Unlock()
	d.ops.ReplaceOrInsert(opRecord{tag: tag, label: label, startedAt: time.Now()})
	d.broadcastProgress(fmt.Sprintf("start %d %s", tag, label))
}

func (d *daemon) recordOpDone(tag uint64) {
	d.opsMu.Lock()
	rec, ok := d.ops.Get(opRecord{tag: tag})
	if ok {
		rec.done = true
		d.ops.ReplaceOrInsert(rec)
	}
	d.opsMu.Unlock()
	d.broadcastProgress(fmt.Sprintf("done %d", tag))
}

func (d *daemon) currentTuning() mpsort.TuningSet {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tuning
}

// loadTuningFile parses a tuning file: one recognized flag name per line
// (REQUIRE_SPARSE_ALLTOALLV, DISABLE_SPARSE_ALLTOALLV, and so on, matching
// the Tuning constant names), blank lines and #-comments ignored.
func (d *daemon) loadTuningFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var flags []mpsort.Tuning
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f, err := parseTuningFlagName(line)
		if err != nil {
			return err
		}
		flags = append(flags, f)
	}
	t, err := mpsort.NewTuningSet(flags...)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.tuning = t
	d.mu.Unlock()
	return nil
}

func parseTuningFlagName(name string) (mpsort.Tuning, error) {
	switch name {
	case "ENABLE_SPARSE_ALLTOALLV":
		return mpsort.EnableSparseAllToAllV, nil
	case "DISABLE_SPARSE_ALLTOALLV":
		return mpsort.DisableSparseAllToAllV, nil
	case "REQUIRE_SPARSE_ALLTOALLV":
		return mpsort.RequireSparseAllToAllV, nil
	case "DISABLE_IALLREDUCE":
		return mpsort.DisableIAllreduce, nil
	case "DISABLE_GATHER_SORT":
		return mpsort.DisableGatherSort, nil
	case "REQUIRE_GATHER_SORT":
		return mpsort.RequireGatherSort, nil
	case "ENABLE_LZ4_WIRE":
		return mpsort.EnableLZ4Wire, nil
	default:
		return 0, fmt.Errorf("unrecognized tuning flag %q", name)
	}
}

// watchTuningFile reloads the tuning set every time the file is written,
// so an operator can retune a running cluster without restarting it.
func (d *daemon) watchTuningFile(path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Fprintln(os.Stderr, "mpsortd: fsnotify:", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		fmt.Fprintln(os.Stderr, "mpsortd: watching tuning file:", err)
		return
	}
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := d.loadTuningFile(path); err != nil {
					fmt.Fprintln(os.Stderr, "mpsortd: reloading tuning file:", err)
					continue
				}
				fmt.Println("mpsortd: tuning reloaded")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			fmt.Fprintln(os.Stderr, "mpsortd: fsnotify error:", err)
		}
	}
}

var upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}

func (d *daemon) serveProgress(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/progress", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		d.progressMu.Lock()
		d.progress = append(d.progress, conn)
		d.progressMu.Unlock()
		// drain reads until the peer hangs up, discarding them; this
		// connection is a push-only progress feed.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	server := &http.Server{Addr: addr, Handler: mux}
	onexit.Register(func() { server.Close() })
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintln(os.Stderr, "mpsortd: progress server:", err)
	}
}

func (d *daemon) broadcastProgress(msg string) {
	d.progressMu.Lock()
	defer d.progressMu.Unlock()
	live := d.progress[:0]
	for _, conn := range d.progress {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			conn.Close()
			continue
		}
		live = append(live, conn)
	}
	d.progress = live
}

// repl serves a line-oriented inspection console: "tuning" prints the
// active flags, "ops" lists recent operations, "sort <n>" runs an n-record
// self-test sort against a throwaway local buffer using the live group.
func (d *daemon) repl() {
	l, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("mpsortd[%d]> ", d.rank),
		HistoryFile:     fmt.Sprintf(".mpsortd-%d-history.tmp", d.rank),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			return
		} else if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		d.dispatch(line)
	}
}

func (d *daemon) dispatch(line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "tuning":
		fmt.Printf("mpsortd: tuning = %+v\n", d.currentTuning())
	case "ops":
		d.opsMu.Lock()
		d.ops.Ascend(func(rec opRecord) bool {
			status := "running"
			if rec.done {
				status = "done"
			}
			fmt.Printf("  tag=%d %s since=%s status=%s\n", rec.tag, rec.label, rec.startedAt.Format(time.RFC3339), status)
			return true
		})
		d.opsMu.Unlock()
	case "sort":
		if len(fields) != 2 {
			fmt.Println("usage: sort <n>")
			return
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Println("usage: sort <n>")
			return
		}
		d.selfTestSort(n)
	case "quit", "exit":
		os.Exit(0)
	default:
		fmt.Printf("unknown command %q (try: tuning, ops, sort <n>, quit)\n", fields[0])
	}
}

// selfTestSort runs this rank's share of an n-record, all-zero-payload sort
// across the live group, purely to smoke-test connectivity and tuning from
// the console.
func (d *daemon) selfTestSort(n int) {
	const elementBytes = 16
	const keyBytes = 8
	perRank := n / d.size
	local := make([]byte, perRank*elementBytes)
	out := make([]byte, perRank*elementBytes)

	d.opSeq++
	id := d.opSeq
	d.recordOpStart(id, fmt.Sprintf("sort %d", n))
	err := mpsort.Sort(context.Background(), d.group, local, out, elementBytes, 0, keyBytes, d.currentTuning())
	d.recordOpDone(id)
	if err != nil {
		fmt.Println("sort failed:", err)
		return
	}
	fmt.Printf("sort ok: %d local records\n", perRank)
}
