/*
 * MIT License
 *
 * Copyright (c) 2026 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package eventloop owns the single-threaded core of the proxy: the
// readiness poller, the accept listener, the unused-token heap, and the
// per-worker workload table. It never blocks on a spinlock for an
// unbounded time, and it is the only goroutine that ever calls
// poller.Poller's mutating methods.
package eventloop

import (
	"context"
	"net"
	"runtime"
	"strconv"

	"github.com/nabbar/tlsrp/certificates"
	"github.com/nabbar/tlsrp/internal/bus"
	"github.com/nabbar/tlsrp/internal/forward"
	liberr "github.com/nabbar/tlsrp/internal/errors"
	"github.com/nabbar/tlsrp/internal/logger"
	"github.com/nabbar/tlsrp/internal/metrics"
	"github.com/nabbar/tlsrp/internal/poller"
	"github.com/nabbar/tlsrp/internal/slab"
	"github.com/nabbar/tlsrp/internal/stream"
	"github.com/nabbar/tlsrp/internal/workerid"
)

// listenerToken is the reserved token the TCP accept listener registers
// under; it can never collide with a slab-backed token because slab
// tokens start at slab.Base.
const listenerToken uint32 = 1

// Config is everything the loop needs to start, supplied by the CLI
// layer (internal/config) after flag/file parsing.
type Config struct {
	Listen       string
	Forwards     []forward.Forward
	TLS          certificates.TLSConfig
	ServerName   string
	WorkerCount  int

	// SlabCapacity overrides the number of connection-backed slots the
	// loop allocates. Zero means "use slab.Capacity", the production
	// default; tests that need to exercise slab exhaustion (spec.md §8
	// S6) without allocating 10,922 records set this to a small number.
	SlabCapacity int
}

// Loop is the process-wide singleton described in spec.md §9 — built
// once, run for the process lifetime, torn down at exit. Nothing here is
// safe for concurrent use from outside the loop's own goroutine.
type Loop struct {
	cfg Config
	log logger.Logger

	pol      poller.Poller
	listener *net.TCPListener
	slab     *slab.Slab
	bus      *bus.Bus
	met      *metrics.Metrics

	freeTokens []uint32
	workload   []int // index 1..W, index 0 unused

	eventBuf  []poller.Event
	reqScratch []bus.WorkerRequest
}

// Build performs spec.md §4.G's initialization: allocate the slab and
// bus, create the poller, bind the listener, register it, and pre-
// populate the free-token heap.
func Build(cfg Config, log logger.Logger) (*Loop, error) {
	if cfg.WorkerCount < 1 {
		return nil, liberr.ErrWorkerCountInvalid.Error(nil)
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.Listen)
	if err != nil {
		return nil, liberr.ErrListenerBind.Error(err)
	}

	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, liberr.ErrListenerBind.Error(err)
	}

	pol, err := poller.New(256)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	if fd, e := listenerFd(ln); e != nil {
		_ = ln.Close()
		_ = pol.Close()
		return nil, e
	} else if e = pol.Register(fd, listenerToken, poller.Readable); e != nil {
		_ = ln.Close()
		_ = pol.Close()
		return nil, e
	}

	slabCap := cfg.SlabCapacity
	if slabCap <= 0 {
		slabCap = slab.Capacity
	}
	sl := slab.BuildN(slabCap)

	free := make([]uint32, 0, slabCap)
	for i := 0; i < slabCap; i++ {
		free = append(free, uint32(i)+slab.Base)
	}

	l := &Loop{
		cfg:        cfg,
		log:        log,
		pol:        pol,
		listener:   ln,
		slab:       sl,
		bus:        bus.Build(cfg.WorkerCount),
		freeTokens: free,
		workload:   make([]int, cfg.WorkerCount+1),
		eventBuf:   make([]poller.Event, 0, 256),
	}
	return l, nil
}

// Bus returns the shared bus handle, for wiring workers at startup.
func (l *Loop) Bus() *bus.Bus { return l.bus }

// Slab returns the shared connection slab, for wiring workers at startup.
func (l *Loop) Slab() *slab.Slab { return l.slab }

// Addr returns the listener's bound address, useful when Config.Listen
// asks for an ephemeral port (e.g. "127.0.0.1:0") and the caller needs to
// discover what was actually bound.
func (l *Loop) Addr() *net.TCPAddr { return l.listener.Addr().(*net.TCPAddr) }

// SetMetrics attaches the process's collector bundle, wired after Build so
// the metrics registry can be constructed independently of the loop. A nil
// Metrics leaves accept/TLS-failure counting disabled, which tests rely on.
func (l *Loop) SetMetrics(m *metrics.Metrics) { l.met = m }

// RefreshMetrics pushes the current workload and bus-depth gauges, per
// worker, into the attached collector bundle. Meant to be called on a
// ticker from outside the loop's own goroutine — it only reads l.workload
// and bus channel lengths, the same best-effort snapshot Snapshot takes.
func (l *Loop) RefreshMetrics() {
	if l.met == nil {
		return
	}
	for i := 1; i < len(l.workload); i++ {
		label := strconv.Itoa(i)
		up, down := l.bus.Depth(workerid.ID(i))
		l.met.Workload.WithLabelValues(label).Set(float64(l.workload[i]))
		l.met.BusUpDepth.WithLabelValues(label).Set(float64(up))
		l.met.BusDownDepth.WithLabelValues(label).Set(float64(down))
	}
}

// WorkerStatus is one row of a Snapshot: a worker's current load and bus
// queue depths, reported for operational visibility.
type WorkerStatus struct {
	Worker   uint32 `json:"worker"`
	Workload int    `json:"workload"`
	UpDepth  int    `json:"up_depth"`
	DownDepth int   `json:"down_depth"`
}

// Snapshot reports the workload table and bus depths for every worker.
// It is the one piece of loop state internal/control reads from outside
// the loop's own goroutine: a best-effort read of l.workload (an int
// slice the loop mutates without a lock) and of channel lengths, good
// enough for a status endpoint and never touching a per-connection
// spinlock.
func (l *Loop) Snapshot() []WorkerStatus {
	out := make([]WorkerStatus, 0, len(l.workload)-1)
	for i := 1; i < len(l.workload); i++ {
		up, down := l.bus.Depth(workerid.ID(i))
		out = append(out, WorkerStatus{
			Worker:    uint32(i),
			Workload:  l.workload[i],
			UpDepth:   up,
			DownDepth: down,
		})
	}
	return out
}

// Run blocks forever, alternating "process all readiness" with "drain
// all worker requests," per spec.md §4.G's main iteration. ctx
// cancellation causes Run to return after the current iteration.
func (l *Loop) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		events, err := l.pol.Wait(0)
		if err != nil {
			l.log.Error("poller wait failed", "error", err)
			continue
		}

		for _, ev := range events {
			l.handleReadiness(ev)
		}

		l.drainRequests()
	}
}

func (l *Loop) popToken() (uint32, bool) {
	if len(l.freeTokens) == 0 {
		return 0, false
	}
	n := len(l.freeTokens) - 1
	tok := l.freeTokens[n]
	l.freeTokens = l.freeTokens[:n]
	return tok, true
}

func (l *Loop) pushToken(tok uint32) {
	l.freeTokens = append(l.freeTokens, tok)
}

// leastLoadedWorker returns argmin(workload), ties broken by lowest
// 1-based index, per spec.md §4.G step 4.
func (l *Loop) leastLoadedWorker() workerid.ID {
	best := 1
	for i := 2; i < len(l.workload); i++ {
		if l.workload[i] < l.workload[best] {
			best = i
		}
	}
	return workerid.ID(best)
}

func (l *Loop) handleReadiness(ev poller.Event) {
	if ev.Token == listenerToken {
		l.acceptOne()
		return
	}

	if owner, held := l.slab.WorkerOf(ev.Token); held {
		l.bus.SendFulfillment(owner, bus.Event{
			Kind:      bus.EvReadiness,
			Token:     ev.Token,
			Readiness: uint32(ev.Readiness),
		})
		return
	}

	l.log.Warn("readiness for unowned token dropped", "token", ev.Token)
}

func (l *Loop) acceptOne() {
	tok, ok := l.popToken()
	if !ok {
		l.log.Warn("accept skipped: slab exhausted")
		return
	}

	c, err := l.listener.AcceptTCP()
	if err != nil {
		l.pushToken(tok)
		l.log.Error("accept failed", "error", err)
		return
	}

	st, err := stream.CreateTLS(c, l.pol, tok, l.cfg.TLS, l.cfg.ServerName)
	if err != nil {
		l.pushToken(tok)
		l.log.Error("tls setup failed", "error", err)
		if l.met != nil {
			l.met.TLSFailures.Inc()
		}
		return
	}

	worker := l.leastLoadedWorker()
	if _, ok := l.slab.AssignStream(tok, *st, worker); !ok {
		l.pushToken(tok)
		l.log.Error("assign_stream invariant violated on fresh token", "token", tok)
		return
	}

	l.bus.SendFulfillment(worker, bus.Event{Kind: bus.EvAccepted, Token: tok})
	l.workload[worker]++
	if l.met != nil {
		l.met.Accepted.Inc()
	}
}

func (l *Loop) drainRequests() {
	l.reqScratch = l.bus.DrainRequests(l.reqScratch[:0])

	for _, wr := range l.reqScratch {
		switch wr.Request.Kind {
		case bus.ReqNewUpstream:
			l.handleNewUpstream(wr.Worker, wr.Request.ForwardIndex)
		case bus.ReqClose:
			l.handleClose(wr.Worker, wr.Request.Token)
		}
	}
}

func (l *Loop) handleNewUpstream(requester workerid.ID, idx int) {
	if idx < 0 || idx >= len(l.cfg.Forwards) {
		l.bus.SendFulfillment(requester, bus.Event{Kind: bus.EvFailure})
		return
	}

	tok, ok := l.popToken()
	if !ok {
		l.bus.SendFulfillment(requester, bus.Event{Kind: bus.EvFailure})
		return
	}

	st, err := l.cfg.Forwards[idx].Connect(context.Background(), l.pol, tok)
	if err != nil {
		l.pushToken(tok)
		l.bus.SendFulfillment(requester, bus.Event{Kind: bus.EvFailure})
		return
	}

	if _, ok := l.slab.AssignStream(tok, *st, requester); !ok {
		l.pushToken(tok)
		l.bus.SendFulfillment(requester, bus.Event{Kind: bus.EvFailure})
		return
	}

	l.bus.SendFulfillment(requester, bus.Event{Kind: bus.EvOpen, Token: tok})
}

func (l *Loop) handleClose(requester workerid.ID, token uint32) {
	l.pushToken(token)
	if int(requester) < len(l.workload) && l.workload[requester] > 0 {
		l.workload[requester]--
	}
}

func listenerFd(ln *net.TCPListener) (int, error) {
	sc, err := ln.SyscallConn()
	if err != nil {
		return 0, err
	}

	var fd int
	err = sc.Control(func(f uintptr) { fd = int(f) })
	return fd, err
}
