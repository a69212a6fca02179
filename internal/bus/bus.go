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

// Package bus carries requests from workers to the event loop and events
// from the event loop back to workers, one buffered channel pair per
// worker. A Go buffered channel already is a safe concurrent FIFO with a
// single sender and a single receiver on each side, so it is used directly
// in place of a hand-rolled lock-free queue.
package bus

import "github.com/nabbar/tlsrp/internal/workerid"

// RequestKind tags a worker-to-loop message.
type RequestKind uint8

const (
	ReqNewUpstream RequestKind = iota
	ReqClose
)

// Request is a worker→loop message. ForwardIndex is meaningful only for
// ReqNewUpstream; Token only for ReqClose.
type Request struct {
	Kind         RequestKind
	ForwardIndex int
	Token        uint32
}

// EventKind tags a loop-to-worker message. EvAccepted and EvOpen are both
// "Open(token)" in spec.md §4.F's vocabulary, but the loop sends them from
// two different places for two different reasons — EvAccepted from
// acceptOne, naming a brand-new client connection just assigned to this
// worker; EvOpen from handleNewUpstream, fulfilling an earlier ReqNewUpstream
// the worker itself sent. They are split here because a worker with a
// NewUpstream request in flight can simultaneously be the least-loaded
// target for a fresh accept; collapsing both into one kind would let
// handleOpen pair the new, unrelated client connection in as the upstream
// for a different client.
type EventKind uint8

const (
	EvAccepted EventKind = iota
	EvOpen
	EvFailure
	EvReadiness
)

// Event is a loop→worker message. Token is meaningful for EvAccepted,
// EvOpen, and EvReadiness; Readiness only for EvReadiness.
type Event struct {
	Kind      EventKind
	Token     uint32
	Readiness uint32
}

// queueDepth is the buffered channel capacity backing each direction. It
// is large enough that a worker's burst of Close/NewUpstream requests
// between two loop iterations never blocks the worker, and the loop's
// burst of readiness events for one worker never blocks the loop —
// matching spec.md §4.F's "unbounded in principle" with a generous finite
// bound instead of unbounded growth.
const queueDepth = 4096

// perWorker holds one worker's up-queue (requests to the loop) and
// down-queue (events to the worker).
type perWorker struct {
	up   chan Request
	down chan Event
}

// Bus is the full W-channel-pair collection, built once at startup.
type Bus struct {
	workers []perWorker
}

// Build allocates w channel pairs, per spec.md §4.F's build_bus(W).
// Workers are indexed 1..w; index 0 (workerid.None) is never used since
// the event loop itself is never a bus participant.
func Build(w int) *Bus {
	b := &Bus{workers: make([]perWorker, w+1)}
	for i := 1; i <= w; i++ {
		b.workers[i] = perWorker{
			up:   make(chan Request, queueDepth),
			down: make(chan Event, queueDepth),
		}
	}
	return b
}

// Depth reports the current queue depths of worker id's up-queue and
// down-queue, used by internal/metrics to expose per-worker bus depth.
func (b *Bus) Depth(id workerid.ID) (up, down int) {
	pw := b.workers[id]
	return len(pw.up), len(pw.down)
}

// SendRequest is called by worker id to push req onto its own up-queue.
func (b *Bus) SendRequest(id workerid.ID, req Request) {
	b.workers[id].up <- req
}

// DrainRequests is called by the loop: it appends every request currently
// queued from every worker to out, tagging each with its originating
// WorkerID, and returns the extended slice.
func (b *Bus) DrainRequests(out []WorkerRequest) []WorkerRequest {
	for id := 1; id < len(b.workers); id++ {
		ch := b.workers[id].up
		for {
			select {
			case req := <-ch:
				out = append(out, WorkerRequest{Worker: workerid.ID(id), Request: req})
			default:
				goto next
			}
		}
	next:
	}
	return out
}

// WorkerRequest tags a drained Request with its originating worker.
type WorkerRequest struct {
	Worker  workerid.ID
	Request Request
}

// SendFulfillment is called by the loop to push ev onto worker's
// down-queue.
func (b *Bus) SendFulfillment(worker workerid.ID, ev Event) {
	b.workers[worker].down <- ev
}

// DrainMyEvents is called by a worker to drain its own down-queue into
// out, returning the extended slice.
func (b *Bus) DrainMyEvents(id workerid.ID, out []Event) []Event {
	ch := b.workers[id].down
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}
