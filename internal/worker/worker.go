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

// Package worker ships the one conforming implementation of the worker
// runtime spec.md §4.H describes only as an interface: drain the down-
// queue, service readiness on owned tokens under their spinlock, request
// a paired upstream on a client's first read, and propagate a partner's
// close. The exact buffer policy is worker-internal, per spec.md §4.H's
// closing line, so it is free to follow the teacher's pooled-buffer copy
// idiom rather than the spec's normative core.
package worker

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/nabbar/tlsrp/internal/bus"
	"github.com/nabbar/tlsrp/internal/conn"
	"github.com/nabbar/tlsrp/internal/fault"
	"github.com/nabbar/tlsrp/internal/logger"
	"github.com/nabbar/tlsrp/internal/logger/fields"
	"github.com/nabbar/tlsrp/internal/metrics"
	"github.com/nabbar/tlsrp/internal/slab"
	"github.com/nabbar/tlsrp/internal/stream"
	"github.com/nabbar/tlsrp/internal/workerid"
)

// bufferSize is the pooled forwarding buffer size per active half-
// connection. 16 KiB comfortably holds one TLS record.
const bufferSize = 16 * 1024

// idlePoll is how often a worker checks its down-queue when it found
// nothing on the last drain. Spec.md §4.H calls this "typically a brief
// poll on the down-queue," out of the normative core.
const idlePoll = 500 * time.Microsecond

// pending tracks a client half-connection whose first read triggered a
// NewUpstream request, awaiting Open/Failure.
type pending struct {
	clientToken uint32
	buffered    []byte
}

// Worker is the default runtime: one goroutine, one ID, exclusive owner
// of every token the event loop has assigned it.
type Worker struct {
	id  workerid.ID
	sl  *slab.Slab
	b   *bus.Bus
	log logger.Logger
	m   *metrics.Metrics

	forwardIndex int
	bufPool      sync.Pool

	awaitingUpstream []pending
}

// New returns a worker bound to id. forwardIndex selects which
// configured upstream a first read pairs with — round-robining across
// multiple forwards is a policy layered on top of this core, left to the
// caller.
func New(id workerid.ID, sl *slab.Slab, b *bus.Bus, log logger.Logger, m *metrics.Metrics, forwardIndex int) *Worker {
	return &Worker{
		id:           id,
		sl:           sl,
		b:            b,
		log:          log.WithFields(fields.Fields{"worker": uint32(id)}),
		m:            m,
		forwardIndex: forwardIndex,
		bufPool: sync.Pool{New: func() interface{} {
			buf := make([]byte, bufferSize)
			return &buf
		}},
	}
}

// Run blocks until ctx is cancelled, registering/unregistering with
// internal/workerid so Current() resolves correctly for any diagnostic
// code running on this goroutine.
func (w *Worker) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	workerid.Register(w.id)
	defer workerid.Unregister()

	var events []bus.Event

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		events = w.b.DrainMyEvents(w.id, events[:0])
		if len(events) == 0 {
			time.Sleep(idlePoll)
			continue
		}

		for _, ev := range events {
			w.handleEvent(ev)
		}
	}
}

func (w *Worker) handleEvent(ev bus.Event) {
	switch ev.Kind {
	case bus.EvAccepted:
		w.handleAccepted(ev.Token)
	case bus.EvOpen:
		w.handleOpen(ev.Token)
	case bus.EvFailure:
		w.handleFailure()
	case bus.EvReadiness:
		w.handleReadiness(ev.Token)
	}
}

// handleAccepted acknowledges a brand-new client connection the loop just
// assigned to this worker. Nothing needs pairing yet — the client side has
// no partner until its first read triggers a NewUpstream request — so this
// is a no-op; the token starts getting readiness events once the client
// sends its first TLS record. The loop already counts the accept in its
// own metrics, so this does not.
func (w *Worker) handleAccepted(_ uint32) {}

// handleOpen pairs the earliest still-waiting client half with the new
// upstream token t, per spec.md §4.H step 3. Only ever called for a
// bus.EvOpen, i.e. a reply to this worker's own earlier ReqNewUpstream — an
// EvAccepted (a brand-new, unrelated client connection) must never reach
// this path, or it would be wired in as the "upstream" for a different
// client.
func (w *Worker) handleOpen(t uint32) {
	if len(w.awaitingUpstream) == 0 {
		w.log.Warn("Open delivered with no pending NewUpstream request", "token", t)
		return
	}

	p := w.awaitingUpstream[0]
	w.awaitingUpstream = w.awaitingUpstream[1:]

	clientRec, access := w.sl.Get(p.clientToken, w.id)
	if access != slab.Ok {
		w.initiateClose(t)
		return
	}
	upstreamRec, access := w.sl.Get(t, w.id)
	if access != slab.Ok {
		w.closeLocked(clientRec, p.clientToken)
		w.sl.Release(clientRec)
		w.initiateClose(t)
		return
	}

	clientRec.SetPartner(t)
	upstreamRec.SetPartner(p.clientToken)

	if len(p.buffered) > 0 {
		_, _ = upstreamRec.Write(p.buffered)
	}

	w.sl.Release(upstreamRec)
	w.sl.Release(clientRec)
}

// handleFailure tears down the orphaned client side of the earliest
// pending NewUpstream request and reclaims its token, per spec.md §4.H
// step 4.
func (w *Worker) handleFailure() {
	if w.m != nil {
		w.m.UpstreamFail.Inc()
	}
	if len(w.awaitingUpstream) == 0 {
		w.log.Warn("Failure delivered with no pending NewUpstream request")
		return
	}

	p := w.awaitingUpstream[0]
	w.awaitingUpstream = w.awaitingUpstream[1:]
	w.initiateClose(p.clientToken)
}

// handleReadiness services one readiness notification on an owned token,
// per spec.md §4.H step 2.
func (w *Worker) handleReadiness(t uint32) {
	rec, access := w.sl.Get(t, w.id)
	switch access {
	case slab.UnAllocated:
		return
	case slab.Locked:
		w.log.Error("readiness on a token locked by another worker: invariant violation", "token", t)
		return
	}
	defer w.sl.Release(rec)

	if rec.Stream().Kind() == stream.TlsMidHandshake {
		established, err := rec.Handshake()
		if err != nil {
			w.closeLocked(rec, t)
			return
		}
		if !established {
			return
		}
	}

	bufp := w.bufPool.Get().(*[]byte)
	defer w.bufPool.Put(bufp)
	buf := *bufp

	n, err := rec.Read(buf)
	if err != nil {
		w.closeLocked(rec, t)
		return
	}

	if !rec.HasPartner() {
		w.awaitingUpstream = append(w.awaitingUpstream, pending{
			clientToken: t,
			buffered:    append([]byte(nil), buf[:n]...),
		})
		w.b.SendRequest(w.id, bus.Request{Kind: bus.ReqNewUpstream, ForwardIndex: w.forwardIndex})
		return
	}

	partner, access := w.sl.Get(rec.Partner(), w.id)
	if access != slab.Ok {
		return
	}
	defer w.sl.Release(partner)

	if _, err := partner.Write(buf[:n]); err != nil {
		w.closeLocked(partner, rec.Partner())
		w.closeLocked(rec, t)
	}
}

// closeLocked sends a TLS close_notify, resets rec to Uninitialized, and
// issues Close(token), per spec.md §4.G's note that the worker resets the
// slot before sending Close. rec must already be held by the caller;
// closeLocked does not release the lock — the caller remains responsible
// for that.
func (w *Worker) closeLocked(rec *conn.Record, t uint32) {
	if err := rec.Stream().CloseNotify(); err != nil {
		rec.SetFault(fault.OfIO(err))
	}
	rec.Reset()

	w.b.SendRequest(w.id, bus.Request{Kind: bus.ReqClose, Token: t})
	if w.m != nil {
		w.m.Closed.Inc()
	}
}

// initiateClose sends a TLS close_notify then Close(token) for a token
// this worker still owns, per the Open Question (b) resolution: prompt
// reclamation, no wait for the partner's own close_notify.
func (w *Worker) initiateClose(t uint32) {
	rec, access := w.sl.Get(t, w.id)
	if access != slab.Ok {
		return
	}
	w.closeLocked(rec, t)
	w.sl.Release(rec)
}
