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

// Package conn holds the fixed-size connection record that the slab is an
// array of. A record is created once at slab build time and never
// destroyed; its stream is reset to Uninitialized and reused across the
// lifetime of the process.
package conn

import (
	"github.com/nabbar/tlsrp/internal/fault"
	"github.com/nabbar/tlsrp/internal/poller"
	"github.com/nabbar/tlsrp/internal/spinlock"
	"github.com/nabbar/tlsrp/internal/stream"
	"github.com/nabbar/tlsrp/internal/workerid"
)

// Readiness mirrors the last raw readiness bits the event loop observed for
// this record's token, used by wants_read.
type Readiness = poller.Readiness

// Record is one slab slot. The lock guards every field below it; only the
// event loop may touch fields before the owning worker's Open event is
// delivered, and only the current lock holder may touch them after.
type Record struct {
	Lock spinlock.Lock

	primary uint32
	strm    stream.Stream

	partner   uint32
	errSlot   fault.Fault
	readiness Readiness
}

// New returns a freshly seeded record for slab index idx: primary token set
// to its own slab-index token (per spec.md §3, "Uninitialized+nonzero-token
// is a valid pre-claimed state"), stream Uninitialized, no partner, no
// fault.
func New(token uint32) *Record {
	return &Record{primary: token}
}

// Setup replaces the inner stream and, as a side effect, stamps the lock's
// owner without a CAS — legal only while the slot is visible solely to the
// event loop (before the corresponding Open event reaches worker). If the
// prior stream was not Uninitialized this is a protocol bug: the old stream
// is returned as an error so the caller can log/handle it.
func (r *Record) Setup(s stream.Stream, worker workerid.ID) (stream.Stream, bool) {
	old := r.strm
	if old.Kind() != stream.Uninitialized {
		return old, false
	}

	r.strm = s
	r.Lock.ForceSet(worker)
	return stream.Stream{}, true
}

// Replace swaps the stream without touching the lock. Returns the old
// stream and false if it was not Uninitialized, mirroring Setup.
func (r *Record) Replace(s stream.Stream) (stream.Stream, bool) {
	old := r.strm
	if old.Kind() != stream.Uninitialized {
		return old, false
	}

	r.strm = s
	return stream.Stream{}, true
}

// Reset returns the slot to its pre-claimed, Uninitialized state. Called by
// the owning worker just before it sends Close(token) to the loop.
func (r *Record) Reset() {
	r.strm = stream.Stream{}
	r.partner = 0
	r.errSlot = fault.Fault{}
	r.readiness = 0
}

// Handshake attempts to drive the stream forward; returns true iff the
// stream is now TLS-established.
func (r *Record) Handshake() (bool, error) {
	established, err := r.strm.Handshake()
	if err != nil {
		r.errSlot = fault.OfTLS(err)
	}
	return established, err
}

func (r *Record) Stream() *stream.Stream { return &r.strm }

func (r *Record) TokenValid() bool { return r.primary != 0 }

func (r *Record) Token() uint32 { return r.primary }

func (r *Record) HasPartner() bool { return r.partner != 0 }

func (r *Record) Partner() uint32 { return r.partner }

func (r *Record) SetPartner(token uint32) { r.partner = token }

func (r *Record) WantsRead() bool { return r.readiness&poller.ReadinessReadable != 0 }

func (r *Record) SetReadiness(rd Readiness) { r.readiness = rd }

func (r *Record) Fault() fault.Fault { return r.errSlot }

func (r *Record) SetFault(f fault.Fault) { r.errSlot = f }

// Read/Write forward to the held stream, per spec.md §4.D ("the record also
// implements the read/write forwarding of §4.C").
func (r *Record) Read(buf []byte) (uint64, error) { return r.strm.Read(buf) }

func (r *Record) Write(buf []byte) (uint64, error) { return r.strm.Write(buf) }

func (r *Record) Flush() error { return r.strm.Flush() }
