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

// Package slab holds the fixed-capacity, pre-allocated array of connection
// records that the event loop and worker pool share. Every record is
// created once at Build and reused for the lifetime of the process; tokens
// are never returned to the Go runtime's allocator.
package slab

import (
	"github.com/nabbar/tlsrp/internal/conn"
	"github.com/nabbar/tlsrp/internal/stream"
	"github.com/nabbar/tlsrp/internal/workerid"
)

// Capacity is the number of connection-backed slots. Chosen, as in the
// source design, so that three 64-byte cache lines per record times this
// count sits comfortably inside a modern working set without addressing
// more tokens than a single proxy instance plausibly needs.
const Capacity = 10922

// Base is the first token value backed by the slab; tokens below Base are
// reserved for fixed listeners (the accept socket is the only one the core
// itself needs).
const Base = 2

// Access classifies the outcome of Get.
type Access uint8

const (
	UnAllocated Access = iota
	Locked
	Ok
)

// Slab is the process-wide connection record array.
type Slab struct {
	records []*conn.Record
}

// Build allocates Capacity records, each pre-seeded with its own
// slab-index token, per spec.md §4.E. Call once at startup.
func Build() *Slab {
	return BuildN(Capacity)
}

// BuildN allocates n records instead of the production Capacity. Exposed
// for tests that need to drive the slab to exhaustion (spec.md §8 S6)
// without actually allocating 10,922 records per test case.
func BuildN(n int) *Slab {
	s := &Slab{records: make([]*conn.Record, n)}
	for i := range s.records {
		s.records[i] = conn.New(toToken(i))
	}
	return s
}

// Capacity reports how many slots this instance was built with.
func (s *Slab) Capacity() int { return len(s.records) }

func toToken(idx int) uint32 { return uint32(idx) + Base }

func toIndex(token uint32) int { return int(token) - Base }

// InRange reports whether token names a slot this Slab instance backs.
func (s *Slab) InRange(token uint32) bool {
	idx := toIndex(token)
	return idx >= 0 && idx < len(s.records)
}

// Get translates token to a slot and attempts to acquire its spinlock for
// self. UnAllocated means the token names no live record (token == 0 or out
// of range); Locked means another worker currently holds the slot; Ok means
// the caller now holds the lock and may use the returned record until it
// calls Release.
func (s *Slab) Get(token uint32, self workerid.ID) (*conn.Record, Access) {
	if !s.InRange(token) {
		return nil, UnAllocated
	}

	r := s.records[toIndex(token)]
	if !r.TokenValid() {
		return nil, UnAllocated
	}

	if !r.Lock.TryLock(self) {
		return nil, Locked
	}

	return r, Ok
}

// Release unlocks the record obtained from Get. Only the lock holder may
// call this.
func (s *Slab) Release(r *conn.Record) {
	r.Lock.Unlock()
}

// AssignStream is invoked only by the event loop: it spinlocks briefly if
// the slot is mid-touch by a worker closing it (bounded, since the worker's
// close path is O(1) and releases promptly), waiting for that contention to
// clear *before* calling Setup. Setup's own ForceSet stamps the owner into
// the now-unlocked word, and nothing here unlocks afterward — unlocking
// after ForceSet would immediately erase the stamp it just wrote, leaving
// WorkerOf reporting no owner for a token the loop just assigned.
func (s *Slab) AssignStream(token uint32, st stream.Stream, worker workerid.ID) (stream.Stream, bool) {
	if !s.InRange(token) {
		return st, false
	}

	r := s.records[toIndex(token)]
	r.Lock.Lock(workerid.None)
	r.Lock.Unlock()

	old, ok := r.Setup(st, worker)
	if !ok {
		return old, false
	}

	return stream.Stream{}, true
}

// WorkerOf returns the lock's stamped owner without acquiring it, used by
// the event loop to dispatch incoming readiness to the right worker.
func (s *Slab) WorkerOf(token uint32) (workerid.ID, bool) {
	if !s.InRange(token) {
		return workerid.None, false
	}

	return s.records[toIndex(token)].Lock.Holder()
}

// Record returns the raw record for token without any locking, for use by
// the caller that already holds the lock (e.g. after Get returned Ok).
func (s *Slab) Record(token uint32) *conn.Record {
	if !s.InRange(token) {
		return nil
	}
	return s.records[toIndex(token)]
}
