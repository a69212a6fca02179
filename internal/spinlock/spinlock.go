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

// Package spinlock implements a cache-line-sized atomic lock that stamps the
// identity of its holding worker into the lock word itself, instead of just
// a boolean. One Lock guards exactly one connection record.
package spinlock

import (
	"sync/atomic"
	"unsafe"

	"github.com/nabbar/tlsrp/internal/workerid"
)

// cacheLineSize is the padding target. 64 bytes covers every mainstream
// amd64/arm64 deployment target for this proxy.
const cacheLineSize = 64

// Lock is a CAS-based spinlock whose word holds 0 (unlocked) or the
// workerid.ID of the current holder. It must not be copied after first use.
type Lock struct {
	word atomic.Uint32
	_    [cacheLineSize - 4]byte
}

// TryLock attempts to acquire the lock for self in one CAS. It never blocks.
func (l *Lock) TryLock(self workerid.ID) bool {
	return l.word.CompareAndSwap(uint32(workerid.None), uint32(self))
}

// Lock busy-waits until it acquires the lock for self.
//
// The event loop must only call this from the bounded "assign new stream"
// path (see internal/slab), where contention is brief by construction —
// never from a path that could block on a worker's own hot loop.
func (l *Lock) Lock(self workerid.ID) {
	for !l.TryLock(self) {
		// deliberately empty: pure spin, no backoff. Critical sections
		// under this lock are O(1), so losing a CAS race costs a few
		// cache-coherence round trips at most.
	}
}

// Unlock unconditionally releases the lock. Only the current holder may
// call this; there is no ownership check, matching the spec's "release is
// unconditional" rule — calling it from the wrong worker is a protocol bug,
// not a recoverable condition.
func (l *Lock) Unlock() {
	l.word.Store(uint32(workerid.None))
}

// Holder returns the id of the current lock holder, or (None, false) if the
// lock is free. It does not acquire the lock.
func (l *Lock) Holder() (id workerid.ID, held bool) {
	v := l.word.Load()
	if v == uint32(workerid.None) {
		return workerid.None, false
	}
	return workerid.ID(v), true
}

// ForceSet stamps the holder without a CAS. It is legal only while the slot
// is not yet visible to any worker — the event loop uses it once, during
// slab slot setup, before the slot's Open event reaches its new owner.
func (l *Lock) ForceSet(self workerid.ID) {
	l.word.Store(uint32(self))
}

// Size returns the compiled size of Lock, for the layout invariant test.
func Size() uintptr {
	return unsafe.Sizeof(Lock{})
}
