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

// Package workerid assigns small positive integers to worker goroutines.
//
// Go goroutines are not OS threads, so there is no native thread-local
// storage to stamp into the spinlock word described in the core's data
// model. Every hot-path caller threads its *Worker explicitly instead of
// reaching for ambient state; this package only backs the rare paths
// (logging hooks, panic recovery) that have no receiver to hand them one.
package workerid

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	libatm "github.com/nabbar/tlsrp/atomic"
)

// ID names a worker 1..W. The value 0 means "no owner" (the event loop).
type ID uint32

const None ID = 0

var registry = libatm.NewMapTyped[uint64, ID]()

// Register associates the calling goroutine with id for the lifetime of the
// goroutine. Call once, at worker start, before any spinlock touches it.
func Register(id ID) {
	registry.Store(goroutineID(), id)
}

// Unregister drops the calling goroutine's entry. Call when a worker loop
// returns, so the registry does not grow across restarts in tests.
func Unregister() {
	registry.Delete(goroutineID())
}

// Current returns the calling goroutine's worker id, or None if it was
// never registered (the event loop, or an unrelated goroutine).
func Current() ID {
	if v, ok := registry.Load(goroutineID()); ok {
		return v
	}
	return None
}

// goroutineID parses the numeric id out of the runtime stack header. It is
// deliberately only ever called off the hot path: Register/Unregister run
// once per worker lifetime, and Current is for diagnostics, not forwarding.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	field := strings.Fields(string(buf[:n]))
	if len(field) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(field[1], 10, 64)
	if err != nil {
		panic(fmt.Sprintf("workerid: could not parse goroutine id from %q", field[1]))
	}
	return id
}
