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

// Package poller abstracts the OS readiness primitive behind a small
// interface, so the event loop never imports a platform-specific syscall
// package directly — the readiness poller is an external collaborator per
// spec.
package poller

import "time"

// Interest names what readiness a registration cares about. The core only
// ever needs level-triggered readable interest, per spec.md §4.C/§4.G.
type Interest uint8

const (
	Readable Interest = iota
	Writable
)

// Event carries one readiness notification: the token that was registered
// alongside the fd, and the raw readiness bits observed.
type Event struct {
	Token     uint32
	Readiness Readiness
}

// Readiness is a small bitmask, platform-independent.
type Readiness uint8

const (
	ReadinessReadable Readiness = 1 << iota
	ReadinessWritable
	ReadinessError
	ReadinessHangup
)

// Poller is the readiness contract the event loop drives. Register/Modify/
// Deregister operate on raw file descriptors because that is the lowest
// common denominator across TCP and Unix-domain handles. Wait blocks until
// at least one event is ready or the deadline elapses; passing zero blocks
// indefinitely, matching spec.md §5's "blocks only in poll.poll(), no
// timeout" for the steady-state loop.
type Poller interface {
	Register(fd int, token uint32, interest Interest) error
	Modify(fd int, token uint32, interest Interest) error
	Deregister(fd int) error
	Wait(timeout time.Duration) ([]Event, error)
	Close() error
}
