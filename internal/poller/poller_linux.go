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

//go:build linux

package poller

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the production Poller: a thin wrapper over epoll with
// level-triggered readable interest, matching spec.md §4.G's registration
// discipline exactly.
type epollPoller struct {
	epfd int
	buf  []unix.EpollEvent
}

// New constructs the epoll-backed Poller. bufSize bounds how many raw
// events a single Wait call can return in one syscall; the event loop's
// events buffer (spec.md §4.G: "sized e.g., 256") drives this.
func New(bufSize int) (Poller, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	if bufSize <= 0 {
		bufSize = 256
	}
	return &epollPoller{epfd: fd, buf: make([]unix.EpollEvent, bufSize)}, nil
}

func toEpollEvents(i Interest) uint32 {
	switch i {
	case Writable:
		return unix.EPOLLOUT
	default:
		return unix.EPOLLIN
	}
}

func (p *epollPoller) Register(fd int, token uint32, interest Interest) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	// Fd field is used for dispatch by the kernel copy of the event; the
	// token is carried in the padded union via SetUint32 so EpollWait hands
	// it straight back without a side lookup table.
	ev.SetUint32(token)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) Modify(fd int, token uint32, interest Interest) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	ev.SetUint32(token)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) Deregister(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wait(timeout time.Duration) ([]Event, error) {
	ms := -1
	if timeout > 0 {
		ms = int(timeout.Milliseconds())
	}

	n, err := unix.EpollWait(p.epfd, p.buf, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Event{
			Token:     p.buf[i].GetUint32(),
			Readiness: readinessOf(p.buf[i].Events),
		})
	}
	return out, nil
}

func readinessOf(mask uint32) Readiness {
	var r Readiness
	if mask&unix.EPOLLIN != 0 {
		r |= ReadinessReadable
	}
	if mask&unix.EPOLLOUT != 0 {
		r |= ReadinessWritable
	}
	if mask&unix.EPOLLERR != 0 {
		r |= ReadinessError
	}
	if mask&unix.EPOLLHUP != 0 {
		r |= ReadinessHangup
	}
	return r
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
