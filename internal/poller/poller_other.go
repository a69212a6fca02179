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

//go:build !linux

package poller

import (
	"os"
	"sync"
	"time"
)

// pollPoller is a non-production fallback so the module still compiles and
// runs off Linux: one goroutine per registered fd polls the descriptor with
// a short sleep and feeds a shared channel. It is not suitable for the
// connection counts this proxy targets in production; epoll on Linux is the
// real implementation (poller_linux.go).
type pollPoller struct {
	mu      sync.Mutex
	regs    map[int]*registration
	events  chan Event
	closeCh chan struct{}
}

type registration struct {
	file     *os.File
	token    uint32
	interest Interest
	stop     chan struct{}
}

func New(bufSize int) (Poller, error) {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &pollPoller{
		regs:    make(map[int]*registration),
		events:  make(chan Event, bufSize),
		closeCh: make(chan struct{}),
	}, nil
}

func (p *pollPoller) Register(fd int, token uint32, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := &registration{file: os.NewFile(uintptr(fd), ""), token: token, interest: interest, stop: make(chan struct{})}
	p.regs[fd] = r

	go p.watch(r)
	return nil
}

// watch cannot safely peek the fd without consuming application bytes (this
// build has no portable non-destructive readiness syscall), so it ticks
// readiness on a short interval and leaves EAGAIN-vs-data resolution to the
// caller's own non-blocking read. Production deployments use poller_linux.go.
func (p *pollPoller) watch(r *registration) {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-p.closeCh:
			return
		case <-t.C:
			select {
			case p.events <- Event{Token: r.token, Readiness: ReadinessReadable}:
			case <-r.stop:
				return
			case <-p.closeCh:
				return
			}
		}
	}
}

func (p *pollPoller) Modify(fd int, token uint32, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r, ok := p.regs[fd]; ok {
		r.token = token
		r.interest = interest
	}
	return nil
}

func (p *pollPoller) Deregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r, ok := p.regs[fd]; ok {
		close(r.stop)
		delete(p.regs, fd)
	}
	return nil
}

func (p *pollPoller) Wait(timeout time.Duration) ([]Event, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		expired = time.After(timeout)
	}

	select {
	case ev := <-p.events:
		out := []Event{ev}
		for {
			select {
			case more := <-p.events:
				out = append(out, more)
			default:
				return out, nil
			}
		}
	case <-expired:
		return nil, nil
	case <-p.closeCh:
		return nil, nil
	}
}

func (p *pollPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.closeCh:
	default:
		close(p.closeCh)
	}
	for fd, r := range p.regs {
		close(r.stop)
		delete(p.regs, fd)
	}
	return nil
}
