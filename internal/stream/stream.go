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

// Package stream implements the tagged I/O endpoint that every slab record
// holds: an endpoint can be unallocated, a raw TCP stream, a raw local-domain
// (Unix-domain) stream, a TLS stream still mid-handshake, or a fully
// established TLS stream. Keeping this as one tagged struct rather than an
// interface-typed field keeps connection records a fixed size.
package stream

import (
	"io"
	"net"
	"syscall"

	"github.com/nabbar/tlsrp/certificates"
	"github.com/nabbar/tlsrp/internal/poller"
)

// Kind tags which variant a Stream currently holds.
type Kind uint8

const (
	Uninitialized Kind = iota
	TCP
	LocalDomain
	TlsMidHandshake
	TlsEstablished
)

func (k Kind) String() string {
	switch k {
	case TCP:
		return "tcp"
	case LocalDomain:
		return "local-domain"
	case TlsMidHandshake:
		return "tls-mid-handshake"
	case TlsEstablished:
		return "tls-established"
	default:
		return "uninitialized"
	}
}

// uninitializedSentinel is returned by Read/Write on an Uninitialized
// stream in place of 0, so a caller cannot mistake it for end-of-file.
const uninitializedSentinel = ^uint64(0)

// Stream is the tagged union. conn is always the raw transport (nil only
// when Kind == Uninitialized); tls is non-nil only while Kind is one of
// the two TLS variants.
type Stream struct {
	kind Kind
	conn net.Conn
	tls  tlsConn
	tok  uint32
	pol  poller.Poller
}

// rawConn is satisfied by *net.TCPConn and *net.UnixConn — anything the
// poller can register by file descriptor.
type rawConn interface {
	net.Conn
	SyscallConn() (syscall.RawConn, error)
}

// tlsConn is the subset of *tls.Conn this package drives directly, kept as
// an interface so tests can substitute a fake handshake progression.
type tlsConn interface {
	net.Conn
	Handshake() error
	CloseWrite() error
}

func (s *Stream) Kind() Kind { return s.kind }

func (s *Stream) Token() uint32 { return s.tok }

// CreateTCP registers handle with the poller as readable/level-triggered
// under token and returns a TCP-kind Stream. On registration failure the
// handle is shut down in both directions before the error is returned.
func CreateTCP(handle *net.TCPConn, pol poller.Poller, token uint32) (*Stream, error) {
	if fd, e := fdOf(handle); e != nil {
		shutdown(handle)
		return nil, e
	} else if e = pol.Register(fd, token, poller.Readable); e != nil {
		shutdown(handle)
		return nil, e
	}

	return &Stream{kind: TCP, conn: handle, tok: token, pol: pol}, nil
}

// CreateLocal registers a Unix-domain handle the same way CreateTCP does.
func CreateLocal(handle *net.UnixConn, pol poller.Poller, token uint32) (*Stream, error) {
	if fd, e := fdOf(handle); e != nil {
		shutdown(handle)
		return nil, e
	} else if e = pol.Register(fd, token, poller.Readable); e != nil {
		shutdown(handle)
		return nil, e
	}

	return &Stream{kind: LocalDomain, conn: handle, tok: token, pol: pol}, nil
}

// CreateTLS registers the underlying TCP handle, wraps it in a
// deadlineConn so the handshake attempt cannot block the caller, then
// drives one handshake attempt with acceptor. If the attempt would block,
// the returned Stream is TlsMidHandshake; if it completes, TlsEstablished;
// any other failure is a real error and the handle is shut down.
func CreateTLS(handle *net.TCPConn, pol poller.Poller, token uint32, tlsCfg certificates.TLSConfig, serverName string) (*Stream, error) {
	if fd, e := fdOf(handle); e != nil {
		shutdown(handle)
		return nil, e
	} else if e = pol.Register(fd, token, poller.Readable); e != nil {
		shutdown(handle)
		return nil, e
	}

	dc := newDeadlineConn(handle)
	tc := acceptorNew(dc, tlsCfg.TLS(serverName))

	s := &Stream{kind: TlsMidHandshake, conn: handle, tls: tc, tok: token, pol: pol}

	err := tc.Handshake()
	switch progress(err) {
	case progressDone:
		s.kind = TlsEstablished
		return s, nil
	case progressPending:
		return s, nil
	default:
		shutdown(handle)
		return nil, err
	}
}

// Handshake drives a mid-handshake stream forward one attempt. For any
// other Kind it is a no-op returning the current completion state.
func (s *Stream) Handshake() (established bool, err error) {
	if s.kind != TlsMidHandshake {
		return s.kind == TlsEstablished, nil
	}

	err = s.tls.Handshake()
	switch progress(err) {
	case progressDone:
		s.kind = TlsEstablished
		return true, nil
	case progressPending:
		return false, nil
	default:
		return false, err
	}
}

// Read forwards to the underlying handle. Uninitialized yields the
// sentinel "max uint64" value rather than 0, so it is never confused with
// EOF. Mid-handshake reads go to the raw handle by design — callers other
// than Handshake must not call Read/Write while Kind == TlsMidHandshake.
func (s *Stream) Read(buf []byte) (uint64, error) {
	switch s.kind {
	case Uninitialized:
		return uninitializedSentinel, nil
	case TlsEstablished:
		n, e := s.tls.Read(buf)
		return uint64(n), e
	default:
		n, e := s.conn.Read(buf)
		return uint64(n), e
	}
}

func (s *Stream) Write(buf []byte) (uint64, error) {
	switch s.kind {
	case Uninitialized:
		return uninitializedSentinel, nil
	case TlsEstablished:
		n, e := s.tls.Write(buf)
		return uint64(n), e
	default:
		n, e := s.conn.Write(buf)
		return uint64(n), e
	}
}

func (s *Stream) Flush() error {
	type flusher interface{ Flush() error }
	if f, ok := s.conn.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// CloseNotify sends a TLS close_notify on an established stream; for any
// other Kind it closes the raw handle.
func (s *Stream) CloseNotify() error {
	if s.kind == TlsEstablished {
		return s.tls.CloseWrite()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Stream) Close() error {
	if s.pol != nil && s.conn != nil {
		if fd, e := fdOf(s.conn); e == nil {
			_ = s.pol.Deregister(fd)
		}
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func shutdown(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func fdOf(c net.Conn) (int, error) {
	rc, ok := c.(rawConn)
	if !ok {
		return 0, errNotRawConn
	}

	var fd int
	sc, e := rc.SyscallConn()
	if e != nil {
		return 0, e
	}

	e = sc.Control(func(f uintptr) { fd = int(f) })
	return fd, e
}
