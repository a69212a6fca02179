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

package stream

import (
	"crypto/tls"
	"errors"
	"net"
	"time"
)

var errNotRawConn = errors.New("stream: handle does not expose a file descriptor")

// deadlineConn wraps a net.Conn so every Read/Write sees an already-elapsed
// deadline. crypto/tls.Conn.Handshake is written for a blocking net.Conn;
// this is how a single poll-driven attempt at the handshake is obtained
// without blocking the event loop or a worker goroutine. An attempt that
// would otherwise block instead returns a *net.OpError wrapping
// os.ErrDeadlineExceeded, whose Timeout() reports true — exactly the
// "would block / interrupted" signal spec.md §4.C asks CreateTLS and
// Handshake to translate into TlsMidHandshake.
type deadlineConn struct {
	net.Conn
}

func newDeadlineConn(c net.Conn) *deadlineConn {
	return &deadlineConn{Conn: c}
}

// elapsed is any instant in the past; SetDeadline rejects a zero time (that
// means "no deadline"), so the longest-ago instant representable that Go's
// runtime still honors as "already expired" is used instead.
var elapsed = time.Unix(1, 0)

func (d *deadlineConn) Read(b []byte) (int, error) {
	_ = d.Conn.SetReadDeadline(elapsed)
	return d.Conn.Read(b)
}

func (d *deadlineConn) Write(b []byte) (int, error) {
	_ = d.Conn.SetWriteDeadline(elapsed)
	return d.Conn.Write(b)
}

// progressState classifies the outcome of one non-blocking handshake
// attempt.
type progressState uint8

const (
	progressDone progressState = iota
	progressPending
	progressFailed
)

// progress classifies a Handshake() error: nil means the handshake
// completed; a timeout-flavored net.Error means the attempt would have
// blocked and should be retried on the next readiness event; anything else
// is a genuine protocol failure.
func progress(err error) progressState {
	if err == nil {
		return progressDone
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return progressPending
	}

	return progressFailed
}

// acceptorNew constructs the server-side TLS session over conn using cfg.
// Factored out so tests can substitute a fake tlsConn.
func acceptorNew(conn net.Conn, cfg *tls.Config) tlsConn {
	return tls.Server(conn, cfg)
}
