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

// Package forward parses and connects to configured upstream destinations:
// either a TCP network address or a local-domain (Unix) socket path.
package forward

import (
	"context"
	"net"
	"os"

	"github.com/nabbar/tlsrp/internal/errors"
	"github.com/nabbar/tlsrp/internal/poller"
	"github.com/nabbar/tlsrp/internal/stream"
)

// Kind tags which variant a Forward holds.
type Kind uint8

const (
	Network Kind = iota
	LocalDomain
)

// Forward is one configured upstream destination.
type Forward struct {
	kind Kind
	addr string
}

func (f Forward) Kind() Kind { return f.kind }

func (f Forward) Addr() string { return f.addr }

// Parse classifies raw as Network if it parses as a TCP socket-address
// literal, else as LocalDomain if the path exists on the filesystem, else
// returns a coded parse error, per spec.md §6.
func Parse(raw string) (Forward, error) {
	if _, err := net.ResolveTCPAddr("tcp", raw); err == nil {
		return Forward{kind: Network, addr: raw}, nil
	}

	if _, err := os.Stat(raw); err == nil {
		return Forward{kind: LocalDomain, addr: raw}, nil
	}

	return Forward{}, errors.ErrForwardParse.Error(nil)
}

// ParseAll parses every entry in raws, in order, stopping at the first
// failure.
func ParseAll(raws []string) ([]Forward, error) {
	out := make([]Forward, 0, len(raws))
	for _, r := range raws {
		f, err := Parse(r)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Connect opens a new connection to f, registers it with pol under token,
// and returns the resulting Stream. Network dials a *net.TCPConn;
// LocalDomain dials a *net.UnixConn against the configured path.
func (f Forward) Connect(ctx context.Context, pol poller.Poller, token uint32) (*stream.Stream, error) {
	switch f.kind {
	case Network:
		var d net.Dialer
		c, err := d.DialContext(ctx, "tcp", f.addr)
		if err != nil {
			return nil, err
		}
		return stream.CreateTCP(c.(*net.TCPConn), pol, token)
	default:
		var d net.Dialer
		c, err := d.DialContext(ctx, "unix", f.addr)
		if err != nil {
			return nil, err
		}
		return stream.CreateLocal(c.(*net.UnixConn), pol, token)
	}
}
