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

// Package fault carries the tagged, allocation-free fault value that lives
// in a connection record's error slot. It is deliberately smaller than
// internal/errors: the hot path cannot afford a stack-captured, chained
// liberr.Error per read/write.
package fault

// Kind tags the fault without requiring a type assertion on nil interfaces.
type Kind uint8

const (
	// None is the sentinel "no fault" value — the zero value, so a fresh
	// connection record needs no explicit initialization to read as healthy.
	None Kind = iota
	// IO tags a failed read, write, register, accept, or connect.
	IO
	// TLS tags a handshake or session protocol failure.
	TLS
)

func (k Kind) String() string {
	switch k {
	case IO:
		return "io"
	case TLS:
		return "tls"
	default:
		return "none"
	}
}

// Fault is a small value type: a Kind plus the underlying error, if any.
// The zero Fault{} means "no fault" and costs nothing beyond its 24 bytes
// (interface word pair + kind + padding) sitting unused in a record.
type Fault struct {
	Kind Kind
	Err  error
}

// IsSet reports whether this slot records an actual fault.
func (f Fault) IsSet() bool {
	return f.Kind != None
}

func (f Fault) Error() string {
	if !f.IsSet() {
		return ""
	}
	if f.Err == nil {
		return f.Kind.String()
	}
	return f.Kind.String() + ": " + f.Err.Error()
}

// OfIO wraps err as an IO fault. A nil err still produces a set fault with
// Kind == IO and no detail — used when the failure is a condition rather
// than a wrapped error (e.g. a slab-exhaustion style reject).
func OfIO(err error) Fault {
	return Fault{Kind: IO, Err: err}
}

// OfTLS wraps err as a TLS fault.
func OfTLS(err error) Fault {
	return Fault{Kind: TLS, Err: err}
}
