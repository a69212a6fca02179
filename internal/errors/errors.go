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

// Package errors collects the coded, boundary-facing errors this proxy
// raises outside the hot path: forward parsing, listener bind, config load
// and invalid worker count failures. ErrSlabExhausted is registered with a
// message, but no code in this module returns it. It registers its codes on top of
// the shared errors.CodeError hierarchy, the same way every other package
// in this module owns its own code range.
//
// Per-connection I/O and TLS failures do not use this package — those go
// through internal/fault, which is allocation-free and does not capture a
// stack trace on every read/write.
package errors

import "github.com/nabbar/tlsrp/errors"

const (
	ErrForwardParse errors.CodeError = iota + errors.MinAvailable
	ErrListenerBind
	ErrSlabExhausted
	ErrConfigLoad
	ErrWorkerCountInvalid
)

var isCodeError = false

func IsCodeError() bool {
	return isCodeError
}

func init() {
	isCodeError = errors.ExistInMapMessage(ErrForwardParse)
	errors.RegisterIdFctMessage(ErrForwardParse, getMessage)
}

func getMessage(code errors.CodeError) (message string) {
	switch code {
	case errors.UNK_ERROR:
		return ""
	case ErrForwardParse:
		return "forward entry is neither a socket address nor an existing local-domain path"
	case ErrListenerBind:
		return "cannot bind listener"
	case ErrSlabExhausted:
		return "connection slab has no free token"
	case ErrConfigLoad:
		return "cannot load configuration"
	case ErrWorkerCountInvalid:
		return "worker count must be at least 1"
	}

	return ""
}
