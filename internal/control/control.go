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

// Package control serves the proxy's operational status over a local-
// domain socket named by control_path: one JSON object per accepted
// connection, then the connection is closed. It never touches a
// connection record or a spinlock — it only calls the event loop's
// Snapshot method and is free to run on its own goroutine.
package control

import (
	"encoding/json"
	"net"
	"os"
	"time"

	"github.com/nabbar/tlsrp/internal/logger"
)

// Reporter is whatever can produce a status snapshot; internal/eventloop.Loop
// satisfies it without control needing to import eventloop's other surface.
type Reporter interface {
	Snapshot() []WorkerStatus
}

// WorkerStatus mirrors eventloop.WorkerStatus field-for-field so this
// package does not need to import internal/eventloop just for the type.
type WorkerStatus struct {
	Worker    uint32 `json:"worker"`
	Workload  int    `json:"workload"`
	UpDepth   int    `json:"up_depth"`
	DownDepth int    `json:"down_depth"`
}

// Status is the full JSON document written to each accepted connection.
type Status struct {
	Workers []WorkerStatus         `json:"workers"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

// MetaSource supplies the ancillary key/value bag (build version, start
// time, operator tags) a Status response folds in alongside the per-
// worker table. internal/config.Component satisfies this without control
// needing to import it.
type MetaSource interface {
	Meta() map[string]interface{}
}

// Server listens on a Unix domain socket at path and answers every
// accepted connection with one Status document.
type Server struct {
	path string
	rep  Reporter
	meta MetaSource
	log  logger.Logger

	ln net.Listener
}

// New creates a control server bound to path. The socket file is removed
// first if already present, matching the teacher's convention of treating
// a stale control socket from a previous crash as safe to unlink. meta may
// be nil, in which case Status.Meta is omitted.
func New(path string, rep Reporter, meta MetaSource, log logger.Logger) (*Server, error) {
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}

	return &Server{path: path, rep: rep, meta: meta, log: log, ln: ln}, nil
}

// Serve accepts connections until the listener is closed, writing one
// Status document to each before closing it. Meant to run on its own
// goroutine for the process lifetime.
func (s *Server) Serve() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.respond(c)
	}
}

func (s *Server) respond(c net.Conn) {
	defer c.Close()

	_ = c.SetWriteDeadline(timeNowPlus(5 * time.Second))

	st := Status{Workers: s.rep.Snapshot()}
	if s.meta != nil {
		st.Meta = s.meta.Meta()
	}
	if err := json.NewEncoder(c).Encode(st); err != nil {
		s.log.Warn("control: failed writing status response", "error", err)
	}
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	err := s.ln.Close()
	_ = os.Remove(s.path)
	return err
}

func timeNowPlus(d time.Duration) time.Time {
	return time.Now().Add(d)
}
