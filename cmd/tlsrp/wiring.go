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

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nabbar/tlsrp/internal/config"
	"github.com/nabbar/tlsrp/internal/control"
	"github.com/nabbar/tlsrp/internal/eventloop"
	"github.com/nabbar/tlsrp/internal/logger"
	"github.com/nabbar/tlsrp/internal/workerid"
)

// metricsRefreshInterval bounds how stale the workload/bus-depth gauges
// are allowed to get; cheap enough to poll far more often than a human
// would scrape /metrics.
const metricsRefreshInterval = 2 * time.Second

// watchMetrics periodically pushes loop's workload and bus-depth gauges
// into the attached collector bundle from outside the loop's own
// goroutine, the same best-effort read Snapshot uses for the control
// server.
func watchMetrics(ctx context.Context, loop *eventloop.Loop) {
	t := time.NewTicker(metricsRefreshInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			loop.RefreshMetrics()
		}
	}
}

// workerIDOf maps a 0-based worker slice index to its 1-based
// internal/workerid.ID; 0 stays reserved for the event loop itself.
func workerIDOf(i int) workerid.ID {
	return workerid.ID(i + 1)
}

// prometheusRegistry is a fresh registry per process, matching the
// teacher's preference for an explicit registry over the global default
// so tests never leak collectors across runs.
func prometheusRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// serveMetrics exposes reg on :9090/metrics for the process lifetime,
// the supplementary operational surface named in SPEC_FULL.md's domain
// stack table. Not part of the proxy's normative core, so a bind failure
// here only logs — it never aborts the run.
func serveMetrics(reg *prometheus.Registry, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: ":9090", Handler: mux}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warn("metrics endpoint stopped", "error", err)
	}
}

// snapshotAdapter bridges eventloop.Loop's WorkerStatus (a type local to
// eventloop, kept import-free of internal/control) to control.WorkerStatus
// via a field-for-field conversion.
type snapshotAdapter struct {
	loop *eventloop.Loop
}

func (a snapshotAdapter) Snapshot() []control.WorkerStatus {
	raw := a.loop.Snapshot()
	out := make([]control.WorkerStatus, len(raw))
	for i, w := range raw {
		out[i] = control.WorkerStatus(w)
	}
	return out
}

// watchReload re-applies the configuration on SIGHUP, the conventional
// Unix reload signal, matching the teacher's shell/command reload hook.
func watchReload(ctx context.Context, cfg *config.Component, log logger.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			if err := cfg.Reload(); err != nil {
				log.Error("config reload failed", "error", err)
			} else {
				log.Info("config reloaded")
			}
		}
	}
}
