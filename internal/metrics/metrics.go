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

// Package metrics exposes the proxy's operational counters and gauges
// through a Prometheus registry: per-worker bus depth, workload, and
// accept/close counters. Explicitly outside the normative core (spec's
// Non-goal "observability beyond structured log hooks"), but wired in as
// supplementary operational visibility since every teacher service ships
// a /metrics endpoint this way.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector this proxy registers.
type Metrics struct {
	BusUpDepth   *prometheus.GaugeVec
	BusDownDepth *prometheus.GaugeVec
	Workload     *prometheus.GaugeVec
	Accepted     prometheus.Counter
	Closed       prometheus.Counter
	TLSFailures  prometheus.Counter
	UpstreamFail prometheus.Counter
}

// New constructs and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BusUpDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tlsrp",
			Subsystem: "bus",
			Name:      "up_depth",
			Help:      "Number of requests currently queued from a worker to the event loop.",
		}, []string{"worker"}),
		BusDownDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tlsrp",
			Subsystem: "bus",
			Name:      "down_depth",
			Help:      "Number of events currently queued from the event loop to a worker.",
		}, []string{"worker"}),
		Workload: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tlsrp",
			Name:      "worker_workload",
			Help:      "Number of connections currently assigned to each worker.",
		}, []string{"worker"}),
		Accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tlsrp",
			Name:      "connections_accepted_total",
			Help:      "Total client connections accepted.",
		}),
		Closed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tlsrp",
			Name:      "connections_closed_total",
			Help:      "Total connections reclaimed back to the slab.",
		}),
		TLSFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tlsrp",
			Name:      "tls_handshake_failures_total",
			Help:      "Total TLS handshake failures on accept.",
		}),
		UpstreamFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tlsrp",
			Name:      "upstream_connect_failures_total",
			Help:      "Total failed NewUpstream connect attempts.",
		}),
	}

	reg.MustRegister(
		m.BusUpDepth, m.BusDownDepth, m.Workload,
		m.Accepted, m.Closed, m.TLSFailures, m.UpstreamFail,
	)
	return m
}
