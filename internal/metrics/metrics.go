// Copyright 2024 Andres Morey
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics holds the call-site Prometheus instruments recorded
// by the codec broker and the event search engine. SearchDuration and
// SearchRequests are registered but no call site records them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the instruments every component call-site uses. A
// single Registry is constructed at startup and threaded through the
// components that need it; the zero value is not usable, since its nil
// instruments panic on use
// (internal invariant: every component that records metrics is handed a
// real Registry).
type Registry struct {
	CodecPendingRequests prometheus.Gauge
	CodecLatency         prometheus.Histogram
	CodecRequestsTotal    *prometheus.CounterVec

	SearchDuration *prometheus.HistogramVec
	SearchRequests *prometheus.CounterVec

	ParentEventCapped prometheus.Counter
}

// NewRegistry constructs and registers all instruments against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		CodecPendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dataprovider",
			Subsystem: "codec",
			Name:      "pending_requests",
			Help:      "Number of in-flight codec requests awaiting a response.",
		}),
		CodecLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dataprovider",
			Subsystem: "codec",
			Name:      "request_latency_seconds",
			Help:      "Latency of codec decode round-trips.",
			Buckets:   prometheus.DefBuckets,
		}),
		CodecRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dataprovider",
			Subsystem: "codec",
			Name:      "requests_total",
			Help:      "Codec requests by outcome (success, timeout, dispatch_failed).",
		}, []string{"outcome"}),
		SearchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dataprovider",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search request duration by endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		SearchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dataprovider",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Search requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		ParentEventCapped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dataprovider",
			Subsystem: "search",
			Name:      "parent_capped_total",
			Help:      "Number of times a parent event's child cap was reached.",
		}),
	}

	reg.MustRegister(
		r.CodecPendingRequests,
		r.CodecLatency,
		r.CodecRequestsTotal,
		r.SearchDuration,
		r.SearchRequests,
		r.ParentEventCapped,
	)
	return r
}

// NewUnregistered builds a Registry backed by a private registry, for
// use in tests that don't want to collide with the global registerer.
func NewUnregistered() *Registry {
	return NewRegistry(prometheus.NewRegistry())
}
