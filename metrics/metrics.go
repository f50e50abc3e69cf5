// Package metrics defines the Prometheus collectors for the query path.
// All collectors register against the default registry and are exposed by
// the gateway's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestTotal counts HTTP requests by route pattern and method.
	RequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_request_total",
		Help: "Total HTTP requests.",
	}, []string{"route", "method"})

	// RequestLatency observes end-to-end request latency by route pattern.
	RequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rag_request_latency_seconds",
		Help:    "Request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// StageLatency observes per-stage latency of the query path.
	// Stages: retrieve, rerank, generate.
	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rag_stage_latency_seconds",
		Help:    "Query-path stage latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	// RetrievedSources counts documents retrieved per source backend.
	// Sources: bm25, dense.
	RetrievedSources = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_retrieved_sources_total",
		Help: "Documents retrieved by source.",
	}, []string{"source"})

	// AbstainTotal counts abstained answers by reason. Incremented exactly
	// once per request per reason.
	AbstainTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rag_abstain_total",
		Help: "Abstained answers by reason.",
	}, []string{"reason"})

	// BackendFailures counts degraded retrieval calls (backend error or
	// timeout answered with an empty result list).
	BackendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_backend_failures_total",
		Help: "Retrieval backend failures degraded to empty results.",
	}, []string{"backend"})

	// RerankDegraded counts rerank calls that fell back to passthrough
	// because the model was unavailable or prediction failed.
	RerankDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_rerank_degraded_total",
		Help: "Rerank calls degraded to passthrough ordering.",
	})

	// EventsDropped counts analytics events that could not be published.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_events_dropped_total",
		Help: "Analytics events dropped on publish failure.",
	}, []string{"topic"})
)
