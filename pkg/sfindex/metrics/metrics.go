// Package metrics holds the Prometheus instruments of an indexing run.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sfindex"

// Metrics groups the counters of one run on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	processed      prometheus.Counter
	indexed        prometheus.Counter
	noLabel        prometheus.Counter
	remoteFailures prometheus.Counter
	queryAttempts  prometheus.Counter
	batches        prometheus.Counter
	decodeErrors   prometheus.Counter
	fetchDuration  prometheus.Histogram
}

// New creates and registers the run instruments.
func New() *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	m := &Metrics{
		registry:       prometheus.NewRegistry(),
		processed:      counter("entities_processed_total", "Entities taken from the surface form map."),
		indexed:        counter("documents_indexed_total", "Documents handed to the index."),
		noLabel:        counter("no_label_total", "Entities skipped because the endpoint returned no label."),
		remoteFailures: counter("remote_failures_total", "Entities dropped after exhausting query retries."),
		queryAttempts:  counter("query_attempts_total", "Attribute query executions, including retries."),
		batches:        counter("batches_flushed_total", "Batches handed to the document store."),
		decodeErrors:   counter("decode_errors_total", "Candidate names dropped because they could not be decoded."),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time to fetch the attributes of one entity.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	m.registry.MustRegister(
		m.processed, m.indexed, m.noLabel, m.remoteFailures,
		m.queryAttempts, m.batches, m.decodeErrors, m.fetchDuration,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) IncProcessed() {
	if m != nil {
		m.processed.Inc()
	}
}

func (m *Metrics) IncNoLabel() {
	if m != nil {
		m.noLabel.Inc()
	}
}

func (m *Metrics) IncRemoteFailure() {
	if m != nil {
		m.remoteFailures.Inc()
	}
}

func (m *Metrics) AddIndexed(n int) {
	if m != nil {
		m.indexed.Add(float64(n))
	}
}

func (m *Metrics) AddQueryAttempts(n int) {
	if m != nil {
		m.queryAttempts.Add(float64(n))
	}
}

func (m *Metrics) IncBatches() {
	if m != nil {
		m.batches.Inc()
	}
}

func (m *Metrics) AddDecodeErrors(n int) {
	if m != nil {
		m.decodeErrors.Add(float64(n))
	}
}

func (m *Metrics) ObserveFetch(d time.Duration) {
	if m != nil {
		m.fetchDuration.Observe(d.Seconds())
	}
}

// WriteTextfile writes the current values in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
