// Package prompush implements metrics.Backend on a private Prometheus registry
// that is pushed to a Pushgateway on Flush. Short-lived batch runs cannot be
// scraped, so the gateway holds the last pushed values per job.
package prompush

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"elt/internal/metrics"
)

// Backend implements metrics.Backend for the Prometheus Pushgateway.
type Backend struct {
	pusher *push.Pusher

	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	labelNames map[string][]string
}

// NewBackend registers the pipeline's metric families and prepares a pusher
// for job at gatewayURL.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	gatewayURL = strings.TrimSpace(gatewayURL)
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway url is empty")
	}
	if strings.TrimSpace(job) == "" {
		job = "elt"
	}

	reg := prometheus.NewRegistry()
	b := &Backend{
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labelNames: make(map[string][]string),
	}

	stepLabels := []string{"step", "status"}
	httpLabels := []string{"feed", "status"}

	b.counter(reg, metrics.StepTotal, "Pipeline step executions.", stepLabels)
	b.counter(reg, metrics.RowsTotal, "Rows fetched or affected per table.", []string{"table", "op"})
	b.counter(reg, metrics.HTTPRequestsTotal, "Outbound source requests.", httpLabels)
	b.counter(reg, metrics.HTTPErrorsTotal, "Failed outbound source requests.", httpLabels)

	b.histogram(reg, metrics.StepDurationSeconds, "Pipeline step duration.", stepLabels, prometheus.ExponentialBuckets(0.05, 2, 12))
	b.histogram(reg, metrics.HTTPRequestDurationSeconds, "Source request duration.", httpLabels, prometheus.DefBuckets)
	b.histogram(reg, metrics.HTTPDownloadBytes, "Source response size.", httpLabels, prometheus.ExponentialBuckets(256, 4, 8))

	b.pusher = push.New(gatewayURL, job).Gatherer(reg)
	return b, nil
}

func (b *Backend) counter(reg *prometheus.Registry, name, help string, labels []string) {
	v := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	reg.MustRegister(v)
	b.counters[name] = v
	b.labelNames[name] = labels
}

func (b *Backend) histogram(reg *prometheus.Registry, name, help string, labels []string, buckets []float64) {
	v := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
	reg.MustRegister(v)
	b.histograms[name] = v
	b.labelNames[name] = labels
}

// labelValues orders l by the family's declared label names; missing
// labels become "unknown".
func (b *Backend) labelValues(name string, l metrics.Labels) []string {
	names := b.labelNames[name]
	out := make([]string, len(names))
	for i, n := range names {
		v := l[n]
		if v == "" {
			v = "unknown"
		}
		out[i] = v
	}
	return out
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	c, ok := b.counters[name]
	if !ok || delta <= 0 {
		return
	}
	c.WithLabelValues(b.labelValues(name, labels)...).Add(delta)
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	h, ok := b.histograms[name]
	if !ok || value < 0 {
		return
	}
	h.WithLabelValues(b.labelValues(name, labels)...).Observe(value)
}

// Flush pushes every registered family, replacing the job's previous group.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

var _ metrics.Backend = (*Backend)(nil)
