// Package metrics is the backend-agnostic metrics facade used by the pipeline.
//
// Pipeline code records through the package-level helpers (RecordStep,
// RecordRows, RecordHTTP). A concrete backend (Datadog, Prometheus Pushgateway)
// is installed once at startup with SetBackend; until then every call is a no-op.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metric names shared by all backends.
const (
	StepTotal           = "elt_step_total"
	StepDurationSeconds = "elt_step_duration_seconds"
	RowsTotal           = "elt_rows_total"

	HTTPRequestsTotal          = "elt_http_requests_total"
	HTTPErrorsTotal            = "elt_http_errors_total"
	HTTPRequestDurationSeconds = "elt_http_request_duration_seconds"
	HTTPDownloadBytes          = "elt_http_download_bytes"
)

// Labels are metric dimensions (e.g. step=extract_load, status=ok).
type Labels map[string]string

// Backend receives metric samples. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the
// no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one step execution and observes its duration.
// status is "ok" when err is nil, "error" otherwise.
func RecordStep(step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRows counts rows for a table. op is e.g. "fetched" or "affected".
func RecordRows(table, op string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(n), Labels{"table": table, "op": op})
}

// RecordHTTP records one outbound HTTP request. status is 0 when no response
// was received.
func RecordHTTP(feed string, status int, err error, d time.Duration, size int64) {
	code := "none"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	l := Labels{"feed": feed, "status": code}

	b := current()
	b.IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || status >= 400 || status == 0 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	b.ObserveHistogram(HTTPRequestDurationSeconds, d.Seconds(), l)
	if size > 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(size), l)
	}
}
