package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elt/internal/metrics"
)

type gateway struct {
	mu     sync.Mutex
	method string
	path   string
	body   string
	status int
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	g.mu.Lock()
	g.method, g.path, g.body = r.Method, r.URL.Path, string(b)
	status := g.status
	g.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func TestNewBackend_RequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewBackend("elt", "  ")
	require.Error(t, err)
}

func TestFlush_PushesToGateway(t *testing.T) {
	t.Parallel()

	gw := &gateway{}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	b, err := NewBackend("elt_test", srv.URL)
	require.NoError(t, err)

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "provision", "status": "ok"})
	b.IncCounter(metrics.RowsTotal, 20, metrics.Labels{"table": "products", "op": "affected"})
	b.ObserveHistogram(metrics.StepDurationSeconds, (1500 * time.Millisecond).Seconds(), metrics.Labels{"step": "provision", "status": "ok"})
	b.IncCounter("not_registered", 1, nil)
	b.IncCounter(metrics.HTTPErrorsTotal, 1, metrics.Labels{"feed": "users"})

	require.NoError(t, b.Flush())

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Equal(t, http.MethodPut, gw.method)
	assert.True(t, strings.HasSuffix(gw.path, "/metrics/job/elt_test"), gw.path)
	assert.NotEmpty(t, gw.body)
}

func TestFlush_GatewayErrorIsReturned(t *testing.T) {
	t.Parallel()

	gw := &gateway{status: http.StatusInternalServerError}
	srv := httptest.NewServer(gw)
	defer srv.Close()

	b, err := NewBackend("elt_test", srv.URL)
	require.NoError(t, err)

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "transform", "status": "error"})
	err = b.Flush()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompush: push")
}

func TestLabelValues_OrdersAndDefaults(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("", "http://localhost:9091")
	require.NoError(t, err)

	got := b.labelValues(metrics.RowsTotal, metrics.Labels{"op": "fetched", "table": "carts", "extra": "x"})
	assert.Equal(t, []string{"carts", "fetched"}, got)

	got = b.labelValues(metrics.HTTPRequestsTotal, metrics.Labels{"feed": "users"})
	assert.Equal(t, []string{"users", "unknown"}, got)
}
