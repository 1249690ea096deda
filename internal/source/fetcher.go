// Package source retrieves raw records from the upstream REST API.
//
// Fetch never returns a Go error: transport failures, non-2xx responses and
// malformed bodies become a Result with Err set and no records, plus a
// warning log. Callers treat that the same as an empty collection.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	resty "github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"elt/internal/feed"
	"elt/internal/metrics"
	jsonparser "elt/internal/parser/json"
)

const (
	DefaultTimeout   = 10 * time.Second
	RetryWaitTime    = 100 * time.Millisecond
	RetryWaitTimeMax = 3 * time.Second
	UserAgent        = "elt-bronze/1.0"
)

// Options configures a Fetcher. Zero values select defaults.
type Options struct {
	// Timeout bounds each HTTP attempt. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Retries is the number of extra attempts on 408/429/5xx or network errors.
	Retries int
	Logger  *zap.Logger
}

// Result is the outcome of one fetch.
type Result struct {
	Records []feed.Record
	// Err is set when the fetch failed; Records is nil in that case.
	Err error
}

// Fetcher performs bounded GET requests against feed endpoints.
type Fetcher struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewFetcher builds a Fetcher backed by a resty client.
func NewFetcher(opts Options) *Fetcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := resty.New()
	c.SetLogger(&ClientLogger{logger.Sugar()})
	c.SetHeader("User-Agent", UserAgent)
	c.SetHeader("Accept", "application/json")
	c.SetTimeout(timeout)
	if opts.Retries > 0 {
		c.SetRetryCount(opts.Retries)
		c.SetRetryWaitTime(RetryWaitTime)
		c.SetRetryMaxWaitTime(RetryWaitTimeMax)
		c.AddRetryCondition(func(response *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			if response == nil {
				return false
			}
			switch response.StatusCode() {
			case
				http.StatusRequestTimeout,
				http.StatusTooManyRequests,
				http.StatusInternalServerError,
				http.StatusBadGateway,
				http.StatusServiceUnavailable,
				http.StatusGatewayTimeout:
				return true
			default:
				return false
			}
		})
		c.AddRetryHook(func(response *resty.Response, err error) {
			if response == nil || response.Request == nil {
				return
			}
			logger.Warn("retrying request",
				zap.String("url", response.Request.URL),
				zap.Int("status", response.StatusCode()),
				zap.Error(err),
			)
		})
	}

	return &Fetcher{http: c, logger: logger}
}

// Fetch retrieves and decodes the records at endpoint.
func (f *Fetcher) Fetch(ctx context.Context, endpoint string) Result {
	label := feedLabel(endpoint)
	start := time.Now()

	resp, err := f.http.R().SetContext(ctx).Get(endpoint)

	status := 0
	var size int64
	if resp != nil {
		status = resp.StatusCode()
		size = int64(len(resp.Body()))
	}

	switch {
	case err != nil:
		err = fmt.Errorf("source: GET %s: %w", endpoint, err)
	case !resp.IsSuccess():
		err = fmt.Errorf("source: GET %s: unexpected status %d", endpoint, status)
	}
	metrics.RecordHTTP(label, status, err, time.Since(start), size)
	if err != nil {
		return f.fail(endpoint, err)
	}

	records, err := jsonparser.DecodeRecords(bytes.NewReader(resp.Body()))
	if err != nil {
		return f.fail(endpoint, fmt.Errorf("source: decode %s: %w", endpoint, err))
	}

	f.logger.Debug("fetched records",
		zap.String("url", endpoint),
		zap.Int("records", len(records)),
		zap.Duration("elapsed", resp.Time()),
	)
	return Result{Records: records}
}

func (f *Fetcher) fail(endpoint string, err error) Result {
	f.logger.Warn("fetch failed", zap.String("url", endpoint), zap.Error(err))
	return Result{Err: err}
}

// feedLabel returns the last path segment of endpoint for metric labels.
func feedLabel(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "unknown"
	}
	return path.Base(u.Path)
}
