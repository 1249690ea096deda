// Package pipeline sequences one ELT run: provision the bronze schema,
// extract and load every feed independently, then trigger the downstream
// transformation with bounded retries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"elt/internal/feed"
	"elt/internal/loader"
	"elt/internal/metrics"
	"elt/internal/source"
	"elt/internal/transform"
)

// ErrTransformDisabled is returned by Transform when no trigger is configured.
var ErrTransformDisabled = errors.New("pipeline: transform is disabled")

// Provisioner creates the bronze schema.
type Provisioner interface {
	Ensure(ctx context.Context) error
}

// Fetcher retrieves one feed's records.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string) source.Result
}

// Loader merges one feed's records into its table.
type Loader interface {
	Load(ctx context.Context, destination, primaryKey string, columns []string, records []feed.Record) loader.Result
}

// Transformer runs the downstream transformation once.
type Transformer interface {
	Run(ctx context.Context) (transform.Result, error)
}

// Options configures a Coordinator.
type Options struct {
	BaseURL string
	// TransformRetries is the number of extra attempts after the first.
	TransformRetries    int
	TransformRetryDelay time.Duration
	Logger              *zap.Logger
}

// Coordinator runs pipeline steps. Each step can also be invoked on its own
// and is safe to repeat.
type Coordinator struct {
	provisioner Provisioner
	fetcher     Fetcher
	loader      Loader
	transformer Transformer
	opts        Options
	logger      *zap.Logger
}

// New returns a Coordinator. transformer may be nil to disable the
// transform step.
func New(p Provisioner, f Fetcher, l Loader, t Transformer, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TransformRetries < 0 {
		opts.TransformRetries = 0
	}
	return &Coordinator{
		provisioner: p,
		fetcher:     f,
		loader:      l,
		transformer: t,
		opts:        opts,
		logger:      logger,
	}
}

// Run executes provision, extract-load for every feed, then transform.
//
// A provisioning failure aborts the run before any feed is touched. Feed
// failures never abort the run; they are reported per feed. The transform
// runs after every feed was attempted, whatever their outcome, and its final
// error is returned.
func (c *Coordinator) Run(ctx context.Context) (report Report, err error) {
	start := time.Now()
	defer func() {
		report.Duration = time.Since(start)
		c.logger.Info("pipeline finished",
			zap.Array("feeds", outcomes(report.Feeds)),
			zap.Bool("transform_ran", report.TransformRan),
			zap.Int("transform_attempts", report.TransformAttempts),
			zap.Duration("elapsed", report.Duration),
		)
	}()

	if err = c.Provision(ctx); err != nil {
		return report, err
	}

	report.Feeds, err = c.ExtractLoad(ctx)
	if err != nil {
		return report, err
	}

	if c.transformer == nil {
		c.logger.Info("transform disabled, skipping")
		return report, nil
	}
	report.TransformAttempts, err = c.Transform(ctx)
	report.TransformRan = true
	report.TransformErr = err
	return report, err
}

// Provision ensures the schema exists. Its error is fatal to a run.
func (c *Coordinator) Provision(ctx context.Context) error {
	start := time.Now()
	err := c.provisioner.Ensure(ctx)
	metrics.RecordStep("provision", err, time.Since(start))
	if err != nil {
		c.logger.Error("provision failed", zap.String("step", "provision"), zap.Error(err))
		return fmt.Errorf("pipeline: provision: %w", err)
	}
	return nil
}

// ExtractLoad fetches and loads the named feeds (all feeds when none are
// named), one after another. Only an unknown feed name is an error; fetch
// and load failures are reported in the outcomes.
func (c *Coordinator) ExtractLoad(ctx context.Context, names ...string) ([]FeedOutcome, error) {
	feeds, err := feed.Select(names...)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	out := make([]FeedOutcome, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, c.extractLoad(ctx, f))
	}
	return out, nil
}

func (c *Coordinator) extractLoad(ctx context.Context, f feed.Feed) FeedOutcome {
	start := time.Now()
	outcome := FeedOutcome{Feed: f.Name}
	endpoint := f.Endpoint(c.opts.BaseURL)
	logger := c.logger.With(zap.String("feed", f.Name))

	logger.Info("fetching", zap.String("url", endpoint))
	fetched := c.fetcher.Fetch(ctx, endpoint)
	outcome.Fetched = len(fetched.Records)

	res := c.loader.Load(ctx, f.Name, f.PrimaryKey, f.Columns, fetched.Records)
	switch {
	case res.Err != nil:
		outcome.Status = StatusFailed
		outcome.Err = res.Err
	case res.Skipped:
		outcome.Status = StatusNoData
		outcome.Err = fetched.Err
	default:
		outcome.Status = StatusLoaded
		outcome.Affected = res.Affected
	}

	metrics.RecordStep("extract_load."+f.Name, outcome.Err, time.Since(start))
	logger.Info("feed done", zap.Object("outcome", outcome))
	return outcome
}

// Transform runs the transformer with up to TransformRetries extra attempts
// spaced by TransformRetryDelay. A missing executable or working directory
// stops retrying at once. It returns the number of attempts made.
func (c *Coordinator) Transform(ctx context.Context) (int, error) {
	if c.transformer == nil {
		return 0, ErrTransformDisabled
	}

	start := time.Now()
	attempts := 0
	operation := func() error {
		attempts++
		_, err := c.transformer.Run(ctx)
		if err != nil && transform.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.TransformRetryDelay), uint64(c.opts.TransformRetries)),
		ctx,
	)
	err := backoff.RetryNotify(operation, b, func(err error, delay time.Duration) {
		c.logger.Warn("transform attempt failed, retrying",
			zap.String("step", "transform"),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	})

	metrics.RecordStep("transform", err, time.Since(start))
	if err != nil {
		c.logger.Error("transform failed",
			zap.String("step", "transform"),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return attempts, fmt.Errorf("pipeline: transform: %w", err)
	}
	return attempts, nil
}
