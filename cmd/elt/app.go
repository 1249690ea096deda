package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"elt/internal/config"
	"elt/internal/loader"
	"elt/internal/metrics"
	"elt/internal/metrics/datadog"
	"elt/internal/metrics/prompush"
	"elt/internal/pipeline"
	"elt/internal/source"
	"elt/internal/storage"
	"elt/internal/transform"

	// Register every backend; DB_KIND picks one at runtime.
	_ "elt/internal/storage/all"
)

// app holds state shared by the subcommands of one invocation.
type app struct {
	envFile string
	verbose bool

	cfg    config.Config
	logger *zap.Logger

	newLogger func(verbose bool) (*zap.Logger, error)
	closers   []func()
}

func newApp() *app {
	return &app{newLogger: buildLogger}
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// prepare loads configuration and builds the logger before any subcommand runs.
func (a *app) prepare(cmd *cobra.Command) error {
	cfg, err := config.Load(a.envFile, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := a.newLogger(a.verbose)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.logger = logger.With(zap.String("cmd", cmd.Name()))
	return nil
}

// close runs deferred cleanups in reverse order. It is safe to call twice.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// requireValid fails when the configuration has error-level issues and logs
// the warnings.
func (a *app) requireValid() error {
	issues := a.cfg.Validate()
	var errs []string
	for _, iss := range issues {
		if iss.Severity == config.SeverityError {
			errs = append(errs, iss.String())
			continue
		}
		a.logger.Warn("configuration warning", zap.String("path", iss.Path), zap.String("message", iss.Message))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// coordinator wires a Coordinator from the configuration. Storage is opened
// only when withStorage is set, so "transform" works without a database.
func (a *app) coordinator(ctx context.Context, withStorage bool) (*pipeline.Coordinator, error) {
	if err := a.requireValid(); err != nil {
		return nil, err
	}
	a.setupMetrics(ctx)

	var (
		p pipeline.Provisioner
		l pipeline.Loader
	)
	if withStorage {
		dsn, err := a.cfg.DB.DSN()
		if err != nil {
			return nil, err
		}
		repo, err := storage.New(ctx, storage.Config{Kind: a.cfg.DB.Kind, DSN: dsn})
		if err != nil {
			a.logger.Error("database connection failed", zap.String("kind", a.cfg.DB.Kind), zap.Error(err))
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		p = storage.NewProvisioner(repo, a.cfg.Schema, a.logger)
		l = loader.New(repo, a.cfg.Schema, loader.WithLogger(a.logger))
	}

	var tr pipeline.Transformer
	if a.cfg.Transform.Enabled {
		trigger, err := transform.NewTrigger(a.cfg.Transform.Command, a.cfg.Transform.Dir, a.logger)
		if err != nil {
			return nil, err
		}
		tr = trigger.WithEnv("BRONZE_SCHEMA=" + a.cfg.Schema)
	}

	fetcher := source.NewFetcher(source.Options{
		Timeout: a.cfg.API.Timeout,
		Retries: a.cfg.API.Retries,
		Logger:  a.logger,
	})

	return pipeline.New(p, fetcher, l, tr, pipeline.Options{
		BaseURL:             a.cfg.API.BaseURL,
		TransformRetries:    a.cfg.Transform.Retries,
		TransformRetryDelay: a.cfg.Transform.RetryDelay,
		Logger:              a.logger,
	}), nil
}

// setupMetrics installs the configured metrics backend. Failures are logged
// and leave metrics disabled; they never stop the pipeline.
func (a *app) setupMetrics(ctx context.Context) {
	m := a.cfg.Metrics
	job := m.Job
	if job == "" {
		job = "elt"
	}

	switch m.Backend {
	case "pushgateway", "prometheus":
		b, err := prompush.NewBackend(job, m.PushgatewayURL)
		if err != nil {
			a.logger.Warn("metrics: failed to init pushgateway backend; using nop", zap.Error(err))
			return
		}
		a.logger.Info("metrics enabled", zap.String("backend", m.Backend), zap.String("url", m.PushgatewayURL), zap.String("job", job))
		metrics.SetBackend(b)
		a.closers = append(a.closers, func() {
			if err := metrics.Flush(); err != nil {
				a.logger.Warn("metrics: flush error", zap.Error(err))
			}
			metrics.SetBackend(nil)
		})

	case "datadog":
		tags := datadog.ParseTagsCSV(m.Tags)
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			a.logger.Warn("metrics: failed to init datadog backend; using nop", zap.Error(err))
			return
		}
		a.logger.Info("metrics enabled", zap.String("backend", m.Backend), zap.String("job", job), zap.Strings("tags", tags))
		metrics.SetBackend(b)
		// Close stops the flush loop and submits what is left.
		a.closers = append(a.closers, func() {
			if err := b.Close(); err != nil {
				a.logger.Warn("metrics: datadog close/flush error", zap.Error(err))
			}
			metrics.SetBackend(nil)
		})

	default:
		a.logger.Debug("metrics disabled", zap.String("backend", m.Backend))
	}
}
