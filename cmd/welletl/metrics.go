package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"welletl/internal/config"
	"welletl/internal/metrics"
	"welletl/internal/metrics/datadog"
	"welletl/internal/metrics/prompush"
)

const jobName = "welletl"

// metricsBackend is the shutdown side of a buffered backend.
type metricsBackend interface {
	Close() error
}

// Seams for tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string, grouping map[string]string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url, grouping)
	}
	setMetricsBackend = func(b any) {
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
	flushMetrics = metrics.Flush
)

// initMetrics installs the configured backend. The returned cleanup is never
// nil and must be called once, after the run, to submit what is buffered.
func initMetrics(ctx context.Context, cfg config.MetricsConfig, runID string, log *zap.Logger) (func(), error) {
	noop := func() {}
	if log == nil {
		log = zap.NewNop()
	}

	switch strings.ToLower(cfg.Backend) {
	case "", "none", "noop":
		return noop, nil

	case "datadog", "dd":
		tags := append(datadog.ParseTagsCSV(cfg.Tags), "run_id:"+runID)
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return noop, fmt.Errorf("metrics: datadog: %w", err)
		}
		setMetricsBackend(b)
		log.Info("metrics enabled", zap.String("backend", "datadog"), zap.Strings("tags", tags))
		return func() {
			if err := b.Close(); err != nil {
				log.Warn("metrics: datadog close error", zap.Error(err))
			}
		}, nil

	case "pushgateway", "prometheus":
		b, err := newPushBackend(jobName, cfg.PushgatewayURL, map[string]string{"run_id": runID})
		if err != nil {
			return noop, fmt.Errorf("metrics: pushgateway: %w", err)
		}
		setMetricsBackend(b)
		log.Info("metrics enabled", zap.String("backend", "pushgateway"), zap.String("url", cfg.PushgatewayURL))
		return func() {
			if err := flushMetrics(); err != nil {
				log.Warn("metrics: push error", zap.Error(err))
			}
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", cfg.Backend)
	}
}
