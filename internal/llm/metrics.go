package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

type metrics struct {
	duration metric.Float64Histogram
	requests metric.Int64Counter
	retries  metric.Int64Counter
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *metrics {
	m := &metrics{}
	var err error

	m.duration, err = meter.Float64Histogram(
		"ragd.llm.completion_duration_seconds",
		metric.WithDescription("Duration of chat completions in seconds, including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		logger.Warn("failed to create completion duration histogram", zap.Error(err))
	}

	m.requests, err = meter.Int64Counter(
		"ragd.llm.completions_total",
		metric.WithDescription("Total chat completions by model and result"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create completions counter", zap.Error(err))
	}

	m.retries, err = meter.Int64Counter(
		"ragd.llm.retries_total",
		metric.WithDescription("Total retried completion attempts"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		logger.Warn("failed to create retries counter", zap.Error(err))
	}
	return m
}

func (m *metrics) record(ctx context.Context, model string, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("model", model)))
	}
	if m.requests != nil {
		m.requests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("result", result),
		))
	}
}

func (m *metrics) retry(ctx context.Context, model string) {
	if m.retries != nil {
		m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
	}
}
