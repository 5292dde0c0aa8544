package retrieval

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

type metrics struct {
	queryDuration  metric.Float64Histogram
	queries        metric.Int64Counter
	fanOutDuration metric.Float64Histogram
	fanOutWidth    metric.Int64Histogram
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *metrics {
	m := &metrics{}
	var err error

	m.queryDuration, err = meter.Float64Histogram(
		"ragd.retrieval.query_duration_seconds",
		metric.WithDescription("Duration of a single similarity search in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create query duration histogram", zap.Error(err))
	}

	m.queries, err = meter.Int64Counter(
		"ragd.retrieval.queries_total",
		metric.WithDescription("Total similarity searches by result"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		logger.Warn("failed to create queries counter", zap.Error(err))
	}

	m.fanOutDuration, err = meter.Float64Histogram(
		"ragd.retrieval.fanout_duration_seconds",
		metric.WithDescription("Wall time until every query of a fan-out has returned"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create fan-out duration histogram", zap.Error(err))
	}

	m.fanOutWidth, err = meter.Int64Histogram(
		"ragd.retrieval.fanout_width",
		metric.WithDescription("Number of queries per fan-out"),
		metric.WithUnit("{query}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 8, 10),
	)
	if err != nil {
		logger.Warn("failed to create fan-out width histogram", zap.Error(err))
	}
	return m
}

func (m *metrics) recordQuery(ctx context.Context, namespace string, d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	if m.queryDuration != nil {
		m.queryDuration.Record(ctx, d.Seconds())
	}
	if m.queries != nil {
		m.queries.Add(ctx, 1, metric.WithAttributes(
			attribute.String("namespace", namespace),
			attribute.String("result", result),
		))
	}
}

func (m *metrics) recordFanOut(ctx context.Context, width int, d time.Duration) {
	if m.fanOutDuration != nil {
		m.fanOutDuration.Record(ctx, d.Seconds())
	}
	if m.fanOutWidth != nil {
		m.fanOutWidth.Record(ctx, int64(width))
	}
}
