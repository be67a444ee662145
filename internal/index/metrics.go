package index

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dbsmedya/esload/internal/index"

type metrics struct {
	flushDuration metric.Float64Histogram
	bulkRequests  metric.Int64Counter
	docsIndexed   metric.Int64Counter
	docsFailed    metric.Int64Counter
	docsRetried   metric.Int64Counter
}

type counterMetric struct {
	name        string
	description string
	p           *metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	var ms metrics
	var err error
	ms.flushDuration, err = meter.Float64Histogram(
		"esload.bulk.latency",
		metric.WithUnit("s"),
		metric.WithDescription("The amount of time a _bulk request took, in seconds."),
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating esload.bulk.latency metric: %w", err)
	}

	counters := []counterMetric{
		{
			name:        "esload.bulk_requests.count",
			description: "The number of bulk requests sent, including retries.",
			p:           &ms.bulkRequests,
		},
		{
			name:        "esload.docs.indexed",
			description: "The number of documents accepted by Elasticsearch.",
			p:           &ms.docsIndexed,
		},
		{
			name:        "esload.docs.failed",
			description: "The number of documents that failed permanently.",
			p:           &ms.docsFailed,
		},
		{
			name:        "esload.docs.retried",
			description: "The number of document level retries.",
			p:           &ms.docsRetried,
		},
	}
	for _, c := range counters {
		m, err := meter.Int64Counter(c.name, metric.WithUnit("1"), metric.WithDescription(c.description))
		if err != nil {
			return nil, fmt.Errorf("failed creating %s metric: %w", c.name, err)
		}
		*c.p = m
	}
	return &ms, nil
}

func (m *metrics) recordRequest(ctx context.Context, index string, took time.Duration, outcome string) {
	attrs := metric.WithAttributes(
		attribute.String("index", index),
		attribute.String("outcome", outcome),
	)
	m.bulkRequests.Add(ctx, 1, attrs)
	m.flushDuration.Record(ctx, took.Seconds(), attrs)
}

func (m *metrics) recordDocs(ctx context.Context, index string, indexed, failed, retried int64) {
	attrs := metric.WithAttributes(attribute.String("index", index))
	if indexed > 0 {
		m.docsIndexed.Add(ctx, indexed, attrs)
	}
	if failed > 0 {
		m.docsFailed.Add(ctx, failed, attrs)
	}
	if retried > 0 {
		m.docsRetried.Add(ctx, retried, attrs)
	}
}
