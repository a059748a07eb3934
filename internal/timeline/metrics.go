package timeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/raphaelgruber/casegraph/internal/timeline"

// queryMetrics holds the timeline counters.
type queryMetrics struct {
	queries     metric.Int64Counter
	filters     metric.Int64Counter
	enrichments metric.Int64Counter
}

func newQueryMetrics(provider metric.MeterProvider) (*queryMetrics, error) {
	meter := provider.Meter(meterName)

	queries, err := meter.Int64Counter(
		"timeline_queries_total",
		metric.WithDescription("Number of timeline queries served"),
	)
	if err != nil {
		return nil, fmt.Errorf("create queries counter: %w", err)
	}

	filters, err := meter.Int64Counter(
		"timeline_filter_applications_total",
		metric.WithDescription("Number of timeline queries applying at least one filter"),
	)
	if err != nil {
		return nil, fmt.Errorf("create filters counter: %w", err)
	}

	enrichments, err := meter.Int64Counter(
		"timeline_enrichment_entities_total",
		metric.WithDescription("Entity highlights produced by timeline enrichment"),
	)
	if err != nil {
		return nil, fmt.Errorf("create enrichment counter: %w", err)
	}

	return &queryMetrics{queries: queries, filters: filters, enrichments: enrichments}, nil
}

func (m *queryMetrics) recordQuery(ctx context.Context, q validated, stats Stats) {
	attrs := metric.WithAttributes(
		attribute.Bool("entity_filter", q.Entity != ""),
		attribute.Bool("range_filter", q.FromTS != nil || q.ToTS != nil),
		attribute.Bool("risk_filter", q.band != ""),
		attribute.Bool("deadline_filter", q.MotionDueBefore != nil || q.MotionDueAfter != nil),
	)
	m.queries.Add(ctx, 1, attrs)
	if q.hasFilters() {
		m.filters.Add(ctx, 1, attrs)
	}
	if stats.Highlights > 0 {
		m.enrichments.Add(ctx, int64(stats.Highlights), metric.WithAttributes(
			attribute.Int("documents", stats.Documents),
			attribute.Int("relations", stats.Relations),
		))
	}
}
