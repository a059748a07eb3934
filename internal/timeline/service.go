// Package timeline serves enriched, filterable case timelines.
//
// Every read re-enriches the stored events against the case graph before
// filtering, and writes them back when any derived field changed.
package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/raphaelgruber/casegraph/internal/metrics"
	"github.com/raphaelgruber/casegraph/internal/models"
)

// Service is the timeline query engine for all cases.
type Service struct {
	store     Store
	graph     GraphLookup
	enricher  *Enricher
	metrics   *queryMetrics
	collector *metrics.Collector
	logger    *slog.Logger
}

type serviceConfig struct {
	meterProvider metric.MeterProvider
	collector     *metrics.Collector
	logger        *slog.Logger
	enricherOpts  []EnricherOption
}

// Option configures a Service.
type Option func(*serviceConfig)

// WithMeterProvider sets the provider for the timeline counters.
// Defaults to the global otel provider.
func WithMeterProvider(p metric.MeterProvider) Option {
	return func(c *serviceConfig) { c.meterProvider = p }
}

// WithCollector records query and enrichment timings.
func WithCollector(col *metrics.Collector) Option {
	return func(c *serviceConfig) { c.collector = col }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *serviceConfig) { c.logger = l }
}

// WithEnricherOptions passes options through to the Enricher.
func WithEnricherOptions(opts ...EnricherOption) Option {
	return func(c *serviceConfig) { c.enricherOpts = append(c.enricherOpts, opts...) }
}

// NewService creates a timeline service.
func NewService(store Store, graph GraphLookup, opts ...Option) (*Service, error) {
	cfg := serviceConfig{
		meterProvider: otel.GetMeterProvider(),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	m, err := newQueryMetrics(cfg.meterProvider)
	if err != nil {
		return nil, err
	}

	enricherOpts := append([]EnricherOption{WithEnricherLogger(cfg.logger)}, cfg.enricherOpts...)
	return &Service{
		store:     store,
		graph:     graph,
		enricher:  NewEnricher(graph, enricherOpts...),
		metrics:   m,
		collector: cfg.collector,
		logger:    cfg.logger,
	}, nil
}

// ListEvents returns one page of the case timeline matching q.
func (s *Service) ListEvents(ctx context.Context, caseID string, q Query) (Page, error) {
	v, err := q.validate()
	if err != nil {
		return Page{}, err
	}
	start := time.Now()

	events, stats, err := s.load(ctx, caseID)
	if err != nil {
		return Page{}, err
	}

	events = filterByTime(events, v.FromTS, v.ToTS)
	if v.Entity != "" {
		events = s.filterByEntity(ctx, events, v.Entity)
	}
	if v.band != "" {
		events = filterByRiskBand(events, v.band)
	}
	if v.MotionDueBefore != nil || v.MotionDueAfter != nil {
		events = filterByMotionDeadline(events, v.MotionDueBefore, v.MotionDueAfter)
	}
	if v.cursor != nil {
		events = filterAfterCursor(events, *v.cursor)
	}

	page := paginate(events, v.Limit)

	s.metrics.recordQuery(ctx, v, stats)
	if s.collector != nil {
		s.collector.RecordTiming(metrics.OpTimelineQuery, time.Since(start))
	}
	s.logger.Debug("timeline query",
		"case", caseID,
		"returned", len(page.Events),
		"has_more", page.HasMore,
		"mutated", stats.Mutated)
	return page, nil
}

// RefreshEnrichments re-enriches the case timeline and persists changed events.
func (s *Service) RefreshEnrichments(ctx context.Context, caseID string) (Stats, error) {
	_, stats, err := s.load(ctx, caseID)
	return stats, err
}

// Events returns the whole enriched case timeline in (ts, id) order.
func (s *Service) Events(ctx context.Context, caseID string) ([]models.TimelineEvent, Stats, error) {
	return s.load(ctx, caseID)
}

// Storyboard returns one scene per event of the enriched case timeline.
func (s *Service) Storyboard(ctx context.Context, caseID string) ([]models.StoryboardScene, error) {
	events, _, err := s.load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return BuildStoryboard(events), nil
}

// PutEvents stores authored events, replacing events with the same id, and
// enriches the timeline. Derived fields on the input are ignored.
func (s *Service) PutEvents(ctx context.Context, caseID string, events []models.TimelineEvent) (Stats, error) {
	authored := make([]models.TimelineEvent, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for i, ev := range events {
		if ev.ID == "" {
			return Stats{}, invalid(CodeEventInvalid, "event id is required", map[string]any{"index": i})
		}
		if _, dup := seen[ev.ID]; dup {
			return Stats{}, invalid(CodeEventInvalid, "duplicate event id", map[string]any{"id": ev.ID})
		}
		seen[ev.ID] = struct{}{}
		if ev.TS.IsZero() {
			return Stats{}, invalid(CodeEventInvalid, "event ts is required", map[string]any{"id": ev.ID})
		}
		if !IsNaive(ev.TS) {
			return Stats{}, invalid(CodeTimezoneAware, "ts must be timezone-naive", map[string]any{"id": ev.ID})
		}
		authored = append(authored, models.TimelineEvent{
			ID:        ev.ID,
			TS:        ev.TS,
			Title:     ev.Title,
			Summary:   ev.Summary,
			Citations: slices.Clone(ev.Citations),
		})
	}

	if err := s.store.WriteAll(ctx, caseID, authored); err != nil {
		return Stats{}, fmt.Errorf("write events: %w", err)
	}
	s.logger.Info("timeline events stored", "case", caseID, "count", len(authored))
	return s.RefreshEnrichments(ctx, caseID)
}

// load reads the case timeline in (ts, id) order, enriches it and writes it
// back when anything changed.
func (s *Service) load(ctx context.Context, caseID string) ([]models.TimelineEvent, Stats, error) {
	events, err := s.store.ReadAll(ctx, caseID)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("read timeline: %w", err)
	}
	sortEvents(events)

	start := time.Now()
	enriched, stats, err := s.enricher.Enrich(ctx, events)
	if err != nil {
		return nil, Stats{}, err
	}
	if s.collector != nil {
		s.collector.RecordTiming(metrics.OpEnrichment, time.Since(start))
	}

	if stats.Mutated {
		if err := s.store.WriteAll(ctx, caseID, enriched); err != nil {
			return nil, Stats{}, fmt.Errorf("write enriched timeline: %w", err)
		}
		s.logger.Info("timeline enrichment persisted",
			"case", caseID,
			"documents", stats.Documents,
			"highlights", stats.Highlights,
			"relations", stats.Relations)
	}
	return enriched, stats, nil
}

func (s *Service) filterByEntity(ctx context.Context, events []models.TimelineEvent, entity string) []models.TimelineEvent {
	docIDs := collectCitations(events)
	if len(docIDs) == 0 {
		return nil
	}
	if matched := matchHighlights(events, entity); len(matched) > 0 {
		return matched
	}

	mapping, err := s.graph.DocumentEntities(ctx, docIDs)
	if err != nil {
		s.logger.Warn("entity fallback lookup failed", "entity", entity, "error", err)
		return nil
	}
	return matchDocuments(events, entity, mapping)
}
