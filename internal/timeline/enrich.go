package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/casegraph/internal/forecast"
	"github.com/raphaelgruber/casegraph/internal/models"
)

// Stats summarizes one enrichment pass.
type Stats struct {
	Mutated    bool `json:"mutated"`
	Documents  int  `json:"documents"`
	Highlights int  `json:"highlights"`
	Relations  int  `json:"relations"`
}

// Enricher derives highlights, relations, confidence and risk for timeline events.
type Enricher struct {
	graph       GraphLookup
	parallelism int
	now         func() time.Time
	logger      *slog.Logger
}

// EnricherOption configures an Enricher.
type EnricherOption func(*Enricher)

// WithParallelism enriches up to n events concurrently.
func WithParallelism(n int) EnricherOption {
	return func(e *Enricher) { e.parallelism = n }
}

// WithClock overrides the clock used for recency and deadline urgency.
func WithClock(now func() time.Time) EnricherOption {
	return func(e *Enricher) { e.now = now }
}

// WithEnricherLogger sets the logger.
func WithEnricherLogger(l *slog.Logger) EnricherOption {
	return func(e *Enricher) { e.logger = l }
}

// NewEnricher creates an Enricher backed by graph.
func NewEnricher(graph GraphLookup, opts ...EnricherOption) *Enricher {
	e := &Enricher{
		graph:       graph,
		parallelism: 1,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich recomputes the derived fields of events. Events whose derived fields
// did not change are returned as they were passed in. Graph failures degrade
// the result instead of failing it; only context cancellation is returned.
func (e *Enricher) Enrich(ctx context.Context, events []models.TimelineEvent) ([]models.TimelineEvent, Stats, error) {
	docIDs := collectCitations(events)
	if len(docIDs) == 0 {
		return events, Stats{}, nil
	}

	mapping, err := e.graph.DocumentEntities(ctx, docIDs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Stats{}, ctx.Err()
		}
		e.logger.Warn("document entity lookup failed", "documents", len(docIDs), "error", err)
		return events, Stats{}, nil
	}
	if len(mapping) == 0 {
		return events, Stats{}, nil
	}

	now := e.now()
	cache := newNeighborCache(e.neighborEdges)
	results := make([]enriched, len(events))

	if e.parallelism <= 1 {
		for i := range events {
			if err := ctx.Err(); err != nil {
				return nil, Stats{}, err
			}
			results[i] = e.enrichOne(ctx, events[i], mapping, cache, now)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.parallelism)
		for i := range events {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = e.enrichOne(gctx, events[i], mapping, cache, now)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, Stats{}, fmt.Errorf("enrich events: %w", err)
		}
	}

	out := make([]models.TimelineEvent, len(events))
	stats := Stats{Documents: len(mapping)}
	for i, r := range results {
		out[i] = r.event
		stats.Mutated = stats.Mutated || r.mutated
		stats.Highlights += r.highlights
		stats.Relations += r.relations
	}
	return out, stats, nil
}

type enriched struct {
	event      models.TimelineEvent
	mutated    bool
	highlights int
	relations  int
}

func (e *Enricher) enrichOne(
	ctx context.Context,
	ev models.TimelineEvent,
	mapping map[string][]models.GraphEntity,
	cache *neighborCache,
	now time.Time,
) enriched {
	highlights := buildHighlights(ev, mapping)
	relations := buildRelations(ctx, ev, highlights, cache)
	fc := forecast.Forecast(forecast.Input{
		Title:      ev.Title,
		Summary:    ev.Summary,
		Highlights: len(highlights),
		Relations:  len(relations),
		Citations:  len(ev.Citations),
		TS:         ev.TS,
	}, now)

	next := ev
	next.EntityHighlights = highlights
	next.RelationTags = relations
	next.Confidence = confidence(len(highlights), len(relations))
	next.RiskScore = &fc.Score
	next.RiskBand = fc.Band
	next.OutcomeProbabilities = fc.Outcomes
	next.RecommendedActions = fc.Actions
	next.MotionDeadline = fc.MotionDeadline

	res := enriched{event: ev, highlights: len(highlights), relations: len(relations)}
	if !sameDerived(ev, next) {
		res.event = next
		res.mutated = true
	}
	return res
}

func (e *Enricher) neighborEdges(ctx context.Context, entityID string) []models.GraphEdge {
	_, edges, err := e.graph.Neighbors(ctx, entityID)
	if err != nil {
		e.logger.Debug("no relations for entity", "entity", entityID, "error", err)
		return nil
	}
	return edges
}

func buildHighlights(ev models.TimelineEvent, mapping map[string][]models.GraphEntity) []models.EntityHighlight {
	highlights := make([]models.EntityHighlight, 0)
	seen := make(map[string]struct{})
	for _, doc := range ev.Citations {
		for _, node := range mapping[doc] {
			key := node.ID + ":" + doc
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			highlights = append(highlights, models.EntityHighlight{
				ID:    node.ID,
				Label: firstNonEmpty(node.Properties["label"], node.Properties["name"], node.ID),
				Type:  node.Type,
				Doc:   doc,
			})
		}
	}
	return highlights
}

type relationKey struct {
	source, target, typ, doc string
}

func buildRelations(ctx context.Context, ev models.TimelineEvent, highlights []models.EntityHighlight, cache *neighborCache) []models.RelationTag {
	scope := make(map[string]struct{}, len(ev.Citations))
	for _, c := range ev.Citations {
		scope[c] = struct{}{}
	}

	relations := make([]models.RelationTag, 0)
	seen := make(map[relationKey]struct{})
	for _, h := range highlights {
		for _, edge := range cache.edges(ctx, h.ID) {
			doc := edge.Properties["doc_id"]
			if doc != "" {
				if _, ok := scope[doc]; !ok {
					continue
				}
			}
			key := relationKey{edge.Source, edge.Target, edge.Type, doc}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			relations = append(relations, models.RelationTag{
				Source: edge.Source,
				Target: edge.Target,
				Type:   edge.Type,
				Label:  firstNonEmpty(edge.Properties["predicate"], edge.Properties["label"], edge.Type),
				Doc:    doc,
			})
		}
	}
	return relations
}

// confidence grows with highlight and relation counts; nil when there are neither.
func confidence(highlights, relations int) *float64 {
	if highlights == 0 && relations == 0 {
		return nil
	}
	base := 0.25
	if highlights > 0 {
		base = 0.45
	}
	base += math.Min(float64(highlights)*0.08, 0.25)
	base += math.Min(float64(relations)*0.05, 0.2)
	v := math.Round(math.Min(base, 0.99)*100) / 100
	return &v
}

func sameDerived(a, b models.TimelineEvent) bool {
	return slices.Equal(a.EntityHighlights, b.EntityHighlights) &&
		slices.Equal(a.RelationTags, b.RelationTags) &&
		floatPtrEqual(a.Confidence, b.Confidence) &&
		floatPtrEqual(a.RiskScore, b.RiskScore) &&
		a.RiskBand == b.RiskBand &&
		slices.Equal(a.OutcomeProbabilities, b.OutcomeProbabilities) &&
		slices.Equal(a.RecommendedActions, b.RecommendedActions) &&
		timePtrEqual(a.MotionDeadline, b.MotionDeadline)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// collectCitations returns every cited document once, in first-seen order.
func collectCitations(events []models.TimelineEvent) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, ev := range events {
		for _, c := range ev.Citations {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			ids = append(ids, c)
		}
	}
	return ids
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// neighborCache memoizes neighbor edges per entity for one enrichment batch.
// Concurrent callers asking for the same entity share a single lookup.
type neighborCache struct {
	fetch   func(ctx context.Context, entityID string) []models.GraphEdge
	mu      sync.Mutex
	entries map[string]*neighborEntry
}

type neighborEntry struct {
	once  sync.Once
	edges []models.GraphEdge
}

func newNeighborCache(fetch func(ctx context.Context, entityID string) []models.GraphEdge) *neighborCache {
	return &neighborCache{fetch: fetch, entries: make(map[string]*neighborEntry)}
}

func (c *neighborCache) edges(ctx context.Context, entityID string) []models.GraphEdge {
	c.mu.Lock()
	entry, ok := c.entries[entityID]
	if !ok {
		entry = &neighborEntry{}
		c.entries[entityID] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.edges = c.fetch(ctx, entityID)
	})
	return entry.edges
}
