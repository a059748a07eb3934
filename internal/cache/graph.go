package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/raphaelgruber/casegraph/internal/models"
	"github.com/raphaelgruber/casegraph/internal/timeline"
	"github.com/raphaelgruber/casegraph/internal/workflow"
)

// DefaultTTL is how long cached lookups live.
const DefaultTTL = 10 * time.Minute

// Backend is the graph store behind the cache.
type Backend interface {
	timeline.GraphLookup
	workflow.GraphWriter
}

// Graph caches document and neighbor lookups of a Backend in Redis.
// Writes go to the backend and evict the keys they touch. Redis failures
// are logged and fall through to the backend.
type Graph struct {
	next   Backend
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// Option configures a Graph.
type Option func(*Graph)

// WithTTL sets the expiry of cached entries.
func WithTTL(ttl time.Duration) Option {
	return func(g *Graph) { g.ttl = ttl }
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(g *Graph) { g.prefix = prefix }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) { g.logger = l }
}

// NewGraph wraps next with a Redis cache.
func NewGraph(next Backend, rdb redis.UniversalClient, opts ...Option) *Graph {
	g := &Graph{
		next:   next,
		rdb:    rdb,
		ttl:    DefaultTTL,
		prefix: "casegraph:",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type neighborsEntry struct {
	Nodes []models.GraphEntity `json:"nodes"`
	Edges []models.GraphEdge   `json:"edges"`
}

func (g *Graph) docKey(id string) string      { return g.prefix + "doc:" + id }
func (g *Graph) neighborKey(id string) string { return g.prefix + "nbr:" + id }

// DocumentEntities serves cached documents and fetches the rest from the
// backend. Documents the backend does not know are cached as empty and
// stay absent from the result.
func (g *Graph) DocumentEntities(ctx context.Context, docIDs []string) (map[string][]models.GraphEntity, error) {
	out := make(map[string][]models.GraphEntity)
	if len(docIDs) == 0 {
		return out, nil
	}

	keys := make([]string, len(docIDs))
	for i, id := range docIDs {
		keys[i] = g.docKey(id)
	}

	var misses []string
	cached, err := g.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		g.logger.Warn("graph cache read failed", "op", "document_entities", "error", err)
		misses = docIDs
	} else {
		for i, v := range cached {
			raw, ok := v.(string)
			if !ok {
				misses = append(misses, docIDs[i])
				continue
			}
			var nodes []models.GraphEntity
			if err := json.Unmarshal([]byte(raw), &nodes); err != nil {
				misses = append(misses, docIDs[i])
				continue
			}
			if len(nodes) > 0 {
				out[docIDs[i]] = nodes
			}
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := g.next.DocumentEntities(ctx, misses)
	if err != nil {
		return nil, err
	}

	pipe := g.rdb.Pipeline()
	for _, doc := range misses {
		nodes := fetched[doc]
		if len(nodes) > 0 {
			out[doc] = nodes
		}
		raw, err := json.Marshal(nonNil(nodes))
		if err != nil {
			return nil, fmt.Errorf("encode cached document %s: %w", doc, err)
		}
		pipe.Set(ctx, g.docKey(doc), raw, g.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		g.logger.Warn("graph cache write failed", "op", "document_entities", "error", err)
	}
	return out, nil
}

// Neighbors serves the entity's neighborhood from the cache. Lookup errors
// from the backend, including unknown entities, are not cached.
func (g *Graph) Neighbors(ctx context.Context, entityID string) ([]models.GraphEntity, []models.GraphEdge, error) {
	key := g.neighborKey(entityID)

	raw, err := g.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var entry neighborsEntry
		if err := json.Unmarshal(raw, &entry); err == nil {
			return entry.Nodes, entry.Edges, nil
		}
		g.logger.Debug("discarding undecodable cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		g.logger.Warn("graph cache read failed", "op", "neighbors", "error", err)
	}

	nodes, edges, err := g.next.Neighbors(ctx, entityID)
	if err != nil {
		return nil, nil, err
	}

	encoded, err := json.Marshal(neighborsEntry{Nodes: nonNil(nodes), Edges: nonNil(edges)})
	if err != nil {
		return nil, nil, fmt.Errorf("encode cached neighbors %s: %w", entityID, err)
	}
	if err := g.rdb.Set(ctx, key, encoded, g.ttl).Err(); err != nil {
		g.logger.Warn("graph cache write failed", "op", "neighbors", "error", err)
	}
	return nodes, edges, nil
}

// ApplyExtraction writes through to the backend and evicts every document
// and entity the extraction touches.
func (g *Graph) ApplyExtraction(ctx context.Context, caseID string, ext models.Extraction) (models.GraphDelta, error) {
	delta, err := g.next.ApplyExtraction(ctx, caseID, ext)
	if err != nil {
		return delta, err
	}

	var keys []string
	for _, ent := range ext.Entities {
		keys = append(keys, g.neighborKey(models.NormalizeEntityID(ent.ID)))
		for _, doc := range ent.Docs {
			keys = append(keys, g.docKey(doc))
		}
	}
	for _, rel := range ext.Relations {
		keys = append(keys,
			g.neighborKey(models.NormalizeEntityID(rel.Source)),
			g.neighborKey(models.NormalizeEntityID(rel.Target)))
	}
	if len(keys) > 0 {
		if err := g.rdb.Del(ctx, keys...).Err(); err != nil {
			g.logger.Warn("graph cache eviction failed", "case", caseID, "keys", len(keys), "error", err)
		}
	}
	return delta, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

var _ Backend = (*Graph)(nil)
