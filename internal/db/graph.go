package db

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/casegraph/internal/models"
)

type entityRow struct {
	ID         surrealmodels.RecordID `json:"id"`
	Type       string                 `json:"type"`
	Properties map[string]string      `json:"properties"`
}

func (r entityRow) toModel() (models.GraphEntity, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.GraphEntity{}, err
	}
	return models.GraphEntity{ID: id, Type: r.Type, Properties: r.Properties}, nil
}

type edgeRow struct {
	In         surrealmodels.RecordID `json:"in"`
	Out        surrealmodels.RecordID `json:"out"`
	RelType    string                 `json:"rel_type"`
	Properties map[string]string      `json:"properties"`
}

func (r edgeRow) toModel() (models.GraphEdge, error) {
	source, err := models.RecordIDString(r.In)
	if err != nil {
		return models.GraphEdge{}, err
	}
	target, err := models.RecordIDString(r.Out)
	if err != nil {
		return models.GraphEdge{}, err
	}
	return models.GraphEdge{Source: source, Target: target, Type: r.RelType, Properties: r.Properties}, nil
}

type mentionRow struct {
	Doc    surrealmodels.RecordID `json:"doc"`
	Entity *entityRow             `json:"entity"`
}

// DocumentEntities returns the entities each document mentions. Documents
// without mentions are absent from the result.
func (c *Client) DocumentEntities(ctx context.Context, docIDs []string) (map[string][]models.GraphEntity, error) {
	out := make(map[string][]models.GraphEntity)
	if len(docIDs) == 0 {
		return out, nil
	}

	docs := make([]surrealmodels.RecordID, len(docIDs))
	for i, id := range docIDs {
		docs[i] = surrealmodels.NewRecordID("document", id)
	}

	results, err := query[[]mentionRow](ctx, c, "document entities", `
		SELECT in AS doc, out.* AS entity FROM mentions
		WHERE in IN $docs
		ORDER BY doc, entity.id
	`, map[string]any{"docs": docs})
	if err != nil {
		return nil, err
	}
	rows, _ := lastResult(results)

	for _, row := range rows {
		if row.Entity == nil {
			continue
		}
		doc, err := models.RecordIDString(row.Doc)
		if err != nil {
			return nil, fmt.Errorf("document entities: %w", err)
		}
		entity, err := row.Entity.toModel()
		if err != nil {
			return nil, fmt.Errorf("document entities: %w", err)
		}
		out[doc] = append(out[doc], entity)
	}
	return out, nil
}

// Neighbors returns the entities adjacent to entityID in either direction and
// the edges connecting them. Returns ErrNotFound for unknown entities.
func (c *Client) Neighbors(ctx context.Context, entityID string) ([]models.GraphEntity, []models.GraphEdge, error) {
	self := surrealmodels.NewRecordID("entity", entityID)

	found, err := query[[]entityRow](ctx, c, "neighbors", `SELECT * FROM $self`, map[string]any{"self": self})
	if err != nil {
		return nil, nil, err
	}
	if rows, _ := lastResult(found); len(rows) == 0 {
		return nil, nil, fmt.Errorf("neighbors of %s: %w", entityID, ErrNotFound)
	}

	edgeResults, err := query[[]edgeRow](ctx, c, "neighbors", `
		SELECT in, out, rel_type, properties FROM relates
		WHERE in = $self OR out = $self
		ORDER BY in, rel_type, out
	`, map[string]any{"self": self})
	if err != nil {
		return nil, nil, err
	}
	edgeRows, _ := lastResult(edgeResults)

	edges := make([]models.GraphEdge, 0, len(edgeRows))
	var ids []surrealmodels.RecordID
	seen := map[string]bool{entityID: true}
	for _, row := range edgeRows {
		edge, err := row.toModel()
		if err != nil {
			return nil, nil, fmt.Errorf("neighbors: %w", err)
		}
		edges = append(edges, edge)
		for _, id := range []string{edge.Source, edge.Target} {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, surrealmodels.NewRecordID("entity", id))
			}
		}
	}
	if len(ids) == 0 {
		return []models.GraphEntity{}, edges, nil
	}

	nodeResults, err := query[[]entityRow](ctx, c, "neighbors", `
		SELECT * FROM entity WHERE id IN $ids ORDER BY id
	`, map[string]any{"ids": ids})
	if err != nil {
		return nil, nil, err
	}
	nodeRows, _ := lastResult(nodeResults)

	nodes := make([]models.GraphEntity, 0, len(nodeRows))
	for _, row := range nodeRows {
		node, err := row.toModel()
		if err != nil {
			return nil, nil, fmt.Errorf("neighbors: %w", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, edges, nil
}

// ApplyExtraction merges extracted entities, their document mentions and
// relations into the graph. Existing records are kept; the returned delta
// counts only what was added.
func (c *Client) ApplyExtraction(ctx context.Context, caseID string, ext models.Extraction) (models.GraphDelta, error) {
	entities := map[string]map[string]any{}
	var mentions, relations []map[string]any
	var docs []string
	mentionSeen := map[string]bool{}
	relationSeen := map[string]bool{}

	addEntity := func(id, typ string, props map[string]string) {
		e, ok := entities[id]
		if !ok {
			e = map[string]any{"id": id, "properties": map[string]string{}}
			entities[id] = e
		}
		if typ != "" {
			e["type"] = typ
		}
		merged := e["properties"].(map[string]string)
		maps.Copy(merged, props)
	}

	for _, ent := range ext.Entities {
		id := models.NormalizeEntityID(ent.ID)
		if id == "" {
			continue
		}
		addEntity(id, ent.Type, ent.Properties)
		for _, doc := range ent.Docs {
			key := doc + "|" + id
			if doc == "" || mentionSeen[key] {
				continue
			}
			mentionSeen[key] = true
			if !slices.Contains(docs, doc) {
				docs = append(docs, doc)
			}
			mentions = append(mentions, map[string]any{"key": key, "doc": doc, "entity": id})
		}
	}
	for _, rel := range ext.Relations {
		source := models.NormalizeEntityID(rel.Source)
		target := models.NormalizeEntityID(rel.Target)
		if source == "" || target == "" || rel.Type == "" {
			continue
		}
		addEntity(source, "", nil)
		addEntity(target, "", nil)
		key := strings.Join([]string{source, rel.Type, target, rel.Properties["doc_id"]}, "|")
		if relationSeen[key] {
			continue
		}
		relationSeen[key] = true
		props := map[string]string{}
		maps.Copy(props, rel.Properties)
		relations = append(relations, map[string]any{
			"key": key, "source": source, "target": target, "type": rel.Type, "properties": props,
		})
	}
	if len(entities) == 0 {
		return models.GraphDelta{}, nil
	}

	entityIDs := slices.Sorted(maps.Keys(entities))
	entityRecords := make([]surrealmodels.RecordID, len(entityIDs))
	entityList := make([]map[string]any, len(entityIDs))
	for i, id := range entityIDs {
		entityRecords[i] = surrealmodels.NewRecordID("entity", id)
		entityList[i] = entities[id]
	}

	existing, err := c.existingCounts(ctx, entityRecords, keysOf(mentions), keysOf(relations))
	if err != nil {
		return models.GraphDelta{}, err
	}

	// Entities without a type keep the stored one, or the schema default.
	_, err = query[any](ctx, c, "apply extraction", `
		FOR $e IN $entities {
			IF $e.type {
				UPSERT type::record("entity", $e.id) MERGE { type: $e.type, properties: $e.properties, case_id: $case };
			} ELSE {
				UPSERT type::record("entity", $e.id) MERGE { properties: $e.properties, case_id: $case };
			};
		};
		FOR $d IN $docs {
			UPSERT type::record("document", $d) MERGE { case_id: $case };
		};
		FOR $m IN $mentions {
			IF count((SELECT id FROM mentions WHERE key = $m.key)) = 0 {
				LET $from = type::record("document", $m.doc);
				LET $to = type::record("entity", $m.entity);
				RELATE $from->mentions->$to SET key = $m.key;
			};
		};
		FOR $r IN $relations {
			IF count((SELECT id FROM relates WHERE key = $r.key)) = 0 {
				LET $from = type::record("entity", $r.source);
				LET $to = type::record("entity", $r.target);
				RELATE $from->relates->$to SET key = $r.key, rel_type = $r.type, properties = $r.properties;
			};
		};
	`, map[string]any{
		"case":      caseID,
		"entities":  entityList,
		"docs":      nonNil(docs),
		"mentions":  nonNil(mentions),
		"relations": nonNil(relations),
	})
	if err != nil {
		return models.GraphDelta{}, err
	}

	delta := models.GraphDelta{
		Nodes:    len(entityIDs) - existing.entities,
		Edges:    len(relations) - existing.relations,
		Mentions: len(mentions) - existing.mentions,
	}
	c.logger.Info("applied extraction", "case", caseID, "nodes", delta.Nodes, "edges", delta.Edges, "mentions", delta.Mentions)
	return delta, nil
}

type existingCounts struct {
	entities  int
	mentions  int
	relations int
}

func (c *Client) existingCounts(ctx context.Context, entities []surrealmodels.RecordID, mentionKeys, relationKeys []string) (existingCounts, error) {
	results, err := query[int](ctx, c, "count existing graph records", `
		RETURN count((SELECT id FROM entity WHERE id IN $entities));
		RETURN count((SELECT id FROM mentions WHERE key IN $mentions));
		RETURN count((SELECT id FROM relates WHERE key IN $relations));
	`, map[string]any{
		"entities":  entities,
		"mentions":  nonNil(mentionKeys),
		"relations": nonNil(relationKeys),
	})
	if err != nil {
		return existingCounts{}, err
	}
	if results == nil || len(*results) != 3 {
		return existingCounts{}, fmt.Errorf("count existing graph records: unexpected result count")
	}
	r := *results
	return existingCounts{entities: r[0].Result, mentions: r[1].Result, relations: r[2].Result}, nil
}

func keysOf(items []map[string]any) []string {
	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = item["key"].(string)
	}
	return keys
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
