package workflow

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"

	"github.com/raphaelgruber/casegraph/internal/models"
)

// Output keys recognized in handler results.
const (
	KeyGraphDelta = "graph_delta"
	KeyEvents     = "events"
	KeyCitations  = "citations"
	KeyForensics  = "forensics"
	KeyArtifacts  = "artifacts"
	KeyEntities   = "entities"
	KeyRelations  = "relations"
)

// BuildSummary condenses a phase output into counts of the recognized keys.
func BuildSummary(output map[string]any) map[string]any {
	summary := make(map[string]any)
	switch delta := output[KeyGraphDelta].(type) {
	case map[string]any:
		maps.Copy(summary, delta)
	case models.GraphDelta:
		maps.Copy(summary, deltaMap(delta))
	}
	if n, ok := sliceLen(output[KeyEvents]); ok {
		summary["timeline_events"] = n
	}
	if n, ok := sliceLen(output[KeyCitations]); ok {
		summary["citations"] = n
	}
	if forensics, ok := output[KeyForensics].(map[string]any); ok {
		n, _ := sliceLen(forensics[KeyArtifacts])
		summary["forensics_artifacts"] = n
	}
	return summary
}

func deltaMap(d models.GraphDelta) map[string]any {
	return map[string]any{"nodes": d.Nodes, "edges": d.Edges, "mentions": d.Mentions}
}

func sliceLen(v any) (int, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return 0, false
	}
	return rv.Len(), true
}

// artifactsOf returns the output's artifact list, dropping non-object entries.
func artifactsOf(output map[string]any) []map[string]any {
	artifacts := []map[string]any{}
	switch list := output[KeyArtifacts].(type) {
	case []map[string]any:
		artifacts = append(artifacts, list...)
	case []any:
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				artifacts = append(artifacts, m)
			}
		}
	}
	return artifacts
}

// extractionOf decodes the entities and relations of a phase output.
func extractionOf(output map[string]any) (models.Extraction, bool, error) {
	entities, hasEntities := output[KeyEntities]
	relations, hasRelations := output[KeyRelations]
	if !hasEntities && !hasRelations {
		return models.Extraction{}, false, nil
	}

	raw, err := json.Marshal(map[string]any{KeyEntities: entities, KeyRelations: relations})
	if err != nil {
		return models.Extraction{}, false, fmt.Errorf("encode extraction: %w", err)
	}
	var ext models.Extraction
	if err := json.Unmarshal(raw, &ext); err != nil {
		return models.Extraction{}, false, fmt.Errorf("decode extraction: %w", err)
	}
	return ext, len(ext.Entities) > 0 || len(ext.Relations) > 0, nil
}
