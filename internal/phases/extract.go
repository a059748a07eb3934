package phases

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/raphaelgruber/casegraph/internal/llm"
	"github.com/raphaelgruber/casegraph/internal/models"
)

// factExtraction asks the model for the entities and relations of every cited
// event. The runner merges the returned extraction into the case graph.
func (s *Set) factExtraction(ctx context.Context, caseID string, _ map[string]any) (map[string]any, error) {
	if s.model == nil {
		return skipped(), nil
	}
	events, _, err := s.events(ctx, caseID)
	if err != nil {
		return nil, err
	}

	var merged models.Extraction
	byID := make(map[string]int)
	processed := 0
	for _, ev := range events {
		if len(ev.Citations) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		known := make([]string, 0, len(ev.EntityHighlights))
		for _, h := range ev.EntityHighlights {
			known = append(known, h.Label)
		}
		raw, err := s.model.ExtractEntitiesAndRelations(ctx, eventText(ev), known)
		if err != nil {
			return nil, fmt.Errorf("extract event %s: %w", ev.ID, err)
		}
		processed++

		ext := llm.ParseExtraction(raw, ev.Citations[0])
		for _, ent := range ext.Entities {
			ent.Docs = slices.Clone(ev.Citations)
			if i, ok := byID[ent.ID]; ok {
				for _, doc := range ent.Docs {
					if !slices.Contains(merged.Entities[i].Docs, doc) {
						merged.Entities[i].Docs = append(merged.Entities[i].Docs, doc)
					}
				}
				continue
			}
			byID[ent.ID] = len(merged.Entities)
			merged.Entities = append(merged.Entities, ent)
		}
		merged.Relations = append(merged.Relations, ext.Relations...)
	}

	s.logger.Info("facts extracted",
		"case", caseID,
		"events", processed,
		"entities", len(merged.Entities),
		"relations", len(merged.Relations))
	return map[string]any{
		"entities":         nonNil(merged.Entities),
		"relations":        nonNil(merged.Relations),
		"events_processed": processed,
		"model":            s.model.Model(),
	}, nil
}

func eventText(ev models.TimelineEvent) string {
	var b strings.Builder
	b.WriteString(ev.Title)
	if ev.Summary != "" {
		b.WriteString("\n\n")
		b.WriteString(ev.Summary)
	}
	return b.String()
}

func skipped() map[string]any {
	return map[string]any{"skipped": true, "reason": "no language model configured"}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
