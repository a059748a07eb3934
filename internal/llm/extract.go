package llm

import (
	"strings"

	"github.com/raphaelgruber/casegraph/internal/models"
)

// ParseExtraction reads ENTITY and RELATION lines produced by
// ExtractEntitiesAndRelations. Every entity is recorded as mentioned by docID
// and every relation carries docID as its doc_id property. Malformed lines are
// skipped.
func ParseExtraction(output, docID string) models.Extraction {
	var ext models.Extraction
	seen := make(map[string]bool)

	for line := range strings.SplitSeq(output, "\n") {
		parts := strings.Split(strings.TrimSpace(line), "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch {
		case len(parts) >= 4 && parts[0] == "ENTITY":
			name := parts[1]
			id := models.NormalizeEntityID(name)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			props := map[string]string{"label": name}
			if parts[3] != "" {
				props["description"] = parts[3]
			}
			ent := models.ExtractedEntity{ID: id, Type: parts[2], Properties: props}
			if docID != "" {
				ent.Docs = []string{docID}
			}
			ext.Entities = append(ext.Entities, ent)

		case len(parts) >= 5 && parts[0] == "RELATION":
			source := models.NormalizeEntityID(parts[1])
			target := models.NormalizeEntityID(parts[2])
			relType := strings.ToUpper(strings.ReplaceAll(parts[3], " ", "_"))
			if source == "" || target == "" || relType == "" {
				continue
			}
			props := map[string]string{}
			if docID != "" {
				props["doc_id"] = docID
			}
			if parts[4] != "" {
				props["label"] = parts[4]
			}
			ext.Relations = append(ext.Relations, models.GraphEdge{
				Source:     source,
				Target:     target,
				Type:       relType,
				Properties: props,
			})
		}
	}
	return ext
}
