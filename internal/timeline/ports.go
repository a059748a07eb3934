package timeline

import (
	"context"

	"github.com/raphaelgruber/casegraph/internal/models"
)

// GraphLookup resolves documents and entities against the case graph.
type GraphLookup interface {
	// DocumentEntities returns the entities mentioned by each known document.
	// Unknown documents are absent from the map.
	DocumentEntities(ctx context.Context, docIDs []string) (map[string][]models.GraphEntity, error)

	// Neighbors returns the entities adjacent to entityID and the edges
	// connecting them. It fails when the entity is unknown.
	Neighbors(ctx context.Context, entityID string) ([]models.GraphEntity, []models.GraphEdge, error)
}

// Store persists the timeline of each case.
type Store interface {
	ReadAll(ctx context.Context, caseID string) ([]models.TimelineEvent, error)
	// WriteAll overwrites the given events; events not passed are kept.
	WriteAll(ctx context.Context, caseID string, events []models.TimelineEvent) error
}
