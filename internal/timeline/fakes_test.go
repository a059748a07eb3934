package timeline

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/casegraph/internal/models"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

var errEntityUnknown = errors.New("entity not found")

// fakeGraph is an in-memory GraphLookup that counts neighbor lookups.
type fakeGraph struct {
	docs      map[string][]models.GraphEntity
	edges     map[string][]models.GraphEdge
	docsErr   error
	failFor   map[string]bool
	mu        sync.Mutex
	neighbors map[string]int
	docCalls  int
}

func (g *fakeGraph) DocumentEntities(_ context.Context, docIDs []string) (map[string][]models.GraphEntity, error) {
	g.mu.Lock()
	g.docCalls++
	g.mu.Unlock()
	if g.docsErr != nil {
		return nil, g.docsErr
	}
	out := make(map[string][]models.GraphEntity)
	for _, id := range docIDs {
		if nodes, ok := g.docs[id]; ok {
			out[id] = nodes
		}
	}
	return out, nil
}

func (g *fakeGraph) Neighbors(_ context.Context, entityID string) ([]models.GraphEntity, []models.GraphEdge, error) {
	g.mu.Lock()
	if g.neighbors == nil {
		g.neighbors = make(map[string]int)
	}
	g.neighbors[entityID]++
	g.mu.Unlock()
	if g.failFor[entityID] {
		return nil, nil, errEntityUnknown
	}
	edges, ok := g.edges[entityID]
	if !ok {
		return nil, nil, errEntityUnknown
	}
	return nil, edges, nil
}

func (g *fakeGraph) neighborCalls(entityID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.neighbors[entityID]
}

func (g *fakeGraph) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.docCalls
	for _, c := range g.neighbors {
		n += c
	}
	return n
}

// newCaseGraph returns a graph where doc-1 mentions Acme, doc-2 mentions Jane
// and Acme, and doc-3 is unknown.
func newCaseGraph() *fakeGraph {
	acme := models.GraphEntity{ID: "acme-corp", Type: "Organization", Properties: map[string]string{"label": "Acme Corp"}}
	jane := models.GraphEntity{ID: "jane-doe", Type: "Person", Properties: map[string]string{"name": "Jane Doe"}}
	employs := models.GraphEdge{
		Source: "acme-corp", Target: "jane-doe", Type: "EMPLOYS",
		Properties: map[string]string{"predicate": "employs", "doc_id": "doc-2"},
	}
	return &fakeGraph{
		docs: map[string][]models.GraphEntity{
			"doc-1": {acme},
			"doc-2": {jane, acme},
		},
		edges: map[string][]models.GraphEdge{
			"acme-corp": {
				employs,
				{Source: "acme-corp", Target: "globex", Type: "SUED", Properties: map[string]string{"doc_id": "doc-9"}},
			},
			"jane-doe": {
				employs,
				{Source: "jane-doe", Target: "acme-corp", Type: "WITNESS"},
			},
		},
	}
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu       sync.Mutex
	cases    map[string][]models.TimelineEvent
	reads    int
	writes   int
	readErr  error
	writeErr error
}

func newFakeStore(caseID string, events ...models.TimelineEvent) *fakeStore {
	return &fakeStore{cases: map[string][]models.TimelineEvent{caseID: slices.Clone(events)}}
}

func (s *fakeStore) ReadAll(_ context.Context, caseID string) ([]models.TimelineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.readErr != nil {
		return nil, s.readErr
	}
	return slices.Clone(s.cases[caseID]), nil
}

func (s *fakeStore) WriteAll(_ context.Context, caseID string, events []models.TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.writeErr != nil {
		return s.writeErr
	}
	if s.cases == nil {
		s.cases = make(map[string][]models.TimelineEvent)
	}
	existing := s.cases[caseID]
	for _, ev := range events {
		i := slices.IndexFunc(existing, func(e models.TimelineEvent) bool { return e.ID == ev.ID })
		if i >= 0 {
			existing[i] = ev
		} else {
			existing = append(existing, ev)
		}
	}
	s.cases[caseID] = existing
	return nil
}

func (s *fakeStore) counts() (reads, writes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.writes
}

func event(id string, ts time.Time, title, summary string, citations ...string) models.TimelineEvent {
	return models.TimelineEvent{ID: id, TS: ts, Title: title, Summary: summary, Citations: citations}
}

func ptr[T any](v T) *T { return &v }
