package timeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/casegraph/internal/models"
)

func sampleEvents() []models.TimelineEvent {
	return []models.TimelineEvent{
		event("e1", testNow.AddDate(0, 0, -3), "Contract signed", "Acme signs supply agreement", "doc-1"),
		event("e2", testNow.AddDate(0, 0, -2), "Deposition", "Jane Doe deposed about the breach", "doc-1", "doc-2"),
		event("e3", testNow.AddDate(0, 0, -1), "Letter", "Unrelated correspondence", "doc-3"),
	}
}

func TestEnrich_NoCitations(t *testing.T) {
	g := newCaseGraph()
	e := NewEnricher(g, WithClock(fixedClock))
	events := []models.TimelineEvent{event("e1", testNow, "t", "s")}

	out, stats, err := e.Enrich(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, events, out)
	assert.Equal(t, Stats{}, stats)
	assert.Zero(t, g.calls())
}

func TestEnrich_EmptyMapping(t *testing.T) {
	g := newCaseGraph()
	e := NewEnricher(g, WithClock(fixedClock))
	events := []models.TimelineEvent{event("e1", testNow, "t", "s", "doc-unknown")}

	out, stats, err := e.Enrich(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, events, out)
	assert.False(t, stats.Mutated)
	assert.Zero(t, stats.Documents)
}

func TestEnrich_DocumentLookupFailureDegrades(t *testing.T) {
	g := newCaseGraph()
	g.docsErr = errors.New("graph down")
	e := NewEnricher(g, WithClock(fixedClock))
	events := sampleEvents()

	out, stats, err := e.Enrich(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, events, out)
	assert.Equal(t, Stats{}, stats)
}

func TestEnrich_HighlightsAndRelations(t *testing.T) {
	g := newCaseGraph()
	e := NewEnricher(g, WithClock(fixedClock))

	out, stats, err := e.Enrich(context.Background(), sampleEvents())
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, Stats{Mutated: true, Documents: 2, Highlights: 4, Relations: 2}, stats)

	// e1 only cites doc-1, so both Acme edges fall outside its citations
	assert.Equal(t, []models.EntityHighlight{
		{ID: "acme-corp", Label: "Acme Corp", Type: "Organization", Doc: "doc-1"},
	}, out[0].EntityHighlights)
	assert.Empty(t, out[0].RelationTags)
	require.NotNil(t, out[0].Confidence)
	assert.Equal(t, 0.53, *out[0].Confidence)

	assert.Equal(t, []models.EntityHighlight{
		{ID: "acme-corp", Label: "Acme Corp", Type: "Organization", Doc: "doc-1"},
		{ID: "jane-doe", Label: "Jane Doe", Type: "Person", Doc: "doc-2"},
		{ID: "acme-corp", Label: "Acme Corp", Type: "Organization", Doc: "doc-2"},
	}, out[1].EntityHighlights)
	assert.Equal(t, []models.RelationTag{
		{Source: "acme-corp", Target: "jane-doe", Type: "EMPLOYS", Label: "employs", Doc: "doc-2"},
		{Source: "jane-doe", Target: "acme-corp", Type: "WITNESS", Label: "WITNESS"},
	}, out[1].RelationTags)
	require.NotNil(t, out[1].Confidence)
	assert.Equal(t, 0.79, *out[1].Confidence)

	assert.Empty(t, out[2].EntityHighlights)
	assert.Nil(t, out[2].Confidence)

	for _, ev := range out {
		require.NotNil(t, ev.RiskScore, ev.ID)
		assert.NotEmpty(t, ev.RiskBand, ev.ID)
		assert.Len(t, ev.OutcomeProbabilities, 3, ev.ID)
		assert.NotEmpty(t, ev.RecommendedActions, ev.ID)
	}
}

func TestEnrich_Idempotent(t *testing.T) {
	g := newCaseGraph()
	e := NewEnricher(g, WithClock(fixedClock))

	first, stats, err := e.Enrich(context.Background(), sampleEvents())
	require.NoError(t, err)
	require.True(t, stats.Mutated)

	second, stats2, err := e.Enrich(context.Background(), first)
	require.NoError(t, err)
	assert.False(t, stats2.Mutated)
	assert.Equal(t, first, second)
	assert.Equal(t, stats.Highlights, stats2.Highlights)
	assert.Equal(t, stats.Relations, stats2.Relations)
}

func TestEnrich_NeighborLookupsCachedAcrossBatch(t *testing.T) {
	for _, parallelism := range []int{1, 4} {
		t.Run(fmt.Sprintf("parallelism=%d", parallelism), func(t *testing.T) {
			g := newCaseGraph()
			e := NewEnricher(g, WithClock(fixedClock), WithParallelism(parallelism))

			events := sampleEvents()
			for i := range 20 {
				events = append(events, event(fmt.Sprintf("extra-%02d", i), testNow, "Filing", "more", "doc-1", "doc-2"))
			}

			_, stats, err := e.Enrich(context.Background(), events)
			require.NoError(t, err)
			assert.True(t, stats.Mutated)
			assert.Equal(t, 1, g.neighborCalls("acme-corp"))
			assert.Equal(t, 1, g.neighborCalls("jane-doe"))
		})
	}
}

func TestEnrich_NeighborFailureMeansNoRelations(t *testing.T) {
	g := newCaseGraph()
	g.failFor = map[string]bool{"jane-doe": true}
	e := NewEnricher(g, WithClock(fixedClock))

	out, stats, err := e.Enrich(context.Background(), sampleEvents())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Highlights)
	assert.Equal(t, []models.RelationTag{
		{Source: "acme-corp", Target: "jane-doe", Type: "EMPLOYS", Label: "employs", Doc: "doc-2"},
	}, out[1].RelationTags)
}

func TestEnrich_ParallelMatchesSequential(t *testing.T) {
	seq, seqStats, err := NewEnricher(newCaseGraph(), WithClock(fixedClock)).
		Enrich(context.Background(), sampleEvents())
	require.NoError(t, err)

	par, parStats, err := NewEnricher(newCaseGraph(), WithClock(fixedClock), WithParallelism(3)).
		Enrich(context.Background(), sampleEvents())
	require.NoError(t, err)

	assert.Equal(t, seq, par)
	assert.Equal(t, seqStats, parStats)
}

func TestEnrich_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewEnricher(newCaseGraph(), WithClock(fixedClock)).Enrich(ctx, sampleEvents())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnrich_MotionDeadlineChangeIsMutation(t *testing.T) {
	g := newCaseGraph()
	e := NewEnricher(g, WithClock(fixedClock))

	first, _, err := e.Enrich(context.Background(), []models.TimelineEvent{
		event("e1", testNow, "Filing", "Motion to compel", "doc-1"),
	})
	require.NoError(t, err)
	require.NotNil(t, first[0].MotionDeadline)

	stale := first[0]
	stale.MotionDeadline = nil
	_, stats, err := e.Enrich(context.Background(), []models.TimelineEvent{stale})
	require.NoError(t, err)
	assert.True(t, stats.Mutated)
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name       string
		highlights int
		relations  int
		want       *float64
	}{
		{"none", 0, 0, nil},
		{"relations only", 0, 2, ptr(0.35)},
		{"one highlight", 1, 0, ptr(0.53)},
		{"highlight cap", 10, 0, ptr(0.7)},
		{"both capped", 10, 10, ptr(0.9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := confidence(tt.highlights, tt.relations)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-9)
		})
	}
}
