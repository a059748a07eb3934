package client_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/casegraph/internal/api"
	"github.com/raphaelgruber/casegraph/internal/client"
	"github.com/raphaelgruber/casegraph/internal/models"
	"github.com/raphaelgruber/casegraph/internal/timeline"
	"github.com/raphaelgruber/casegraph/internal/workflow"
)

const testCase = "case-3"

// memTimeline keeps authored events in memory and pages them without filters.
type memTimeline struct {
	events []models.TimelineEvent
}

func (m *memTimeline) ListEvents(_ context.Context, _ string, q timeline.Query) (timeline.Page, error) {
	if q.Limit < 1 || q.Limit > timeline.MaxLimit {
		return timeline.Page{}, &timeline.ValidationError{Code: timeline.CodeLimitInvalid, Message: "limit out of range"}
	}
	events := m.events
	if len(events) > q.Limit {
		events = events[:q.Limit]
	}
	return timeline.Page{Events: events, Limit: q.Limit, HasMore: len(m.events) > q.Limit}, nil
}

func (m *memTimeline) RefreshEnrichments(context.Context, string) (timeline.Stats, error) {
	return timeline.Stats{Documents: len(m.events)}, nil
}

func (m *memTimeline) Storyboard(_ context.Context, _ string) ([]models.StoryboardScene, error) {
	return timeline.BuildStoryboard(m.events), nil
}

func (m *memTimeline) PutEvents(_ context.Context, _ string, events []models.TimelineEvent) (timeline.Stats, error) {
	m.events = append(m.events, events...)
	return timeline.Stats{Mutated: true, Documents: len(m.events)}, nil
}

func newTestServer(t *testing.T) (*client.Client, *workflow.Runner) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := workflow.NewRegistry()
	for _, phase := range []string{"ingestion", "timeline"} {
		require.NoError(t, reg.Register(phase, workflow.HandlerFunc(
			func(context.Context, string, map[string]any) (map[string]any, error) {
				return map[string]any{"ok": true}, nil
			})))
	}
	runner := workflow.NewRunner(workflow.NewMemoryStore(), reg,
		workflow.WithPollInterval(5*time.Millisecond),
		workflow.WithLogger(logger),
		workflow.WithDefaultPhases([]string{"ingestion", "timeline"}))
	t.Cleanup(func() { _ = runner.Shutdown(2 * time.Second) })

	srv := httptest.NewServer(api.New(api.Deps{
		Timeline:   &memTimeline{},
		Workflow:   runner,
		Logger:     logger,
		StreamPoll: 5 * time.Millisecond,
	}))
	t.Cleanup(srv.Close)
	return client.New(srv.URL), runner
}

func TestNew_Defaults(t *testing.T) {
	t.Setenv("CASEGRAPH_URL", "")
	t.Setenv("CASEGRAPH_CLIENT_TIMEOUT", "")
	assert.NotNil(t, client.New(""))
}

func TestClient_Timeline(t *testing.T) {
	c, _ := newTestServer(t)
	ctx := context.Background()

	stats, err := c.PutEvents(ctx, testCase, []api.EventInput{
		{ID: "ev-1", TS: "2024-01-02T09:00:00", Title: "Complaint filed", Citations: []string{"doc-1"}},
		{ID: "ev-2", TS: "2024-01-05", Title: "Answer due"},
	})
	require.NoError(t, err)
	assert.True(t, stats.Mutated)

	page, err := c.ListTimeline(ctx, testCase, client.TimelineOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "2024-01-02T09:00:00", page.Events[0].TS)
	assert.True(t, page.HasMore)

	scenes, err := c.Storyboard(ctx, testCase)
	require.NoError(t, err)
	require.Len(t, scenes, 2)
	assert.Equal(t, "Scene 1: Complaint filed", scenes[0].Title)

	refreshed, err := c.RefreshTimeline(ctx, testCase)
	require.NoError(t, err)
	assert.Equal(t, 2, refreshed.Documents)
}

func TestClient_ValidationError(t *testing.T) {
	c, _ := newTestServer(t)

	_, err := c.ListTimeline(context.Background(), testCase, client.TimelineOptions{Limit: 500})
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, timeline.CodeLimitInvalid, apiErr.Code)

	_, err = c.PutEvents(context.Background(), testCase, []api.EventInput{{ID: "x", TS: "2024-01-01T00:00:00Z"}})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, timeline.CodeTimezoneAware, apiErr.Code)
}

func TestClient_Runs(t *testing.T) {
	c, runner := newTestServer(t)
	ctx := context.Background()

	run, err := c.StartRun(ctx, testCase, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ingestion", "timeline"}, run.RequestedPhases)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, runner.Wait(waitCtx, run.RunID))

	got, err := c.GetRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, got.Status)

	events, err := c.RunEvents(ctx, testCase, run.RunID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events.Events)
	assert.Equal(t, len(events.Events), events.Next)

	_, err = c.GetRun(ctx, testCase, "missing")
	assert.True(t, client.IsNotFound(err))

	_, err = c.StopRun(ctx, testCase, "missing")
	assert.True(t, client.IsNotFound(err))

	_, err = c.ListRuns(ctx, testCase)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotImplemented, apiErr.Status)
}

func TestClient_StreamRun(t *testing.T) {
	c, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run, err := c.StartRun(ctx, testCase, []string{"ingestion"})
	require.NoError(t, err)

	var names []string
	status, err := c.StreamRun(ctx, testCase, run.RunID, 0, func(ev models.RunEvent) error {
		names = append(names, ev.Event)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, status)
	assert.Contains(t, names, workflow.EventPhaseCompleted)
	assert.Equal(t, workflow.EventRunCompleted, names[len(names)-1])

	_, err = c.StreamRun(ctx, testCase, "missing", 0, func(models.RunEvent) error { return nil })
	assert.True(t, client.IsNotFound(err))
}

func TestClient_HealthAndStats(t *testing.T) {
	c, _ := newTestServer(t)
	require.NoError(t, c.Health(context.Background()))

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stats.Refresh)
}
