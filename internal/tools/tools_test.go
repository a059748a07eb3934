package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/casegraph/internal/api"
	"github.com/raphaelgruber/casegraph/internal/client"
	"github.com/raphaelgruber/casegraph/internal/config"
	"github.com/raphaelgruber/casegraph/internal/models"
	"github.com/raphaelgruber/casegraph/internal/timeline"
	"github.com/raphaelgruber/casegraph/internal/tools"
	"github.com/raphaelgruber/casegraph/internal/workflow"
)

// testLogger creates a quiet logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memTimeline struct {
	mu     sync.Mutex
	events []models.TimelineEvent
}

func (m *memTimeline) ListEvents(_ context.Context, _ string, q timeline.Query) (timeline.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return timeline.Page{Events: m.events, Limit: q.Limit}, nil
}

func (m *memTimeline) RefreshEnrichments(context.Context, string) (timeline.Stats, error) {
	return timeline.Stats{Documents: 1}, nil
}

func (m *memTimeline) Storyboard(context.Context, string) ([]models.StoryboardScene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return timeline.BuildStoryboard(m.events), nil
}

func (m *memTimeline) PutEvents(_ context.Context, _ string, events []models.TimelineEvent) (timeline.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return timeline.Stats{Mutated: true, Documents: 1}, nil
}

// connect starts a casegraph API backed by in-memory services and returns an
// MCP client session talking to the registered tools.
func connect(t *testing.T, cfg *config.Config) *mcp.ClientSession {
	t.Helper()
	logger := testLogger()

	reg := workflow.NewRegistry()
	require.NoError(t, reg.Register("ingestion", workflow.HandlerFunc(
		func(context.Context, string, map[string]any) (map[string]any, error) {
			return map[string]any{"events": []any{1}}, nil
		})))
	require.NoError(t, reg.Register("drafting", workflow.HandlerFunc(
		func(context.Context, string, map[string]any) (map[string]any, error) {
			return nil, errors.New("model offline")
		})))
	store := workflow.NewMemoryStore()
	runner := workflow.NewRunner(store, reg,
		workflow.WithPollInterval(5*time.Millisecond),
		workflow.WithLogger(logger))
	t.Cleanup(func() { _ = runner.Shutdown(2 * time.Second) })

	srv := httptest.NewServer(api.New(api.Deps{
		Timeline:   &memTimeline{},
		Workflow:   runner,
		History:    store,
		Logger:     logger,
		StreamPoll: 5 * time.Millisecond,
	}))
	t.Cleanup(srv.Close)

	server := mcp.NewServer(&mcp.Implementation{Name: "test-casegraph", Version: "0.0.1-test"}, nil)
	tools.RegisterAll(server, &tools.Dependencies{API: client.New(srv.URL), Logger: logger}, cfg)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = server.Run(ctx, serverTransport) }()

	c := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := c.Connect(ctx, clientTransport, nil)
	require.NoError(t, err, "client should connect successfully")
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func call(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content should be TextContent")
	return text.Text, result.IsError
}

func TestListTools(t *testing.T) {
	session := connect(t, &config.Config{})

	result, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"ping", "timeline", "refresh_timeline", "storyboard", "add_timeline_events",
		"start_run", "get_run", "list_runs", "run_events", "control_run", "phase_output",
	}, names)
}

func TestPing(t *testing.T) {
	session := connect(t, &config.Config{})

	text, isErr := call(t, session, "ping", map[string]any{})
	assert.False(t, isErr)
	assert.Equal(t, "pong", text)

	text, isErr = call(t, session, "ping", map[string]any{"echo": "hello world"})
	assert.False(t, isErr)
	assert.Equal(t, "hello world", text)
}

func TestTimelineTools(t *testing.T) {
	session := connect(t, &config.Config{DefaultCase: "case-1"})

	text, isErr := call(t, session, "add_timeline_events", map[string]any{
		"events": []any{map[string]any{"id": "ev-1", "ts": "2024-03-01T09:30:00", "title": "Contract signed"}},
	})
	require.False(t, isErr, text)
	assert.Contains(t, text, `"documents": 1`)

	text, isErr = call(t, session, "timeline", map[string]any{"case_id": "case-1", "limit": 5})
	require.False(t, isErr, text)
	var page api.PageView
	require.NoError(t, json.Unmarshal([]byte(text), &page))
	require.Len(t, page.Events, 1)
	assert.Equal(t, "2024-03-01T09:30:00", page.Events[0].TS)
	assert.Equal(t, 5, page.Limit)

	text, isErr = call(t, session, "storyboard", map[string]any{})
	require.False(t, isErr, text)
	assert.Contains(t, text, "Scene 1: Contract signed")

	text, isErr = call(t, session, "refresh_timeline", map[string]any{})
	require.False(t, isErr, text)
	assert.Contains(t, text, `"documents": 1`)
}

func TestTimelineTools_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		tool string
		args map[string]any
		want string
	}{
		{
			name: "no case",
			tool: "timeline",
			args: map[string]any{},
			want: "case_id is required",
		},
		{
			name: "zoned timestamp",
			cfg:  config.Config{DefaultCase: "case-1"},
			tool: "timeline",
			args: map[string]any{"from_ts": "2024-03-01T09:30:00Z"},
			want: timeline.CodeTimezoneAware,
		},
		{
			name: "no events",
			cfg:  config.Config{DefaultCase: "case-1"},
			tool: "add_timeline_events",
			args: map[string]any{"events": []any{}},
			want: "events cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			session := connect(t, &tt.cfg)
			text, isErr := call(t, session, tt.tool, tt.args)
			assert.True(t, isErr)
			assert.Contains(t, text, tt.want)
		})
	}
}

func TestRunTools(t *testing.T) {
	session := connect(t, &config.Config{DefaultCase: "case-1"})

	text, isErr := call(t, session, "start_run", map[string]any{"phases": []any{"ingestion", "drafting"}})
	require.False(t, isErr, text)
	var run models.WorkflowRun
	require.NoError(t, json.Unmarshal([]byte(text), &run))
	assert.Len(t, run.Phases, 2)

	assert.Eventually(t, func() bool {
		result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
			Name:      "get_run",
			Arguments: map[string]any{"run_id": run.RunID},
		})
		if err != nil || result.IsError || len(result.Content) != 1 {
			return false
		}
		text, ok := result.Content[0].(*mcp.TextContent)
		var got models.WorkflowRun
		return ok && json.Unmarshal([]byte(text.Text), &got) == nil && got.Status == models.RunStatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	text, isErr = call(t, session, "run_events", map[string]any{"run_id": run.RunID, "since": 1})
	require.False(t, isErr, text)
	assert.Contains(t, text, workflow.EventPhaseFailed)
	assert.NotContains(t, text, workflow.EventRunCreated)

	text, isErr = call(t, session, "list_runs", map[string]any{})
	require.False(t, isErr, text)
	assert.Contains(t, text, run.RunID)

	text, isErr = call(t, session, "control_run", map[string]any{"run_id": run.RunID, "action": "rewind"})
	assert.True(t, isErr)
	assert.Contains(t, text, "Unknown action")

	text, isErr = call(t, session, "get_run", map[string]any{"run_id": "missing"})
	assert.True(t, isErr)
	assert.Contains(t, text, "Check the case and run IDs")

	text, isErr = call(t, session, "start_run", map[string]any{"phases": []any{"unknown"}})
	assert.True(t, isErr)
	assert.Contains(t, text, "WORKFLOW_INVALID")
}

func TestDetectCase(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".casegraph-case"), []byte("case-from-file\n"), 0o644))
	sub := filepath.Join(dir, "drafts")
	require.NoError(t, os.Mkdir(sub, 0o755))
	t.Chdir(sub)

	assert.Equal(t, "explicit", tools.DetectCase("explicit", &config.Config{DefaultCase: "configured"}))
	assert.Equal(t, "configured", tools.DetectCase("", &config.Config{DefaultCase: "configured"}))
	assert.Equal(t, "case-from-file", tools.DetectCase("", &config.Config{}))
	assert.Equal(t, "case-from-file", tools.DetectCase("", nil))
}
