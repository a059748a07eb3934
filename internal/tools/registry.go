package tools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/casegraph/internal/config"
)

// RegisterAll registers all tools with the MCP server.
// This is called from main after server creation but before Run().
func RegisterAll(server *mcp.Server, deps *Dependencies, cfg *config.Config) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ping",
		Description: "Check the casegraph server, or echo input",
	}, NewPingHandler(deps))

	// Timeline
	mcp.AddTool(server, &mcp.Tool{
		Name:        "timeline",
		Description: "List enriched case timeline events with risk forecasts, filtered and cursor-paginated",
	}, NewTimelineHandler(deps, cfg))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "refresh_timeline",
		Description: "Re-enrich a case timeline against the current knowledge graph",
	}, NewRefreshHandler(deps, cfg))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "storyboard",
		Description: "Narrative scenes for each timeline event of a case",
	}, NewStoryboardHandler(deps, cfg))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_timeline_events",
		Description: "Store authored timeline events (zone-less timestamps) and re-enrich the case",
	}, NewPutEventsHandler(deps, cfg))

	// Workflow runs
	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_run",
		Description: "Start a multi-phase case workflow run",
	}, NewStartRunHandler(deps, cfg))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_run",
		Description: "Show a workflow run with per-phase status and summaries",
	}, NewGetRunHandler(deps, cfg))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_runs",
		Description: "List the workflow runs of a case, newest first",
	}, NewListRunsHandler(deps, cfg))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_events",
		Description: "Read a workflow run's event log from a sequence number",
	}, NewRunEventsHandler(deps, cfg))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "control_run",
		Description: "Pause, resume, stop or retry a workflow run",
	}, NewControlRunHandler(deps, cfg))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "phase_output",
		Description: "Retrieve the stored output of one phase execution",
	}, NewPhaseOutputHandler(deps))
}
