package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/casegraph/internal/config"
	"github.com/raphaelgruber/casegraph/internal/models"
)

// StartRunInput defines the input schema for the start_run tool.
type StartRunInput struct {
	CaseID string   `json:"case_id,omitempty" jsonschema:"Case ID (defaults to the configured case)"`
	Phases []string `json:"phases,omitempty" jsonschema:"Phases in execution order; empty uses the server plan"`
}

// RunInput names a run of a case.
type RunInput struct {
	CaseID string `json:"case_id,omitempty" jsonschema:"Case ID (defaults to the configured case)"`
	RunID  string `json:"run_id" jsonschema:"Workflow run ID"`
}

// RunEventsInput defines the input schema for the run_events tool.
type RunEventsInput struct {
	CaseID string `json:"case_id,omitempty" jsonschema:"Case ID (defaults to the configured case)"`
	RunID  string `json:"run_id" jsonschema:"Workflow run ID"`
	Since  int    `json:"since,omitempty" jsonschema:"First event sequence number, use next from a previous call"`
}

// ControlRunInput defines the input schema for the control_run tool.
type ControlRunInput struct {
	CaseID string `json:"case_id,omitempty" jsonschema:"Case ID (defaults to the configured case)"`
	RunID  string `json:"run_id" jsonschema:"Workflow run ID"`
	Action string `json:"action" jsonschema:"pause, resume, stop or retry"`
	Phase  string `json:"phase,omitempty" jsonschema:"Phase to retry; defaults to the first failed phase"`
}

// PhaseOutputInput defines the input schema for the phase_output tool.
type PhaseOutputInput struct {
	ID string `json:"id" jsonschema:"Phase run ID from a phase's run_id field"`
}

// NewStartRunHandler creates the start_run tool handler.
func NewStartRunHandler(deps *Dependencies, cfg *config.Config) mcp.ToolHandlerFor[StartRunInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StartRunInput) (
		*mcp.CallToolResult, any, error,
	) {
		caseID, errResult := requireCase(input.CaseID, cfg)
		if errResult != nil {
			return errResult, nil, nil
		}
		run, err := deps.API.StartRun(ctx, caseID, input.Phases)
		if err != nil {
			return APIErrorResult(deps, "start run", err), nil, nil
		}
		deps.Logger.Info("workflow run started", "case", caseID, "run_id", run.RunID, "phases", len(run.Phases))
		return JSONResult(run), nil, nil
	}
}

// NewGetRunHandler creates the get_run tool handler.
func NewGetRunHandler(deps *Dependencies, cfg *config.Config) mcp.ToolHandlerFor[RunInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input RunInput) (
		*mcp.CallToolResult, any, error,
	) {
		caseID, errResult := requireRun(input.CaseID, input.RunID, cfg)
		if errResult != nil {
			return errResult, nil, nil
		}
		run, err := deps.API.GetRun(ctx, caseID, input.RunID)
		if err != nil {
			return APIErrorResult(deps, "get run", err), nil, nil
		}
		return JSONResult(run), nil, nil
	}
}

// NewListRunsHandler creates the list_runs tool handler.
func NewListRunsHandler(deps *Dependencies, cfg *config.Config) mcp.ToolHandlerFor[CaseInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input CaseInput) (
		*mcp.CallToolResult, any, error,
	) {
		caseID, errResult := requireCase(input.CaseID, cfg)
		if errResult != nil {
			return errResult, nil, nil
		}
		runs, err := deps.API.ListRuns(ctx, caseID)
		if err != nil {
			return APIErrorResult(deps, "list runs", err), nil, nil
		}
		if len(runs) == 0 {
			return TextResult(fmt.Sprintf("Case %s has no workflow runs", caseID)), nil, nil
		}
		return JSONResult(runs), nil, nil
	}
}

// NewRunEventsHandler creates the run_events tool handler.
func NewRunEventsHandler(deps *Dependencies, cfg *config.Config) mcp.ToolHandlerFor[RunEventsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input RunEventsInput) (
		*mcp.CallToolResult, any, error,
	) {
		caseID, errResult := requireRun(input.CaseID, input.RunID, cfg)
		if errResult != nil {
			return errResult, nil, nil
		}
		if input.Since < 0 {
			return ErrorResult("since must not be negative", ""), nil, nil
		}
		resp, err := deps.API.RunEvents(ctx, caseID, input.RunID, input.Since)
		if err != nil {
			return APIErrorResult(deps, "read run events", err), nil, nil
		}
		return JSONResult(resp), nil, nil
	}
}

// NewControlRunHandler creates the control_run tool handler.
// Pause and stop take effect at the next phase boundary.
func NewControlRunHandler(deps *Dependencies, cfg *config.Config) mcp.ToolHandlerFor[ControlRunInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ControlRunInput) (
		*mcp.CallToolResult, any, error,
	) {
		caseID, errResult := requireRun(input.CaseID, input.RunID, cfg)
		if errResult != nil {
			return errResult, nil, nil
		}

		var run *models.WorkflowRun
		var err error
		switch input.Action {
		case "pause":
			run, err = deps.API.PauseRun(ctx, caseID, input.RunID)
		case "resume":
			run, err = deps.API.ResumeRun(ctx, caseID, input.RunID)
		case "stop":
			run, err = deps.API.StopRun(ctx, caseID, input.RunID)
		case "retry":
			run, err = deps.API.RetryPhase(ctx, caseID, input.RunID, input.Phase)
		default:
			return ErrorResult(
				fmt.Sprintf("Unknown action: %q", input.Action),
				"Use pause, resume, stop or retry",
			), nil, nil
		}
		if err != nil {
			return APIErrorResult(deps, input.Action+" run", err), nil, nil
		}

		deps.Logger.Info("workflow run controlled", "case", caseID, "run_id", input.RunID,
			"action", input.Action, "status", run.Status)
		return JSONResult(run), nil, nil
	}
}

// NewPhaseOutputHandler creates the phase_output tool handler.
func NewPhaseOutputHandler(deps *Dependencies) mcp.ToolHandlerFor[PhaseOutputInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input PhaseOutputInput) (
		*mcp.CallToolResult, any, error,
	) {
		if input.ID == "" {
			return ErrorResult("id cannot be empty", "Use the run_id of a completed phase"), nil, nil
		}
		pr, err := deps.API.PhaseRun(ctx, input.ID)
		if err != nil {
			return APIErrorResult(deps, "get phase output", err), nil, nil
		}
		return JSONResult(pr), nil, nil
	}
}

func requireRun(caseInput, runID string, cfg *config.Config) (string, *mcp.CallToolResult) {
	if runID == "" {
		return "", ErrorResult("run_id cannot be empty", "Use list_runs to find the run")
	}
	return requireCase(caseInput, cfg)
}
