package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/casegraph/internal/api"
	"github.com/raphaelgruber/casegraph/internal/client"
	"github.com/raphaelgruber/casegraph/internal/config"
)

// TimelineInput defines the input schema for the timeline tool.
type TimelineInput struct {
	CaseID          string `json:"case_id,omitempty" jsonschema:"Case ID (defaults to the configured case)"`
	Limit           int    `json:"limit,omitempty" jsonschema:"Page size 1-100, default 20"`
	Cursor          string `json:"cursor,omitempty" jsonschema:"next_cursor from a previous page"`
	FromTS          string `json:"from_ts,omitempty" jsonschema:"Earliest timestamp, zone-less ISO-8601"`
	ToTS            string `json:"to_ts,omitempty" jsonschema:"Latest timestamp, zone-less ISO-8601"`
	Entity          string `json:"entity,omitempty" jsonschema:"Entity ID or label the event must involve"`
	RiskBand        string `json:"risk_band,omitempty" jsonschema:"low, medium or high"`
	MotionDueBefore string `json:"motion_due_before,omitempty" jsonschema:"Only events with a motion deadline before this timestamp"`
	MotionDueAfter  string `json:"motion_due_after,omitempty" jsonschema:"Only events with a motion deadline after this timestamp"`
}

// CaseInput names a case.
type CaseInput struct {
	CaseID string `json:"case_id,omitempty" jsonschema:"Case ID (defaults to the configured case)"`
}

// PutEventsInput defines the input schema for the add_timeline_events tool.
type PutEventsInput struct {
	CaseID string           `json:"case_id,omitempty" jsonschema:"Case ID (defaults to the configured case)"`
	Events []api.EventInput `json:"events" jsonschema:"Events to store; an existing id is replaced"`
}

func requireCase(explicit string, cfg *config.Config) (string, *mcp.CallToolResult) {
	caseID := DetectCase(explicit, cfg)
	if caseID == "" {
		return "", ErrorResult("case_id is required", "Pass case_id or set CASEGRAPH_DEFAULT_CASE")
	}
	return caseID, nil
}

// NewTimelineHandler creates the timeline tool handler.
// Returns one page of enriched events, oldest first.
func NewTimelineHandler(deps *Dependencies, cfg *config.Config) mcp.ToolHandlerFor[TimelineInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input TimelineInput) (
		*mcp.CallToolResult, any, error,
	) {
		caseID, errResult := requireCase(input.CaseID, cfg)
		if errResult != nil {
			return errResult, nil, nil
		}

		page, err := deps.API.ListTimeline(ctx, caseID, client.TimelineOptions{
			Limit:           input.Limit,
			Cursor:          input.Cursor,
			FromTS:          input.FromTS,
			ToTS:            input.ToTS,
			Entity:          input.Entity,
			RiskBand:        input.RiskBand,
			MotionDueBefore: input.MotionDueBefore,
			MotionDueAfter:  input.MotionDueAfter,
		})
		if err != nil {
			return APIErrorResult(deps, "timeline query", err), nil, nil
		}

		deps.Logger.Info("timeline listed", "case", caseID, "events", len(page.Events), "has_more", page.HasMore)
		return JSONResult(page), nil, nil
	}
}

// NewRefreshHandler creates the refresh_timeline tool handler.
func NewRefreshHandler(deps *Dependencies, cfg *config.Config) mcp.ToolHandlerFor[CaseInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input CaseInput) (
		*mcp.CallToolResult, any, error,
	) {
		caseID, errResult := requireCase(input.CaseID, cfg)
		if errResult != nil {
			return errResult, nil, nil
		}
		stats, err := deps.API.RefreshTimeline(ctx, caseID)
		if err != nil {
			return APIErrorResult(deps, "timeline refresh", err), nil, nil
		}
		return JSONResult(stats), nil, nil
	}
}

// NewStoryboardHandler creates the storyboard tool handler.
func NewStoryboardHandler(deps *Dependencies, cfg *config.Config) mcp.ToolHandlerFor[CaseInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input CaseInput) (
		*mcp.CallToolResult, any, error,
	) {
		caseID, errResult := requireCase(input.CaseID, cfg)
		if errResult != nil {
			return errResult, nil, nil
		}
		scenes, err := deps.API.Storyboard(ctx, caseID)
		if err != nil {
			return APIErrorResult(deps, "storyboard", err), nil, nil
		}
		if len(scenes) == 0 {
			return TextResult(fmt.Sprintf("Case %s has no timeline events", caseID)), nil, nil
		}
		return JSONResult(scenes), nil, nil
	}
}

// NewPutEventsHandler creates the add_timeline_events tool handler.
func NewPutEventsHandler(deps *Dependencies, cfg *config.Config) mcp.ToolHandlerFor[PutEventsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input PutEventsInput) (
		*mcp.CallToolResult, any, error,
	) {
		caseID, errResult := requireCase(input.CaseID, cfg)
		if errResult != nil {
			return errResult, nil, nil
		}
		if len(input.Events) == 0 {
			return ErrorResult("events cannot be empty", "Provide at least one event with id and ts"), nil, nil
		}

		stats, err := deps.API.PutEvents(ctx, caseID, input.Events)
		if err != nil {
			return APIErrorResult(deps, "store events", err), nil, nil
		}
		deps.Logger.Info("timeline events stored", "case", caseID, "events", len(input.Events))
		return JSONResult(stats), nil, nil
	}
}
