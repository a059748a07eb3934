// Package tools provides MCP tool handlers and registration.
package tools

import (
	"context"
	"log/slog"

	"github.com/raphaelgruber/casegraph/internal/api"
	"github.com/raphaelgruber/casegraph/internal/client"
	"github.com/raphaelgruber/casegraph/internal/models"
	"github.com/raphaelgruber/casegraph/internal/timeline"
)

// Backend is the casegraph API surface the tools call. *client.Client
// implements it.
type Backend interface {
	ListTimeline(ctx context.Context, caseID string, opts client.TimelineOptions) (*api.PageView, error)
	RefreshTimeline(ctx context.Context, caseID string) (*timeline.Stats, error)
	Storyboard(ctx context.Context, caseID string) ([]models.StoryboardScene, error)
	PutEvents(ctx context.Context, caseID string, events []api.EventInput) (*timeline.Stats, error)

	StartRun(ctx context.Context, caseID string, phases []string) (*models.WorkflowRun, error)
	GetRun(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error)
	RunEvents(ctx context.Context, caseID, runID string, since int) (*api.EventsResponse, error)
	PauseRun(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error)
	ResumeRun(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error)
	StopRun(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error)
	RetryPhase(ctx context.Context, caseID, runID, phase string) (*models.WorkflowRun, error)
	ListRuns(ctx context.Context, caseID string) ([]*models.WorkflowRun, error)
	PhaseRun(ctx context.Context, id string) (*models.PhaseRun, error)

	Health(ctx context.Context) error
}

var _ Backend = (*client.Client)(nil)

// Dependencies holds shared services for tool handlers.
// Passed to handler factories via closure capture.
type Dependencies struct {
	API    Backend
	Logger *slog.Logger
}
