package workflow

import (
	"context"
	"errors"

	"github.com/raphaelgruber/casegraph/internal/models"
)

// Sentinel errors.
var (
	ErrRunNotFound    = errors.New("workflow run not found")
	ErrUnknownPhase   = errors.New("unknown workflow phase")
	ErrDuplicatePhase = errors.New("duplicate workflow phase")
	ErrNoPhases       = errors.New("workflow run has no phases")
	ErrCaseRequired   = errors.New("case id is required")
	ErrRunActive      = errors.New("workflow run is already executing")
	ErrRunnerClosed   = errors.New("workflow runner is shut down")
)

// RunStore persists workflow runs, their event logs and phase outputs.
//
// Run records are replaced whole on every write. Event log entries are
// immutable once appended and numbered from 0 per run.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.WorkflowRun) error
	PutRun(ctx context.Context, run *models.WorkflowRun) error
	// GetRun returns ErrRunNotFound when no run with runID exists for caseID.
	GetRun(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error)
	// FindRun looks a run up by id alone.
	FindRun(ctx context.Context, runID string) (*models.WorkflowRun, error)
	// ListRuns returns runs in any of the given statuses, oldest first.
	ListRuns(ctx context.Context, statuses ...models.RunStatus) ([]*models.WorkflowRun, error)

	// AppendEvent appends to the run's log and returns the stored entry.
	AppendEvent(ctx context.Context, caseID, runID, event string, payload map[string]any) (models.RunEvent, error)
	// ReadEvents returns entries with Seq >= since and the cursor to resume
	// from: one past the last returned entry, or since clamped to the log
	// length when nothing is returned.
	ReadEvents(ctx context.Context, caseID, runID string, since int) ([]models.RunEvent, int, error)

	SavePhaseRun(ctx context.Context, pr models.PhaseRun) error
}

// GraphWriter merges phase extractions into the case graph.
type GraphWriter interface {
	ApplyExtraction(ctx context.Context, caseID string, ext models.Extraction) (models.GraphDelta, error)
}
