package models

import (
	"maps"
	"slices"
	"time"
)

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSucceeded RunStatus = "succeeded"
)

// Terminal reports whether no further transitions happen without operator action.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusStopped
}

// PhaseStatus is the state of a single phase within a run.
type PhaseStatus string

const (
	PhaseStatusQueued    PhaseStatus = "queued"
	PhaseStatusRunning   PhaseStatus = "running"
	PhaseStatusSucceeded PhaseStatus = "succeeded"
	PhaseStatusFailed    PhaseStatus = "failed"
)

// RunControl holds the operator flags polled by the runner.
type RunControl struct {
	Pause bool `json:"pause"`
	Stop  bool `json:"stop"`
}

// PhaseState is the persisted state of one phase of a run.
type PhaseState struct {
	Phase       string           `json:"phase"`
	Status      PhaseStatus      `json:"status"`
	RunID       *string          `json:"run_id"` // phase-run record id
	Artifacts   []map[string]any `json:"artifacts"`
	Summary     map[string]any   `json:"summary"`
	StartedAt   *time.Time       `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at"`
	Error       *string          `json:"error"`
}

// WorkflowRun is one execution of an ordered phase list for a case.
type WorkflowRun struct {
	RunID           string       `json:"run_id"`
	CaseID          string       `json:"case_id"`
	RequestedPhases []string     `json:"requested_phases"`
	Status          RunStatus    `json:"status"`
	Control         RunControl   `json:"control"`
	CurrentPhase    *string      `json:"current_phase"`
	Phases          []PhaseState `json:"phases"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	CompletedAt     *time.Time   `json:"completed_at"`
}

// NewWorkflowRun builds a queued run with one queued phase per requested phase.
func NewWorkflowRun(runID, caseID string, phases []string, now time.Time) *WorkflowRun {
	states := make([]PhaseState, len(phases))
	for i, p := range phases {
		states[i] = PhaseState{
			Phase:     p,
			Status:    PhaseStatusQueued,
			Artifacts: []map[string]any{},
			Summary:   map[string]any{},
		}
	}
	return &WorkflowRun{
		RunID:           runID,
		CaseID:          caseID,
		RequestedPhases: slices.Clone(phases),
		Status:          RunStatusQueued,
		Phases:          states,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// PhaseIndex returns the index of the named phase, or -1.
func (r *WorkflowRun) PhaseIndex(phase string) int {
	for i := range r.Phases {
		if r.Phases[i].Phase == phase {
			return i
		}
	}
	return -1
}

// NextQueuedIndex returns the index of the first queued phase, or -1.
func (r *WorkflowRun) NextQueuedIndex() int {
	for i := range r.Phases {
		if r.Phases[i].Status == PhaseStatusQueued {
			return i
		}
	}
	return -1
}

// FirstFailedPhase returns the name of the first failed phase, or "".
func (r *WorkflowRun) FirstFailedPhase() string {
	for i := range r.Phases {
		if r.Phases[i].Status == PhaseStatusFailed {
			return r.Phases[i].Phase
		}
	}
	return ""
}

// Clone returns a copy that shares no mutable state with r.
func (r *WorkflowRun) Clone() *WorkflowRun {
	if r == nil {
		return nil
	}
	c := *r
	c.RequestedPhases = slices.Clone(r.RequestedPhases)
	c.CurrentPhase = clonePtr(r.CurrentPhase)
	c.CompletedAt = clonePtr(r.CompletedAt)
	c.Phases = make([]PhaseState, len(r.Phases))
	for i, p := range r.Phases {
		p.RunID = clonePtr(p.RunID)
		p.StartedAt = clonePtr(p.StartedAt)
		p.CompletedAt = clonePtr(p.CompletedAt)
		p.Error = clonePtr(p.Error)
		p.Summary = maps.Clone(p.Summary)
		p.Artifacts = slices.Clone(p.Artifacts)
		c.Phases[i] = p
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// RunEvent is one immutable entry of a run's event log.
type RunEvent struct {
	Seq       int            `json:"seq"`
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// PhaseRun is the persisted output of a single phase execution.
type PhaseRun struct {
	ID        string         `json:"id"`
	CaseID    string         `json:"case_id"`
	RunID     string         `json:"run_id"`
	Phase     string         `json:"phase"`
	Output    map[string]any `json:"output"`
	CreatedAt time.Time      `json:"created_at"`
}
