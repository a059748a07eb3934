package db

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/raphaelgruber/casegraph/internal/models"
	"github.com/raphaelgruber/casegraph/internal/workflow"
)

// appendRetries bounds retries when two writers race for the same seq.
const appendRetries = 3

type runEventRow struct {
	Seq       int            `json:"seq"`
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

func (r runEventRow) toModel() models.RunEvent {
	payload := r.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return models.RunEvent{Seq: r.Seq, Event: r.Event, Timestamp: r.Timestamp.UTC(), Payload: payload}
}

type phaseRunRow struct {
	CaseID    string         `json:"case_id"`
	RunID     string         `json:"run_id"`
	Phase     string         `json:"phase"`
	Output    map[string]any `json:"output"`
	CreatedAt time.Time      `json:"created_at"`
}

// CreateRun stores a new run record.
func (c *Client) CreateRun(ctx context.Context, run *models.WorkflowRun) error {
	_, err := query[any](ctx, c, "create run", `
		CREATE type::record("workflow_run", $id) CONTENT $run
	`, map[string]any{"id": run.RunID, "run": run})
	return err
}

// PutRun replaces a stored run record.
func (c *Client) PutRun(ctx context.Context, run *models.WorkflowRun) error {
	type idRow struct {
		RunID string `json:"run_id"`
	}
	results, err := query[[]idRow](ctx, c, "put run", `
		UPDATE type::record("workflow_run", $id) CONTENT $run RETURN run_id
	`, map[string]any{"id": run.RunID, "run": run})
	if err != nil {
		return err
	}
	if rows, _ := lastResult(results); len(rows) == 0 {
		return fmt.Errorf("put run %s: %w", run.RunID, workflow.ErrRunNotFound)
	}
	return nil
}

// GetRun returns the run stored under caseID.
func (c *Client) GetRun(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error) {
	results, err := query[[]models.WorkflowRun](ctx, c, "get run", `
		SELECT * OMIT id FROM type::record("workflow_run", $id) WHERE case_id = $case
	`, map[string]any{"id": runID, "case": caseID})
	if err != nil {
		return nil, err
	}
	rows, _ := lastResult(results)
	if len(rows) == 0 {
		return nil, workflow.ErrRunNotFound
	}
	return normalizeRun(&rows[0]), nil
}

// FindRun returns the run with runID regardless of its case.
func (c *Client) FindRun(ctx context.Context, runID string) (*models.WorkflowRun, error) {
	results, err := query[[]models.WorkflowRun](ctx, c, "find run", `
		SELECT * OMIT id FROM type::record("workflow_run", $id)
	`, map[string]any{"id": runID})
	if err != nil {
		return nil, err
	}
	rows, _ := lastResult(results)
	if len(rows) == 0 {
		return nil, workflow.ErrRunNotFound
	}
	return normalizeRun(&rows[0]), nil
}

// ListRuns returns runs in any of the given statuses (all runs when none are
// given), oldest first.
func (c *Client) ListRuns(ctx context.Context, statuses ...models.RunStatus) ([]*models.WorkflowRun, error) {
	sql := `SELECT * OMIT id FROM workflow_run ORDER BY created_at`
	vars := map[string]any{}
	if len(statuses) > 0 {
		sql = `SELECT * OMIT id FROM workflow_run WHERE status IN $statuses ORDER BY created_at`
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		vars["statuses"] = names
	}

	results, err := query[[]models.WorkflowRun](ctx, c, "list runs", sql, vars)
	if err != nil {
		return nil, err
	}
	rows, _ := lastResult(results)

	runs := make([]*models.WorkflowRun, len(rows))
	for i := range rows {
		runs[i] = normalizeRun(&rows[i])
	}
	return runs, nil
}

// ListCaseRuns returns the runs of one case, newest first.
func (c *Client) ListCaseRuns(ctx context.Context, caseID string) ([]*models.WorkflowRun, error) {
	results, err := query[[]models.WorkflowRun](ctx, c, "list case runs", `
		SELECT * OMIT id FROM workflow_run WHERE case_id = $case ORDER BY created_at DESC
	`, map[string]any{"case": caseID})
	if err != nil {
		return nil, err
	}
	rows, _ := lastResult(results)

	runs := make([]*models.WorkflowRun, len(rows))
	for i := range rows {
		runs[i] = normalizeRun(&rows[i])
	}
	return runs, nil
}

// AppendEvent appends an entry to the run log. The next seq is the number of
// entries already stored; the unique (run_id, seq) index rejects a racing
// writer, which then retries.
func (c *Client) AppendEvent(ctx context.Context, caseID, runID, event string, payload map[string]any) (models.RunEvent, error) {
	if payload == nil {
		payload = map[string]any{}
	}

	var lastErr error
	for range appendRetries {
		results, err := query[[]runEventRow](ctx, c, "append run event", `
			LET $seq = count((SELECT id FROM run_event WHERE run_id = $run));
			CREATE run_event CONTENT {
				case_id: $case,
				run_id: $run,
				seq: $seq,
				event: $event,
				timestamp: $ts,
				payload: $payload
			} RETURN seq, event, timestamp, payload;
		`, map[string]any{
			"case":    caseID,
			"run":     runID,
			"event":   event,
			"ts":      c.now(),
			"payload": maps.Clone(payload),
		})
		if errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrTransactionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return models.RunEvent{}, err
		}
		rows, _ := lastResult(results)
		if len(rows) == 0 {
			return models.RunEvent{}, fmt.Errorf("append run event: no result returned")
		}
		return rows[0].toModel(), nil
	}
	return models.RunEvent{}, fmt.Errorf("append run event after %d attempts: %w", appendRetries, lastErr)
}

// ReadEvents returns log entries from seq since on, and the cursor to resume
// from. The cursor follows the last returned entry; with nothing returned it
// is since, clamped to the log length counted before the read so entries
// appended meanwhile are never skipped.
func (c *Client) ReadEvents(ctx context.Context, caseID, runID string, since int) ([]models.RunEvent, int, error) {
	counted, err := query[int](ctx, c, "count run events", `
		RETURN count((SELECT id FROM run_event WHERE run_id = $run AND case_id = $case))
	`, map[string]any{"run": runID, "case": caseID})
	if err != nil {
		return nil, since, err
	}
	total, _ := lastResult(counted)

	results, err := query[[]runEventRow](ctx, c, "read run events", `
		SELECT seq, event, timestamp, payload FROM run_event
		WHERE run_id = $run AND case_id = $case AND seq >= $since
		ORDER BY seq
	`, map[string]any{"run": runID, "case": caseID, "since": since})
	if err != nil {
		return nil, since, err
	}
	rows, _ := lastResult(results)

	events := make([]models.RunEvent, len(rows))
	for i, row := range rows {
		events[i] = row.toModel()
	}
	if len(events) > 0 {
		return events, events[len(events)-1].Seq + 1, nil
	}
	return events, min(since, total), nil
}

// SavePhaseRun stores the output of one phase execution.
func (c *Client) SavePhaseRun(ctx context.Context, pr models.PhaseRun) error {
	output := pr.Output
	if output == nil {
		output = map[string]any{}
	}
	_, err := query[any](ctx, c, "save phase run", `
		CREATE type::record("phase_run", $id) CONTENT $row
	`, map[string]any{"id": pr.ID, "row": phaseRunRow{
		CaseID:    pr.CaseID,
		RunID:     pr.RunID,
		Phase:     pr.Phase,
		Output:    output,
		CreatedAt: pr.CreatedAt.UTC(),
	}})
	return err
}

// GetPhaseRun returns a stored phase output.
func (c *Client) GetPhaseRun(ctx context.Context, id string) (*models.PhaseRun, error) {
	results, err := query[[]phaseRunRow](ctx, c, "get phase run", `
		SELECT * OMIT id FROM type::record("phase_run", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	rows, _ := lastResult(results)
	if len(rows) == 0 {
		return nil, workflow.ErrRunNotFound
	}
	row := rows[0]
	return &models.PhaseRun{
		ID:        id,
		CaseID:    row.CaseID,
		RunID:     row.RunID,
		Phase:     row.Phase,
		Output:    row.Output,
		CreatedAt: row.CreatedAt.UTC(),
	}, nil
}

// normalizeRun restores UTC timestamps and non-nil collections after decoding.
func normalizeRun(run *models.WorkflowRun) *models.WorkflowRun {
	run.CreatedAt = run.CreatedAt.UTC()
	run.UpdatedAt = run.UpdatedAt.UTC()
	run.CompletedAt = utcPtr(run.CompletedAt)
	run.RequestedPhases = nonNil(run.RequestedPhases)
	run.Phases = nonNil(run.Phases)
	for i := range run.Phases {
		p := &run.Phases[i]
		p.StartedAt = utcPtr(p.StartedAt)
		p.CompletedAt = utcPtr(p.CompletedAt)
		p.Artifacts = nonNil(p.Artifacts)
		if p.Summary == nil {
			p.Summary = map[string]any{}
		}
	}
	return run
}

var (
	_ workflow.RunStore    = (*Client)(nil)
	_ workflow.GraphWriter = (*Client)(nil)
)
