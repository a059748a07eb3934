// Package workflow executes ordered case phases as durable runs that can be
// paused, resumed, stopped and retried.
//
// Every transition is written to the RunStore before the next phase starts,
// so a restarted process rebuilds all behavior from persisted state. The
// Runner only keeps in memory which runs have a live worker goroutine.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/casegraph/internal/metrics"
	"github.com/raphaelgruber/casegraph/internal/models"
)

// Run log event names.
const (
	EventRunCreated          = "run_created"
	EventRunStarted          = "run_started"
	EventPauseRequested      = "run_pause_requested"
	EventStopRequested       = "run_stop_requested"
	EventRunPaused           = "run_paused"
	EventRunResumed          = "run_resumed"
	EventRunStopped          = "run_stopped"
	EventRunCompleted        = "run_completed"
	EventPhaseStarted        = "phase_started"
	EventPhaseCompleted      = "phase_completed"
	EventPhaseFailed         = "phase_failed"
	EventPhaseRetryRequested = "phase_retry_requested"
)

// DefaultPollInterval is how often a paused worker re-reads its run.
const DefaultPollInterval = time.Second

// Runner executes workflow runs, one worker goroutine per active run.
type Runner struct {
	store        RunStore
	registry     *Registry
	graph        GraphWriter
	collector    *metrics.Collector
	logger       *slog.Logger
	pollInterval time.Duration
	defaultPlan  []string
	now          func() time.Time

	locks keyedMutex

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type worker struct {
	done chan struct{}
	wake chan struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithPollInterval sets the pause poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) { r.pollInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithGraphWriter merges handler extractions into the case graph.
func WithGraphWriter(g GraphWriter) Option {
	return func(r *Runner) { r.graph = g }
}

// WithCollector records phase timings.
func WithCollector(c *metrics.Collector) Option {
	return func(r *Runner) { r.collector = c }
}

// WithDefaultPhases sets the plan used when a run is created without phases.
func WithDefaultPhases(phases []string) Option {
	return func(r *Runner) { r.defaultPlan = slices.Clone(phases) }
}

// WithClock overrides the clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a runner executing the phases of registry.
func NewRunner(store RunStore, registry *Registry, opts ...Option) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		store:        store,
		registry:     registry,
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
		now:          func() time.Time { return time.Now().UTC() },
		workers:      make(map[string]*worker),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start resumes runs left running by a previous process.
func (r *Runner) Start(ctx context.Context) error {
	n, err := r.ResumeIncomplete(ctx)
	if err != nil {
		return fmt.Errorf("start runner: %w", err)
	}
	r.logger.Info("workflow runner started", "resumed", n)
	return nil
}

// Shutdown stops accepting work, cancels worker contexts and waits up to
// timeout for workers to return. Runs interrupted mid-phase stay running and
// are picked up by the next Start.
func (r *Runner) Shutdown(timeout time.Duration) error {
	r.mu.Lock()
	r.closed = true
	active := len(r.workers)
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("workflow runner stopped", "workers", active)
		return nil
	case <-time.After(timeout):
		r.mu.Lock()
		left := len(r.workers)
		r.mu.Unlock()
		return fmt.Errorf("shutdown: %d workflow workers still running after %s", left, timeout)
	}
}

// CreateRun persists a queued run without executing it. An empty phase list
// selects the default plan.
func (r *Runner) CreateRun(ctx context.Context, caseID string, phases []string) (*models.WorkflowRun, error) {
	if caseID == "" {
		return nil, ErrCaseRequired
	}
	phases, err := r.plan(phases)
	if err != nil {
		return nil, err
	}

	run := models.NewWorkflowRun(uuid.NewString(), caseID, phases, r.now())
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if _, err := r.store.AppendEvent(ctx, caseID, run.RunID, EventRunCreated, map[string]any{"phases": slices.Clone(phases)}); err != nil {
		return nil, fmt.Errorf("append %s: %w", EventRunCreated, err)
	}

	r.logger.Info("workflow run created", "case", caseID, "run_id", run.RunID, "phases", len(phases))
	return run, nil
}

// StartRun creates a run and executes it from the first phase in the background.
func (r *Runner) StartRun(ctx context.Context, caseID string, phases []string) (*models.WorkflowRun, error) {
	run, err := r.CreateRun(ctx, caseID, phases)
	if err != nil {
		return nil, err
	}
	if _, err := r.spawn(run.CaseID, run.RunID, 0); err != nil {
		return nil, err
	}
	return run, nil
}

// PauseRun asks the run to park at the next phase boundary.
func (r *Runner) PauseRun(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error) {
	run, err := r.update(ctx, caseID, runID, func(run *models.WorkflowRun) (*pendingEvent, error) {
		run.Control.Pause = true
		return &pendingEvent{name: EventPauseRequested}, nil
	})
	if err != nil {
		return nil, err
	}
	r.wake(runID)
	r.logger.Info("workflow run pause requested", "case", caseID, "run_id", runID)
	return run, nil
}

// ResumeRun clears the pause flag. A paused run without a live worker is
// restarted from its next queued phase, or completed if none is left.
func (r *Runner) ResumeRun(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error) {
	// The spawn decision is taken under the run lock so that a worker
	// finishing concurrently is never followed by a second one.
	next := -1
	run, err := r.updateThen(ctx, caseID, runID, func(run *models.WorkflowRun) (*pendingEvent, error) {
		run.Control.Pause = false
		if run.Status != models.RunStatusPaused || r.alive(runID) {
			return nil, nil
		}
		next = run.NextQueuedIndex()
		if next == -1 {
			r.setStatus(run, models.RunStatusSucceeded, nil)
			return &pendingEvent{name: EventRunCompleted}, nil
		}
		return nil, nil
	}, func() error {
		if next == -1 {
			return nil
		}
		_, err := r.spawn(caseID, runID, next)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.wake(runID)
	if next >= 0 {
		r.logger.Info("workflow run resumed", "case", caseID, "run_id", runID, "from_index", next)
	}
	return run, nil
}

// StopRun asks the run to stop before its next phase. A queued or paused run
// without a live worker is stopped immediately.
func (r *Runner) StopRun(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error) {
	run, err := r.update(ctx, caseID, runID, func(run *models.WorkflowRun) (*pendingEvent, error) {
		run.Control.Stop = true
		return &pendingEvent{name: EventStopRequested}, nil
	})
	if err != nil {
		return nil, err
	}
	r.wake(runID)
	r.logger.Info("workflow run stop requested", "case", caseID, "run_id", runID)

	if r.alive(runID) || (run.Status != models.RunStatusQueued && run.Status != models.RunStatusPaused) {
		return run, nil
	}
	return r.update(ctx, caseID, runID, func(run *models.WorkflowRun) (*pendingEvent, error) {
		r.setStatus(run, models.RunStatusStopped, nil)
		return &pendingEvent{name: EventRunStopped}, nil
	})
}

// RetryPhase requeues phase, or the first failed phase when phase is empty,
// and executes the run again from it. Earlier phases are not re-run. A run
// with nothing to retry is returned unchanged.
func (r *Runner) RetryPhase(ctx context.Context, caseID, runID, phase string) (*models.WorkflowRun, error) {
	start := -1
	run, err := r.updateThen(ctx, caseID, runID, func(run *models.WorkflowRun) (*pendingEvent, error) {
		if r.alive(runID) {
			return nil, ErrRunActive
		}
		target := phase
		if target == "" {
			target = run.FirstFailedPhase()
		}
		if target == "" {
			return nil, errNoChange
		}
		start = run.PhaseIndex(target)
		if start == -1 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPhase, target)
		}

		run.Phases[start] = models.PhaseState{
			Phase:     target,
			Status:    models.PhaseStatusQueued,
			Artifacts: []map[string]any{},
			Summary:   map[string]any{},
		}
		r.setStatus(run, models.RunStatusRunning, nil)
		return &pendingEvent{name: EventPhaseRetryRequested, payload: map[string]any{"phase": target}}, nil
	}, func() error {
		_, err := r.spawn(caseID, runID, start)
		return err
	})
	if err != nil {
		return nil, err
	}
	if start == -1 {
		return run, nil
	}
	r.logger.Info("workflow phase retry", "case", caseID, "run_id", runID, "phase", run.Phases[start].Phase)
	return run, nil
}

// GetRun returns the persisted run.
func (r *Runner) GetRun(ctx context.Context, caseID, runID string) (*models.WorkflowRun, error) {
	run, err := r.store.GetRun(ctx, caseID, runID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ReadEvents returns the run log from offset since and the offset to read next.
func (r *Runner) ReadEvents(ctx context.Context, caseID, runID string, since int) ([]models.RunEvent, int, error) {
	if _, err := r.store.GetRun(ctx, caseID, runID); err != nil {
		return nil, since, fmt.Errorf("read events: %w", err)
	}
	events, next, err := r.store.ReadEvents(ctx, caseID, runID, max(since, 0))
	if err != nil {
		return nil, since, fmt.Errorf("read events: %w", err)
	}
	return events, next, nil
}

// ExecuteRun executes a stored run from its first phase and blocks until the
// worker returns.
func (r *Runner) ExecuteRun(ctx context.Context, runID string) error {
	run, err := r.store.FindRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("execute run: %w", err)
	}
	spawned, err := r.spawn(run.CaseID, runID, 0)
	if err != nil {
		return err
	}
	if !spawned {
		return ErrRunActive
	}
	return r.Wait(ctx, runID)
}

// Wait blocks until the run has no live worker.
func (r *Runner) Wait(ctx context.Context, runID string) error {
	r.mu.Lock()
	w, ok := r.workers[runID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResumeIncomplete restarts runs persisted as running that have no live
// worker. Phases left running by a crash are requeued. It returns how many
// runs were restarted.
func (r *Runner) ResumeIncomplete(ctx context.Context) (int, error) {
	runs, err := r.store.ListRuns(ctx, models.RunStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list running runs: %w", err)
	}
	if len(runs) == 0 {
		r.logger.Info("no incomplete workflow runs to resume")
		return 0, nil
	}

	resumed := 0
	for _, stored := range runs {
		if r.alive(stored.RunID) {
			continue
		}

		run, err := r.update(ctx, stored.CaseID, stored.RunID, func(run *models.WorkflowRun) (*pendingEvent, error) {
			for i := range run.Phases {
				if run.Phases[i].Status == models.PhaseStatusRunning {
					run.Phases[i].Status = models.PhaseStatusQueued
					run.Phases[i].StartedAt = nil
				}
			}
			if run.NextQueuedIndex() == -1 {
				r.setStatus(run, models.RunStatusSucceeded, nil)
				return &pendingEvent{name: EventRunCompleted}, nil
			}
			return nil, nil
		})
		if err != nil {
			r.logger.Warn("failed to resume workflow run", "run_id", stored.RunID, "error", err)
			continue
		}
		if run.Status == models.RunStatusSucceeded {
			r.logger.Info("workflow run already complete", "run_id", run.RunID)
			continue
		}

		next := run.NextQueuedIndex()
		if _, err := r.spawn(run.CaseID, run.RunID, next); err != nil {
			return resumed, err
		}
		r.logger.Info("resuming workflow run", "case", run.CaseID, "run_id", run.RunID, "from_index", next)
		resumed++
	}
	return resumed, nil
}

func (r *Runner) plan(phases []string) ([]string, error) {
	if len(phases) == 0 {
		phases = r.defaultPlan
	}
	if len(phases) == 0 {
		return nil, ErrNoPhases
	}
	seen := make(map[string]struct{}, len(phases))
	for _, p := range phases {
		if _, ok := r.registry.Lookup(p); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPhase, p)
		}
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePhase, p)
		}
		seen[p] = struct{}{}
	}
	return slices.Clone(phases), nil
}

// spawn starts a worker for the run unless one is alive. It reports whether
// a worker was started.
func (r *Runner) spawn(caseID, runID string, start int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, ErrRunnerClosed
	}
	if _, ok := r.workers[runID]; ok {
		return false, nil
	}

	w := &worker{done: make(chan struct{}), wake: make(chan struct{}, 1)}
	r.workers[runID] = w
	r.wg.Add(1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("workflow worker panicked", "run_id", runID, "panic", p)
			}
			r.mu.Lock()
			delete(r.workers, runID)
			r.mu.Unlock()
			close(w.done)
			r.wg.Done()
		}()
		r.execute(r.ctx, w, caseID, runID, start)
	}()
	return true, nil
}

func (r *Runner) alive(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.workers[runID]
	return ok
}

func (r *Runner) wake(runID string) {
	r.mu.Lock()
	w, ok := r.workers[runID]
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// execute is the worker loop. ctx is canceled on Shutdown; state writes use
// a detached context so that a transition in progress is not torn.
func (r *Runner) execute(ctx context.Context, w *worker, caseID, runID string, start int) {
	sctx := context.WithoutCancel(ctx)
	log := r.logger.With("case", caseID, "run_id", runID)

	run, err := r.update(sctx, caseID, runID, func(run *models.WorkflowRun) (*pendingEvent, error) {
		r.setStatus(run, models.RunStatusRunning, nil)
		return &pendingEvent{name: EventRunStarted, payload: map[string]any{"start_index": start}}, nil
	})
	if err != nil {
		log.Error("workflow run failed to start", "error", err)
		return
	}
	log.Info("workflow run executing", "start_index", start, "phases", len(run.Phases))

	for idx := start; idx < len(run.Phases); idx++ {
		if ctx.Err() != nil {
			log.Info("workflow worker interrupted", "phase_index", idx)
			return
		}
		current, err := r.store.GetRun(sctx, caseID, runID)
		if err != nil {
			log.Error("workflow run reload failed", "error", err)
			return
		}
		phase := current.Phases[idx].Phase

		if current.Control.Stop {
			r.markStopped(sctx, log, caseID, runID)
			return
		}
		if current.Control.Pause {
			if _, err := r.update(sctx, caseID, runID, func(run *models.WorkflowRun) (*pendingEvent, error) {
				r.setStatus(run, models.RunStatusPaused, &phase)
				return &pendingEvent{name: EventRunPaused}, nil
			}); err != nil {
				log.Error("workflow pause failed", "error", err)
				return
			}
			log.Info("workflow run paused", "phase", phase)
			if !r.waitForResume(ctx, sctx, w, log, caseID, runID) {
				return
			}
		}

		if !r.runPhase(ctx, sctx, log, caseID, runID, phase) {
			return
		}
	}

	if _, err := r.update(sctx, caseID, runID, func(run *models.WorkflowRun) (*pendingEvent, error) {
		r.setStatus(run, models.RunStatusSucceeded, nil)
		return &pendingEvent{name: EventRunCompleted}, nil
	}); err != nil {
		log.Error("workflow completion failed", "error", err)
		return
	}
	log.Info("workflow run succeeded")
}

// waitForResume parks until the pause flag clears or stop is set. It reports
// whether execution should continue.
func (r *Runner) waitForResume(ctx, sctx context.Context, w *worker, log *slog.Logger, caseID, runID string) bool {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		run, err := r.store.GetRun(sctx, caseID, runID)
		if err != nil {
			log.Error("workflow run reload failed", "error", err)
			return false
		}
		if run.Control.Stop {
			r.markStopped(sctx, log, caseID, runID)
			return false
		}
		if !run.Control.Pause {
			if _, err := r.update(sctx, caseID, runID, func(run *models.WorkflowRun) (*pendingEvent, error) {
				r.setStatus(run, models.RunStatusRunning, nil)
				return &pendingEvent{name: EventRunResumed}, nil
			}); err != nil {
				log.Error("workflow resume failed", "error", err)
				return false
			}
			log.Info("workflow run resumed")
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-w.wake:
		case <-ticker.C:
		}
	}
}

func (r *Runner) markStopped(ctx context.Context, log *slog.Logger, caseID, runID string) {
	if _, err := r.update(ctx, caseID, runID, func(run *models.WorkflowRun) (*pendingEvent, error) {
		r.setStatus(run, models.RunStatusStopped, nil)
		return &pendingEvent{name: EventRunStopped}, nil
	}); err != nil {
		log.Error("workflow stop failed", "error", err)
		return
	}
	log.Info("workflow run stopped")
}

// runPhase executes one phase and records its outcome. It reports whether
// the run should continue with the next phase.
func (r *Runner) runPhase(ctx, sctx context.Context, log *slog.Logger, caseID, runID, phase string) bool {
	if _, err := r.update(sctx, caseID, runID, func(run *models.WorkflowRun) (*pendingEvent, error) {
		r.setStatus(run, models.RunStatusRunning, &phase)
		state := &run.Phases[run.PhaseIndex(phase)]
		state.Status = models.PhaseStatusRunning
		state.StartedAt = ptr(r.now())
		return &pendingEvent{name: EventPhaseStarted, payload: map[string]any{"phase": phase}}, nil
	}); err != nil {
		log.Error("workflow phase start failed", "phase", phase, "error", err)
		return false
	}

	start := time.Now()
	result, err := r.invoke(ctx, caseID, runID, phase)
	if r.collector != nil && ctx.Err() == nil {
		r.collector.RecordPhase(phase, time.Since(start), err != nil)
	}
	if err != nil && ctx.Err() != nil {
		log.Warn("workflow phase interrupted by shutdown", "phase", phase, "error", err)
		return false
	}
	if err != nil {
		r.failPhase(sctx, log, caseID, runID, phase, err)
		return false
	}

	summary := BuildSummary(result.output)
	if _, err := r.update(sctx, caseID, runID, func(run *models.WorkflowRun) (*pendingEvent, error) {
		state := &run.Phases[run.PhaseIndex(phase)]
		state.Status = models.PhaseStatusSucceeded
		state.RunID = &result.id
		state.Artifacts = artifactsOf(result.output)
		state.Summary = summary
		state.CompletedAt = ptr(r.now())
		return &pendingEvent{name: EventPhaseCompleted, payload: map[string]any{"phase": phase, "summary": summary}}, nil
	}); err != nil {
		log.Error("workflow phase completion failed", "phase", phase, "error", err)
		return false
	}
	log.Info("workflow phase completed", "phase", phase, "duration_ms", time.Since(start).Milliseconds())
	return true
}

func (r *Runner) failPhase(ctx context.Context, log *slog.Logger, caseID, runID, phase string, cause error) {
	msg := cause.Error()
	if _, err := r.update(ctx, caseID, runID, func(run *models.WorkflowRun) (*pendingEvent, error) {
		state := &run.Phases[run.PhaseIndex(phase)]
		state.Status = models.PhaseStatusFailed
		state.Error = &msg
		state.CompletedAt = ptr(r.now())
		r.setStatus(run, models.RunStatusFailed, &phase)
		return &pendingEvent{name: EventPhaseFailed, payload: map[string]any{"phase": phase, "error": msg}}, nil
	}); err != nil {
		log.Error("workflow phase failure not recorded", "phase", phase, "error", err)
		return
	}
	log.Warn("workflow phase failed", "phase", phase, "error", msg)
}

type phaseResult struct {
	id     string
	output map[string]any
}

// invoke runs the phase handler, merges any extraction into the graph and
// persists the output as a phase-run record.
func (r *Runner) invoke(ctx context.Context, caseID, runID, phase string) (res phaseResult, err error) {
	handler, ok := r.registry.Lookup(phase)
	if !ok {
		return res, fmt.Errorf("%w: %q", ErrUnknownPhase, phase)
	}

	output, err := callHandler(ctx, handler, caseID, map[string]any{"run_id": runID, "phase": phase})
	if err != nil {
		return res, err
	}
	if output == nil {
		output = map[string]any{}
	}

	if r.graph != nil {
		ext, ok, err := extractionOf(output)
		if err != nil {
			return res, err
		}
		if ok {
			delta, err := r.graph.ApplyExtraction(ctx, caseID, ext)
			if err != nil {
				return res, fmt.Errorf("apply extraction: %w", err)
			}
			if _, set := output[KeyGraphDelta]; !set {
				output[KeyGraphDelta] = deltaMap(delta)
			}
		}
	}

	pr := models.PhaseRun{
		ID:        uuid.NewString(),
		CaseID:    caseID,
		RunID:     runID,
		Phase:     phase,
		Output:    output,
		CreatedAt: r.now(),
	}
	if err := r.store.SavePhaseRun(context.WithoutCancel(ctx), pr); err != nil {
		return res, fmt.Errorf("save phase run: %w", err)
	}
	return phaseResult{id: pr.ID, output: output}, nil
}

func callHandler(ctx context.Context, h Handler, caseID string, payload map[string]any) (out map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("phase handler panic: %v", p)
		}
	}()
	return h.Handle(ctx, caseID, payload)
}

// setStatus sets the run status and current phase, stamping completion for
// terminal statuses.
func (r *Runner) setStatus(run *models.WorkflowRun, status models.RunStatus, currentPhase *string) {
	run.Status = status
	run.CurrentPhase = currentPhase
	if status.Terminal() {
		run.CompletedAt = ptr(r.now())
	} else {
		run.CompletedAt = nil
	}
}

type pendingEvent struct {
	name    string
	payload map[string]any
}

var errNoChange = errors.New("no change")

// update applies fn to the stored run under the run's lock, appends the
// event fn returns and then replaces the record, so a reader that sees the
// new status finds its event in the log. When fn returns errNoChange the
// stored run is returned untouched.
func (r *Runner) update(ctx context.Context, caseID, runID string, fn func(*models.WorkflowRun) (*pendingEvent, error)) (*models.WorkflowRun, error) {
	return r.updateThen(ctx, caseID, runID, fn, nil)
}

// updateThen is update with then called under the same lock once both
// writes succeeded.
func (r *Runner) updateThen(ctx context.Context, caseID, runID string, fn func(*models.WorkflowRun) (*pendingEvent, error), then func() error) (*models.WorkflowRun, error) {
	unlock := r.locks.lock(caseID + "/" + runID)
	defer unlock()

	run, err := r.store.GetRun(ctx, caseID, runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}

	ev, err := fn(run)
	if errors.Is(err, errNoChange) {
		return run, nil
	}
	if err != nil {
		return nil, err
	}

	if ev != nil {
		payload := ev.payload
		if payload == nil {
			payload = map[string]any{}
		}
		if _, err := r.store.AppendEvent(ctx, caseID, runID, ev.name, payload); err != nil {
			return nil, fmt.Errorf("append %s: %w", ev.name, err)
		}
	}
	run.UpdatedAt = r.now()
	if err := r.store.PutRun(ctx, run); err != nil {
		return nil, fmt.Errorf("write run: %w", err)
	}
	if then != nil {
		if err := then(); err != nil {
			return nil, err
		}
	}
	return run, nil
}

func ptr[T any](v T) *T { return &v }
