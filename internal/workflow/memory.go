package workflow

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/casegraph/internal/models"
)

// MemoryStore is a RunStore kept in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	runs      map[string]*models.WorkflowRun
	events    map[string][]models.RunEvent
	phaseRuns map[string]models.PhaseRun
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:      make(map[string]*models.WorkflowRun),
		events:    make(map[string][]models.RunEvent),
		phaseRuns: make(map[string]models.PhaseRun),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateRun(_ context.Context, run *models.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.RunID]; exists {
		return fmt.Errorf("run %s already exists", run.RunID)
	}
	s.runs[run.RunID] = run.Clone()
	return nil
}

func (s *MemoryStore) PutRun(_ context.Context, run *models.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.RunID]; !exists {
		return ErrRunNotFound
	}
	s.runs[run.RunID] = run.Clone()
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, caseID, runID string) (*models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok || run.CaseID != caseID {
		return nil, ErrRunNotFound
	}
	return run.Clone(), nil
}

func (s *MemoryStore) FindRun(_ context.Context, runID string) (*models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run.Clone(), nil
}

func (s *MemoryStore) ListRuns(_ context.Context, statuses ...models.RunStatus) ([]*models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.WorkflowRun
	for _, run := range s.runs {
		if len(statuses) == 0 || slices.Contains(statuses, run.Status) {
			out = append(out, run.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.WorkflowRun) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, caseID, runID, event string, payload map[string]any) (models.RunEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := caseID + "/" + runID
	ev := models.RunEvent{
		Seq:       len(s.events[key]),
		Event:     event,
		Timestamp: s.now(),
		Payload:   maps.Clone(payload),
	}
	s.events[key] = append(s.events[key], ev)
	return ev, nil
}

func (s *MemoryStore) ReadEvents(_ context.Context, caseID, runID string, since int) ([]models.RunEvent, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.events[caseID+"/"+runID]
	if since >= len(log) {
		return []models.RunEvent{}, len(log), nil
	}
	return slices.Clone(log[since:]), len(log), nil
}

func (s *MemoryStore) SavePhaseRun(_ context.Context, pr models.PhaseRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phaseRuns[pr.ID] = pr
	return nil
}

// PhaseRun returns a saved phase-run record.
func (s *MemoryStore) PhaseRun(id string) (models.PhaseRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.phaseRuns[id]
	return pr, ok
}

// ListCaseRuns returns the runs of one case, newest first.
func (s *MemoryStore) ListCaseRuns(_ context.Context, caseID string) ([]*models.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.WorkflowRun
	for _, run := range s.runs {
		if run.CaseID == caseID {
			out = append(out, run.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.WorkflowRun) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetPhaseRun(_ context.Context, id string) (*models.PhaseRun, error) {
	pr, ok := s.PhaseRun(id)
	if !ok {
		return nil, ErrRunNotFound
	}
	return &pr, nil
}
