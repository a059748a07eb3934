// Package scheduler periodically re-enriches every case timeline so stored
// derived fields track graph changes between reads.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/raphaelgruber/casegraph/internal/timeline"
)

// CaseLister lists the cases that have a timeline.
type CaseLister interface {
	ListCases(ctx context.Context) ([]string, error)
}

// Refresher re-enriches one case timeline.
type Refresher interface {
	RefreshEnrichments(ctx context.Context, caseID string) (timeline.Stats, error)
}

// Status describes the most recent refresh pass.
type Status struct {
	Schedule   string    `json:"schedule"`
	LastRun    time.Time `json:"last_run,omitzero"`
	NextRun    time.Time `json:"next_run,omitzero"`
	Cases      int       `json:"cases"`
	Mutated    int       `json:"mutated"`
	Failed     int       `json:"failed"`
	DurationMs int64     `json:"duration_ms"`
}

// Scheduler runs enrichment refresh passes on a cron schedule.
type Scheduler struct {
	cases     CaseLister
	refresher Refresher
	logger    *slog.Logger
	spec      string
	timeout   time.Duration

	cron  *cron.Cron
	entry cron.EntryID

	mu     sync.Mutex
	status Status
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithPassTimeout bounds one refresh pass.
func WithPassTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a five-field cron expression or a descriptor such as
// "@hourly" or "@every 15m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	return specParser.Parse(spec)
}

// New creates a scheduler for spec. It does not run until Start.
func New(spec string, cases CaseLister, refresher Refresher, opts ...Option) (*Scheduler, error) {
	if _, err := ParseSchedule(spec); err != nil {
		return nil, fmt.Errorf("parse refresh schedule %q: %w", spec, err)
	}
	s := &Scheduler{
		cases:     cases,
		refresher: refresher,
		logger:    slog.Default(),
		spec:      spec,
		timeout:   10 * time.Minute,
		status:    Status{Schedule: spec},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cron = cron.New(
		cron.WithParser(specParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	entry, err := s.cron.AddFunc(spec, s.runScheduled)
	if err != nil {
		return nil, fmt.Errorf("schedule refresh: %w", err)
	}
	s.entry = entry
	return s, nil
}

// Start begins running passes in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("enrichment refresh scheduled", "schedule", s.spec, "next", s.cron.Entry(s.entry).Next)
}

// Stop stops scheduling and waits for a running pass to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the outcome of the last pass and the next planned run.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	st.NextRun = s.cron.Entry(s.entry).Next
	return st
}

func (s *Scheduler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RefreshAll(ctx); err != nil {
		s.logger.Warn("enrichment refresh pass failed", "error", err)
	}
}

// RefreshAll re-enriches every case once. Failures of single cases are
// logged and counted; only a failure to list cases is returned.
func (s *Scheduler) RefreshAll(ctx context.Context) (Status, error) {
	start := time.Now()
	cases, err := s.cases.ListCases(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("list cases: %w", err)
	}

	st := Status{Schedule: s.spec, LastRun: start.UTC(), Cases: len(cases)}
	for i, caseID := range cases {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("enrichment refresh interrupted", "remaining", len(cases)-i, "error", err)
			break
		}
		stats, err := s.refresher.RefreshEnrichments(ctx, caseID)
		if err != nil {
			st.Failed++
			s.logger.Warn("case enrichment refresh failed", "case", caseID, "error", err)
			continue
		}
		if stats.Mutated {
			st.Mutated++
		}
	}
	st.DurationMs = time.Since(start).Milliseconds()

	s.mu.Lock()
	s.status = st
	s.mu.Unlock()

	s.logger.Info("enrichment refresh pass complete",
		"cases", st.Cases,
		"mutated", st.Mutated,
		"failed", st.Failed,
		"duration_ms", st.DurationMs)
	return st, nil
}
