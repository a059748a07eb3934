package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/casegraph/internal/metrics"
	"github.com/raphaelgruber/casegraph/internal/models"
)

const testCase = "case-42"

// callSpy counts handler invocations per phase.
type callSpy struct {
	mu    sync.Mutex
	calls map[string]int
}

func (s *callSpy) record(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[phase]++
}

func (s *callSpy) count(phase string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[phase]
}

func (s *callSpy) handler(phase string, fn func(ctx context.Context) (map[string]any, error)) Handler {
	return HandlerFunc(func(ctx context.Context, caseID string, payload map[string]any) (map[string]any, error) {
		s.record(phase)
		if fn == nil {
			return map[string]any{}, nil
		}
		return fn(ctx)
	})
}

func newTestRunner(t *testing.T, handlers map[string]Handler, opts ...Option) (*Runner, *MemoryStore) {
	t.Helper()
	reg := NewRegistry()
	for name, h := range handlers {
		require.NoError(t, reg.Register(name, h))
	}
	store := NewMemoryStore()
	opts = append([]Option{WithPollInterval(5 * time.Millisecond)}, opts...)
	r := NewRunner(store, reg, opts...)
	t.Cleanup(func() { _ = r.Shutdown(2 * time.Second) })
	return r, store
}

func waitRun(t *testing.T, r *Runner, runID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx, runID))
}

func eventNames(t *testing.T, r *Runner, runID string) []string {
	t.Helper()
	events, next, err := r.ReadEvents(context.Background(), testCase, runID, 0)
	require.NoError(t, err)
	require.Equal(t, len(events), next)
	names := make([]string, len(events))
	for i, ev := range events {
		assert.Equal(t, i, ev.Seq)
		names[i] = ev.Event
	}
	return names
}

func TestRunner_Lifecycle(t *testing.T) {
	spy := &callSpy{}
	r, store := newTestRunner(t, map[string]Handler{
		"ingestion": spy.handler("ingestion", func(context.Context) (map[string]any, error) {
			return map[string]any{
				"graph_delta": map[string]any{"nodes": 3},
				"events":      []any{"a", "b"},
				"artifacts":   []any{map[string]any{"path": "doc.pdf"}, "ignored"},
			}, nil
		}),
		"timeline": spy.handler("timeline", func(context.Context) (map[string]any, error) {
			return map[string]any{"citations": []string{"doc-1"}}, nil
		}),
	})
	ctx := context.Background()

	run, err := r.StartRun(ctx, testCase, []string{"ingestion", "timeline"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ingestion", "timeline"}, run.RequestedPhases)
	waitRun(t, r, run.RunID)

	assert.Equal(t, []string{
		EventRunCreated,
		EventRunStarted,
		EventPhaseStarted,
		EventPhaseCompleted,
		EventPhaseStarted,
		EventPhaseCompleted,
		EventRunCompleted,
	}, eventNames(t, r, run.RunID))

	got, err := r.GetRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, got.Status)
	assert.Nil(t, got.CurrentPhase)
	require.NotNil(t, got.CompletedAt)
	for _, p := range got.Phases {
		assert.Equal(t, models.PhaseStatusSucceeded, p.Status, p.Phase)
		assert.NotNil(t, p.StartedAt, p.Phase)
		assert.NotNil(t, p.CompletedAt, p.Phase)
		require.NotNil(t, p.RunID, p.Phase)
		_, saved := store.PhaseRun(*p.RunID)
		assert.True(t, saved, p.Phase)
	}
	assert.Equal(t, map[string]any{"nodes": 3, "timeline_events": 2}, got.Phases[0].Summary)
	assert.Equal(t, []map[string]any{{"path": "doc.pdf"}}, got.Phases[0].Artifacts)
	assert.Equal(t, map[string]any{"citations": 1}, got.Phases[1].Summary)
	assert.Equal(t, 1, spy.count("ingestion"))
	assert.Equal(t, 1, spy.count("timeline"))
}

func TestRunner_PauseAndResume(t *testing.T) {
	spy := &callSpy{}
	entered := make(chan struct{})
	release := make(chan struct{})
	r, _ := newTestRunner(t, map[string]Handler{
		"ingestion": spy.handler("ingestion", func(context.Context) (map[string]any, error) {
			close(entered)
			<-release
			return nil, nil
		}),
		"timeline":  spy.handler("timeline", nil),
		"forensics": spy.handler("forensics", nil),
	})
	ctx := context.Background()

	run, err := r.StartRun(ctx, testCase, []string{"ingestion", "timeline", "forensics"})
	require.NoError(t, err)

	<-entered
	_, err = r.PauseRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	close(release)

	require.Eventually(t, func() bool {
		got, err := r.GetRun(ctx, testCase, run.RunID)
		return err == nil && got.Status == models.RunStatusPaused
	}, 5*time.Second, 5*time.Millisecond)

	paused, err := r.GetRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	require.NotNil(t, paused.CurrentPhase)
	assert.Equal(t, "timeline", *paused.CurrentPhase)
	assert.Equal(t, models.PhaseStatusSucceeded, paused.Phases[0].Status)
	assert.Equal(t, models.PhaseStatusQueued, paused.Phases[1].Status)
	assert.Zero(t, spy.count("timeline"))

	_, err = r.ResumeRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	waitRun(t, r, run.RunID)

	got, err := r.GetRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, got.Status)
	assert.False(t, got.Control.Pause)
	for _, phase := range []string{"ingestion", "timeline", "forensics"} {
		assert.Equal(t, 1, spy.count(phase), phase)
	}

	assert.Equal(t, []string{
		EventRunCreated,
		EventRunStarted,
		EventPhaseStarted,
		EventPauseRequested,
		EventPhaseCompleted,
		EventRunPaused,
		EventRunResumed,
		EventPhaseStarted,
		EventPhaseCompleted,
		EventPhaseStarted,
		EventPhaseCompleted,
		EventRunCompleted,
	}, eventNames(t, r, run.RunID))
}

func TestRunner_FailureAndRetry(t *testing.T) {
	spy := &callSpy{}
	var mu sync.Mutex
	broken := true
	r, _ := newTestRunner(t, map[string]Handler{
		"ingestion": spy.handler("ingestion", nil),
		"forensics": spy.handler("forensics", func(context.Context) (map[string]any, error) {
			mu.Lock()
			defer mu.Unlock()
			if broken {
				return nil, errors.New("hash mismatch")
			}
			return map[string]any{"forensics": map[string]any{"artifacts": []any{"a", "b"}}}, nil
		}),
	})
	ctx := context.Background()

	run, err := r.StartRun(ctx, testCase, []string{"ingestion", "forensics"})
	require.NoError(t, err)
	waitRun(t, r, run.RunID)

	failed, err := r.GetRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, failed.Status)
	require.NotNil(t, failed.CurrentPhase)
	assert.Equal(t, "forensics", *failed.CurrentPhase)
	assert.Equal(t, models.PhaseStatusFailed, failed.Phases[1].Status)
	require.NotNil(t, failed.Phases[1].Error)
	assert.Equal(t, "hash mismatch", *failed.Phases[1].Error)

	mu.Lock()
	broken = false
	mu.Unlock()

	retried, err := r.RetryPhase(ctx, testCase, run.RunID, "forensics")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, retried.Status)
	assert.Equal(t, models.PhaseStatusQueued, retried.Phases[1].Status)
	assert.Nil(t, retried.Phases[1].Error)
	waitRun(t, r, run.RunID)

	got, err := r.GetRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, got.Status)
	assert.Equal(t, models.PhaseStatusSucceeded, got.Phases[1].Status)
	assert.Equal(t, map[string]any{"forensics_artifacts": 2}, got.Phases[1].Summary)
	assert.Equal(t, 1, spy.count("ingestion"))
	assert.Equal(t, 2, spy.count("forensics"))

	events, _, err := r.ReadEvents(ctx, testCase, run.RunID, 0)
	require.NoError(t, err)
	var retry, restart *models.RunEvent
	for i := range events {
		switch events[i].Event {
		case EventPhaseRetryRequested:
			retry = &events[i]
		case EventRunStarted:
			restart = &events[i]
		}
	}
	require.NotNil(t, retry)
	assert.Equal(t, "forensics", retry.Payload["phase"])
	require.NotNil(t, restart)
	assert.Equal(t, 1, restart.Payload["start_index"])
}

func TestRunner_RetryFirstFailedWhenPhaseOmitted(t *testing.T) {
	fail := true
	var mu sync.Mutex
	r, _ := newTestRunner(t, map[string]Handler{
		"ingestion": HandlerFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
			mu.Lock()
			defer mu.Unlock()
			if fail {
				fail = false
				return nil, errors.New("boom")
			}
			return nil, nil
		}),
	})
	ctx := context.Background()

	run, err := r.StartRun(ctx, testCase, []string{"ingestion"})
	require.NoError(t, err)
	waitRun(t, r, run.RunID)

	_, err = r.RetryPhase(ctx, testCase, run.RunID, "")
	require.NoError(t, err)
	waitRun(t, r, run.RunID)

	got, err := r.GetRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, got.Status)
}

func TestRunner_RetryWithoutFailureIsNoop(t *testing.T) {
	r, _ := newTestRunner(t, map[string]Handler{"ingestion": HandlerFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
		return nil, nil
	})})
	ctx := context.Background()

	run, err := r.StartRun(ctx, testCase, []string{"ingestion"})
	require.NoError(t, err)
	waitRun(t, r, run.RunID)
	before := eventNames(t, r, run.RunID)

	got, err := r.RetryPhase(ctx, testCase, run.RunID, "")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, got.Status)
	assert.Equal(t, before, eventNames(t, r, run.RunID))

	_, err = r.RetryPhase(ctx, testCase, run.RunID, "drafting")
	assert.ErrorIs(t, err, ErrUnknownPhase)
}

func TestRunner_HandlerPanicFailsPhase(t *testing.T) {
	r, _ := newTestRunner(t, map[string]Handler{
		"ingestion": HandlerFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
			panic("nil map")
		}),
	})
	ctx := context.Background()

	run, err := r.StartRun(ctx, testCase, []string{"ingestion"})
	require.NoError(t, err)
	waitRun(t, r, run.RunID)

	got, err := r.GetRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	require.NotNil(t, got.Phases[0].Error)
	assert.Contains(t, *got.Phases[0].Error, "nil map")
}

func TestRunner_StopWhilePaused(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	r, _ := newTestRunner(t, map[string]Handler{
		"ingestion": HandlerFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
			close(entered)
			<-release
			return nil, nil
		}),
		"timeline": HandlerFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
			t.Error("timeline must not run after stop")
			return nil, nil
		}),
	})
	ctx := context.Background()

	run, err := r.StartRun(ctx, testCase, []string{"ingestion", "timeline"})
	require.NoError(t, err)
	<-entered
	_, err = r.PauseRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	close(release)

	require.Eventually(t, func() bool {
		got, err := r.GetRun(ctx, testCase, run.RunID)
		return err == nil && got.Status == models.RunStatusPaused
	}, 5*time.Second, 5*time.Millisecond)

	_, err = r.StopRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	waitRun(t, r, run.RunID)

	got, err := r.GetRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusStopped, got.Status)
	require.NotNil(t, got.CompletedAt)
	names := eventNames(t, r, run.RunID)
	assert.Equal(t, EventRunStopped, names[len(names)-1])
}

func TestRunner_StopQueuedRun(t *testing.T) {
	r, _ := newTestRunner(t, map[string]Handler{"ingestion": HandlerFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
		return nil, nil
	})})
	ctx := context.Background()

	run, err := r.CreateRun(ctx, testCase, []string{"ingestion"})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusQueued, run.Status)

	got, err := r.StopRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusStopped, got.Status)
	assert.Equal(t, []string{EventRunCreated, EventStopRequested, EventRunStopped}, eventNames(t, r, run.RunID))
}

func TestRunner_ResumePausedRunWithoutWorker(t *testing.T) {
	spy := &callSpy{}
	handlers := map[string]Handler{
		"ingestion": spy.handler("ingestion", nil),
		"timeline":  spy.handler("timeline", nil),
	}
	r, store := newTestRunner(t, handlers)
	ctx := context.Background()

	run, err := r.CreateRun(ctx, testCase, []string{"ingestion", "timeline"})
	require.NoError(t, err)
	run.Status = models.RunStatusPaused
	run.Control.Pause = true
	run.Phases[0].Status = models.PhaseStatusSucceeded
	require.NoError(t, store.PutRun(ctx, run))

	_, err = r.ResumeRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	waitRun(t, r, run.RunID)

	got, err := r.GetRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, got.Status)
	assert.Zero(t, spy.count("ingestion"))
	assert.Equal(t, 1, spy.count("timeline"))
}

func TestRunner_ResumePausedRunWithNothingQueued(t *testing.T) {
	r, store := newTestRunner(t, map[string]Handler{"ingestion": HandlerFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
		t.Error("handler must not run")
		return nil, nil
	})})
	ctx := context.Background()

	run, err := r.CreateRun(ctx, testCase, []string{"ingestion"})
	require.NoError(t, err)
	run.Status = models.RunStatusPaused
	run.Control.Pause = true
	run.Phases[0].Status = models.PhaseStatusSucceeded
	require.NoError(t, store.PutRun(ctx, run))

	got, err := r.ResumeRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, got.Status)
	assert.False(t, r.alive(run.RunID))
}

func TestRunner_ResumeIncompleteAfterCrash(t *testing.T) {
	spy := &callSpy{}
	r, store := newTestRunner(t, map[string]Handler{
		"ingestion": spy.handler("ingestion", nil),
		"timeline":  spy.handler("timeline", nil),
		"forensics": spy.handler("forensics", nil),
	})
	ctx := context.Background()

	run, err := r.CreateRun(ctx, testCase, []string{"ingestion", "timeline", "forensics"})
	require.NoError(t, err)
	run.Status = models.RunStatusRunning
	run.Phases[0].Status = models.PhaseStatusSucceeded
	run.Phases[1].Status = models.PhaseStatusRunning
	require.NoError(t, store.PutRun(ctx, run))

	require.NoError(t, r.Start(ctx))
	waitRun(t, r, run.RunID)

	got, err := r.GetRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, got.Status)
	assert.Zero(t, spy.count("ingestion"))
	assert.Equal(t, 1, spy.count("timeline"))
	assert.Equal(t, 1, spy.count("forensics"))
}

func TestRunner_SpawnIsIdempotentWhileAlive(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	r, _ := newTestRunner(t, map[string]Handler{
		"ingestion": HandlerFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
			close(entered)
			<-release
			return nil, nil
		}),
	})
	ctx := context.Background()

	run, err := r.StartRun(ctx, testCase, []string{"ingestion"})
	require.NoError(t, err)
	<-entered

	spawned, err := r.spawn(testCase, run.RunID, 0)
	require.NoError(t, err)
	assert.False(t, spawned)

	_, err = r.RetryPhase(ctx, testCase, run.RunID, "ingestion")
	assert.ErrorIs(t, err, ErrRunActive)

	close(release)
	waitRun(t, r, run.RunID)
}

func TestRunner_CreateRunValidation(t *testing.T) {
	noop := HandlerFunc(func(context.Context, string, map[string]any) (map[string]any, error) { return nil, nil })
	r, _ := newTestRunner(t, map[string]Handler{"ingestion": noop, "timeline": noop})
	ctx := context.Background()

	_, err := r.CreateRun(ctx, "", []string{"ingestion"})
	assert.ErrorIs(t, err, ErrCaseRequired)

	_, err = r.CreateRun(ctx, testCase, []string{"ingestion", "astrology"})
	assert.ErrorIs(t, err, ErrUnknownPhase)

	_, err = r.CreateRun(ctx, testCase, []string{"ingestion", "ingestion"})
	assert.ErrorIs(t, err, ErrDuplicatePhase)

	_, err = r.CreateRun(ctx, testCase, nil)
	assert.ErrorIs(t, err, ErrNoPhases)
}

func TestRunner_DefaultPlan(t *testing.T) {
	noop := HandlerFunc(func(context.Context, string, map[string]any) (map[string]any, error) { return nil, nil })
	r, _ := newTestRunner(t, map[string]Handler{"ingestion": noop, "timeline": noop},
		WithDefaultPhases([]string{"ingestion", "timeline"}))

	run, err := r.CreateRun(context.Background(), testCase, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ingestion", "timeline"}, run.RequestedPhases)
}

// recordingGraph is a GraphWriter returning a fixed delta.
type recordingGraph struct {
	mu  sync.Mutex
	got []models.Extraction
}

func (g *recordingGraph) ApplyExtraction(_ context.Context, _ string, ext models.Extraction) (models.GraphDelta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.got = append(g.got, ext)
	return models.GraphDelta{Nodes: len(ext.Entities), Edges: len(ext.Relations)}, nil
}

func TestRunner_AppliesExtractionToGraph(t *testing.T) {
	graph := &recordingGraph{}
	collector := metrics.NewCollector()
	r, store := newTestRunner(t, map[string]Handler{
		"fact_extraction": HandlerFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
			return map[string]any{
				"entities": []models.ExtractedEntity{
					{ID: "acme-corp", Type: "Organization", Docs: []string{"doc-1"}},
					{ID: "jane-doe", Type: "Person"},
				},
				"relations": []models.GraphEdge{{Source: "acme-corp", Target: "jane-doe", Type: "EMPLOYS"}},
			}, nil
		}),
	}, WithGraphWriter(graph), WithCollector(collector))
	ctx := context.Background()

	run, err := r.StartRun(ctx, testCase, []string{"fact_extraction"})
	require.NoError(t, err)
	waitRun(t, r, run.RunID)

	got, err := r.GetRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusSucceeded, got.Status)
	assert.Equal(t, map[string]any{"nodes": 2, "edges": 1, "mentions": 0}, got.Phases[0].Summary)

	require.Len(t, graph.got, 1)
	assert.Equal(t, []string{"doc-1"}, graph.got[0].Entities[0].Docs)

	pr, ok := store.PhaseRun(*got.Phases[0].RunID)
	require.True(t, ok)
	assert.Contains(t, pr.Output, "graph_delta")

	snap := collector.Snapshot()
	require.Contains(t, snap.Phases, "fact_extraction")
	assert.Equal(t, int64(1), snap.Phases["fact_extraction"].Count)
}

func TestRunner_ConcurrentControlUpdates(t *testing.T) {
	noop := HandlerFunc(func(context.Context, string, map[string]any) (map[string]any, error) { return nil, nil })
	r, _ := newTestRunner(t, map[string]Handler{"ingestion": noop})
	ctx := context.Background()

	run, err := r.CreateRun(ctx, testCase, []string{"ingestion"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.PauseRun(ctx, testCase, run.RunID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	names := eventNames(t, r, run.RunID)
	assert.Len(t, names, 26)
	got, err := r.GetRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	assert.True(t, got.Control.Pause)
	assert.Len(t, got.Phases, 1)
}

func TestRunner_ReadEventsSince(t *testing.T) {
	noop := HandlerFunc(func(context.Context, string, map[string]any) (map[string]any, error) { return nil, nil })
	r, _ := newTestRunner(t, map[string]Handler{"ingestion": noop})
	ctx := context.Background()

	run, err := r.StartRun(ctx, testCase, []string{"ingestion"})
	require.NoError(t, err)
	waitRun(t, r, run.RunID)

	all, next, err := r.ReadEvents(ctx, testCase, run.RunID, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, 5, next)

	tail, next, err := r.ReadEvents(ctx, testCase, run.RunID, 3)
	require.NoError(t, err)
	assert.Equal(t, all[3:], tail)
	assert.Equal(t, 5, next)

	tail, next, err = r.ReadEvents(ctx, testCase, run.RunID, next)
	require.NoError(t, err)
	assert.Empty(t, tail)
	assert.Equal(t, 5, next)

	_, _, err = r.ReadEvents(ctx, "other-case", run.RunID, 0)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunner_ExecuteRun(t *testing.T) {
	spy := &callSpy{}
	r, _ := newTestRunner(t, map[string]Handler{"ingestion": spy.handler("ingestion", nil)})
	ctx := context.Background()

	run, err := r.CreateRun(ctx, testCase, []string{"ingestion"})
	require.NoError(t, err)
	require.NoError(t, r.ExecuteRun(ctx, run.RunID))

	got, err := r.GetRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, got.Status)
	assert.Equal(t, 1, spy.count("ingestion"))

	assert.ErrorIs(t, r.ExecuteRun(ctx, "missing"), ErrRunNotFound)
}

func TestRunner_ShutdownReleasesParkedWorkers(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	noop := HandlerFunc(func(context.Context, string, map[string]any) (map[string]any, error) { return nil, nil })
	reg := NewRegistry()
	require.NoError(t, reg.Register("ingestion", HandlerFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
		close(entered)
		<-release
		return nil, nil
	})))
	require.NoError(t, reg.Register("timeline", noop))
	r := NewRunner(NewMemoryStore(), reg, WithPollInterval(time.Hour))
	ctx := context.Background()

	run, err := r.StartRun(ctx, testCase, []string{"ingestion", "timeline"})
	require.NoError(t, err)
	<-entered
	_, err = r.PauseRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	close(release)

	require.Eventually(t, func() bool {
		got, err := r.GetRun(ctx, testCase, run.RunID)
		return err == nil && got.Status == models.RunStatusPaused
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, r.Shutdown(2*time.Second))

	got, err := r.GetRun(ctx, testCase, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, got.Status)

	_, err = r.StartRun(ctx, testCase, []string{"timeline"})
	assert.ErrorIs(t, err, ErrRunnerClosed)
}

func TestRegistry(t *testing.T) {
	noop := HandlerFunc(func(context.Context, string, map[string]any) (map[string]any, error) { return nil, nil })
	reg := NewRegistry()
	require.NoError(t, reg.Register("b", noop))
	require.NoError(t, reg.Register("a", noop))

	assert.ErrorIs(t, reg.Register("a", noop), ErrDuplicatePhase)
	assert.Error(t, reg.Register("", noop))
	assert.Error(t, reg.Register("c", nil))
	assert.Equal(t, []string{"b", "a"}, reg.Names())

	_, ok := reg.Lookup("a")
	assert.True(t, ok)
	_, ok = reg.Lookup("z")
	assert.False(t, ok)
}

// failingPutStore rejects run record writes once failPut is set.
type failingPutStore struct {
	*MemoryStore
	failPut atomic.Bool
}

func (s *failingPutStore) PutRun(ctx context.Context, run *models.WorkflowRun) error {
	if s.failPut.Load() {
		return errors.New("disk full")
	}
	return s.MemoryStore.PutRun(ctx, run)
}

func TestRunner_NoWorkerWhenControlWriteFails(t *testing.T) {
	spy := &callSpy{}
	reg := NewRegistry()
	require.NoError(t, reg.Register("ingestion", spy.handler("ingestion", nil)))
	require.NoError(t, reg.Register("timeline", spy.handler("timeline", nil)))
	store := &failingPutStore{MemoryStore: NewMemoryStore()}
	r := NewRunner(store, reg, WithPollInterval(5*time.Millisecond))
	t.Cleanup(func() { _ = r.Shutdown(2 * time.Second) })
	ctx := context.Background()

	paused, err := r.CreateRun(ctx, testCase, []string{"ingestion", "timeline"})
	require.NoError(t, err)
	paused.Status = models.RunStatusPaused
	paused.Control.Pause = true
	paused.Phases[0].Status = models.PhaseStatusSucceeded
	require.NoError(t, store.MemoryStore.PutRun(ctx, paused))

	msg := "boom"
	failed, err := r.CreateRun(ctx, testCase, []string{"ingestion"})
	require.NoError(t, err)
	failed.Status = models.RunStatusFailed
	failed.Phases[0].Status = models.PhaseStatusFailed
	failed.Phases[0].Error = &msg
	require.NoError(t, store.MemoryStore.PutRun(ctx, failed))

	store.failPut.Store(true)

	_, err = r.ResumeRun(ctx, testCase, paused.RunID)
	require.Error(t, err)
	assert.False(t, r.alive(paused.RunID))

	_, err = r.RetryPhase(ctx, testCase, failed.RunID, "")
	require.Error(t, err)
	assert.False(t, r.alive(failed.RunID))

	assert.Zero(t, spy.count("ingestion"))
	assert.Zero(t, spy.count("timeline"))

	got, err := r.GetRun(ctx, testCase, failed.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
}

// terminalOrderStore records terminal run writes whose closing event is not
// yet in the log.
type terminalOrderStore struct {
	*MemoryStore
	mu      sync.Mutex
	missing []models.RunStatus
}

func (s *terminalOrderStore) PutRun(ctx context.Context, run *models.WorkflowRun) error {
	if run.Status.Terminal() {
		events, _, _ := s.ReadEvents(ctx, run.CaseID, run.RunID, 0)
		closing := map[string]bool{EventRunCompleted: true, EventRunStopped: true, EventPhaseFailed: true}
		if len(events) == 0 || !closing[events[len(events)-1].Event] {
			s.mu.Lock()
			s.missing = append(s.missing, run.Status)
			s.mu.Unlock()
		}
	}
	return s.MemoryStore.PutRun(ctx, run)
}

func TestRunner_TerminalEventLoggedBeforeStatus(t *testing.T) {
	reg := NewRegistry()
	noop := HandlerFunc(func(context.Context, string, map[string]any) (map[string]any, error) { return nil, nil })
	require.NoError(t, reg.Register("ingestion", noop))
	require.NoError(t, reg.Register("drafting", HandlerFunc(func(context.Context, string, map[string]any) (map[string]any, error) {
		return nil, errors.New("model offline")
	})))
	store := &terminalOrderStore{MemoryStore: NewMemoryStore()}
	r := NewRunner(store, reg, WithPollInterval(5*time.Millisecond))
	t.Cleanup(func() { _ = r.Shutdown(2 * time.Second) })
	ctx := context.Background()

	ok, err := r.StartRun(ctx, testCase, []string{"ingestion"})
	require.NoError(t, err)
	waitRun(t, r, ok.RunID)

	failed, err := r.StartRun(ctx, testCase, []string{"ingestion", "drafting"})
	require.NoError(t, err)
	waitRun(t, r, failed.RunID)

	stopped, err := r.CreateRun(ctx, testCase, []string{"ingestion"})
	require.NoError(t, err)
	_, err = r.StopRun(ctx, testCase, stopped.RunID)
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.missing)
}
