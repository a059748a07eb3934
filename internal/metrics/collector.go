// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"strings"
	"sync"
	"time"
)

// Operation names for the collector.
const (
	OpTimelineQuery = "timeline_query"
	OpEnrichment    = "enrichment"
	OpLLMGenerate   = "llm_generate"
	OpDBQuery       = "db_query"
)

// phasePrefix namespaces per-phase timings recorded by RecordPhase.
const phasePrefix = "phase:"

// timing aggregates the durations of one operation.
type timing struct {
	count    int64
	failures int64
	total    time.Duration
	min      time.Duration
	max      time.Duration

	// nil until the operation reports token usage
	tokens *tokenUsage
}

type tokenUsage struct {
	totalIn, totalOut int64
	minIn, maxIn      int64
	minOut, maxOut    int64
}

func (t *timing) observe(d time.Duration) {
	if t.count == 0 || d < t.min {
		t.min = d
	}
	if d > t.max {
		t.max = d
	}
	t.count++
	t.total += d
}

func (u *tokenUsage) observe(in, out int64) {
	u.totalIn += in
	u.totalOut += out
	u.minIn, u.maxIn = min(u.minIn, in), max(u.maxIn, in)
	u.minOut, u.maxOut = min(u.minOut, out), max(u.maxOut, out)
}

// OperationSnapshot provides computed stats for one operation.
type OperationSnapshot struct {
	Count       int64          `json:"count"`
	Failures    int64          `json:"failures,omitempty"`
	TotalTimeMs int64          `json:"total_time_ms"`
	AvgTimeMs   float64        `json:"avg_time_ms"`
	MinTimeMs   int64          `json:"min_time_ms"`
	MaxTimeMs   int64          `json:"max_time_ms"`
	Tokens      *TokenSnapshot `json:"tokens,omitempty"`
}

// TokenSnapshot summarizes the token usage of an LLM operation.
type TokenSnapshot struct {
	TotalInput  int64   `json:"total_input"`
	TotalOutput int64   `json:"total_output"`
	AvgInput    float64 `json:"avg_input"`
	AvgOutput   float64 `json:"avg_output"`
	MinInput    int64   `json:"min_input"`
	MaxInput    int64   `json:"max_input"`
	MinOutput   int64   `json:"min_output"`
	MaxOutput   int64   `json:"max_output"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64                       `json:"uptime_seconds"`
	TimelineQuery *OperationSnapshot            `json:"timeline_query,omitempty"`
	Enrichment    *OperationSnapshot            `json:"enrichment,omitempty"`
	LLMGenerate   *OperationSnapshot            `json:"llm_generate,omitempty"`
	DBQuery       *OperationSnapshot            `json:"db_query,omitempty"`
	Phases        map[string]*OperationSnapshot `json:"phases,omitempty"`
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*timing
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*timing),
	}
}

// op returns the aggregate for name, creating it. Caller must hold the write lock.
func (c *Collector) op(name string) *timing {
	t, ok := c.ops[name]
	if !ok {
		t = &timing{}
		c.ops[name] = t
	}
	return t
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.op(op).observe(duration)
}

// RecordPhase records one workflow phase execution and whether it failed.
func (c *Collector) RecordPhase(phase string, duration time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.op(phasePrefix + phase)
	t.observe(duration)
	if failed {
		t.failures++
	}
}

// RecordLLMUsage records timing and token usage for an LLM operation.
func (c *Collector) RecordLLMUsage(op string, duration time.Duration, inputTokens, outputTokens int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.op(op)
	t.observe(duration)
	if t.tokens == nil {
		t.tokens = &tokenUsage{minIn: math.MaxInt64, minOut: math.MaxInt64}
	}
	t.tokens.observe(inputTokens, outputTokens)
}

func (t *timing) snapshot() *OperationSnapshot {
	if t == nil || t.count == 0 {
		return nil
	}
	snap := &OperationSnapshot{
		Count:       t.count,
		Failures:    t.failures,
		TotalTimeMs: t.total.Milliseconds(),
		AvgTimeMs:   float64(t.total.Milliseconds()) / float64(t.count),
		MinTimeMs:   t.min.Milliseconds(),
		MaxTimeMs:   t.max.Milliseconds(),
	}
	if u := t.tokens; u != nil && (u.totalIn > 0 || u.totalOut > 0) {
		snap.Tokens = &TokenSnapshot{
			TotalInput:  u.totalIn,
			TotalOutput: u.totalOut,
			AvgInput:    float64(u.totalIn) / float64(t.count),
			AvgOutput:   float64(u.totalOut) / float64(t.count),
			MinInput:    u.minIn,
			MaxInput:    u.maxIn,
			MinOutput:   u.minOut,
			MaxOutput:   u.maxOut,
		}
	}
	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		TimelineQuery: c.ops[OpTimelineQuery].snapshot(),
		Enrichment:    c.ops[OpEnrichment].snapshot(),
		LLMGenerate:   c.ops[OpLLMGenerate].snapshot(),
		DBQuery:       c.ops[OpDBQuery].snapshot(),
	}
	for name, t := range c.ops {
		phase, ok := strings.CutPrefix(name, phasePrefix)
		if !ok {
			continue
		}
		if snap.Phases == nil {
			snap.Phases = make(map[string]*OperationSnapshot)
		}
		snap.Phases[phase] = t.snapshot()
	}
	return snap
}
