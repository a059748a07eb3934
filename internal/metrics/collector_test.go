package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpTimelineQuery, 10*time.Millisecond)
	c.RecordTiming(OpTimelineQuery, 30*time.Millisecond)

	snap := c.Snapshot()
	require.NotNil(t, snap.TimelineQuery)
	assert.Equal(t, int64(2), snap.TimelineQuery.Count)
	assert.Equal(t, int64(40), snap.TimelineQuery.TotalTimeMs)
	assert.InDelta(t, 20.0, snap.TimelineQuery.AvgTimeMs, 0.001)
	assert.Equal(t, int64(10), snap.TimelineQuery.MinTimeMs)
	assert.Equal(t, int64(30), snap.TimelineQuery.MaxTimeMs)
	assert.Nil(t, snap.TimelineQuery.Tokens)
	assert.Nil(t, snap.Enrichment)
	assert.Nil(t, snap.Phases)
}

func TestCollector_RecordPhase(t *testing.T) {
	c := NewCollector()
	c.RecordPhase("ingestion", 5*time.Millisecond, false)
	c.RecordPhase("ingestion", 7*time.Millisecond, true)
	c.RecordPhase("forensics", time.Millisecond, false)

	snap := c.Snapshot()
	require.Len(t, snap.Phases, 2)
	assert.Equal(t, int64(2), snap.Phases["ingestion"].Count)
	assert.Equal(t, int64(1), snap.Phases["ingestion"].Failures)
	assert.Equal(t, int64(5), snap.Phases["ingestion"].MinTimeMs)
	assert.Equal(t, int64(1), snap.Phases["forensics"].Count)
	assert.Zero(t, snap.Phases["forensics"].Failures)
	assert.Nil(t, snap.TimelineQuery)
}

func TestCollector_RecordLLMUsage(t *testing.T) {
	c := NewCollector()
	c.RecordLLMUsage(OpLLMGenerate, 100*time.Millisecond, 200, 50)
	c.RecordLLMUsage(OpLLMGenerate, 300*time.Millisecond, 100, 150)

	snap := c.Snapshot()
	require.NotNil(t, snap.LLMGenerate)
	tokens := snap.LLMGenerate.Tokens
	require.NotNil(t, tokens)
	assert.Equal(t, int64(300), tokens.TotalInput)
	assert.Equal(t, int64(200), tokens.TotalOutput)
	assert.Equal(t, int64(100), tokens.MinInput)
	assert.Equal(t, int64(50), tokens.MinOutput)
	assert.Equal(t, int64(150), tokens.MaxOutput)
	assert.InDelta(t, 100.0, tokens.AvgOutput, 0.001)
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordTiming(OpDBQuery, time.Millisecond)
			c.RecordPhase("timeline", time.Millisecond, false)
			_ = c.Snapshot()
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(50), snap.DBQuery.Count)
	assert.Equal(t, int64(50), snap.Phases["timeline"].Count)
}
