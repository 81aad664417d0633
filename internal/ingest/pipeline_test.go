package ingest_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd-25/Meetup/internal/chat"
	"github.com/dd-25/Meetup/internal/config"
	"github.com/dd-25/Meetup/internal/ingest"
	"github.com/dd-25/Meetup/internal/presence"
)

// memorySink records inserts and refuses duplicates on the event id, like
// the real conflict-tolerant sinks do.
type memorySink struct {
	mu      sync.Mutex
	rows    map[string]*chat.Event
	failIDs map[string]bool
}

func newMemorySink() *memorySink {
	return &memorySink{rows: make(map[string]*chat.Event), failIDs: make(map[string]bool)}
}

func (s *memorySink) InsertIgnore(_ context.Context, event *chat.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs[event.ID] {
		return false, fmt.Errorf("storage rejected %s", event.ID)
	}
	if _, ok := s.rows[event.ID]; ok {
		return false, nil
	}
	s.rows[event.ID] = event
	return true, nil
}

func (s *memorySink) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

func batchConfig(size int) config.BatchConfig {
	return config.BatchConfig{
		Size:           size,
		FlushInterval:  time.Hour, // timer must never fire during a test
		DedupTTL:       time.Hour,
		DrainMaxRounds: 20,
	}
}

func event(id string) *chat.Event {
	return &chat.Event{
		ID:             id,
		Content:        "hello",
		OrganizationID: "org-1",
		TeamID:         "team-1",
		SenderID:       "user-1",
		CreatedAt:      time.Now().UTC(),
	}
}

func TestEnqueueArmsTimerBelowThreshold(t *testing.T) {
	queue := presence.NewMemoryStore()
	sink := newMemorySink()
	p := ingest.NewPipeline(queue, sink, batchConfig(50))
	defer p.Stop()
	ctx := context.Background()

	status, err := p.Enqueue(ctx, event("e-1"))
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusQueued, status)

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.QueueSize)
	assert.True(t, stats.TimerArmed)
	assert.Equal(t, time.Hour.Milliseconds(), stats.FlushIntervalMs)

	// A second enqueue reuses the armed timer.
	_, err = p.Enqueue(ctx, event("e-2"))
	require.NoError(t, err)
	stats, err = p.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.TimerArmed)
}

func TestSizeThresholdTriggersFlush(t *testing.T) {
	queue := presence.NewMemoryStore()
	sink := newMemorySink()
	p := ingest.NewPipeline(queue, sink, batchConfig(3))
	defer p.Stop()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := p.Enqueue(ctx, event(fmt.Sprintf("e-%d", i)))
		require.NoError(t, err)
	}

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.QueueSize, "hitting the threshold must flush synchronously")
	assert.Equal(t, int64(3), stats.TotalPersisted)
	assert.False(t, stats.TimerArmed, "an empty queue leaves no timer armed")
}

func TestEnqueueDuplicateDropped(t *testing.T) {
	queue := presence.NewMemoryStore()
	sink := newMemorySink()
	p := ingest.NewPipeline(queue, sink, batchConfig(50))
	defer p.Stop()
	ctx := context.Background()

	_, err := p.Enqueue(ctx, event("e-1"))
	require.NoError(t, err)
	_, err = p.Flush(ctx)
	require.NoError(t, err)

	// The same event arrives again (at-least-once delivery upstream).
	status, err := p.Enqueue(ctx, event("e-1"))
	require.NoError(t, err)
	assert.Equal(t, ingest.StatusDuplicate, status)

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.QueueSize)
	assert.Equal(t, int64(1), stats.TotalPersisted)
}

func TestFlushDedupesWithinBatch(t *testing.T) {
	queue := presence.NewMemoryStore()
	sink := newMemorySink()
	p := ingest.NewPipeline(queue, sink, batchConfig(50))
	defer p.Stop()
	ctx := context.Background()

	// The same id queued twice before any flush: the dedup set cannot catch
	// it, the sink's conflict handling must.
	_, err := p.Enqueue(ctx, event("e-1"))
	require.NoError(t, err)
	raw := []byte(`{"id":"e-1","content":"hello","organizationId":"org-1","teamId":"team-1","senderId":"user-1"}`)
	_, err = queue.PushPending(ctx, raw)
	require.NoError(t, err)

	result, err := p.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, 0, result.Errors)
}

func TestFlushIsolatesBadItems(t *testing.T) {
	queue := presence.NewMemoryStore()
	sink := newMemorySink()
	sink.failIDs["e-bad-storage"] = true
	p := ingest.NewPipeline(queue, sink, batchConfig(50))
	defer p.Stop()
	ctx := context.Background()

	_, err := queue.PushPending(ctx, []byte(`{not json`))
	require.NoError(t, err)
	_, err = p.Enqueue(ctx, event("e-bad-storage"))
	require.NoError(t, err)
	_, err = p.Enqueue(ctx, event("e-good"))
	require.NoError(t, err)

	result, err := p.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 2, result.Errors)
	assert.Len(t, result.ErrorDetails, 2)

	// The failed storage write must not be marked processed: a redelivery
	// can still succeed.
	processed, err := queue.IsProcessed(ctx, "e-bad-storage")
	require.NoError(t, err)
	assert.False(t, processed)
	processed, err = queue.IsProcessed(ctx, "e-good")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestFlushRearmsTimerWhenBacklogRemains(t *testing.T) {
	queue := presence.NewMemoryStore()
	sink := newMemorySink()
	p := ingest.NewPipeline(queue, sink, batchConfig(2))
	defer p.Stop()
	ctx := context.Background()

	// Five events with batch size two: each flush leaves a remainder.
	for i := 0; i < 5; i++ {
		_, err := queue.PushPending(ctx, mustMarshal(t, event(fmt.Sprintf("e-%d", i))))
		require.NoError(t, err)
	}

	_, err := p.Flush(ctx)
	require.NoError(t, err)

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.QueueSize)
	assert.True(t, stats.TimerArmed, "a non-empty queue after flush must re-arm the timer")
}

func TestDrainEmptiesQueue(t *testing.T) {
	queue := presence.NewMemoryStore()
	sink := newMemorySink()
	p := ingest.NewPipeline(queue, sink, batchConfig(2))
	defer p.Stop()
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := queue.PushPending(ctx, mustMarshal(t, event(fmt.Sprintf("e-%d", i))))
		require.NoError(t, err)
	}

	require.NoError(t, p.Drain(ctx))

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.QueueSize)
	assert.Equal(t, int64(7), stats.TotalPersisted)
}

func TestFlushEmptyQueue(t *testing.T) {
	queue := presence.NewMemoryStore()
	sink := newMemorySink()
	p := ingest.NewPipeline(queue, sink, batchConfig(50))
	defer p.Stop()

	result, err := p.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ingest.Result{}, result)
}

func mustMarshal(t *testing.T, event *chat.Event) []byte {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return data
}
