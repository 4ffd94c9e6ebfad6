package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTrigger struct {
	mu    sync.Mutex
	fires []time.Time
	delay time.Duration
}

func (t *recordingTrigger) ScheduleClustering(_ context.Context, date time.Time, delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fires = append(t.fires, date)
	t.delay = delay
}

func (t *recordingTrigger) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.fires)
}

func newsDate() time.Time {
	return time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
}

func TestTriggerFiresOnLastBatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCounterStore()
	trigger := &recordingTrigger{}
	c := New(store, trigger, 10*time.Second, nil)

	require.NoError(t, c.BatchesDispatched(ctx, newsDate(), 3))

	require.NoError(t, c.BatchCompleted(ctx, newsDate()))
	assert.Equal(t, 0, trigger.count())
	require.NoError(t, c.BatchCompleted(ctx, newsDate()))
	assert.Equal(t, 0, trigger.count())
	require.NoError(t, c.BatchCompleted(ctx, newsDate()))
	assert.Equal(t, 1, trigger.count())
	assert.Equal(t, 10*time.Second, trigger.delay)

	// Counters were consumed: a late duplicate completion is a no-op.
	require.NoError(t, c.BatchCompleted(ctx, newsDate()))
	assert.Equal(t, 1, trigger.count())
}

func TestCompletionWithoutDispatchIsNoOp(t *testing.T) {
	ctx := context.Background()
	trigger := &recordingTrigger{}
	c := New(NewMemoryCounterStore(), trigger, time.Second, nil)

	require.NoError(t, c.BatchCompleted(ctx, newsDate()))
	require.NoError(t, c.BatchCompleted(ctx, newsDate()))
	assert.Equal(t, 0, trigger.count())
}

func TestConcurrentCompletionsFireOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCounterStore()
	trigger := &recordingTrigger{}
	c := New(store, trigger, 0, nil)

	const total = 32
	require.NoError(t, c.BatchesDispatched(ctx, newsDate(), total))

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.BatchCompleted(ctx, newsDate()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, trigger.count())
}

func TestRedispatchResetsStaleCounters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCounterStore()
	trigger := &recordingTrigger{}
	c := New(store, trigger, 0, nil)

	// First dispatch only partially completes.
	require.NoError(t, c.BatchesDispatched(ctx, newsDate(), 5))
	require.NoError(t, c.BatchCompleted(ctx, newsDate()))
	require.NoError(t, c.BatchCompleted(ctx, newsDate()))

	// Re-dispatch with a smaller total must not inherit the old progress.
	require.NoError(t, c.BatchesDispatched(ctx, newsDate(), 2))
	require.NoError(t, c.BatchCompleted(ctx, newsDate()))
	assert.Equal(t, 0, trigger.count())
	require.NoError(t, c.BatchCompleted(ctx, newsDate()))
	assert.Equal(t, 1, trigger.count())
}

func TestSeparateDatesTrackIndependently(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCounterStore()
	trigger := &recordingTrigger{}
	c := New(store, trigger, 0, nil)

	other := newsDate().AddDate(0, 0, 1)
	require.NoError(t, c.BatchesDispatched(ctx, newsDate(), 1))
	require.NoError(t, c.BatchesDispatched(ctx, other, 2))

	require.NoError(t, c.BatchCompleted(ctx, other))
	assert.Equal(t, 0, trigger.count())

	require.NoError(t, c.BatchCompleted(ctx, newsDate()))
	require.Equal(t, 1, trigger.count())
	assert.True(t, trigger.fires[0].Equal(newsDate()))

	require.NoError(t, c.BatchCompleted(ctx, other))
	assert.Equal(t, 2, trigger.count())
}
