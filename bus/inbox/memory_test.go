package inbox

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_FirstDeliveryProceeds(t *testing.T) {
	store := NewMemoryStore()

	decision, err := store.TryBegin(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, Proceed, decision.Outcome)
}

func TestMemoryStore_CompletedReturnsCachedResult(t *testing.T) {
	store := NewMemoryStore()

	decision, err := store.TryBegin(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, Proceed, decision.Outcome)

	require.NoError(t, store.Complete(context.Background(), 1, []byte(`{"status":"ok"}`)))

	decision, err = store.TryBegin(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, CachedResult, decision.Outcome)
	assert.Equal(t, []byte(`{"status":"ok"}`), decision.Result)
}

func TestMemoryStore_InProgressRejectsDuplicate(t *testing.T) {
	store := NewMemoryStore()

	decision, err := store.TryBegin(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, Proceed, decision.Outcome)

	decision, err = store.TryBegin(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, AlreadyInProgress, decision.Outcome)
}

func TestMemoryStore_FailedAllowsRetry(t *testing.T) {
	store := NewMemoryStore()

	decision, err := store.TryBegin(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, Proceed, decision.Outcome)

	require.NoError(t, store.Fail(context.Background(), 1))

	decision, err = store.TryBegin(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, Proceed, decision.Outcome)
}

func TestMemoryStore_ConcurrentTryBeginExactlyOneProceeds(t *testing.T) {
	store := NewMemoryStore()

	const workers = 32

	var proceeds atomic.Int32
	var inProgress atomic.Int32

	var start sync.WaitGroup
	start.Add(1)

	var done sync.WaitGroup
	done.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer done.Done()
			start.Wait()

			decision, err := store.TryBegin(context.Background(), 99)
			if !assert.NoError(t, err) {
				return
			}

			switch decision.Outcome {
			case Proceed:
				proceeds.Add(1)
			case AlreadyInProgress:
				inProgress.Add(1)
			}
		}()
	}

	start.Done()
	done.Wait()

	assert.Equal(t, int32(1), proceeds.Load())
	assert.Equal(t, int32(workers-1), inProgress.Load())
}

func TestMemoryStore_ReclaimsAbandonedProcessing(t *testing.T) {
	current := time.Now()
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(d)
	}

	store := NewMemoryStore(WithStoreClock(now), WithProcessingTimeout(time.Minute))

	decision, err := store.TryBegin(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, Proceed, decision.Outcome)

	// Обработка брошена: Complete и Fail не вызваны.
	advance(30 * time.Second)
	decision, err = store.TryBegin(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, AlreadyInProgress, decision.Outcome)

	advance(time.Minute)
	decision, err = store.TryBegin(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, Proceed, decision.Outcome)
}

func TestMemoryStore_SweepRemovesExpired(t *testing.T) {
	current := time.Now()
	now := func() time.Time { return current }

	store := NewMemoryStore(WithStoreClock(now))

	for id := uint64(1); id <= 3; id++ {
		decision, err := store.TryBegin(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, Proceed, decision.Outcome)
		require.NoError(t, store.Complete(context.Background(), id, nil))
	}

	removed, err := store.Sweep(context.Background(), current.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	// После очистки сообщение снова видится впервые.
	decision, err := store.TryBegin(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, Proceed, decision.Outcome)
}

func TestMemoryStore_CompleteUnknownMessage(t *testing.T) {
	store := NewMemoryStore()

	err := store.Complete(context.Background(), 404, nil)
	assert.Error(t, err)
}
