package id_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-research-team/qbus/id"
)

// Тест строгой монотонности и корректного worker-id в плотном цикле.
func TestGenerator_TightLoop(t *testing.T) {
	t.Parallel()

	gen, err := id.NewGenerator(5)
	require.NoError(t, err, "Создание генератора не должно вызывать ошибку")

	const count = 10000
	var prev uint64
	for i := 0; i < count; i++ {
		next, err := gen.NextID()
		require.NoError(t, err)
		require.Greater(t, next, prev, "Идентификаторы должны строго возрастать")
		prev = next

		_, worker, _ := gen.Decode(next)
		require.EqualValues(t, 5, worker, "Поле worker-id должно совпадать с настройкой генератора")
	}
}

// Тест уникальности при конкурентной генерации из множества горутин.
func TestGenerator_ConcurrentUniqueness(t *testing.T) {
	t.Parallel()

	gen, err := id.NewGenerator(1)
	require.NoError(t, err)

	const (
		goroutines = 16
		perRoutine = 2000
	)

	results := make([][]uint64, goroutines)
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			ids := make([]uint64, 0, perRoutine)
			for j := 0; j < perRoutine; j++ {
				next, err := gen.NextID()
				require.NoError(t, err)
				ids = append(ids, next)
			}
			results[i] = ids
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]struct{}, goroutines*perRoutine)
	for _, ids := range results {
		for _, v := range ids {
			_, exists := seen[v]
			require.False(t, exists, "Идентификатор %d выдан дважды", v)
			seen[v] = struct{}{}
		}
	}
	assert.Len(t, seen, goroutines*perRoutine)
}

// Тест отсутствия коллизий между генераторами с разными worker-id.
func TestGenerator_DistinctWorkers(t *testing.T) {
	t.Parallel()

	genA, err := id.NewGenerator(3)
	require.NoError(t, err)
	genB, err := id.NewGenerator(4)
	require.NoError(t, err)

	seen := make(map[uint64]struct{})
	for i := 0; i < 5000; i++ {
		a, err := genA.NextID()
		require.NoError(t, err)
		b, err := genB.NextID()
		require.NoError(t, err)

		_, dup := seen[a]
		require.False(t, dup)
		seen[a] = struct{}{}

		_, dup = seen[b]
		require.False(t, dup)
		seen[b] = struct{}{}
	}
}

// Тест ошибки при недопустимом worker-id.
func TestGenerator_WorkerIDOutOfRange(t *testing.T) {
	t.Parallel()

	_, err := id.NewGenerator(id.MaxWorkerID + 1)
	require.Error(t, err, "Создание генератора с недопустимым worker-id должно вызывать ошибку")
}

// Тест обнаружения отката часов за пределы допуска.
func TestGenerator_ClockSkew(t *testing.T) {
	t.Parallel()

	base := time.Now()
	current := base

	gen, err := id.NewGenerator(0,
		id.WithClock(func() time.Time { return current }),
		id.WithClockTolerance(2*time.Millisecond),
	)
	require.NoError(t, err)

	_, err = gen.NextID()
	require.NoError(t, err)

	// Откат в пределах допуска не является ошибкой.
	current = base.Add(-time.Millisecond)
	_, err = gen.NextID()
	require.NoError(t, err)

	// Откат за пределы допуска фатален.
	current = base.Add(-time.Second)
	_, err = gen.NextID()
	require.ErrorIs(t, err, id.ErrClockSkew)
}

// Тест разбора идентификатора на составные части.
func TestGenerator_Decode(t *testing.T) {
	t.Parallel()

	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	current := epoch.Add(42 * time.Millisecond)

	gen, err := id.NewGenerator(7,
		id.WithEpoch(epoch),
		id.WithClock(func() time.Time { return current }),
	)
	require.NoError(t, err)

	first, err := gen.NextID()
	require.NoError(t, err)
	second, err := gen.NextID()
	require.NoError(t, err)

	createdAt, worker, seq := gen.Decode(first)
	assert.Equal(t, current.UnixMilli(), createdAt.UnixMilli())
	assert.EqualValues(t, 7, worker)
	assert.EqualValues(t, 0, seq)

	_, _, seq = gen.Decode(second)
	assert.EqualValues(t, 1, seq, "Внутри одной миллисекунды последовательность должна инкрементироваться")
}
