package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-research-team/qbus/resilience"
)

var errTransport = errors.New("транспорт недоступен")

// Тест размыкания после порога последовательных отказов.
func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	breaker := resilience.NewBreaker(3, time.Minute)
	ctx := context.Background()

	calls := 0
	fail := func(ctx context.Context) error {
		calls++
		return errTransport
	}

	for i := 0; i < 3; i++ {
		err := breaker.Do(ctx, fail)
		require.ErrorIs(t, err, errTransport)
	}
	require.Equal(t, resilience.Open, breaker.State())

	// Разомкнутый breaker отклоняет вызов без обращения к зависимости.
	err := breaker.Do(ctx, fail)
	require.ErrorIs(t, err, resilience.ErrOpen)
	assert.Equal(t, 3, calls, "После размыкания вызовы не должны доходить до зависимости")
}

// Тест перехода Open -> HalfOpen -> Closed после охлаждения и успешного зонда.
func TestBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()

	current := time.Now()
	var transitions []string

	breaker := resilience.NewBreaker(1, 10*time.Second,
		resilience.WithBreakerClock(func() time.Time { return current }),
		resilience.WithStateChangeHook(func(from, to resilience.State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)
	ctx := context.Background()

	require.ErrorIs(t, breaker.Do(ctx, func(ctx context.Context) error { return errTransport }), errTransport)
	require.Equal(t, resilience.Open, breaker.State())

	// До истечения охлаждения зонд не допускается.
	require.ErrorIs(t, breaker.Do(ctx, func(ctx context.Context) error { return nil }), resilience.ErrOpen)

	// После охлаждения один успешный зонд замыкает breaker.
	current = current.Add(11 * time.Second)
	require.NoError(t, breaker.Do(ctx, func(ctx context.Context) error { return nil }))
	require.Equal(t, resilience.Closed, breaker.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

// Тест повторного размыкания при отказе зонда.
func TestBreaker_HalfOpenProbeFailure(t *testing.T) {
	t.Parallel()

	current := time.Now()
	breaker := resilience.NewBreaker(1, time.Second,
		resilience.WithBreakerClock(func() time.Time { return current }),
	)
	ctx := context.Background()

	require.Error(t, breaker.Do(ctx, func(ctx context.Context) error { return errTransport }))

	current = current.Add(2 * time.Second)
	require.ErrorIs(t, breaker.Do(ctx, func(ctx context.Context) error { return errTransport }), errTransport)
	assert.Equal(t, resilience.Open, breaker.State(), "Отказ зонда должен вернуть breaker в Open")
}

// Тест сброса счетчика отказов при успехе в замкнутом состоянии.
func TestBreaker_SuccessResetsFailures(t *testing.T) {
	t.Parallel()

	breaker := resilience.NewBreaker(2, time.Minute)
	ctx := context.Background()

	require.Error(t, breaker.Do(ctx, func(ctx context.Context) error { return errTransport }))
	require.NoError(t, breaker.Do(ctx, func(ctx context.Context) error { return nil }))
	require.Error(t, breaker.Do(ctx, func(ctx context.Context) error { return errTransport }))

	assert.Equal(t, resilience.Closed, breaker.State(), "Непоследовательные отказы не должны размыкать breaker")
}
