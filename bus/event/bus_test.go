package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-research-team/qbus/bus/transport"
)

// orderShippedEvent — тестовое событие отгрузки заказа.
type orderShippedEvent struct {
	OrderID string `json:"order_id"`
	Amount  int    `json:"amount"`
}

func (orderShippedEvent) Topic() string {
	return "orders.shipped"
}

// waitFor опрашивает условие до истечения таймаута.
func waitFor(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("условие не выполнено за %v", timeout)
}

func TestBus_PublishDeliversToAllSubscribers(t *testing.T) {
	bus, err := NewBus[orderShippedEvent]("orders.shipped")
	require.NoError(t, err)
	defer bus.Shutdown(context.Background())

	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		_, err := bus.Subscribe(func(ctx context.Context, e orderShippedEvent) error {
			assert.Equal(t, "order-1", e.OrderID)
			calls.Add(1)
			return nil
		})
		require.NoError(t, err)
	}

	err = bus.Publish(context.Background(), orderShippedEvent{OrderID: "order-1", Amount: 100})
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load())
}

func TestBus_PublishWithNoSubscribers(t *testing.T) {
	bus, err := NewBus[orderShippedEvent]("orders.shipped")
	require.NoError(t, err)
	defer bus.Shutdown(context.Background())

	err = bus.Publish(context.Background(), orderShippedEvent{OrderID: "order-1"})
	assert.NoError(t, err)
}

func TestBus_AsyncSubscription(t *testing.T) {
	bus, err := NewBus[orderShippedEvent]("orders.shipped",
		WithWorkerPoolConfig[orderShippedEvent](2, 4, 16),
	)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(5)

	var calls atomic.Int32

	_, err = bus.Subscribe(func(ctx context.Context, e orderShippedEvent) error {
		defer wg.Done()
		calls.Add(1)
		return nil
	}, WithAsync[orderShippedEvent]())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		err := bus.Publish(context.Background(), orderShippedEvent{OrderID: fmt.Sprintf("order-%d", i)})
		require.NoError(t, err)
	}

	wg.Wait()
	require.NoError(t, bus.Shutdown(context.Background()))

	assert.Equal(t, int32(5), calls.Load())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus, err := NewBus[orderShippedEvent]("orders.shipped")
	require.NoError(t, err)
	defer bus.Shutdown(context.Background())

	var calls atomic.Int32

	unsubscribe, err := bus.Subscribe(func(ctx context.Context, e orderShippedEvent) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), orderShippedEvent{OrderID: "order-1"}))
	unsubscribe()
	require.NoError(t, bus.Publish(context.Background(), orderShippedEvent{OrderID: "order-2"}))

	assert.Equal(t, int32(1), calls.Load())
}

func TestBus_ErrorHandlerReceivesHandlerError(t *testing.T) {
	bus, err := NewBus[orderShippedEvent]("orders.shipped")
	require.NoError(t, err)
	defer bus.Shutdown(context.Background())

	handlerErr := errors.New("склад недоступен")

	var gotErr error
	var gotEvent orderShippedEvent

	_, err = bus.Subscribe(
		func(ctx context.Context, e orderShippedEvent) error {
			return handlerErr
		},
		WithErrorHandler[orderShippedEvent](func(err error, e orderShippedEvent) {
			gotErr = err
			gotEvent = e
		}),
	)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), orderShippedEvent{OrderID: "order-1"}))

	assert.ErrorIs(t, gotErr, handlerErr)
	assert.Equal(t, "order-1", gotEvent.OrderID)
}

func TestBus_SubscriptionMiddlewareOrder(t *testing.T) {
	bus, err := NewBus[orderShippedEvent]("orders.shipped")
	require.NoError(t, err)
	defer bus.Shutdown(context.Background())

	var order []string

	mw := func(name string) HandlerMiddleware[orderShippedEvent] {
		return func(next EventHandler[orderShippedEvent]) EventHandler[orderShippedEvent] {
			return func(ctx context.Context, e orderShippedEvent) error {
				order = append(order, name)
				return next(ctx, e)
			}
		}
	}

	_, err = bus.Subscribe(
		func(ctx context.Context, e orderShippedEvent) error {
			order = append(order, "handler")
			return nil
		},
		WithMiddleware(mw("first"), mw("second")),
	)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), orderShippedEvent{OrderID: "order-1"}))

	assert.Equal(t, []string{"first", "second", "handler"}, order)
}

func TestNewBus_EmptyTopic(t *testing.T) {
	_, err := NewBus[orderShippedEvent]("")
	assert.Error(t, err)
}

func TestRegistry_ReturnsSameBusInstance(t *testing.T) {
	registry := NewRegistry()
	defer registry.Shutdown(context.Background())

	first, err := Bus[orderShippedEvent](registry, "orders.shipped")
	require.NoError(t, err)

	second, err := Bus[orderShippedEvent](registry, "orders.shipped")
	require.NoError(t, err)

	assert.Same(t, first, second)
}

type paymentCapturedEvent struct {
	PaymentID string `json:"payment_id"`
}

func (paymentCapturedEvent) Topic() string {
	return "payments.captured"
}

func TestRegistry_TypeMismatch(t *testing.T) {
	registry := NewRegistry()
	defer registry.Shutdown(context.Background())

	_, err := Bus[orderShippedEvent](registry, "orders.shipped")
	require.NoError(t, err)

	_, err = Bus[paymentCapturedEvent](registry, "orders.shipped")
	assert.Error(t, err)
}

func TestTransportProvider_RoundTrip(t *testing.T) {
	tr := transport.NewInMemory()

	provider, err := NewTransportProvider[orderShippedEvent]("orders.shipped", tr)
	require.NoError(t, err)

	bus, err := NewBus[orderShippedEvent]("orders.shipped", WithProvider(provider))
	require.NoError(t, err)
	defer bus.Shutdown(context.Background())

	var mu sync.Mutex
	var received []orderShippedEvent

	_, err = bus.Subscribe(func(ctx context.Context, e orderShippedEvent) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), orderShippedEvent{OrderID: "order-7", Amount: 250}))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second)

	mu.Lock()
	assert.Equal(t, "order-7", received[0].OrderID)
	assert.Equal(t, 250, received[0].Amount)
	mu.Unlock()

	// Успешная обработка подтверждена: неподтвержденных доставок нет.
	waitFor(t, func() bool { return tr.Inflight() == 0 }, time.Second)
}

func TestTransportProvider_NackRedeliversOnHandlerError(t *testing.T) {
	tr := transport.NewInMemory()

	provider, err := NewTransportProvider[orderShippedEvent]("orders.shipped", tr)
	require.NoError(t, err)

	bus, err := NewBus[orderShippedEvent]("orders.shipped", WithProvider(provider))
	require.NoError(t, err)
	defer bus.Shutdown(context.Background())

	var attempts atomic.Int32

	_, err = bus.Subscribe(
		func(ctx context.Context, e orderShippedEvent) error {
			if attempts.Add(1) == 1 {
				return errors.New("временный сбой")
			}
			return nil
		},
		WithErrorHandler[orderShippedEvent](func(err error, e orderShippedEvent) {}),
	)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), orderShippedEvent{OrderID: "order-9"}))

	waitFor(t, func() bool { return attempts.Load() == 2 }, time.Second)
	waitFor(t, func() bool { return tr.Inflight() == 0 }, time.Second)
}
