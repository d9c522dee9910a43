package qos

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x-research-team/qbus/bus/inbox"
	"github.com/x-research-team/qbus/bus/message"
	"github.com/x-research-team/qbus/bus/outbox"
	"github.com/x-research-team/qbus/bus/transport"
)

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

func envelope(id uint64, qos message.QoS, destination string) message.Envelope {
	return message.Envelope{
		Identity: message.Identity{
			ID:            id,
			CorrelationID: "corr-1",
			CreatedAt:     time.Now().UTC(),
			QoS:           qos,
		},
		Destination: destination,
		Payload:     []byte(`{"order_id":"order-1"}`),
	}
}

func TestPlan(t *testing.T) {
	dedupCapable := transport.NewInMemory(transport.WithDedupWindow(time.Minute))
	noDedup := transport.NewInMemory(transport.WithDedupWindow(0))

	tests := []struct {
		name      string
		qos       message.QoS
		transport transport.Transport
		want      Policy
	}{
		{
			name:      "at-most-once: прямая публикация без подтверждений",
			qos:       message.AtMostOnce,
			transport: dedupCapable,
			want:      Policy{QoS: message.AtMostOnce, Staging: StagingDirect, Ack: false},
		},
		{
			name:      "at-least-once: outbox с подтверждениями",
			qos:       message.AtLeastOnce,
			transport: dedupCapable,
			want:      Policy{QoS: message.AtLeastOnce, Staging: StagingOutbox, Ack: true},
		},
		{
			name:      "exactly-once: оба слоя дедупликации на способном транспорте",
			qos:       message.ExactlyOnce,
			transport: dedupCapable,
			want:      Policy{QoS: message.ExactlyOnce, Staging: StagingOutbox, Ack: true, TransportDedup: true, InboxDedup: true},
		},
		{
			name:      "exactly-once: без нативного окна остается только inbox",
			qos:       message.ExactlyOnce,
			transport: noDedup,
			want:      Policy{QoS: message.ExactlyOnce, Staging: StagingOutbox, Ack: true, InboxDedup: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Plan(tt.qos, tt.transport))
		})
	}
}

func TestPublisher_AtMostOncePublishesDirectly(t *testing.T) {
	tr := transport.NewInMemory()
	storage := outbox.NewMemoryStorage()

	publisher, err := NewPublisher(tr, storage)
	require.NoError(t, err)

	consumer, err := NewConsumer(tr, nil)
	require.NoError(t, err)

	var received atomic.Int32
	_, err = consumer.Subscribe(context.Background(), "orders", func(ctx context.Context, e message.Envelope) ([]byte, error) {
		received.Add(1)
		return nil, nil
	})
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(context.Background(), envelope(1, message.AtMostOnce, "orders")))

	// Доставка произошла напрямую, без участия outbox.
	waitFor(t, func() bool { return received.Load() == 1 }, time.Second)
	_, staged := storage.Record(1)
	assert.False(t, staged)
}

func TestPublisher_AtLeastOnceStagesInOutbox(t *testing.T) {
	tr := transport.NewInMemory()
	storage := outbox.NewMemoryStorage()

	publisher, err := NewPublisher(tr, storage)
	require.NoError(t, err)

	consumer, err := NewConsumer(tr, nil)
	require.NoError(t, err)

	var received atomic.Int32
	_, err = consumer.Subscribe(context.Background(), "orders", func(ctx context.Context, e message.Envelope) ([]byte, error) {
		received.Add(1)
		return nil, nil
	})
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(context.Background(), envelope(1, message.AtLeastOnce, "orders")))

	// До запуска диспетчера сообщение лежит в outbox и не доставлено.
	assert.Equal(t, int32(0), received.Load())
	record, staged := storage.Record(1)
	require.True(t, staged)
	assert.Equal(t, outbox.StatusPending, record.Status)

	dispatcher, err := outbox.NewDispatcher(storage, tr)
	require.NoError(t, err)
	require.NoError(t, dispatcher.DispatchOnce(context.Background()))

	waitFor(t, func() bool { return received.Load() == 1 }, time.Second)
	waitFor(t, func() bool { return tr.Inflight() == 0 }, time.Second)

	record, _ = storage.Record(1)
	assert.Equal(t, outbox.StatusPublished, record.Status)
}

func TestPublisher_ExactlyOnceCarriesDedupKeyForCapableTransport(t *testing.T) {
	tr := transport.NewInMemory(transport.WithDedupWindow(time.Minute))
	storage := outbox.NewMemoryStorage()

	publisher, err := NewPublisher(tr, storage)
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(context.Background(), envelope(42, message.ExactlyOnce, "orders")))

	record, staged := storage.Record(42)
	require.True(t, staged)
	assert.Equal(t, "42", record.DedupKey)
}

func TestConsumer_InboxSuppressesDuplicateDelivery(t *testing.T) {
	// Транспорт без нативного окна: дедупликацию ведет inbox.
	tr := transport.NewInMemory(transport.WithDedupWindow(0))
	store := inbox.NewMemoryStore()

	consumer, err := NewConsumer(tr, store)
	require.NoError(t, err)

	var handled atomic.Int32
	_, err = consumer.Subscribe(context.Background(), "orders", func(ctx context.Context, e message.Envelope) ([]byte, error) {
		handled.Add(1)
		return []byte(`{"status":"ok"}`), nil
	})
	require.NoError(t, err)

	env := envelope(7, message.ExactlyOnce, "orders")
	body, err := message.JSONSerializer{}.Marshal(env)
	require.NoError(t, err)

	hint := transport.PublishHint{QoS: message.ExactlyOnce}

	require.NoError(t, tr.Publish(context.Background(), "orders", body, hint))
	waitFor(t, func() bool { return handled.Load() == 1 }, time.Second)
	waitFor(t, func() bool { return tr.Inflight() == 0 }, time.Second)

	// Повторная доставка того же сообщения подавляется без вызова обработчика.
	require.NoError(t, tr.Publish(context.Background(), "orders", body, hint))
	waitFor(t, func() bool { return tr.Inflight() == 0 }, time.Second)

	assert.Equal(t, int32(1), handled.Load())
}

func TestConsumer_InboxSuppressesRedeliveryBeyondTransportWindow(t *testing.T) {
	// Окно транспорта короткое, и повторная доставка приходит после его
	// истечения. Дубликат обязан подавить inbox: слои кооперируют, а не
	// заменяют друг друга.
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

	tr := transport.NewInMemory(
		transport.WithDedupWindow(10*time.Millisecond),
		transport.WithTransportClock(now),
	)
	store := inbox.NewMemoryStore()

	consumer, err := NewConsumer(tr, store)
	require.NoError(t, err)

	var handled atomic.Int32
	_, err = consumer.Subscribe(context.Background(), "orders", func(ctx context.Context, e message.Envelope) ([]byte, error) {
		handled.Add(1)
		return []byte(`{"status":"ok"}`), nil
	})
	require.NoError(t, err)

	env := envelope(11, message.ExactlyOnce, "orders")
	body, err := message.JSONSerializer{}.Marshal(env)
	require.NoError(t, err)

	hint := transport.PublishHint{QoS: message.ExactlyOnce, DedupKey: env.Identity.DedupKey()}

	require.NoError(t, tr.Publish(context.Background(), "orders", body, hint))
	waitFor(t, func() bool { return handled.Load() == 1 }, time.Second)
	waitFor(t, func() bool { return tr.Inflight() == 0 }, time.Second)

	// Окно транспорта истекло; повторная публикация доходит до потребителя.
	advance(20 * time.Millisecond)
	require.NoError(t, tr.Publish(context.Background(), "orders", body, hint))
	waitFor(t, func() bool { return tr.Inflight() == 0 }, time.Second)

	assert.Equal(t, int32(1), handled.Load())
}

func TestConsumer_NackOnHandlerError(t *testing.T) {
	tr := transport.NewInMemory()
	store := inbox.NewMemoryStore()

	consumer, err := NewConsumer(tr, store)
	require.NoError(t, err)

	var attempts atomic.Int32
	_, err = consumer.Subscribe(context.Background(), "orders", func(ctx context.Context, e message.Envelope) ([]byte, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("временный сбой")
		}
		return nil, nil
	})
	require.NoError(t, err)

	env := envelope(9, message.AtLeastOnce, "orders")
	body, err := message.JSONSerializer{}.Marshal(env)
	require.NoError(t, err)

	require.NoError(t, tr.Publish(context.Background(), "orders", body, transport.PublishHint{QoS: message.AtLeastOnce}))

	// Отказавшая обработка приводит к повторной доставке.
	waitFor(t, func() bool { return attempts.Load() == 2 }, time.Second)
	waitFor(t, func() bool { return tr.Inflight() == 0 }, time.Second)
}

func TestEndToEnd_ExactlyOnceWithInboxAndOutbox(t *testing.T) {
	tr := transport.NewInMemory(transport.WithDedupWindow(0))
	outboxStorage := outbox.NewMemoryStorage()
	inboxStore := inbox.NewMemoryStore()

	publisher, err := NewPublisher(tr, outboxStorage)
	require.NoError(t, err)

	consumer, err := NewConsumer(tr, inboxStore)
	require.NoError(t, err)

	var mu sync.Mutex
	var handled []uint64

	_, err = consumer.Subscribe(context.Background(), "orders", func(ctx context.Context, e message.Envelope) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, e.Identity.ID)
		return nil, nil
	})
	require.NoError(t, err)

	dispatcher, err := outbox.NewDispatcher(outboxStorage, tr)
	require.NoError(t, err)

	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, publisher.Publish(context.Background(), envelope(id, message.ExactlyOnce, "orders")))
	}

	// Повторные циклы диспетчеризации не приводят к повторной обработке.
	for i := 0; i < 3; i++ {
		require.NoError(t, dispatcher.DispatchOnce(context.Background()))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 3
	}, time.Second)
	waitFor(t, func() bool { return tr.Inflight() == 0 }, time.Second)

	mu.Lock()
	assert.ElementsMatch(t, []uint64{1, 2, 3}, handled)
	mu.Unlock()
}
