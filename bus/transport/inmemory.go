package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/x-research-team/qbus/bus/message"
)

// InMemory — внутрипроцессная реализация Transport с подтверждениями,
// повторной доставкой по Nack и ограниченным окном дедупликации.
// Используется в тестах и как транспорт по умолчанию.
type InMemory struct {
	mu sync.Mutex

	subscribers map[string][]*memSubscription
	backlog     map[string][][]byte
	inflight    map[uint64]*inflightDelivery
	dedup       map[string]time.Time

	nextToken       uint64
	dedupWindow     time.Duration
	redeliveryDelay time.Duration
	now             func() time.Time
}

// memSubscription — внутренняя запись о подписке.
type memSubscription struct {
	id      string
	handler Handler
	ctx     context.Context
}

// inflightDelivery — неподтвержденная доставка, ожидающая Ack или Nack.
type inflightDelivery struct {
	destination string
	payload     []byte
	sub         *memSubscription
}

// InMemoryOption определяет тип для функциональных опций транспорта.
type InMemoryOption func(*InMemory)

// WithDedupWindow устанавливает длительность окна нативной дедупликации.
func WithDedupWindow(d time.Duration) InMemoryOption {
	return func(t *InMemory) {
		t.dedupWindow = d
	}
}

// WithTransportClock подменяет источник времени. Используется в тестах.
func WithTransportClock(now func() time.Time) InMemoryOption {
	return func(t *InMemory) {
		t.now = now
	}
}

// WithRedeliveryDelay устанавливает паузу перед повторной доставкой по Nack.
// Пауза не дает потребителю, отклоняющему доставку, закрутить транспорт
// в плотный цикл publish/nack.
func WithRedeliveryDelay(d time.Duration) InMemoryOption {
	return func(t *InMemory) {
		t.redeliveryDelay = d
	}
}

// NewInMemory создает новый внутрипроцессный транспорт.
func NewInMemory(opts ...InMemoryOption) *InMemory {
	t := &InMemory{
		subscribers:     make(map[string][]*memSubscription),
		backlog:         make(map[string][][]byte),
		inflight:        make(map[uint64]*inflightDelivery),
		dedup:           make(map[string]time.Time),
		dedupWindow:     time.Minute,
		redeliveryDelay: 5 * time.Millisecond,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// DedupWindow реализует интерфейс DedupCapable.
func (t *InMemory) DedupWindow() time.Duration {
	return t.dedupWindow
}

// Publish доставляет сообщение всем подписчикам адреса назначения.
// Дубликат по ключу дедупликации внутри окна подавляется без ошибки.
// При отсутствии подписчиков сообщение с QoS выше at-most-once буферизуется
// до появления подписки.
func (t *InMemory) Publish(ctx context.Context, destination string, payload []byte, hint PublishHint) error {
	t.mu.Lock()

	if hint.DedupKey != "" && t.dedupWindow > 0 {
		if seenAt, ok := t.dedup[hint.DedupKey]; ok && t.now().Sub(seenAt) < t.dedupWindow {
			t.mu.Unlock()
			return nil
		}
		t.dedup[hint.DedupKey] = t.now()
	}

	subs := t.subscribers[destination]
	if len(subs) == 0 {
		if hint.QoS != message.AtMostOnce {
			t.backlog[destination] = append(t.backlog[destination], payload)
		}
		t.mu.Unlock()
		return nil
	}

	deliveries := t.prepare(destination, payload, subs)
	t.mu.Unlock()

	t.deliver(deliveries)
	return nil
}

// Subscribe подписывает обработчик и доставляет ему накопленный backlog.
func (t *InMemory) Subscribe(ctx context.Context, destination string, h Handler) (func(), error) {
	if h == nil {
		return nil, fmt.Errorf("обработчик подписки не может быть nil")
	}

	sub := &memSubscription{
		id:      uuid.NewString(),
		handler: h,
		ctx:     ctx,
	}

	t.mu.Lock()
	t.subscribers[destination] = append(t.subscribers[destination], sub)

	pending := t.backlog[destination]
	delete(t.backlog, destination)

	var deliveries []preparedDelivery
	for _, payload := range pending {
		deliveries = append(deliveries, t.prepare(destination, payload, []*memSubscription{sub})...)
	}
	t.mu.Unlock()

	t.deliver(deliveries)

	stop := func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		subs := t.subscribers[destination]
		for i, s := range subs {
			if s.id == sub.id {
				t.subscribers[destination] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return stop, nil
}

// Ack подтверждает доставку и снимает ее с учета.
func (t *InMemory) Ack(token Token) error {
	id, ok := token.(uint64)
	if !ok {
		return fmt.Errorf("неизвестный тип маркера доставки: %T", token)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.inflight[id]; !exists {
		return fmt.Errorf("доставка %d не найдена или уже подтверждена", id)
	}
	delete(t.inflight, id)
	return nil
}

// Nack отклоняет доставку: сообщение доставляется подписчику повторно
// с новым маркером. Повторная доставка откладывается на redeliveryDelay,
// чтобы отклоняющий потребитель не получал сообщение в плотном цикле.
func (t *InMemory) Nack(token Token) error {
	id, ok := token.(uint64)
	if !ok {
		return fmt.Errorf("неизвестный тип маркера доставки: %T", token)
	}

	t.mu.Lock()
	d, exists := t.inflight[id]
	if !exists {
		t.mu.Unlock()
		return fmt.Errorf("доставка %d не найдена или уже подтверждена", id)
	}
	delete(t.inflight, id)
	deliveries := t.prepare(d.destination, d.payload, []*memSubscription{d.sub})
	t.mu.Unlock()

	if t.redeliveryDelay > 0 {
		time.AfterFunc(t.redeliveryDelay, func() {
			t.deliver(deliveries)
		})
		return nil
	}

	t.deliver(deliveries)
	return nil
}

// preparedDelivery — доставка, готовая к вызову обработчика вне мьютекса.
type preparedDelivery struct {
	sub      *memSubscription
	delivery Delivery
}

// prepare регистрирует inflight-записи для доставок. Вызывается под мьютексом.
func (t *InMemory) prepare(destination string, payload []byte, subs []*memSubscription) []preparedDelivery {
	prepared := make([]preparedDelivery, 0, len(subs))
	for _, sub := range subs {
		t.nextToken++
		token := t.nextToken
		t.inflight[token] = &inflightDelivery{
			destination: destination,
			payload:     payload,
			sub:         sub,
		}
		prepared = append(prepared, preparedDelivery{
			sub: sub,
			delivery: Delivery{
				Destination: destination,
				Payload:     payload,
				Token:       token,
			},
		})
	}
	return prepared
}

// deliver вызывает обработчики подписчиков в отдельных горутинах.
func (t *InMemory) deliver(deliveries []preparedDelivery) {
	for _, pd := range deliveries {
		go pd.sub.handler(pd.sub.ctx, pd.delivery)
	}
}

// Inflight возвращает количество неподтвержденных доставок.
// Используется в тестах и диагностике.
func (t *InMemory) Inflight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}
