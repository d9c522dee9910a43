package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// subscription представляет собой внутреннюю структуру для хранения информации
// о конкретной подписке.
type subscription[T Event] struct {
	// id представляет собой уникальный идентификатор подписки (UUID),
	// который используется для ее безопасного удаления (отписки).
	id string
	// handler — это итоговая функция-обработчик события с примененными
	// к ней middleware подписки.
	handler EventHandler[T]
	// isAsync — флаг, указывающий, должна ли обработка события выполняться
	// асинхронно через пул воркеров.
	isAsync bool
	// errorHandler — это опциональная функция для пользовательской обработки
	// ошибок, возникающих во время выполнения handler.
	errorHandler ErrorHandler[T]
}

// localProvider — это реализация интерфейса Provider, которая обрабатывает
// события локально, в рамках одного процесса. Асинхронные подписки
// обслуживаются внутренним пулом воркеров.
type localProvider[T Event] struct {
	topic         string
	subscriptions []*subscription[T]
	mu            sync.RWMutex
	cfg           *config[T]
	pool          *workerPool[T]
}

// newLocalProvider создает новый экземпляр локального провайдера.
func newLocalProvider[T Event](topic string, cfg *config[T]) *localProvider[T] {
	pool := newWorkerPool[T](cfg.workerMin, cfg.workerMax, cfg.queueSize)
	pool.run()

	return &localProvider[T]{
		topic: topic,
		cfg:   cfg,
		pool:  pool,
	}
}

// Publish доставляет событие всем подписчикам топика. Ошибки обработчиков
// не прерывают доставку остальным подписчикам: семантика fire-and-forget.
func (lp *localProvider[T]) Publish(ctx context.Context, event T) error {
	lp.mu.RLock()
	subs := make([]*subscription[T], len(lp.subscriptions))
	copy(subs, lp.subscriptions)
	lp.mu.RUnlock()

	for _, sub := range subs {
		if sub.isAsync {
			lp.pool.enqueue(&Task[T]{ctx: ctx, event: event, sub: sub})
			continue
		}
		lp.invoke(ctx, event, sub)
	}

	return nil
}

// invoke выполняет обработчик и маршрутизирует ошибку.
func (lp *localProvider[T]) invoke(ctx context.Context, event T, sub *subscription[T]) {
	if err := sub.handler(ctx, event); err != nil {
		if sub.errorHandler != nil {
			sub.errorHandler(err, event)
			return
		}
		lp.cfg.logger.Error("ошибка обработчика события",
			"topic", lp.topic,
			"error", err,
		)
	}
}

// Subscribe подписывает обработчик на события топика.
func (lp *localProvider[T]) Subscribe(handler EventHandler[T], opts ...SubscribeOption[T]) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("обработчик события не может быть nil")
	}

	subOpts := subscriptionOptions[T]{}
	for _, opt := range opts {
		opt(&subOpts)
	}

	finalHandler := handler
	for i := len(subOpts.middleware) - 1; i >= 0; i-- {
		finalHandler = subOpts.middleware[i](finalHandler)
	}

	sub := &subscription[T]{
		id:           uuid.NewString(),
		handler:      finalHandler,
		isAsync:      subOpts.isAsync,
		errorHandler: subOpts.errorHandler,
	}

	lp.mu.Lock()
	defer lp.mu.Unlock()

	lp.subscriptions = append(lp.subscriptions, sub)

	return func() {
		lp.mu.Lock()
		defer lp.mu.Unlock()

		for i, s := range lp.subscriptions {
			if s.id == sub.id {
				lp.subscriptions = append(lp.subscriptions[:i], lp.subscriptions[i+1:]...)
				break
			}
		}
	}, nil
}

// Shutdown корректно завершает работу провайдера: пул воркеров дорабатывает
// поставленные в очередь задачи и останавливается.
func (lp *localProvider[T]) Shutdown(ctx context.Context) error {
	lp.pool.stop()
	return nil
}
