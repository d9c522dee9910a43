package event

import (
	"context"
	"fmt"
	"log/slog"
)

// IBus определяет строго типизированный интерфейс для публикации и подписки
// на события конкретного типа T.
type IBus[T Event] interface {
	// Publish публикует событие типа T в шину.
	// Метод является полностью типобезопасным на этапе компиляции.
	Publish(ctx context.Context, event T) error

	// Subscribe подписывает строго типизированный обработчик на события типа T.
	Subscribe(handler EventHandler[T], opts ...SubscribeOption[T]) (unsubscribe func(), err error)

	// Shutdown корректно завершает работу шины.
	Shutdown(ctx context.Context) error
}

// busImpl - это реализация строго типизированной шины событий.
type busImpl[T Event] struct {
	topic    string
	provider Provider[T]
	cfg      *config[T]
}

// NewBus создает новый, строго типизированный экземпляр шины для конкретного
// типа события T и связанного с ним топика.
func NewBus[T Event](topic string, opts ...Option[T]) (IBus[T], error) {
	if topic == "" {
		return nil, fmt.Errorf("topic не может быть пустым")
	}

	cfg := &config[T]{
		logger:    slog.Default(),
		workerMin: 1,
		workerMax: 10,
		queueSize: 100,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	// Провайдер по умолчанию — локальный; опция WithProvider позволяет
	// подменить его на транспортный или outbox-провайдер.
	provider := cfg.provider
	if provider == nil {
		provider = newLocalProvider(topic, cfg)
	}

	// Применяем middleware. Сначала добавляем middleware по умолчанию, затем
	// пользовательские. Это позволяет пользователю дополнить стандартное поведение.
	allMiddlewares := []BusMiddleware[T]{
		NewLoggingMiddleware[T](cfg.logger),
		NewMetricsMiddleware[T](cfg.meterProvider),
		NewTracingMiddleware[T](cfg.tracerProvider, cfg.propagator),
	}
	allMiddlewares = append(allMiddlewares, cfg.middlewares...)
	wrappedProvider := applyMiddlewares(provider, allMiddlewares...)

	return &busImpl[T]{
		topic:    topic,
		provider: wrappedProvider,
		cfg:      cfg,
	}, nil
}

// Publish публикует событие в шину.
func (b *busImpl[T]) Publish(ctx context.Context, event T) error {
	return b.provider.Publish(ctx, event)
}

// Subscribe подписывает обработчик на события.
func (b *busImpl[T]) Subscribe(handler EventHandler[T], opts ...SubscribeOption[T]) (unsubscribe func(), err error) {
	return b.provider.Subscribe(handler, opts...)
}

// Shutdown завершает работу шины.
func (b *busImpl[T]) Shutdown(ctx context.Context) error {
	return b.provider.Shutdown(ctx)
}
