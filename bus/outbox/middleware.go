package outbox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/x-research-team/qbus/bus/event"
	"github.com/x-research-team/qbus/bus/message"
)

// stagingConfig содержит конфигурацию staging-middleware.
type stagingConfig struct {
	serializer  message.Serializer
	destination string
	logger      *slog.Logger
}

// StagingOption — функциональная опция staging-middleware.
type StagingOption func(*stagingConfig)

// WithStagingSerializer устанавливает сериализатор полезной нагрузки.
func WithStagingSerializer(s message.Serializer) StagingOption {
	return func(c *stagingConfig) {
		c.serializer = s
	}
}

// WithDestination переопределяет адрес назначения записей.
// По умолчанию используется топик события.
func WithDestination(destination string) StagingOption {
	return func(c *stagingConfig) {
		c.destination = destination
	}
}

// WithStagingLogger устанавливает логгер staging-middleware.
func WithStagingLogger(logger *slog.Logger) StagingOption {
	return func(c *stagingConfig) {
		c.logger = logger
	}
}

// NewStagingMiddleware создает middleware шины событий, которое перехватывает
// публикацию и фиксирует сообщение в хранилище outbox вместо прямой отправки.
// Фоновый Dispatcher затем доводит запись до транспорта с повторами.
//
// События с QoS at-most-once и события без идентичности минуют outbox
// и публикуются напрямую следующим провайдером в цепочке.
func NewStagingMiddleware[T event.Event](storage Storage, opts ...StagingOption) event.BusMiddleware[T] {
	cfg := &stagingConfig{
		serializer: message.JSONSerializer{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return event.MiddlewareFunc[T](func(next event.Provider[T]) event.Provider[T] {
		return &stagingProvider[T]{
			next:    next,
			storage: storage,
			cfg:     cfg,
		}
	})
}

// stagingProvider — обертка над провайдером событий, фиксирующая публикации
// в хранилище outbox.
type stagingProvider[T event.Event] struct {
	next    event.Provider[T]
	storage Storage
	cfg     *stagingConfig
}

// Publish фиксирует событие в outbox либо делегирует публикацию дальше.
func (p *stagingProvider[T]) Publish(ctx context.Context, evt T) error {
	identified, ok := any(evt).(message.Identified)
	if !ok {
		p.cfg.logger.Warn("событие без идентичности публикуется в обход outbox",
			"topic", evt.Topic(),
		)
		return p.next.Publish(ctx, evt)
	}

	identity := identified.MessageIdentity()
	if identity.QoS == message.AtMostOnce {
		return p.next.Publish(ctx, evt)
	}

	payload, err := p.cfg.serializer.Marshal(evt)
	if err != nil {
		return fmt.Errorf("не удалось сериализовать событие для outbox: %w", err)
	}

	destination := p.cfg.destination
	if destination == "" {
		destination = evt.Topic()
	}

	record := &Record{
		MessageID:   identity.ID,
		Destination: destination,
		Payload:     payload,
		CreatedAt:   identity.CreatedAt,
	}
	if identity.QoS == message.ExactlyOnce {
		record.DedupKey = identity.DedupKey()
	}

	if err := p.storage.Save(ctx, record); err != nil {
		return fmt.Errorf("не удалось зафиксировать событие в outbox: %w", err)
	}

	return nil
}

// Subscribe делегирует подписку следующему провайдеру.
func (p *stagingProvider[T]) Subscribe(handler event.EventHandler[T], opts ...event.SubscribeOption[T]) (func(), error) {
	return p.next.Subscribe(handler, opts...)
}

// Shutdown делегирует завершение работы следующему провайдеру.
func (p *stagingProvider[T]) Shutdown(ctx context.Context) error {
	return p.next.Shutdown(ctx)
}
