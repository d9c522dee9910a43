package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/x-research-team/qbus/bus/message"
	"github.com/x-research-team/qbus/bus/transport"
)

// transportProvider — это реализация Provider, которая доставляет события через
// абстрактный транспорт (in-memory, Kafka и т.д.). События сериализуются при
// публикации и десериализуются при получении; подтверждение доставки (Ack/Nack)
// привязано к результату обработчика.
type transportProvider[T Event] struct {
	topic      string
	transport  transport.Transport
	serializer message.Serializer
	logger     *slog.Logger

	mu    sync.Mutex
	stops []func()
}

// NewTransportProvider создает провайдер событий поверх транспорта.
// Функция предназначена для использования с опцией WithProvider.
func NewTransportProvider[T Event](topic string, t transport.Transport, opts ...TransportProviderOption) (Provider[T], error) {
	if topic == "" {
		return nil, fmt.Errorf("topic не может быть пустым")
	}
	if t == nil {
		return nil, fmt.Errorf("транспорт не может быть nil")
	}

	cfg := &transportProviderConfig{
		serializer: message.JSONSerializer{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &transportProvider[T]{
		topic:      topic,
		transport:  t,
		serializer: cfg.serializer,
		logger:     cfg.logger,
	}, nil
}

// transportProviderConfig содержит конфигурацию транспортного провайдера.
type transportProviderConfig struct {
	serializer message.Serializer
	logger     *slog.Logger
}

// TransportProviderOption — функциональная опция транспортного провайдера.
type TransportProviderOption func(*transportProviderConfig)

// WithSerializer устанавливает сериализатор полезной нагрузки.
func WithSerializer(s message.Serializer) TransportProviderOption {
	return func(c *transportProviderConfig) {
		c.serializer = s
	}
}

// WithTransportLogger устанавливает логгер транспортного провайдера.
func WithTransportLogger(logger *slog.Logger) TransportProviderOption {
	return func(c *transportProviderConfig) {
		c.logger = logger
	}
}

// Publish сериализует событие и публикует его в транспорт. Уровень QoS
// и ключ дедупликации берутся из идентичности события, если она есть;
// иначе публикация выполняется с минимальной гарантией.
func (tp *transportProvider[T]) Publish(ctx context.Context, event T) error {
	payload, err := tp.serializer.Marshal(event)
	if err != nil {
		return fmt.Errorf("не удалось сериализовать событие: %w", err)
	}

	hint := transport.PublishHint{QoS: message.AtMostOnce}
	if identified, ok := any(event).(message.Identified); ok {
		identity := identified.MessageIdentity()
		hint.QoS = identity.QoS
		if identity.QoS == message.ExactlyOnce {
			hint.DedupKey = identity.DedupKey()
		}
	}

	return tp.transport.Publish(ctx, tp.topic, payload, hint)
}

// Subscribe подписывает обработчик на доставки транспорта. Успешная обработка
// подтверждается через Ack, ошибка приводит к Nack и повторной доставке.
func (tp *transportProvider[T]) Subscribe(handler EventHandler[T], opts ...SubscribeOption[T]) (func(), error) {
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

	stop, err := tp.transport.Subscribe(context.Background(), tp.topic, func(ctx context.Context, d transport.Delivery) {
		var event T
		if err := tp.serializer.Unmarshal(d.Payload, &event); err != nil {
			tp.logger.Error("не удалось десериализовать доставку",
				"topic", tp.topic,
				"error", err,
			)
			// Сообщение невосстановимо; подтверждаем, чтобы не зациклить редоставку.
			_ = tp.transport.Ack(d.Token)
			return
		}

		if err := finalHandler(ctx, event); err != nil {
			if subOpts.errorHandler != nil {
				subOpts.errorHandler(err, event)
			} else {
				tp.logger.Error("ошибка обработчика события",
					"topic", tp.topic,
					"error", err,
				)
			}
			_ = tp.transport.Nack(d.Token)
			return
		}

		_ = tp.transport.Ack(d.Token)
	})
	if err != nil {
		return nil, err
	}

	tp.mu.Lock()
	tp.stops = append(tp.stops, stop)
	tp.mu.Unlock()

	return stop, nil
}

// Shutdown останавливает все активные подписки.
func (tp *transportProvider[T]) Shutdown(ctx context.Context) error {
	tp.mu.Lock()
	stops := tp.stops
	tp.stops = nil
	tp.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	return nil
}
