package qos

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/x-research-team/qbus/bus/inbox"
	"github.com/x-research-team/qbus/bus/message"
	"github.com/x-research-team/qbus/bus/transport"
)

// EnvelopeHandler — функция-обработчик входящего конверта. Возвращаемые байты
// сохраняются как результат обработки и выдаются при подавлении дубликата.
type EnvelopeHandler func(ctx context.Context, envelope message.Envelope) ([]byte, error)

// Consumer исполняет план доставки на стороне потребителя: подтверждает
// доставки в соответствии с уровнем QoS и подавляет дубликаты exactly-once
// конвертов через inbox. Нативное окно транспорта, если оно есть, работает
// дополнительным слоем на стороне издателя.
type Consumer struct {
	transport  transport.Transport
	store      inbox.Store
	serializer message.Serializer
	logger     *slog.Logger
}

// consumerConfig содержит конфигурацию потребителя.
type consumerConfig struct {
	serializer message.Serializer
	logger     *slog.Logger
}

// ConsumerOption — функциональная опция потребителя.
type ConsumerOption func(*consumerConfig)

// WithConsumerSerializer устанавливает сериализатор конвертов.
func WithConsumerSerializer(s message.Serializer) ConsumerOption {
	return func(c *consumerConfig) {
		c.serializer = s
	}
}

// WithConsumerLogger устанавливает логгер потребителя.
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *consumerConfig) {
		c.logger = logger
	}
}

// NewConsumer создает потребителя, исполняющего планы доставки.
// Хранилище inbox обязательно для обработки exactly-once конвертов:
// без него дедупликация на стороне потребителя не выполняется.
func NewConsumer(t transport.Transport, store inbox.Store, opts ...ConsumerOption) (*Consumer, error) {
	if t == nil {
		return nil, fmt.Errorf("транспорт не может быть nil")
	}

	cfg := &consumerConfig{
		serializer: message.JSONSerializer{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Consumer{
		transport:  t,
		store:      store,
		serializer: cfg.serializer,
		logger:     cfg.logger,
	}, nil
}

// Subscribe подписывает обработчик на адрес назначения. Подтверждение доставки
// и дедупликация выполняются в соответствии с планом уровня QoS конверта.
func (c *Consumer) Subscribe(ctx context.Context, destination string, handler EnvelopeHandler) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("обработчик конвертов не может быть nil")
	}

	return c.transport.Subscribe(ctx, destination, func(ctx context.Context, d transport.Delivery) {
		var envelope message.Envelope
		if err := c.serializer.Unmarshal(d.Payload, &envelope); err != nil {
			c.logger.Error("не удалось десериализовать конверт",
				"destination", destination,
				"error", err,
			)
			// Сообщение невосстановимо; подтверждаем, чтобы не зациклить редоставку.
			_ = c.transport.Ack(d.Token)
			return
		}

		policy := Plan(envelope.Identity.QoS, c.transport)

		// Inbox ведется для каждого exactly-once конверта независимо от
		// нативного окна транспорта: дубликат, переживший окно, подавляется
		// здесь.
		if policy.InboxDedup && c.store != nil {
			c.consumeDeduplicated(ctx, envelope, d, handler)
			return
		}

		_, err := handler(ctx, envelope)
		if !policy.Ack {
			// At-most-once: исход обработки не влияет на подтверждение.
			_ = c.transport.Ack(d.Token)
			return
		}
		if err != nil {
			c.logger.Warn("обработка конверта не удалась, доставка будет повторена",
				"message_id", envelope.Identity.ID,
				"error", err,
			)
			_ = c.transport.Nack(d.Token)
			return
		}
		_ = c.transport.Ack(d.Token)
	})
}

// consumeDeduplicated обрабатывает конверт под защитой inbox.
func (c *Consumer) consumeDeduplicated(ctx context.Context, envelope message.Envelope, d transport.Delivery, handler EnvelopeHandler) {
	decision, err := c.store.TryBegin(ctx, envelope.Identity.ID)
	if err != nil {
		c.logger.Error("не удалось зарегистрировать конверт в inbox",
			"message_id", envelope.Identity.ID,
			"error", err,
		)
		_ = c.transport.Nack(d.Token)
		return
	}

	switch decision.Outcome {
	case inbox.CachedResult:
		// Дубликат подавлен; подтверждаем без повторной обработки.
		_ = c.transport.Ack(d.Token)
		return
	case inbox.AlreadyInProgress:
		// Первая обработка еще идет; возвращаем доставку в очередь.
		_ = c.transport.Nack(d.Token)
		return
	}

	result, err := handler(ctx, envelope)
	if err != nil {
		if failErr := c.store.Fail(ctx, envelope.Identity.ID); failErr != nil {
			c.logger.Error("не удалось зафиксировать отказ обработки в inbox",
				"message_id", envelope.Identity.ID,
				"error", failErr,
			)
		}
		_ = c.transport.Nack(d.Token)
		return
	}

	if completeErr := c.store.Complete(ctx, envelope.Identity.ID, result); completeErr != nil {
		c.logger.Error("не удалось зафиксировать результат обработки в inbox",
			"message_id", envelope.Identity.ID,
			"error", completeErr,
		)
	}
	_ = c.transport.Ack(d.Token)
}
