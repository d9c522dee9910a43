package qos

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/x-research-team/qbus/bus/message"
	"github.com/x-research-team/qbus/bus/outbox"
	"github.com/x-research-team/qbus/bus/transport"
)

// Publisher исполняет план доставки на стороне издателя: сообщения с гарантией
// at-most-once публикуются напрямую, остальные фиксируются в outbox и доводятся
// до транспорта фоновым диспетчером.
type Publisher struct {
	transport  transport.Transport
	storage    outbox.Storage
	serializer message.Serializer
	logger     *slog.Logger
}

// publisherConfig содержит конфигурацию издателя.
type publisherConfig struct {
	serializer message.Serializer
	logger     *slog.Logger
}

// PublisherOption — функциональная опция издателя.
type PublisherOption func(*publisherConfig)

// WithPublisherSerializer устанавливает сериализатор конвертов.
func WithPublisherSerializer(s message.Serializer) PublisherOption {
	return func(c *publisherConfig) {
		c.serializer = s
	}
}

// WithPublisherLogger устанавливает логгер издателя.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(c *publisherConfig) {
		c.logger = logger
	}
}

// NewPublisher создает издателя, исполняющего планы доставки.
func NewPublisher(t transport.Transport, storage outbox.Storage, opts ...PublisherOption) (*Publisher, error) {
	if t == nil {
		return nil, fmt.Errorf("транспорт не может быть nil")
	}
	if storage == nil {
		return nil, fmt.Errorf("хранилище outbox не может быть nil")
	}

	cfg := &publisherConfig{
		serializer: message.JSONSerializer{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Publisher{
		transport:  t,
		storage:    storage,
		serializer: cfg.serializer,
		logger:     cfg.logger,
	}, nil
}

// Publish доставляет конверт в соответствии с планом его уровня QoS.
// Для at-most-once возврат без ошибки не гарантирует доставку; для остальных
// уровней возврат без ошибки означает, что сообщение зафиксировано в outbox
// и будет опубликовано.
func (p *Publisher) Publish(ctx context.Context, envelope message.Envelope) error {
	policy := Plan(envelope.Identity.QoS, p.transport)

	body, err := p.serializer.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("не удалось сериализовать конверт: %w", err)
	}

	if policy.Staging == StagingDirect {
		hint := transport.PublishHint{QoS: policy.QoS}
		if err := p.transport.Publish(ctx, envelope.Destination, body, hint); err != nil {
			// Потеря допустима на этом уровне; отказ только логируется.
			p.logger.Warn("публикация at-most-once не удалась",
				"message_id", envelope.Identity.ID,
				"destination", envelope.Destination,
				"error", err,
			)
		}
		return nil
	}

	record := &outbox.Record{
		MessageID:   envelope.Identity.ID,
		Destination: envelope.Destination,
		Payload:     body,
		Metadata:    envelope.Metadata,
		CreatedAt:   envelope.Identity.CreatedAt,
	}
	if policy.TransportDedup {
		record.DedupKey = envelope.Identity.DedupKey()
	}

	if err := p.storage.Save(ctx, record); err != nil {
		return fmt.Errorf("не удалось зафиксировать конверт в outbox: %w", err)
	}

	return nil
}
