package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/x-research-team/qbus/bus/message"
	"github.com/x-research-team/qbus/bus/transport"
	"github.com/x-research-team/qbus/resilience"
)

// Dispatcher — фоновый процесс, доводящий записи outbox до транспорта.
// Он периодически захватывает пакет готовых записей, публикует их под защитой
// circuit breaker и ограничителя параллелизма и фиксирует исход каждой попытки.
// Отказ транспорта никогда не приводит к потере записи: она возвращается
// в очередь с экспоненциальной задержкой либо, после исчерпания лимита
// попыток, перемещается в dead-letter.
type Dispatcher struct {
	storage   Storage
	publisher transport.Publisher
	cfg       *dispatcherConfig
}

// NewDispatcher создает диспетчер outbox.
func NewDispatcher(storage Storage, publisher transport.Publisher, opts ...DispatcherOption) (*Dispatcher, error) {
	if storage == nil {
		return nil, fmt.Errorf("хранилище outbox не может быть nil")
	}
	if publisher == nil {
		return nil, fmt.Errorf("издатель не может быть nil")
	}

	cfg := &dispatcherConfig{
		logger:      slog.Default(),
		interval:    100 * time.Millisecond,
		batchSize:   64,
		maxAttempts: 5,
		backoff:     DefaultBackoff(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Dispatcher{
		storage:   storage,
		publisher: publisher,
		cfg:       cfg,
	}, nil
}

// Run запускает цикл диспетчеризации и блокируется до отмены контекста.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.DispatchOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.cfg.logger.Error("ошибка цикла диспетчеризации outbox",
					"error", err,
				)
			}
		}
	}
}

// DispatchOnce выполняет один цикл: захватывает пакет готовых записей
// и публикует каждую из них. Ошибки публикации отдельных записей
// фиксируются в хранилище и не прерывают обработку пакета.
func (d *Dispatcher) DispatchOnce(ctx context.Context) error {
	now := d.cfg.now()

	records, err := d.storage.Claim(ctx, now, d.cfg.batchSize)
	if err != nil {
		return fmt.Errorf("не удалось захватить записи outbox: %w", err)
	}

	for _, record := range records {
		if ctx.Err() != nil {
			// Недопубликованные записи вернутся в очередь по таймауту захвата.
			return ctx.Err()
		}
		d.dispatch(ctx, record)
	}

	return nil
}

// dispatch публикует одну запись и фиксирует исход.
func (d *Dispatcher) dispatch(ctx context.Context, record *Record) {
	publish := func(ctx context.Context) error {
		hint := transport.PublishHint{QoS: message.AtLeastOnce}
		if record.DedupKey != "" {
			hint.QoS = message.ExactlyOnce
			hint.DedupKey = record.DedupKey
		}
		return d.publisher.Publish(ctx, record.Destination, record.Payload, hint)
	}

	guarded := publish
	if d.cfg.breaker != nil {
		inner := guarded
		guarded = func(ctx context.Context) error {
			return d.cfg.breaker.Do(ctx, inner)
		}
	}
	if d.cfg.limiter != nil {
		inner := guarded
		guarded = func(ctx context.Context) error {
			return d.cfg.limiter.Do(ctx, inner)
		}
	}

	err := guarded(ctx)
	if err == nil {
		if markErr := d.storage.MarkPublished(ctx, record.MessageID, d.cfg.now()); markErr != nil {
			d.cfg.logger.Error("не удалось отметить запись outbox опубликованной",
				"message_id", record.MessageID,
				"error", markErr,
			)
		}
		return
	}

	attempt := record.Attempts + 1
	if attempt >= d.cfg.maxAttempts {
		d.cfg.logger.Error("запись outbox перемещена в dead-letter",
			"message_id", record.MessageID,
			"destination", record.Destination,
			"attempts", attempt,
			"error", err,
		)
		if markErr := d.storage.MarkDead(ctx, record.MessageID, err.Error()); markErr != nil {
			d.cfg.logger.Error("не удалось переместить запись outbox в dead-letter",
				"message_id", record.MessageID,
				"error", markErr,
			)
		}
		return
	}

	nextAttemptAt := d.cfg.now().Add(d.cfg.backoff.Delay(attempt))
	d.cfg.logger.Warn("публикация записи outbox отложена",
		"message_id", record.MessageID,
		"destination", record.Destination,
		"attempt", attempt,
		"next_attempt_at", nextAttemptAt,
		"error", err,
	)
	if markErr := d.storage.MarkFailed(ctx, record.MessageID, nextAttemptAt, err.Error()); markErr != nil {
		d.cfg.logger.Error("не удалось зафиксировать отказ публикации outbox",
			"message_id", record.MessageID,
			"error", markErr,
		)
	}
}

// Breaker возвращает circuit breaker диспетчера, если он настроен.
func (d *Dispatcher) Breaker() *resilience.Breaker {
	return d.cfg.breaker
}
