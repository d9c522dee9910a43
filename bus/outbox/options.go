package outbox

import (
	"log/slog"
	"time"

	"github.com/x-research-team/qbus/resilience"
)

// dispatcherConfig содержит неэкспортируемую конфигурацию диспетчера outbox.
type dispatcherConfig struct {
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
	backoff     Backoff
	breaker     *resilience.Breaker
	limiter     *resilience.Limiter
	now         func() time.Time
}

// DispatcherOption — функциональная опция диспетчера outbox.
type DispatcherOption func(*dispatcherConfig)

// WithDispatcherLogger устанавливает логгер диспетчера.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(c *dispatcherConfig) {
		c.logger = logger
	}
}

// WithPollInterval устанавливает период опроса хранилища.
func WithPollInterval(d time.Duration) DispatcherOption {
	return func(c *dispatcherConfig) {
		c.interval = d
	}
}

// WithBatchSize устанавливает максимальный размер пакета захвата.
func WithBatchSize(n int) DispatcherOption {
	return func(c *dispatcherConfig) {
		c.batchSize = n
	}
}

// WithMaxAttempts устанавливает лимит попыток публикации, после которого
// запись перемещается в dead-letter.
func WithMaxAttempts(n int) DispatcherOption {
	return func(c *dispatcherConfig) {
		c.maxAttempts = n
	}
}

// WithBackoff устанавливает стратегию задержек между попытками.
func WithBackoff(b Backoff) DispatcherOption {
	return func(c *dispatcherConfig) {
		c.backoff = b
	}
}

// WithBreaker устанавливает circuit breaker, защищающий транспорт.
func WithBreaker(b *resilience.Breaker) DispatcherOption {
	return func(c *dispatcherConfig) {
		c.breaker = b
	}
}

// WithLimiter устанавливает ограничитель параллелизма публикаций.
func WithLimiter(l *resilience.Limiter) DispatcherOption {
	return func(c *dispatcherConfig) {
		c.limiter = l
	}
}

// WithDispatcherClock подменяет источник времени. Используется в тестах.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(c *dispatcherConfig) {
		c.now = now
	}
}
