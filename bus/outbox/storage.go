package outbox

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Storage определяет контракт хранилища записей outbox. Реализация должна
// обеспечивать атомарность захвата: одна запись не может быть захвачена двумя
// диспетчерами одновременно.
type Storage interface {
	// Save атомарно фиксирует новую запись в состоянии pending.
	Save(ctx context.Context, record *Record) error

	// Claim захватывает до limit записей, готовых к публикации: в состоянии
	// pending с next_attempt_at не позже now, а также записи, застрявшие
	// в состоянии dispatching дольше таймаута захвата (восстановление после
	// сбоя диспетчера). Захваченные записи переводятся в dispatching.
	Claim(ctx context.Context, now time.Time, limit int) ([]*Record, error)

	// MarkPublished переводит запись в состояние published и засчитывает
	// успешную попытку: итоговый счетчик попыток включает публикацию.
	MarkPublished(ctx context.Context, messageID uint64, publishedAt time.Time) error

	// MarkFailed возвращает запись в pending с увеличенным счетчиком попыток
	// и отложенным моментом следующей попытки.
	MarkFailed(ctx context.Context, messageID uint64, nextAttemptAt time.Time, lastError string) error

	// MarkDead переводит запись в dead-letter после исчерпания лимита попыток.
	MarkDead(ctx context.Context, messageID uint64, lastError string) error

	// DeadLetters возвращает до limit записей в состоянии dead для разбора.
	DeadLetters(ctx context.Context, limit int) ([]*Record, error)
}

// Backoff вычисляет задержку перед следующей попыткой публикации.
// Задержка растет экспоненциально с джиттером и ограничена сверху.
type Backoff struct {
	// BaseDelay — задержка перед второй попыткой.
	BaseDelay time.Duration
	// MaxDelay — верхняя граница задержки.
	MaxDelay time.Duration
	// Multiplier — множитель экспоненциального роста.
	Multiplier float64
	// Jitter включает случайное уменьшение задержки до половины
	// для рассинхронизации конкурирующих диспетчеров.
	Jitter bool
}

// DefaultBackoff возвращает стратегию задержек по умолчанию.
func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Delay возвращает задержку перед попыткой с номером attempt (начиная с 1).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := time.Duration(float64(b.BaseDelay) * math.Pow(b.Multiplier, float64(attempt-1)))
	if d > b.MaxDelay || d <= 0 {
		d = b.MaxDelay
	}

	if b.Jitter && d > 0 {
		half := d / 2
		d = half + rand.N(d-half+1)
	}

	return d
}
