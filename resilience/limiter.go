package resilience

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Limiter ограничивает количество одновременно выполняющихся операций
// обработчиков и транспорта. Реализован поверх взвешенного семафора:
// Acquire может завершиться немедленно при наличии свободного слота или
// заблокироваться до его освобождения; Release всегда синхронен.
type Limiter struct {
	sem *semaphore.Weighted
}

// NewLimiter создает ограничитель с указанным числом слотов.
func NewLimiter(max int64) *Limiter {
	return &Limiter{sem: semaphore.NewWeighted(max)}
}

// Acquire занимает один слот, блокируясь при необходимости.
// Ожидание прерывается отменой контекста.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("не удалось занять слот ограничителя: %w", err)
	}
	return nil
}

// TryAcquire пытается занять слот без ожидания.
func (l *Limiter) TryAcquire() bool {
	return l.sem.TryAcquire(1)
}

// Release освобождает ранее занятый слот.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// Do выполняет fn, заняв слот на время выполнения.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}
