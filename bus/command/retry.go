package command

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/x-research-team/qbus/bus/message"
)

// RetryStrategy описывает стратегию повторов транзиентных сбоев:
// экспоненциальная задержка с джиттером и верхней границей.
// График повторов: delay = min(BaseDelay * Multiplier^attempt, MaxDelay).
type RetryStrategy struct {
	// MaxAttempts — общее число попыток, включая первую.
	MaxAttempts int
	// BaseDelay — задержка перед первым повтором.
	BaseDelay time.Duration
	// MaxDelay — верхняя граница задержки.
	MaxDelay time.Duration
	// Multiplier — множитель экспоненциального роста задержки.
	Multiplier float64
	// Jitter включает случайное размывание задержки в диапазоне [delay/2, delay].
	Jitter bool
}

// DefaultRetryStrategy возвращает стратегию повторов по умолчанию:
// 3 попытки, задержки 50 мс — 2 с с удвоением и джиттером.
func DefaultRetryStrategy() RetryStrategy {
	return RetryStrategy{
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// Delay вычисляет задержку перед повтором с указанным номером (0 — первый повтор).
func (s RetryStrategy) Delay(attempt int) time.Duration {
	delay := float64(s.BaseDelay) * math.Pow(s.Multiplier, float64(attempt))
	if delay > float64(s.MaxDelay) {
		delay = float64(s.MaxDelay)
	}

	d := time.Duration(delay)
	if s.Jitter && d > 1 {
		half := d / 2
		d = half + rand.N(half)
	}
	return d
}

// retryable решает, подлежит ли исход повтору: инфраструктурные ошибки
// и транзиентные коды отказов (таймаут, недоступность транспорта).
func retryable[R any](result message.Result[R], err error) bool {
	if err != nil {
		return true
	}
	return result.Code == message.CodeTimeout || result.Code == message.CodeTransportUnavailable
}

// NewRetryMiddleware создает middleware повторов. При nil-стратегии
// возвращается no-op middleware.
func NewRetryMiddleware[C Command[R], R any](strategy *RetryStrategy) Middleware[C, R] {
	if strategy == nil {
		return &noopMiddleware[C, R]{}
	}
	return MiddlewareFunc[C, R](func(next Provider[C, R]) Provider[C, R] {
		return &retryProvider[C, R]{next: next, strategy: *strategy}
	})
}

// retryProvider - это обертка над провайдером команд, повторяющая транзиентные сбои.
type retryProvider[C Command[R], R any] struct {
	next     Provider[C, R]
	strategy RetryStrategy
}

// Dispatch выполняет команду с повторами по стратегии. Ожидание между
// попытками прерывается отменой контекста.
func (p *retryProvider[C, R]) Dispatch(ctx context.Context, cmd C) (message.Result[R], error) {
	var (
		result message.Result[R]
		err    error
	)

	for attempt := 0; attempt < p.strategy.MaxAttempts; attempt++ {
		result, err = p.next.Dispatch(ctx, cmd)
		if !retryable(result, err) || attempt == p.strategy.MaxAttempts-1 {
			return result, err
		}

		timer := time.NewTimer(p.strategy.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}

	return result, err
}

// Register делегирует вызов.
func (p *retryProvider[C, R]) Register(handler Handler[C, R]) error {
	return p.next.Register(handler)
}

// Shutdown делегирует вызов.
func (p *retryProvider[C, R]) Shutdown(ctx context.Context) error {
	return p.next.Shutdown(ctx)
}
