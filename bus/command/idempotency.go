package command

import (
	"context"
	"time"

	"github.com/x-research-team/qbus/bus/idempotency"
	"github.com/x-research-team/qbus/bus/message"
)

// NewIdempotencyMiddleware создает middleware идемпотентности. Команды,
// несущие непустой ключ дедупликации, выполняются через кеш результатов:
// повтор с тем же ключом возвращает ранее вычисленный результат без
// повторного вызова обработчика. При nil-кеше возвращается no-op middleware.
func NewIdempotencyMiddleware[C Command[R], R any](cache *idempotency.Cache, ttl time.Duration) Middleware[C, R] {
	if cache == nil {
		return &noopMiddleware[C, R]{}
	}
	return MiddlewareFunc[C, R](func(next Provider[C, R]) Provider[C, R] {
		return &idempotencyProvider[C, R]{next: next, cache: cache, ttl: ttl}
	})
}

// idempotencyProvider - это обертка над провайдером команд, кеширующая результаты
// по ключу дедупликации.
type idempotencyProvider[C Command[R], R any] struct {
	next  Provider[C, R]
	cache *idempotency.Cache
	ttl   time.Duration
}

// Dispatch выполняет команду через кеш идемпотентности. Команды без ключа
// дедупликации проходят напрямую.
func (p *idempotencyProvider[C, R]) Dispatch(ctx context.Context, cmd C) (message.Result[R], error) {
	keyer, ok := any(cmd).(message.Identified)
	var key string
	switch {
	case ok:
		key = keyer.MessageIdentity().DedupKey()
	default:
		if dk, hasKey := any(cmd).(interface{ DedupKey() string }); hasKey {
			key = dk.DedupKey()
		}
	}
	if key == "" {
		return p.next.Dispatch(ctx, cmd)
	}

	return idempotency.GetOrCompute(ctx, p.cache, key, p.ttl, func(ctx context.Context) (message.Result[R], error) {
		return p.next.Dispatch(ctx, cmd)
	})
}

// Register делегирует вызов.
func (p *idempotencyProvider[C, R]) Register(handler Handler[C, R]) error {
	return p.next.Register(handler)
}

// Shutdown делегирует вызов.
func (p *idempotencyProvider[C, R]) Shutdown(ctx context.Context) error {
	return p.next.Shutdown(ctx)
}
