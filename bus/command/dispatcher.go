package command

import (
	"context"
	"log/slog"

	"github.com/x-research-team/qbus/bus/message"
)

// IDispatcher определяет основной, строго типизированный интерфейс для шины команд.
type IDispatcher[C Command[R], R any] interface {
	// Dispatch находит и выполняет обработчик для указанной команды.
	// Ожидаемые отказы возвращаются в значении Result; ошибка означает
	// инфраструктурный сбой.
	Dispatch(ctx context.Context, cmd C) (message.Result[R], error)

	// Register регистрирует обработчик для конкретного типа команды.
	Register(handler Handler[C, R]) error

	// Shutdown корректно завершает работу диспетчера.
	Shutdown(ctx context.Context) error
}

// dispatcherImpl представляет собой реализацию IDispatcher.
type dispatcherImpl[C Command[R], R any] struct {
	provider Provider[C, R]
	cfg      *config[C, R]
}

// NewDispatcher создает новый, готовый к использованию экземпляр диспетчера.
// Цепочка middleware фиксируется в момент создания: валидация, идемпотентность,
// наблюдаемость, повторы; пользовательские middleware выполняются ближе всего
// к обработчику.
func NewDispatcher[C Command[R], R any](opts ...Option[C, R]) IDispatcher[C, R] {
	cfg := &config[C, R]{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	provider := newLocalProvider(cfg)

	allMiddlewares := []Middleware[C, R]{
		NewValidationMiddleware[C, R](),
		NewIdempotencyMiddleware[C, R](cfg.idempotency, cfg.idempotencyTTL),
		NewLoggingMiddleware[C, R](cfg.logger),
		NewMetricsMiddleware[C, R](cfg.meterProvider),
		NewTracingMiddleware[C, R](cfg.tracerProvider, cfg.propagator),
		NewRetryMiddleware[C, R](cfg.retry),
	}
	allMiddlewares = append(allMiddlewares, cfg.middlewares...)
	wrappedProvider := applyMiddlewares(provider, allMiddlewares...)

	return &dispatcherImpl[C, R]{
		provider: wrappedProvider,
		cfg:      cfg,
	}
}

// Register регистрирует обработчик для конкретного типа команды.
func (d *dispatcherImpl[C, R]) Register(handler Handler[C, R]) error {
	return d.provider.Register(handler)
}

// Dispatch находит и выполняет обработчик для указанной команды.
func (d *dispatcherImpl[C, R]) Dispatch(ctx context.Context, cmd C) (message.Result[R], error) {
	return d.provider.Dispatch(ctx, cmd)
}

// Shutdown корректно завершает работу диспетчера.
func (d *dispatcherImpl[C, R]) Shutdown(ctx context.Context) error {
	return d.provider.Shutdown(ctx)
}
