package query

import (
	"context"
	"log/slog"

	"github.com/x-research-team/qbus/bus/message"
)

// IDispatcher определяет основной, строго типизированный интерфейс для шины запросов.
// Он отвечает за регистрацию обработчиков и диспетчеризацию запросов.
type IDispatcher[Q Query[R], R any] interface {
	// Dispatch отправляет запрос в шину для выполнения.
	// Метод находит зарегистрированный обработчик для типа запроса Q,
	// выполняет его и возвращает размеченный результат.
	Dispatch(ctx context.Context, q Q) (message.Result[R], error)

	// Register регистрирует обработчик для конкретного типа запроса.
	Register(handler Handler[Q, R]) error

	// Shutdown корректно завершает работу диспетчера.
	Shutdown(ctx context.Context) error
}

// dispatcherImpl представляет собой реализацию IDispatcher.
type dispatcherImpl[Q Query[R], R any] struct {
	provider Provider[Q, R]
	cfg      *config[Q, R]
}

// NewDispatcher создает новый, готовый к использованию экземпляр диспетчера запросов.
func NewDispatcher[Q Query[R], R any](opts ...Option[Q, R]) IDispatcher[Q, R] {
	cfg := &config[Q, R]{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	provider := newLocalProvider(cfg)

	allMiddlewares := []Middleware[Q, R]{
		NewValidationMiddleware[Q, R](),
		NewLoggingMiddleware[Q, R](cfg.logger),
		NewMetricsMiddleware[Q, R](cfg.meterProvider),
		NewTracingMiddleware[Q, R](cfg.tracerProvider, cfg.propagator),
	}
	allMiddlewares = append(allMiddlewares, cfg.middlewares...)
	wrappedProvider := applyMiddlewares(provider, allMiddlewares...)

	return &dispatcherImpl[Q, R]{
		provider: wrappedProvider,
		cfg:      cfg,
	}
}

// Register регистрирует обработчик для конкретного типа запроса.
func (d *dispatcherImpl[Q, R]) Register(handler Handler[Q, R]) error {
	return d.provider.Register(handler)
}

// Dispatch находит и выполняет обработчик для указанного запроса.
func (d *dispatcherImpl[Q, R]) Dispatch(ctx context.Context, q Q) (message.Result[R], error) {
	return d.provider.Dispatch(ctx, q)
}

// Shutdown корректно завершает работу диспетчера.
func (d *dispatcherImpl[Q, R]) Shutdown(ctx context.Context) error {
	return d.provider.Shutdown(ctx)
}
