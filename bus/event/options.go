package event

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// config содержит неэкспортируемую конфигурацию для шины событий.
// Это позволяет добавлять новые опции без изменения публичного API.
type config[T Event] struct {
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	propagator     propagation.TextMapPropagator
	middlewares    []BusMiddleware[T]
	provider       Provider[T]

	workerMin int
	workerMax int
	queueSize int
}

// subscriptionOptions определяет набор параметров для конфигурации конкретной подписки.
type subscriptionOptions[T Event] struct {
	// isAsync указывает, должен ли обработчик выполняться асинхронно
	// через пул воркеров. По умолчанию обработка синхронна.
	isAsync bool
	// errorHandler задает пользовательскую функцию для обработки ошибок,
	// возникающих в EventHandler.
	errorHandler ErrorHandler[T]
	// middleware содержит цепочку функций-декораторов, которые будут
	// применены к обработчику события.
	middleware []HandlerMiddleware[T]
	// name задает человекочитаемое имя обработчика для наблюдаемости.
	name string
}

// Option — это функциональная опция для настройки экземпляра шины.
type Option[T Event] func(*config[T])

// SubscribeOption — это функциональная опция для настройки подписки.
type SubscribeOption[T Event] func(*subscriptionOptions[T])

// WithLogger устанавливает пользовательский логгер для шины.
func WithLogger[T Event](logger *slog.Logger) Option[T] {
	return func(c *config[T]) {
		c.logger = logger
	}
}

// WithTracerProvider устанавливает провайдер трассировки.
func WithTracerProvider[T Event](provider trace.TracerProvider) Option[T] {
	return func(c *config[T]) {
		c.tracerProvider = provider
	}
}

// WithMeterProvider устанавливает провайдер метрик.
func WithMeterProvider[T Event](provider metric.MeterProvider) Option[T] {
	return func(c *config[T]) {
		c.meterProvider = provider
	}
}

// WithPropagator устанавливает механизм распространения контекста трассировки.
func WithPropagator[T Event](propagator propagation.TextMapPropagator) Option[T] {
	return func(c *config[T]) {
		c.propagator = propagator
	}
}

// WithBusMiddleware добавляет один или несколько middleware в цепочку обработки шины.
// Middleware выполняются в порядке их добавления.
func WithBusMiddleware[T Event](mw ...BusMiddleware[T]) Option[T] {
	return func(c *config[T]) {
		c.middlewares = append(c.middlewares, mw...)
	}
}

// WithProvider устанавливает кастомный провайдер для шины.
// Это ключевая опция, позволяющая реализовать паттерн "Стратегия":
// локальная доставка, транспортная или запись в outbox.
func WithProvider[T Event](p Provider[T]) Option[T] {
	return func(c *config[T]) {
		c.provider = p
	}
}

// WithWorkerPoolConfig настраивает параметры пула горутин для асинхронных обработчиков.
func WithWorkerPoolConfig[T Event](minWorkers, maxWorkers, queueSize int) Option[T] {
	return func(c *config[T]) {
		c.workerMin = minWorkers
		c.workerMax = maxWorkers
		c.queueSize = queueSize
	}
}

// WithAsync — опция, включающая асинхронный режим обработки для подписчика.
func WithAsync[T Event]() SubscribeOption[T] {
	return func(o *subscriptionOptions[T]) {
		o.isAsync = true
	}
}

// WithErrorHandler — опция, позволяющая задать пользовательский обработчик ошибок.
func WithErrorHandler[T Event](handler ErrorHandler[T]) SubscribeOption[T] {
	return func(o *subscriptionOptions[T]) {
		o.errorHandler = handler
	}
}

// WithMiddleware добавляет локальные middleware, которые применяются только к данной подписке.
func WithMiddleware[T Event](mw ...HandlerMiddleware[T]) SubscribeOption[T] {
	return func(o *subscriptionOptions[T]) {
		o.middleware = append(o.middleware, mw...)
	}
}

// WithHandlerName задает имя обработчика для логов и метрик.
func WithHandlerName[T Event](name string) SubscribeOption[T] {
	return func(o *subscriptionOptions[T]) {
		o.name = name
	}
}
