// Package event определяет основные интерфейсы и типы для обобщенной,
// типобезопасной шины событий — пути Publish медиатора. Событие может иметь
// ноль и более подписчиков; на уровне диспетчеризации семантика fire-and-forget,
// гарантия доставки задается независимо (outbox middleware, QoS-политика).
package event

import (
	"context"
)

// Event определяет минимальный контракт для любого события, которое может быть
// передано через шину.
type Event interface {
	// Topic возвращает имя топика, к которому относится событие.
	// Это позволяет шине маршрутизировать событие, не зная его конкретного типа.
	Topic() string
}

// EventHandler — это тип для функции-обработчика, которая принимает контекст
// и конкретный тип события. Он является обобщенным для обеспечения статической
// безопасности типов.
type EventHandler[T Event] func(ctx context.Context, event T) error

// ErrorHandler — это функция для обработки ошибок, возникших в EventHandler.
type ErrorHandler[T Event] func(err error, event T)

// HandlerMiddleware — это функция-декоратор для EventHandler.
// Она принимает следующий обработчик в цепочке и возвращает новый обработчик.
type HandlerMiddleware[T Event] func(next EventHandler[T]) EventHandler[T]

// Provider определяет контракт для всех сменных механизмов доставки событий.
// Этот интерфейс является ключевым элементом архитектуры, позволяя подменять
// реализацию (локальную, транспортную, outbox) без изменения кода, использующего шину.
type Provider[T Event] interface {
	// Publish публикует событие в шину. Реализация должна гарантировать
	// атомарность и, в зависимости от конфигурации, надежность доставки.
	Publish(ctx context.Context, event T) error

	// Subscribe подписывает обработчик на события. Возвращает функцию для
	// отписки, что позволяет динамически управлять подписками.
	Subscribe(handler EventHandler[T], opts ...SubscribeOption[T]) (unsubscribe func(), err error)

	// Shutdown корректно завершает работу провайдера, освобождая все ресурсы.
	Shutdown(ctx context.Context) error
}
