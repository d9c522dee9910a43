package event

import "context"

// Task представляет собой атомарную задачу для асинхронного выполнения:
// событие и подписка, обработчик которой должен быть вызван.
type Task[T Event] struct {
	ctx   context.Context
	event T
	sub   *subscription[T]
}
