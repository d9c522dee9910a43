// Package command реализует строго типизированную шину команд — путь Send
// медиатора. Команда имеет ровно один обработчик; результат обработки
// возвращается вызывающей стороне синхронно в виде размеченного message.Result.
package command

import (
	"context"

	"github.com/x-research-team/qbus/bus/message"
)

// Command представляет собой интерфейс-маркер для команды, параметризованный
// типом возвращаемого значения R.
// Каждая команда - это уникальный запрос на изменение состояния системы.
type Command[R any] interface{}

// Handler определяет строго типизированную функцию-обработчик для команды C.
// Ожидаемые бизнес-отказы возвращаются в значении Result; ошибка зарезервирована
// за инфраструктурными сбоями, прерывающими цепочку.
type Handler[C Command[R], R any] func(ctx context.Context, cmd C) (message.Result[R], error)

// Metadatable определяет интерфейс для команд, несущих метаданные
// (контекст трассировки и т.п.).
type Metadatable interface {
	Metadata() map[string]string
}
