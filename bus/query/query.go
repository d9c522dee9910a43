// Package query реализует строго типизированную шину запросов — читающую
// сторону медиатора. Запрос идемпотентен по определению и имеет ровно один
// обработчик.
package query

import (
	"context"

	"github.com/x-research-team/qbus/bus/message"
)

// Query представляет собой интерфейс-маркер для запроса, параметризованный
// типом возвращаемого значения R.
// Каждый запрос - это уникальный, идемпотентный запрос на получение данных.
type Query[R any] interface{}

// Handler определяет строго типизированную функцию-обработчик для запроса Q.
// Ожидаемые отказы возвращаются в значении Result; ошибка зарезервирована
// за инфраструктурными сбоями.
type Handler[Q Query[R], R any] func(ctx context.Context, q Q) (message.Result[R], error)

// Metadatable определяет интерфейс для объектов, которые могут нести метаданные.
type Metadatable interface {
	Metadata() map[string]string
}
