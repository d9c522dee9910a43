package query

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-reflect"

	"github.com/x-research-team/qbus/bus/message"
)

// Provider определяет контракт для сменных механизмов диспетчеризации запросов.
type Provider[Q Query[R], R any] interface {
	// Dispatch отправляет запрос на выполнение.
	Dispatch(ctx context.Context, q Q) (message.Result[R], error)

	// Register регистрирует обработчик для запроса.
	Register(handler Handler[Q, R]) error

	// Shutdown корректно завершает работу провайдера.
	Shutdown(ctx context.Context) error
}

// localProvider — это локальная, внутрипроцессная реализация провайдера запросов.
type localProvider[Q Query[R], R any] struct {
	handler Handler[Q, R]
	mu      sync.RWMutex
	cfg     *config[Q, R]
}

// newLocalProvider создает новый экземпляр локального провайдера.
func newLocalProvider[Q Query[R], R any](cfg *config[Q, R]) *localProvider[Q, R] {
	return &localProvider[Q, R]{
		cfg: cfg,
	}
}

// Dispatch находит и выполняет обработчик для указанного запроса.
func (p *localProvider[Q, R]) Dispatch(ctx context.Context, q Q) (message.Result[R], error) {
	p.mu.RLock()
	handler := p.handler
	p.mu.RUnlock()

	if handler == nil {
		queryType := reflect.TypeOf(q)
		return message.Fail[R](message.CodeHandlerNotFound,
			fmt.Sprintf("обработчик для запроса '%s' не найден", queryType)), nil
	}

	return handler(ctx, q)
}

// Register регистрирует обработчик для конкретного типа запроса.
func (p *localProvider[Q, R]) Register(handler Handler[Q, R]) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handler != nil {
		var q Q
		queryType := reflect.TypeOf(q)
		return fmt.Errorf("обработчик для запроса '%s' уже зарегистрирован", queryType)
	}

	p.handler = handler
	return nil
}

// Shutdown в данной реализации не выполняет никаких действий.
func (p *localProvider[Q, R]) Shutdown(ctx context.Context) error {
	return nil
}
