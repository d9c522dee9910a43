package command

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-reflect"

	"github.com/x-research-team/qbus/bus/message"
)

// Provider определяет контракт для сменных механизмов диспетчеризации команд.
type Provider[C Command[R], R any] interface {
	// Dispatch отправляет команду на выполнение.
	Dispatch(ctx context.Context, cmd C) (message.Result[R], error)

	// Register регистрирует обработчик для команды.
	Register(handler Handler[C, R]) error

	// Shutdown корректно завершает работу провайдера.
	Shutdown(ctx context.Context) error
}

// localProvider — это локальная, внутрипроцессная реализация провайдера команд.
// Реестр обработчиков заполняется на старте и не мутирует во время диспетчеризации.
type localProvider[C Command[R], R any] struct {
	handler Handler[C, R]
	mu      sync.RWMutex
	cfg     *config[C, R]
}

// newLocalProvider создает новый экземпляр локального провайдера.
func newLocalProvider[C Command[R], R any](cfg *config[C, R]) *localProvider[C, R] {
	return &localProvider[C, R]{
		cfg: cfg,
	}
}

// Dispatch находит и выполняет обработчик для указанной команды.
// Отсутствие обработчика — ожидаемый отказ, а не инфраструктурный сбой.
func (p *localProvider[C, R]) Dispatch(ctx context.Context, cmd C) (message.Result[R], error) {
	p.mu.RLock()
	handler := p.handler
	p.mu.RUnlock()

	if handler == nil {
		cmdType := reflect.TypeOf(cmd)
		return message.Fail[R](message.CodeHandlerNotFound,
			fmt.Sprintf("обработчик для команды '%s' не найден", cmdType)), nil
	}

	return handler(ctx, cmd)
}

// Register регистрирует обработчик для конкретного типа команды.
// Повторная регистрация — ошибка конфигурации.
func (p *localProvider[C, R]) Register(handler Handler[C, R]) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handler != nil {
		var cmd C
		cmdType := reflect.TypeOf(cmd)
		return fmt.Errorf("обработчик для команды '%s' уже зарегистрирован", cmdType)
	}

	p.handler = handler
	return nil
}

// Shutdown в данной реализации не выполняет никаких действий.
func (p *localProvider[C, R]) Shutdown(ctx context.Context) error {
	return nil
}
