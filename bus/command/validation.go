package command

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/x-research-team/qbus/bus/message"
)

// NewValidationMiddleware создает middleware валидации команд. Команды,
// реализующие validation.Validatable, проверяются до вызова обработчика;
// отказ валидации короткозамыкает цепочку результатом ValidationFailed.
func NewValidationMiddleware[C Command[R], R any]() Middleware[C, R] {
	return MiddlewareFunc[C, R](func(next Provider[C, R]) Provider[C, R] {
		return &validationProvider[C, R]{next: next}
	})
}

// validationProvider - это обертка над провайдером команд, выполняющая валидацию.
type validationProvider[C Command[R], R any] struct {
	next Provider[C, R]
}

// Dispatch валидирует команду и отправляет ее дальше по цепочке.
func (p *validationProvider[C, R]) Dispatch(ctx context.Context, cmd C) (message.Result[R], error) {
	if v, ok := any(cmd).(validation.Validatable); ok {
		if err := v.Validate(); err != nil {
			return message.Fail[R](message.CodeValidationFailed, err.Error()), nil
		}
	}
	return p.next.Dispatch(ctx, cmd)
}

// Register делегирует вызов.
func (p *validationProvider[C, R]) Register(handler Handler[C, R]) error {
	return p.next.Register(handler)
}

// Shutdown делегирует вызов.
func (p *validationProvider[C, R]) Shutdown(ctx context.Context) error {
	return p.next.Shutdown(ctx)
}
