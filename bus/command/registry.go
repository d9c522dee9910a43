package command

import (
	"context"
	"fmt"
	"sync"
)

// Registry - это потокобезопасный реестр для управления экземплярами диспетчеров.
// Реестр заполняется на этапе инициализации приложения; поиск диспетчера —
// это амортизированно константная операция по имени команды.
type Registry struct {
	dispatchers map[string]any
	mu          sync.RWMutex
}

// NewRegistry создает новый экземпляр реестра диспетчеров.
func NewRegistry() *Registry {
	return &Registry{
		dispatchers: make(map[string]any),
	}
}

// Dispatcher возвращает строго типизированный экземпляр диспетчера для указанного имени команды.
func Dispatcher[C Command[R], R any](r *Registry, commandName string, opts ...Option[C, R]) (IDispatcher[C, R], error) {
	r.mu.RLock()
	dispatcher, exists := r.dispatchers[commandName]
	r.mu.RUnlock()

	if exists {
		if typedDispatcher, ok := dispatcher.(IDispatcher[C, R]); ok {
			return typedDispatcher, nil
		}
		return nil, fmt.Errorf("диспетчер для команды '%s' уже существует с другим типом", commandName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if dispatcher, exists := r.dispatchers[commandName]; exists {
		if typedDispatcher, ok := dispatcher.(IDispatcher[C, R]); ok {
			return typedDispatcher, nil
		}
		return nil, fmt.Errorf("диспетчер для команды '%s' уже существует с другим типом", commandName)
	}

	newDispatcher := NewDispatcher(opts...)
	r.dispatchers[commandName] = newDispatcher

	return newDispatcher, nil
}

// Shutdown корректно завершает работу всех зарегистрированных диспетчеров.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, dispatcher := range r.dispatchers {
		if d, ok := dispatcher.(interface{ Shutdown(context.Context) error }); ok {
			if err := d.Shutdown(ctx); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("ошибка при завершении работы диспетчера '%s': %w", name, err)
			}
		}
	}

	return firstErr
}
