package query

import (
	"context"
	"fmt"
	"sync"
)

// Registry - это потокобезопасный реестр для управления экземплярами диспетчеров запросов.
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

// Dispatcher возвращает строго типизированный экземпляр диспетчера для указанного имени запроса.
func Dispatcher[Q Query[R], R any](r *Registry, queryName string, opts ...Option[Q, R]) (IDispatcher[Q, R], error) {
	r.mu.RLock()
	dispatcher, exists := r.dispatchers[queryName]
	r.mu.RUnlock()

	if exists {
		if typedDispatcher, ok := dispatcher.(IDispatcher[Q, R]); ok {
			return typedDispatcher, nil
		}
		return nil, fmt.Errorf("диспетчер для запроса '%s' уже существует с другим типом", queryName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if dispatcher, exists := r.dispatchers[queryName]; exists {
		if typedDispatcher, ok := dispatcher.(IDispatcher[Q, R]); ok {
			return typedDispatcher, nil
		}
		return nil, fmt.Errorf("диспетчер для запроса '%s' уже существует с другим типом", queryName)
	}

	newDispatcher := NewDispatcher(opts...)
	r.dispatchers[queryName] = newDispatcher

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
